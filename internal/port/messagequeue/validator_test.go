package messagequeue

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr bool
	}{
		{"spend recorded", SubjectSpendRecorded, `{"instance_id":"i-1","amount":"2.00"}`, false},
		{"budget wrong type", SubjectBudgetExceeded, `{"instance_id":42}`, true},
		{"instance event", SubjectInstanceCreated, `{"instance_id":"i-1","is_active":true}`, false},
		{"reset trigger", SubjectResetDaily, `{"requested_by":"cron","requested_at":"2026-01-01T00:00:00Z"}`, false},
		{"reset bad time", SubjectResetMonthly, `{"requested_at":"yesterday"}`, true},
		{"not json", SubjectSpendRecorded, `{`, true},
		{"unknown subject", "persona.other", `{"anything":1}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
