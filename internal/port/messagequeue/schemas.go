package messagequeue

import "time"

// Money values travel as decimal strings to keep them exact.

// SpendRecordedPayload is the schema for persona.spend.recorded messages.
type SpendRecordedPayload struct {
	InstanceID        string    `json:"instance_id"`
	RecordID          string    `json:"record_id"`
	Amount            string    `json:"amount"`
	Category          string    `json:"category"`
	DailySpent        string    `json:"daily_spent"`
	MonthlySpent      string    `json:"monthly_spent"`
	DailyPercentage   string    `json:"daily_percentage"`
	MonthlyPercentage string    `json:"monthly_percentage"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// BudgetExceededPayload is the schema for persona.budget.exceeded messages.
type BudgetExceededPayload struct {
	InstanceID string `json:"instance_id"`
	Period     string `json:"period"` // "daily" | "monthly"
	Spent      string `json:"spent"`
	Limit      string `json:"limit"`
}

// SpendAlertPayload is the schema for persona.spend.alert messages.
type SpendAlertPayload struct {
	InstanceID   string `json:"instance_id"`
	InstanceName string `json:"instance_name"`
	Kind         string `json:"type"`
	CurrentPct   string `json:"current_pct"`
	ThresholdPct string `json:"threshold_pct"`
}

// InstanceEventPayload is the schema for persona.instance.* messages.
type InstanceEventPayload struct {
	InstanceID string `json:"instance_id"`
	Name       string `json:"instance_name"`
	TypeID     string `json:"persona_type_id"`
	Project    string `json:"azure_devops_project"`
	IsActive   bool   `json:"is_active"`
}

// ResetTriggerPayload is the schema for persona.maintenance.reset.* messages.
type ResetTriggerPayload struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}
