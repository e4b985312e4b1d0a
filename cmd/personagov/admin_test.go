package main

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/personagov/internal/domain/persona"
)

func TestRunAdminArgumentErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"help", []string{"help"}, ""},
		{"no command", nil, ""},
		{"unknown", []string{"frobnicate"}, "unknown admin command"},
		{"rollback zero steps", []string{"rollback", "--steps", "0"}, "--steps"},
		{"seed without file", []string{"seed-types"}, "--file is required"},
		{"spend-status without instance", []string{"spend-status"}, "--instance is required"},
		{"find-instance without type", []string{"find-instance"}, "--type is required"},
		{"project-costs without instance", []string{"project-costs"}, "--instance is required"},
		{"project-costs days out of range", []string{"project-costs", "--instance", "x", "--days", "0"}, "--days must be within"},
		{"allocation without project", []string{"suggest-allocation", "--budget", "100"}, "--project is required"},
		{"allocation bad budget", []string{"suggest-allocation", "--project", "alpha", "--budget", "lots"}, "--budget must be a decimal"},
		{"allocation sub-cent budget", []string{"suggest-allocation", "--project", "alpha", "--budget", "10.001"}, "decimal places"},
		{"bad flag", []string{"health", "--verbose"}, "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runAdmin(tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSeedFileLayout(t *testing.T) {
	doc := `
types:
  - type_name: software-architect
    display_name: Software Architect
    category: architecture
    default_capabilities:
      review: true
      languages: [go, sql]
  - type_name: qa-engineer
    display_name: QA Engineer
    category: quality
`
	var seed seedFile
	if err := yaml.Unmarshal([]byte(doc), &seed); err != nil {
		t.Fatal(err)
	}
	if len(seed.Types) != 2 {
		t.Fatalf("types = %d, want 2", len(seed.Types))
	}
	first := seed.Types[0]
	if first.TypeName != "software-architect" || first.Category != persona.CategoryArchitecture {
		t.Errorf("first = %+v", first)
	}
	if first.DefaultCapabilities["review"] != true {
		t.Errorf("capabilities = %v", first.DefaultCapabilities)
	}
	if err := first.Validate(); err != nil {
		t.Errorf("seeded draft invalid: %v", err)
	}
}
