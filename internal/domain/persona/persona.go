// Package persona defines the persona instance and persona type domain entities.
package persona

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/personagov/internal/domain/spend"
)

// Provider identifies an LLM provider in an instance's fallback chain.
type Provider string

const (
	ProviderOpenAI      Provider = "openai"
	ProviderAnthropic   Provider = "anthropic"
	ProviderGemini      Provider = "gemini"
	ProviderGrok        Provider = "grok"
	ProviderAzureOpenAI Provider = "azure_openai"
)

// ValidProvider reports whether p is a known provider.
func ValidProvider(p Provider) bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderGrok, ProviderAzureOpenAI:
		return true
	}
	return false
}

// ProviderConfig is one entry of the priority-ordered provider chain.
type ProviderConfig struct {
	Provider    Provider `json:"provider"`
	ModelName   string   `json:"model_name"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty"` // 0 leaves the provider default
	APIKeyEnv   string   `json:"api_key_env_var"`
}

// Instance is a configured, budget- and capacity-bounded unit of autonomous
// work assigned to a project.
type Instance struct {
	ID                  string           `json:"id"`
	Name                string           `json:"instance_name"`
	TypeID              string           `json:"persona_type_id"`
	TypeName            string           `json:"persona_type_name,omitempty"`
	TypeDisplayName     string           `json:"persona_display_name,omitempty"`
	Org                 string           `json:"azure_devops_org"`
	Project             string           `json:"azure_devops_project"`
	Repository          string           `json:"repository_name,omitempty"`
	Providers           []ProviderConfig `json:"llm_providers"`
	SpendLimitDaily     decimal.Decimal  `json:"spend_limit_daily"`
	SpendLimitMonthly   decimal.Decimal  `json:"spend_limit_monthly"`
	CurrentSpendDaily   decimal.Decimal  `json:"current_spend_daily"`
	CurrentSpendMonthly decimal.Decimal  `json:"current_spend_monthly"`
	MaxConcurrentTasks  int              `json:"max_concurrent_tasks"`
	PriorityLevel       int              `json:"priority_level"`
	Settings            map[string]any   `json:"custom_settings"`
	IsActive            bool             `json:"is_active"`
	LastActivity        *time.Time       `json:"last_activity,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Counters returns the instance's spend rollup as ledger counters.
func (i *Instance) Counters() spend.Counters {
	return spend.Counters{
		DailySpent:   i.CurrentSpendDaily,
		DailyLimit:   i.SpendLimitDaily,
		MonthlySpent: i.CurrentSpendMonthly,
		MonthlyLimit: i.SpendLimitMonthly,
	}
}

// Category groups persona types.
type Category string

const (
	CategoryDevelopment  Category = "development"
	CategoryQuality      Category = "quality"
	CategoryArchitecture Category = "architecture"
	CategoryOperations   Category = "operations"
	CategoryManagement   Category = "management"
	CategorySpecialized  Category = "specialized"
	CategoryTesting      Category = "testing"
)

// Type is a kind of persona (e.g. software architect). Instances join to it
// for their display metadata.
type Type struct {
	ID                  string         `json:"id"`
	TypeName            string         `json:"type_name"`
	DisplayName         string         `json:"display_name"`
	Category            Category       `json:"category,omitempty"`
	BaseWorkflowID      string         `json:"base_workflow_id,omitempty"`
	DefaultCapabilities map[string]any `json:"default_capabilities"`
	CreatedAt           time.Time      `json:"created_at"`
}

// CreateTypeRequest holds the fields needed to create a persona type.
type CreateTypeRequest struct {
	TypeName            string         `json:"type_name" yaml:"type_name"`
	DisplayName         string         `json:"display_name" yaml:"display_name"`
	Category            Category       `json:"category" yaml:"category"`
	BaseWorkflowID      string         `json:"base_workflow_id" yaml:"base_workflow_id"`
	DefaultCapabilities map[string]any `json:"default_capabilities" yaml:"default_capabilities"`
}

// UpdateTypeRequest is a sparse patch for a persona type.
type UpdateTypeRequest struct {
	DisplayName         *string        `json:"display_name,omitempty"`
	Category            *Category      `json:"category,omitempty"`
	BaseWorkflowID      *string        `json:"base_workflow_id,omitempty"`
	DefaultCapabilities map[string]any `json:"default_capabilities,omitempty"`
}

// Statistics summarizes the instance fleet.
type Statistics struct {
	TotalInstances    int             `json:"total_instances"`
	ActiveInstances   int             `json:"active_instances"`
	ByType            map[string]int  `json:"by_type"`
	ByProject         map[string]int  `json:"by_project"`
	TotalDailySpend   decimal.Decimal `json:"total_daily_spend"`
	TotalMonthlySpend decimal.Decimal `json:"total_monthly_spend"`
}
