package persona

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/domain/spend"
)

const (
	maxNameLength      = 255
	maxConcurrentTasks = 20
	minPriority        = -10
	maxPriority        = 10
	maxTemperature     = 2.0
	maxProviderTokens  = 128000
	maxTypeNameLength  = 100
)

var (
	// DefaultSpendLimitDaily applies when a draft leaves the daily limit unset.
	DefaultSpendLimitDaily = decimal.RequireFromString("50.00")
	// DefaultSpendLimitMonthly applies when a draft leaves the monthly limit unset.
	DefaultSpendLimitMonthly = decimal.RequireFromString("1000.00")
	// MaxSpendLimitDaily caps the daily limit a draft or patch may request.
	MaxSpendLimitDaily = decimal.RequireFromString("1000.00")
	// MaxSpendLimitMonthly caps the monthly limit a draft or patch may request.
	MaxSpendLimitMonthly = decimal.RequireFromString("100000.00")
)

// DefaultMaxConcurrentTasks applies when a draft leaves the task cap unset.
const DefaultMaxConcurrentTasks = 5

// CreateRequest is the draft of a new persona instance.
// Nil limits and a nil task cap take the package defaults.
type CreateRequest struct {
	Name               string           `json:"instance_name"`
	TypeID             string           `json:"persona_type_id"`
	Org                string           `json:"azure_devops_org"`
	Project            string           `json:"azure_devops_project"`
	Repository         string           `json:"repository_name,omitempty"`
	Providers          []ProviderConfig `json:"llm_providers"`
	SpendLimitDaily    *decimal.Decimal `json:"spend_limit_daily,omitempty"`
	SpendLimitMonthly  *decimal.Decimal `json:"spend_limit_monthly,omitempty"`
	MaxConcurrentTasks *int             `json:"max_concurrent_tasks,omitempty"`
	PriorityLevel      int              `json:"priority_level"`
	Settings           map[string]any   `json:"custom_settings,omitempty"`
}

// Normalize trims the name, prefixes the org with a scheme when missing and
// fills unset limits with defaults.
func (r *CreateRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Org = normalizeOrg(r.Org)
	if r.SpendLimitDaily == nil {
		d := DefaultSpendLimitDaily
		r.SpendLimitDaily = &d
	}
	if r.SpendLimitMonthly == nil {
		m := DefaultSpendLimitMonthly
		r.SpendLimitMonthly = &m
	}
	if r.MaxConcurrentTasks == nil {
		n := DefaultMaxConcurrentTasks
		r.MaxConcurrentTasks = &n
	}
	if r.Settings == nil {
		r.Settings = map[string]any{}
	}
}

// Validate checks the draft. Call Normalize first.
func (r *CreateRequest) Validate() error {
	if err := validateName(r.Name); err != nil {
		return err
	}
	if r.TypeID == "" {
		return invalid("persona_type_id is required")
	}
	if r.Org == "" {
		return invalid("azure_devops_org is required")
	}
	if strings.TrimSpace(r.Project) == "" {
		return invalid("azure_devops_project is required")
	}
	if len(r.Providers) == 0 {
		return invalid("at least one llm provider is required")
	}
	if err := validateProviders(r.Providers); err != nil {
		return err
	}
	if err := validateLimits(r.SpendLimitDaily, r.SpendLimitMonthly); err != nil {
		return err
	}
	if err := validateTaskCap(r.MaxConcurrentTasks); err != nil {
		return err
	}
	return validatePriority(&r.PriorityLevel)
}

// UpdateRequest is a sparse patch: only non-nil fields are written.
type UpdateRequest struct {
	Name               *string          `json:"instance_name,omitempty"`
	Repository         *string          `json:"repository_name,omitempty"`
	Providers          []ProviderConfig `json:"llm_providers,omitempty"`
	SpendLimitDaily    *decimal.Decimal `json:"spend_limit_daily,omitempty"`
	SpendLimitMonthly  *decimal.Decimal `json:"spend_limit_monthly,omitempty"`
	MaxConcurrentTasks *int             `json:"max_concurrent_tasks,omitempty"`
	PriorityLevel      *int             `json:"priority_level,omitempty"`
	Settings           map[string]any   `json:"custom_settings,omitempty"`
	IsActive           *bool            `json:"is_active,omitempty"`
}

// Empty reports whether the patch carries no fields.
func (r *UpdateRequest) Empty() bool {
	return r.Name == nil && r.Repository == nil && r.Providers == nil &&
		r.SpendLimitDaily == nil && r.SpendLimitMonthly == nil &&
		r.MaxConcurrentTasks == nil && r.PriorityLevel == nil &&
		r.Settings == nil && r.IsActive == nil
}

// Validate checks every field present in the patch.
func (r *UpdateRequest) Validate() error {
	if r.Name != nil {
		trimmed := strings.TrimSpace(*r.Name)
		r.Name = &trimmed
		if err := validateName(trimmed); err != nil {
			return err
		}
	}
	if r.Providers != nil {
		if len(r.Providers) == 0 {
			return invalid("llm_providers cannot be emptied")
		}
		if err := validateProviders(r.Providers); err != nil {
			return err
		}
	}
	if err := validateLimits(r.SpendLimitDaily, r.SpendLimitMonthly); err != nil {
		return err
	}
	if err := validateTaskCap(r.MaxConcurrentTasks); err != nil {
		return err
	}
	return validatePriority(r.PriorityLevel)
}

func validateName(name string) error {
	if name == "" {
		return invalid("instance_name cannot be empty")
	}
	if len(name) > maxNameLength {
		return invalid("instance_name too long (max %d characters)", maxNameLength)
	}
	return nil
}

func validateProviders(providers []ProviderConfig) error {
	for i := range providers {
		p := &providers[i]
		if !ValidProvider(p.Provider) {
			return invalid("llm_providers[%d]: unknown provider %q", i, p.Provider)
		}
		if p.ModelName == "" {
			return invalid("llm_providers[%d]: model_name is required", i)
		}
		if p.APIKeyEnv == "" {
			return invalid("llm_providers[%d]: api_key_env_var is required", i)
		}
		if p.Temperature < 0 || p.Temperature > maxTemperature {
			return invalid("llm_providers[%d]: temperature must be within [0, %.1f]", i, maxTemperature)
		}
		if p.MaxTokens < 0 || p.MaxTokens > maxProviderTokens {
			return invalid("llm_providers[%d]: max_tokens must be 0 (provider default) or within [1, %d]", i, maxProviderTokens)
		}
	}
	return nil
}

func validateLimits(daily, monthly *decimal.Decimal) error {
	if err := validateLimit("spend_limit_daily", daily, MaxSpendLimitDaily); err != nil {
		return err
	}
	return validateLimit("spend_limit_monthly", monthly, MaxSpendLimitMonthly)
}

func validateLimit(name string, v *decimal.Decimal, ceiling decimal.Decimal) error {
	switch {
	case v == nil:
		return nil
	case v.IsNegative():
		return invalid("%s must be >= 0", name)
	case v.GreaterThan(ceiling):
		return invalid("%s seems too high (max %s)", name, ceiling.StringFixed(2))
	case !spend.FitsLimit(*v):
		return invalid("%s allows at most %d decimal places", name, spend.LimitScale)
	}
	return nil
}

func validateTaskCap(n *int) error {
	if n != nil && (*n < 0 || *n > maxConcurrentTasks) {
		return invalid("max_concurrent_tasks must be within [0, %d]", maxConcurrentTasks)
	}
	return nil
}

func validatePriority(p *int) error {
	if p != nil && (*p < minPriority || *p > maxPriority) {
		return invalid("priority_level must be within [%d, %d]", minPriority, maxPriority)
	}
	return nil
}

func normalizeOrg(org string) string {
	org = strings.TrimSpace(org)
	if org == "" {
		return ""
	}
	if !strings.HasPrefix(org, "https://") && !strings.HasPrefix(org, "http://") {
		return "https://" + org
	}
	return org
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

// ValidCategory reports whether c is a known category. The empty category
// is allowed.
func ValidCategory(c Category) bool {
	switch c {
	case "", CategoryDevelopment, CategoryQuality, CategoryArchitecture, CategoryOperations,
		CategoryManagement, CategorySpecialized, CategoryTesting:
		return true
	}
	return false
}

// Normalize trims the names and defaults the capability map.
func (r *CreateTypeRequest) Normalize() {
	r.TypeName = strings.TrimSpace(r.TypeName)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	if r.DefaultCapabilities == nil {
		r.DefaultCapabilities = map[string]any{}
	}
}

// Validate checks the type draft. Call Normalize first.
func (r *CreateTypeRequest) Validate() error {
	if r.TypeName == "" {
		return invalid("type_name is required")
	}
	if len(r.TypeName) > maxTypeNameLength {
		return invalid("type_name too long (max %d characters)", maxTypeNameLength)
	}
	if strings.ContainsAny(r.TypeName, " .*>") {
		return invalid("type_name must not contain spaces, dots or wildcards")
	}
	if r.DisplayName == "" {
		return invalid("display_name is required")
	}
	if !ValidCategory(r.Category) {
		return invalid("unknown category %q", r.Category)
	}
	return nil
}

// Validate checks every field present in the type patch.
func (r *UpdateTypeRequest) Validate() error {
	if r.DisplayName != nil {
		trimmed := strings.TrimSpace(*r.DisplayName)
		r.DisplayName = &trimmed
		if trimmed == "" {
			return invalid("display_name cannot be empty")
		}
	}
	if r.Category != nil && !ValidCategory(*r.Category) {
		return invalid("unknown category %q", *r.Category)
	}
	return nil
}

// Empty reports whether the type patch carries no fields.
func (r *UpdateTypeRequest) Empty() bool {
	return r.DisplayName == nil && r.Category == nil && r.BaseWorkflowID == nil && r.DefaultCapabilities == nil
}
