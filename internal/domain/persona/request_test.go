package persona

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/personagov/internal/domain"
)

func validDraft() CreateRequest {
	return CreateRequest{
		Name:    "  Steve Bot - Project Alpha ",
		TypeID:  "type-1",
		Org:     "dev.azure.com/acme",
		Project: "alpha",
		Providers: []ProviderConfig{
			{Provider: ProviderAnthropic, ModelName: "claude", Temperature: 0.7, MaxTokens: 4096, APIKeyEnv: "ANTHROPIC_API_KEY"},
		},
	}
}

func TestCreateRequest_NormalizeDefaults(t *testing.T) {
	r := validDraft()
	r.Normalize()

	assert.Equal(t, "Steve Bot - Project Alpha", r.Name)
	assert.Equal(t, "https://dev.azure.com/acme", r.Org)
	require.NotNil(t, r.SpendLimitDaily)
	assert.True(t, r.SpendLimitDaily.Equal(DefaultSpendLimitDaily))
	assert.True(t, r.SpendLimitMonthly.Equal(DefaultSpendLimitMonthly))
	assert.Equal(t, DefaultMaxConcurrentTasks, *r.MaxConcurrentTasks)
	assert.NotNil(t, r.Settings)
	require.NoError(t, r.Validate())
}

func TestCreateRequest_Validate(t *testing.T) {
	neg := decimal.RequireFromString("-1")
	huge := decimal.RequireFromString("1000.01")
	subCent := decimal.RequireFromString("10.005")
	hugeMonthly := decimal.RequireFromString("10000000000")
	tooMany := 21

	tests := []struct {
		name   string
		modify func(*CreateRequest)
		errMsg string
	}{
		{"empty name", func(r *CreateRequest) { r.Name = "   " }, "instance_name cannot be empty"},
		{"long name", func(r *CreateRequest) { r.Name = strings.Repeat("x", 256) }, "instance_name too long"},
		{"missing type", func(r *CreateRequest) { r.TypeID = "" }, "persona_type_id is required"},
		{"missing project", func(r *CreateRequest) { r.Project = "" }, "azure_devops_project is required"},
		{"no providers", func(r *CreateRequest) { r.Providers = nil }, "at least one llm provider"},
		{"unknown provider", func(r *CreateRequest) { r.Providers[0].Provider = "mystery" }, "unknown provider"},
		{"hot temperature", func(r *CreateRequest) { r.Providers[0].Temperature = 2.5 }, "temperature"},
		{"negative daily limit", func(r *CreateRequest) { r.SpendLimitDaily = &neg }, "spend_limit_daily must be >= 0"},
		{"daily limit too high", func(r *CreateRequest) { r.SpendLimitDaily = &huge }, "seems too high"},
		{"negative monthly limit", func(r *CreateRequest) { r.SpendLimitMonthly = &neg }, "spend_limit_monthly"},
		{"daily limit below cents", func(r *CreateRequest) { r.SpendLimitDaily = &subCent }, "spend_limit_daily allows at most 2 decimal places"},
		{"monthly limit below cents", func(r *CreateRequest) { r.SpendLimitMonthly = &subCent }, "spend_limit_monthly allows at most 2 decimal places"},
		{"monthly limit too high", func(r *CreateRequest) { r.SpendLimitMonthly = &hugeMonthly }, "spend_limit_monthly seems too high"},
		{"negative max tokens", func(r *CreateRequest) { r.Providers[0].MaxTokens = -1 }, "max_tokens must be 0 (provider default) or within [1, 128000]"},
		{"max tokens over cap", func(r *CreateRequest) { r.Providers[0].MaxTokens = 128001 }, "max_tokens"},
		{"task cap", func(r *CreateRequest) { r.MaxConcurrentTasks = &tooMany }, "max_concurrent_tasks"},
		{"priority", func(r *CreateRequest) { r.PriorityLevel = 11 }, "priority_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validDraft()
			tt.modify(&r)
			r.Normalize()
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCreateRequest_ProviderDefaultTokens(t *testing.T) {
	for _, tokens := range []int{0, 1, maxProviderTokens} {
		r := validDraft()
		r.Providers[0].MaxTokens = tokens
		r.Normalize()
		assert.NoError(t, r.Validate(), "max_tokens = %d", tokens)
	}
}

func TestCreateRequest_LimitBounds(t *testing.T) {
	r := validDraft()
	daily := decimal.RequireFromString("1000.00")
	monthly := MaxSpendLimitMonthly
	r.SpendLimitDaily, r.SpendLimitMonthly = &daily, &monthly
	r.Normalize()
	require.NoError(t, r.Validate())
	assert.True(t, MaxSpendLimitMonthly.LessThan(decimal.New(1, 10)), "monthly cap must fit NUMERIC(12,2)")
}

func TestUpdateRequest_Empty(t *testing.T) {
	var r UpdateRequest
	assert.True(t, r.Empty())

	active := false
	r.IsActive = &active
	assert.False(t, r.Empty())
}

func TestUpdateRequest_Validate(t *testing.T) {
	blank := "  "
	r := UpdateRequest{Name: &blank}
	require.ErrorIs(t, r.Validate(), domain.ErrValidation)

	r = UpdateRequest{Providers: []ProviderConfig{}}
	require.ErrorIs(t, r.Validate(), domain.ErrValidation)

	name := "  renamed "
	zero := 0
	r = UpdateRequest{Name: &name, MaxConcurrentTasks: &zero}
	require.NoError(t, r.Validate())
	assert.Equal(t, "renamed", *r.Name)
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 3, TotalPages(25, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 0, TotalPages(5, 0))
}

func TestPageBounds(t *testing.T) {
	limit, offset, page, size := PageBounds(3, 10)
	assert.Equal(t, 10, limit)
	assert.Equal(t, 20, offset)
	assert.Equal(t, 3, page)
	assert.Equal(t, 10, size)

	limit, offset, page, _ = PageBounds(0, 0)
	assert.Equal(t, DefaultPageSize, limit)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 1, page)

	limit, _, _, _ = PageBounds(1, MaxPageSize+1)
	assert.Equal(t, MaxPageSize, limit)
}

func TestCreateTypeRequest_Validate(t *testing.T) {
	ok := CreateTypeRequest{TypeName: " software-architect ", DisplayName: "Software Architect", Category: CategoryArchitecture}
	ok.Normalize()
	require.NoError(t, ok.Validate())
	assert.Equal(t, "software-architect", ok.TypeName)
	assert.NotNil(t, ok.DefaultCapabilities)

	tests := []struct {
		name string
		req  CreateTypeRequest
	}{
		{"missing type name", CreateTypeRequest{DisplayName: "X"}},
		{"dotted type name", CreateTypeRequest{TypeName: "a.b", DisplayName: "X"}},
		{"missing display name", CreateTypeRequest{TypeName: "qa"}},
		{"unknown category", CreateTypeRequest{TypeName: "qa", DisplayName: "QA", Category: "astrology"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Normalize()
			assert.ErrorIs(t, tt.req.Validate(), domain.ErrValidation)
		})
	}
}

func TestUpdateTypeRequest(t *testing.T) {
	var r UpdateTypeRequest
	assert.True(t, r.Empty())

	blank := " "
	r.DisplayName = &blank
	assert.False(t, r.Empty())
	assert.ErrorIs(t, r.Validate(), domain.ErrValidation)
}
