package factory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/factory"
)

// =============================================================================
// PARSING TESTS
// =============================================================================

func TestParseConfig_Empty_AllDefaults(t *testing.T) {
	// GIVEN: An empty config document
	// WHEN: Parsing
	// THEN: Production defaults everywhere

	cfg, err := factory.ParseConfig([]byte(`{}`))
	require.NoError(t, err)

	assert.True(t, cfg.Settings.UnitCreditValue.Equal(decimal.NewFromInt(1)))
	assert.True(t, cfg.Settings.CommissionPct.Equal(decimal.NewFromInt(20)))
	assert.True(t, cfg.Settings.PlatformFeeRate.Equal(decimal.RequireFromString("0.0499")))
	assert.True(t, cfg.Settings.TaxRate.Equal(decimal.RequireFromString("0.06")))
	assert.Equal(t, int64(50), cfg.Settings.MinWithdrawal)
	assert.Equal(t, 0.75, cfg.Settings.DisputeConfidenceFloor)
	assert.NotEmpty(t, cfg.QuotaIneligibleTools, "default always-billed set applies")
}

func TestParseConfig_FullDocument(t *testing.T) {
	doc := `{
		"tools": [
			{"tool_id": "ai_tutor", "tool_name": "AI Tutor",
			 "price_to_consumer": 5, "real_cost_estimate": "1.80", "complexity": "medium"}
		],
		"quota_ineligible_tools": ["exam_simulator"],
		"tenant_daily_limits": {"school-01": 5000},
		"settings": {"commission_pct": "25", "min_withdrawal": 100}
	}`

	cfg, err := factory.ParseConfig([]byte(doc))
	require.NoError(t, err)

	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "ai_tutor", cfg.Tools[0].ToolID)
	assert.True(t, cfg.Tools[0].RealCostEstimate.Equal(decimal.RequireFromString("1.80")))
	assert.Equal(t, []string{"exam_simulator"}, cfg.QuotaIneligibleTools)
	assert.Equal(t, int64(5000), cfg.TenantDailyLimits["school-01"])
	assert.True(t, cfg.Settings.CommissionPct.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, int64(100), cfg.Settings.MinWithdrawal)
	// Omitted settings still default
	assert.Equal(t, 0.75, cfg.Settings.DisputeConfidenceFloor)
}

func TestParseConfig_MissingToolID_Rejected(t *testing.T) {
	_, err := factory.ParseConfig([]byte(`{"tools": [{"tool_name": "Nameless"}]}`))
	assert.Error(t, err)
}

func TestParseConfig_NegativePrice_Rejected(t *testing.T) {
	_, err := factory.ParseConfig([]byte(`{"tools": [{"tool_id": "x", "price_to_consumer": -1}]}`))
	assert.Error(t, err)
}

func TestParseConfig_InvalidJSON_Rejected(t *testing.T) {
	_, err := factory.ParseConfig([]byte(`{not json`))
	assert.Error(t, err)
}

func TestLoadConfig_EmptyPath_Defaults(t *testing.T) {
	cfg, err := factory.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, int64(50), cfg.Settings.MinWithdrawal)
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func newTestRegistry(t *testing.T) *factory.Registry {
	t.Helper()
	cfg, err := factory.ParseConfig([]byte(`{
		"tools": [{"tool_id": "ai_tutor", "real_cost_estimate": "1.80"}],
		"tenant_daily_limits": {"school-01": 5000}
	}`))
	require.NoError(t, err)
	return factory.NewRegistry(cfg)
}

func TestRegistry_ToolLookup(t *testing.T) {
	reg := newTestRegistry(t)

	tool, ok := reg.Tool("ai_tutor")
	require.True(t, ok)
	assert.True(t, tool.RealCostEstimate.Equal(decimal.RequireFromString("1.80")))

	_, ok = reg.Tool("unknown")
	assert.False(t, ok)
}

func TestRegistry_QuotaEligibility_DeclaredSetBypassesQuota(t *testing.T) {
	// GIVEN: The default always-billed set
	// WHEN: Checking eligibility
	// THEN: Declared tools are billed; everything else draws on the quota

	reg := newTestRegistry(t)

	assert.False(t, reg.QuotaEligible("exam_simulator"))
	assert.False(t, reg.QuotaEligible("quiz_arena"))
	assert.True(t, reg.QuotaEligible("ai_tutor"))
	assert.True(t, reg.QuotaEligible("some_future_tool"), "unknown tools default to eligible")
}

func TestRegistry_TenantDailyLimit(t *testing.T) {
	reg := newTestRegistry(t)

	assert.Equal(t, int64(5000), reg.TenantDailyLimit("school-01"))
	assert.Equal(t, int64(0), reg.TenantDailyLimit("unknown"), "0 means no ceiling")
}
