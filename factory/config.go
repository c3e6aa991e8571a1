/*
Package factory provides JSON to Go engine-configuration conversion.

PURPOSE:
  Converts a JSON configuration document into the typed registry the
  engine components consume: the tool cost table, the declared
  quota-eligibility set, tenant daily ceilings and system settings.
  Operators can reprice tools or change commission percentages without a
  code change.

JSON SCHEMA:
  {
    "tools": [
      {"tool_id": "ai_tutor", "tool_name": "AI Tutor",
       "price_to_consumer": 5, "real_cost_estimate": "1.80",
       "complexity": "medium"}
    ],
    "quota_ineligible_tools": ["exam_simulator", "quiz_arena"],
    "tenant_daily_limits": {"school-01": 5000},
    "settings": {
      "unit_credit_value": "1.00",
      "commission_pct": "20",
      "platform_fee_rate": "0.0499",
      "tax_rate": "0.06",
      "min_withdrawal": 50,
      "dispute_confidence_floor": 0.75
    }
  }

KEY FEATURES:
  - Validates structure and amounts
  - Sets sensible defaults for every omitted setting
  - Makes the quota-eligibility table an explicit declaration instead of
    scattered conditionals

SEE ALSO:
  - resolver: consults the eligibility table and tool prices
  - commission: consults real cost estimates and settings
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// ToolCost prices one tool: what the consumer pays in credits and what the
// platform actually spends serving one task.
type ToolCost struct {
	ToolID           string          `json:"tool_id"`
	ToolName         string          `json:"tool_name"`
	PriceToConsumer  int64           `json:"price_to_consumer"`
	RealCostEstimate decimal.Decimal `json:"real_cost_estimate"`
	Complexity       string          `json:"complexity,omitempty"` // low, medium, high
}

// Settings are the system-wide knobs.
type Settings struct {
	UnitCreditValue        decimal.Decimal `json:"unit_credit_value"`
	CommissionPct          decimal.Decimal `json:"commission_pct"`
	PlatformFeeRate        decimal.Decimal `json:"platform_fee_rate"`
	TaxRate                decimal.Decimal `json:"tax_rate"`
	MinWithdrawal          int64           `json:"min_withdrawal"`
	DisputeConfidenceFloor float64         `json:"dispute_confidence_floor"`
}

// Config is the parsed configuration document.
type Config struct {
	Tools                []ToolCost       `json:"tools"`
	QuotaIneligibleTools []string         `json:"quota_ineligible_tools"`
	TenantDailyLimits    map[string]int64 `json:"tenant_daily_limits"`
	Settings             Settings         `json:"settings"`
}

// =============================================================================
// PARSING
// =============================================================================

// DefaultSettings match the established production values.
func DefaultSettings() Settings {
	return Settings{
		UnitCreditValue:        decimal.NewFromInt(1),
		CommissionPct:          decimal.NewFromInt(20),
		PlatformFeeRate:        decimal.RequireFromString("0.0499"),
		TaxRate:                decimal.RequireFromString("0.06"),
		MinWithdrawal:          50,
		DisputeConfidenceFloor: 0.75,
	}
}

// defaultQuotaIneligible is the always-billed tool set carried over from
// the current product behavior. It is a default, not a rule: deployments
// override it in config.
var defaultQuotaIneligible = []string{
	"exam_simulator",
	"memory_cards",
	"culture_lab",
	"quiz_arena",
	"executive_mission",
}

// ParseConfig parses and validates a JSON configuration document,
// filling defaults for every omitted field.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{Settings: DefaultSettings()}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	if cfg.QuotaIneligibleTools == nil {
		cfg.QuotaIneligibleTools = append([]string(nil), defaultQuotaIneligible...)
	}
	if cfg.Settings.UnitCreditValue.IsZero() {
		cfg.Settings.UnitCreditValue = DefaultSettings().UnitCreditValue
	}
	if cfg.Settings.MinWithdrawal == 0 {
		cfg.Settings.MinWithdrawal = DefaultSettings().MinWithdrawal
	}
	if cfg.Settings.DisputeConfidenceFloor == 0 {
		cfg.Settings.DisputeConfidenceFloor = DefaultSettings().DisputeConfidenceFloor
	}

	for i, tool := range cfg.Tools {
		if tool.ToolID == "" {
			return nil, fmt.Errorf("tool %d: missing tool_id", i)
		}
		if tool.PriceToConsumer < 0 {
			return nil, fmt.Errorf("tool %s: negative price", tool.ToolID)
		}
		if tool.RealCostEstimate.IsNegative() {
			return nil, fmt.Errorf("tool %s: negative real cost", tool.ToolID)
		}
	}
	return cfg, nil
}

// LoadConfig reads and parses a configuration file. A missing path yields
// an all-defaults config.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return ParseConfig([]byte("{}"))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}
	return ParseConfig(data)
}

// =============================================================================
// REGISTRY - Runtime lookup view over a Config
// =============================================================================

// Registry is the immutable lookup structure components hold. Construct
// once at startup.
type Registry struct {
	tools      map[string]ToolCost
	ineligible map[string]bool
	tenants    map[string]int64
	settings   Settings
}

func NewRegistry(cfg *Config) *Registry {
	r := &Registry{
		tools:      make(map[string]ToolCost, len(cfg.Tools)),
		ineligible: make(map[string]bool, len(cfg.QuotaIneligibleTools)),
		tenants:    make(map[string]int64, len(cfg.TenantDailyLimits)),
		settings:   cfg.Settings,
	}
	for _, t := range cfg.Tools {
		r.tools[t.ToolID] = t
	}
	for _, id := range cfg.QuotaIneligibleTools {
		r.ineligible[id] = true
	}
	for id, limit := range cfg.TenantDailyLimits {
		r.tenants[id] = limit
	}
	return r
}

// Tool returns the cost entry for a tool id.
func (r *Registry) Tool(toolID string) (ToolCost, bool) {
	t, ok := r.tools[toolID]
	return t, ok
}

// QuotaEligible reports whether a tool may draw on the personal free
// allowance. Unknown tools are eligible; only the declared always-billed
// set bypasses quota.
func (r *Registry) QuotaEligible(toolID string) bool {
	return !r.ineligible[toolID]
}

// TenantDailyLimit returns the tenant's daily ceiling (0 = none).
// Satisfies quota.TenantLimits.
func (r *Registry) TenantDailyLimit(tenantID string) int64 {
	return r.tenants[tenantID]
}

// Settings returns the system settings.
func (r *Registry) Settings() Settings {
	return r.settings
}
