/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the engine with realistic
	data for testing and demos. Each scenario creates accounts, purchases,
	and consumption that demonstrate specific features.

AVAILABLE SCENARIOS:

	new-learner:    Single learner, starter pack, free quota + paid usage
	school-tenant:  Two learners under one school's daily ceiling
	producer-payout: A producer with earnings and a queued withdrawal

HOW SCENARIOS WORK:
 1. Create accounts through the normal ledger path (opening grants logged)
 2. Purchase credit packs via the resolver (aggregates recorded)
 3. Consume through the tiered resolution path
 4. Optionally queue withdrawals

Scenario accounts use fixed demo- ids, so loading the same scenario twice
returns 409 rather than duplicating data.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "school-tenant"}

ADDING NEW SCENARIOS:
 1. Add to the 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios write real data. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Request handlers the scenarios exercise indirectly
  - resolver/resolver.go: The consumption path every scenario goes through
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scenario describes one loadable demo dataset.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []Scenario{
	{
		ID:          "new-learner",
		Name:        "New Learner",
		Description: "One learner with a starter pack, free-quota usage and a paid session",
	},
	{
		ID:          "school-tenant",
		Name:        "School Tenant",
		Description: "Two learners consuming under a shared school daily ceiling",
	},
	{
		ID:          "producer-payout",
		Name:        "Producer Payout",
		Description: "A content producer with earnings and a queued withdrawal",
	},
}

// =============================================================================
// HTTP HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario populates the engine with one scenario's data.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "new-learner":
		err = h.loadNewLearnerScenario(ctx)
	case "school-tenant":
		err = h.loadSchoolTenantScenario(ctx)
	case "producer-payout":
		err = h.loadProducerPayoutScenario(ctx)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewLearnerScenario(ctx context.Context) error {
	acc := &ledger.Account{
		ID:             "demo-learner",
		Name:           "Demo Learner",
		Kind:           ledger.KindLearner,
		DailyFreeLimit: 50,
	}
	if err := h.Ledger.CreateAccount(ctx, acc); err != nil {
		return err
	}

	// Welcome bonus, then a starter pack: 100 credits for 100.00, recorded
	// against the global credit-pack aggregate.
	if _, err := h.Ledger.Apply(ctx, acc.ID, 20, ledger.Metadata{
		Kind: ledger.TxBonus, Category: "bonus", Description: "welcome bonus",
	}); err != nil {
		return err
	}
	if _, err := h.Resolver.Purchase(ctx, acc.ID, 100, decimal.NewFromInt(100), "", "starter pack"); err != nil {
		return err
	}

	// A free-quota session and a paid one, to show both pockets in the log.
	if _, err := h.Resolver.Consume(ctx, acc.ID, "ai_tutor", 10, "demo tutoring session", false); err != nil {
		return err
	}
	if _, err := h.Resolver.Consume(ctx, acc.ID, "exam_simulator", 15, "demo mock exam", false); err != nil {
		return err
	}
	return nil
}

func (h *Handler) loadSchoolTenantScenario(ctx context.Context) error {
	learners := []*ledger.Account{
		{ID: "demo-school-a", Name: "Demo Student A", Kind: ledger.KindLearner, TenantID: "demo-school", DailyFreeLimit: 30},
		{ID: "demo-school-b", Name: "Demo Student B", Kind: ledger.KindLearner, TenantID: "demo-school", DailyFreeLimit: 30},
	}
	for _, acc := range learners {
		if err := h.Ledger.CreateAccount(ctx, acc); err != nil {
			return err
		}
	}

	for _, acc := range learners {
		if _, err := h.Resolver.Consume(ctx, acc.ID, "ai_tutor", 20, "classroom session", false); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadProducerPayoutScenario(ctx context.Context) error {
	acc := &ledger.Account{
		ID:            "demo-producer",
		Name:          "Demo Producer",
		Kind:          ledger.KindProducer,
		GlobalBalance: 500,
	}
	if err := h.Ledger.CreateAccount(ctx, acc); err != nil {
		return err
	}

	// An 80-credit withdrawal waiting for the next batch window.
	if _, err := h.Payouts.Request(ctx, acc.ID, 80); err != nil {
		return err
	}
	return nil
}
