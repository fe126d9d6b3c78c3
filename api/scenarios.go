/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	billing data. Each scenario creates clients with fee contracts, then
	records payments through the Reconciler (back-dated with a fixed clock)
	so payment records and ledger entries look exactly like real traffic.

AVAILABLE SCENARIOS:

	single-contract:   One client, three installments, nothing paid yet
	partial-payments:  First installment paid in two parts, second partly paid
	mixed-portfolio:   Several clients: up to date, overdue, paid off, no
	                   contract, plus manual ledger entries

DATES:

	Contracts start relative to the handler's clock, so overdue and pending
	installments exist whatever day the demo is loaded.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mixed-portfolio"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:

	- handlers.go: Client and payment handlers
	- factory/contract.go: Client JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-contract",
		Name:        "Single Contract",
		Description: "One client, R$ 500,00 x 3 installments, nothing paid",
	},
	{
		ID:          "partial-payments",
		Name:        "Partial Payments",
		Description: "Installment 1 paid as R$ 300,00 + R$ 200,00, installment 2 partly paid",
	},
	{
		ID:          "mixed-portfolio",
		Name:        "Mixed Portfolio",
		Description: "Clients up to date, overdue, paid off and without contract, plus office expenses",
	},
}

// Scenarios returns the IDs of the available demo scenarios.
func Scenarios() []string {
	ids := make([]string, len(scenarios))
	for i, s := range scenarios {
		ids[i] = s.ID
	}
	return ids
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("%q", req.ScenarioID))
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	hlog.FromRequest(r).Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var errUnknownScenario = errors.New("unknown scenario")

// LoadScenarioByID resets the store and loads the named scenario. Used by
// the HTTP handler and by the server's -scenario flag.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(ctx context.Context) error
	switch id {
	case "single-contract":
		load = h.loadSingleContractScenario
	case "partial-payments":
		load = h.loadPartialPaymentsScenario
	case "mixed-portfolio":
		load = h.loadMixedPortfolioScenario
	default:
		return errUnknownScenario
	}

	if err := h.reset(ctx); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	if err := load(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Clients.InvalidateAll()
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSingleContractScenario(ctx context.Context) error {
	// Starts on the 1st of this month; the first installment is due on the 10th.
	today := billing.DateOf(h.Clock())
	return h.createClient(ctx, "cli-001", "Ana Souza", "ana@example.com",
		contractJSON("500.00", 3, 10, startOfMonthsAgo(today, 0)))
}

func (h *Handler) loadPartialPaymentsScenario(ctx context.Context) error {
	today := billing.DateOf(h.Clock())
	if err := h.createClient(ctx, "cli-001", "Ana Souza", "ana@example.com",
		contractJSON("500.00", 3, 10, startOfMonthsAgo(today, 2))); err != nil {
		return err
	}

	// Two payments toward installment 1: the record ends at 500, the ledger
	// holds 300 and 200.
	payments := []demoPayment{
		{client: "cli-001", installment: 1, amount: "R$ 300,00", daysAgo: 40},
		{client: "cli-001", installment: 1, amount: "R$ 200,00", daysAgo: 35},
		{client: "cli-001", installment: 2, amount: "R$ 150,00", daysAgo: 5},
	}
	return h.recordPayments(ctx, payments)
}

func (h *Handler) loadMixedPortfolioScenario(ctx context.Context) error {
	today := billing.DateOf(h.Clock())

	clients := []struct {
		id, name, email, contract string
	}{
		{"cli-001", "Ana Souza", "ana@example.com", contractJSON("1.500,00", 12, 10, startOfMonthsAgo(today, 4))},
		{"cli-002", "Bruno Lima", "bruno@example.com", contractJSON("800.00", 6, 5, startOfMonthsAgo(today, 5))},
		{"cli-003", "Carla Mendes", "carla@example.com", contractJSON("R$ 2.000,00", 3, 31, startOfMonthsAgo(today, 6))},
		{"cli-004", "Diego Ramos", "diego@example.com", ""},
	}
	for _, c := range clients {
		if err := h.createClient(ctx, c.id, c.name, c.email, c.contract); err != nil {
			return err
		}
	}

	payments := []demoPayment{
		// Ana: up to date on the installments already due
		{client: "cli-001", installment: 1, amount: "1.500,00", daysAgo: 95},
		{client: "cli-001", installment: 2, amount: "1.500,00", daysAgo: 65},
		{client: "cli-001", installment: 3, amount: "1.500,00", daysAgo: 35},
		{client: "cli-001", installment: 4, amount: "1.500,00", daysAgo: 5},
		// Bruno: paid the first, partial on the second, then stopped
		{client: "cli-002", installment: 1, amount: "800,00", daysAgo: 120},
		{client: "cli-002", installment: 2, amount: "400,00", daysAgo: 90},
		// Carla: paid off
		{client: "cli-003", installment: 1, amount: "2.000,00", daysAgo: 150},
		{client: "cli-003", installment: 2, amount: "2.000,00", daysAgo: 120},
		{client: "cli-003", installment: 3, amount: "2.000,00", daysAgo: 90},
	}
	if err := h.recordPayments(ctx, payments); err != nil {
		return err
	}

	expenses := []billing.TransactionDraft{
		{Type: billing.TxOut, Title: "Aluguel do escritório", Value: decimal.NewFromInt(3200), Category: "Aluguel", Date: today.AddDays(-3)},
		{Type: billing.TxOut, Title: "Assinatura de software jurídico", Value: decimal.RequireFromString("289.90"), Category: "Software", Date: today.AddDays(-1)},
		{Type: billing.TxIn, Title: "Consulta avulsa", Value: decimal.NewFromInt(450), Category: "Consultas", Date: today, Status: billing.TxPending},
	}
	for _, d := range expenses {
		d.CreatedBy = "demo"
		if _, err := h.Ledger.Append(ctx, d); err != nil {
			return fmt.Errorf("failed to add ledger entry %q: %w", d.Title, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type demoPayment struct {
	client      billing.ClientID
	installment int
	amount      string
	daysAgo     int
}

// recordPayments applies each payment with a reconciler whose clock is set
// to the payment's day.
func (h *Handler) recordPayments(ctx context.Context, payments []demoPayment) error {
	now := h.Clock()
	for _, p := range payments {
		paidAt := now.AddDate(0, 0, -p.daysAgo)
		r := billing.NewReconciler(h.Store,
			billing.WithClock(billing.FixedClock(paidAt)),
			billing.WithOverpaymentPolicy(h.Reconciler.Policy()),
		)
		_, err := r.ApplyPayment(ctx, billing.PaymentRequest{
			ClientID:          p.client,
			InstallmentNumber: p.installment,
			Amount:            p.amount,
			CreatedBy:         "demo",
		})
		if err != nil {
			return fmt.Errorf("failed to record payment for %s #%d: %w", p.client, p.installment, err)
		}
	}
	h.Clients.InvalidateAll()
	return nil
}

func (h *Handler) createClient(ctx context.Context, id, name, email, contract string) error {
	doc := fmt.Sprintf(`{"id":%q,"name":%q,"email":%q}`, id, name, email)
	if contract != "" {
		doc = fmt.Sprintf(`{"id":%q,"name":%q,"email":%q,"feeContract":%s}`, id, name, email, contract)
	}

	client, err := h.Factory.ParseClient(doc)
	if err != nil {
		return fmt.Errorf("failed to parse client %s: %w", id, err)
	}
	if err := h.Store.SaveClient(ctx, *client); err != nil {
		return fmt.Errorf("failed to save client %s: %w", id, err)
	}
	h.Clients.Invalidate(client.ID)
	return nil
}

// contractJSON builds a persisted contract with the monthly value as text,
// the way contracts usually arrive from forms.
func contractJSON(monthly string, count, dueDay int, start billing.Date) string {
	return fmt.Sprintf(`{"monthlyValue":%q,"installmentCount":%d,"dueDay":%d,"startDate":%q}`,
		monthly, count, dueDay, start.String())
}

// startOfMonthsAgo is the 1st of the month n months before today.
func startOfMonthsAgo(today billing.Date, n int) billing.Date {
	return billing.AddMonthsClamped(today.Year(), today.Month(), -n, 1)
}
