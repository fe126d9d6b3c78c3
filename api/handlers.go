/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes schedules, payment reconciliation, the ledger and portfolio
  figures via REST API. Handles HTTP request/response, JSON serialization,
  and delegates to the billing package.

ENDPOINTS:
  Clients:
    GET    /api/clients                                  List clients with totals
    POST   /api/clients                                  Create or update client + contract
    GET    /api/clients/{id}                             Client detail
    GET    /api/clients/{id}/schedule?asOf=YYYY-MM-DD    Installment schedule

  Payments:
    POST   /api/clients/{id}/installments/{n}/payments   Apply payment (Idempotency-Key header)
    DELETE /api/clients/{id}/installments/{n}/payment    Undo payment (?expectedRevision=)

  Ledger:
    GET    /api/transactions?month=YYYY-MM               Ledger, newest first
    POST   /api/transactions                             Manual entry
    DELETE /api/transactions/{id}                        Remove entry
    GET    /api/cashflow?month=YYYY-MM                   Monthly totals

  Portfolio:
    GET    /api/dashboard?asOf=YYYY-MM-DD                Portfolio summary
    GET    /api/receivables?asOf=YYYY-MM-DD              Per-client receivables

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Transactional persistence
  - Reconciler: Payment apply/undo
  - Ledger: Manual cash-flow entries
  - Clients: Read-through client cache, invalidated on every client write

ERROR HANDLING:
  Domain errors are mapped in errors.go:
  - 400: Invalid input or amount
  - 404: Client, installment, payment or transaction not found
  - 409: Concurrent modification, replayed idempotency key
  - 422: Overpayment, settled installment, client without contract
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/cache"
	"github.com/warp/billing-engine/factory"
)

// IdempotencyHeader carries the client-chosen key that makes a payment or
// ledger POST safe to retry.
const IdempotencyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: transactional billing storage
// that can also be wiped for demo scenarios.
type Store interface {
	billing.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Store
	Reconciler *billing.Reconciler
	Ledger     *billing.Ledger
	Clients    *cache.Clients
	Factory    *factory.ContractFactory
	Clock      billing.Clock

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires a handler. A nil reconciler gets the default policy, a
// nil cache reads straight through and a nil clock is the system clock.
func NewHandler(store Store, reconciler *billing.Reconciler, clients *cache.Clients, clock billing.Clock) *Handler {
	if clock == nil {
		clock = billing.SystemClock
	}
	if reconciler == nil {
		reconciler = billing.NewReconciler(store, billing.WithClock(clock))
	}
	if clients == nil {
		clients = cache.NewClients(store, 0, cache.WithClock(clock))
	}
	return &Handler{
		Store:      store,
		Reconciler: reconciler,
		Ledger:     billing.NewLedger(store, clock),
		Clients:    clients,
		Factory:    factory.NewContractFactory(),
		Clock:      clock,
	}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients with their schedule totals.
// GET /api/clients
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	now, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asOf", err)
		return
	}

	clients, err := h.Clients.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]ClientListItemDTO, len(clients))
	for i, c := range clients {
		dtos[i] = ClientListItemDTO{
			ID:       string(c.ID),
			Name:     c.Name,
			Email:    c.Email,
			Contract: c.HasFeeContract(),
		}
		if c.HasFeeContract() {
			summary := toSummaryDTO(billing.GenerateSchedule(c.Contract, c.Payments, now).Summary)
			dtos[i].Summary = &summary
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateClient creates or updates a client and its fee contract.
// The body is the persisted client shape (factory.ClientJSON); contract
// numbers may be sent as text ("R$ 1.500,00") or numbers. Payments are not
// accepted here: they go through the installment endpoints.
// POST /api/clients
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req factory.ClientJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Payments) > 0 {
		writeError(w, http.StatusBadRequest, "Payments cannot be set on a client",
			errors.New("use POST /api/clients/{id}/installments/{n}/payments"))
		return
	}

	client, err := h.Factory.ClientFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid client", err)
		return
	}

	ctx := r.Context()
	existing, err := h.Store.GetClient(ctx, client.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if existing != nil {
		status = http.StatusOK
		client.CreatedAt = existing.CreatedAt
	}

	if err := h.Store.SaveClient(ctx, *client); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.Clients.Invalidate(client.ID)

	saved, err := h.Store.GetClient(ctx, client.ID)
	if err != nil {
		writeDomainError(w, r, fmt.Errorf("failed to reload client %s: %w", client.ID, err))
		return
	}
	if saved == nil {
		writeDomainError(w, r, fmt.Errorf("client %s missing after save", client.ID))
		return
	}

	hlog.FromRequest(r).Info().
		Str("client_id", string(client.ID)).
		Bool("updated", existing != nil).
		Bool("has_contract", client.HasFeeContract()).
		Msg("client saved")
	writeJSON(w, status, toClientDTO(*saved))
}

// GetClient returns a client with its contract and payment records.
// GET /api/clients/{id}
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	client, ok := h.loadClient(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*client))
}

// GetSchedule returns the installment schedule as of today, or as of the
// asOf query date.
// GET /api/clients/{id}/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	now, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asOf", err)
		return
	}

	client, ok := h.loadClient(w, r)
	if !ok {
		return
	}
	if !client.HasFeeContract() {
		writeDomainError(w, r, fmt.Errorf("%w: %s", billing.ErrNoFeeContract, client.ID))
		return
	}

	schedule := billing.GenerateSchedule(client.Contract, client.Payments, now)
	writeJSON(w, http.StatusOK, toScheduleDTO(client.ID, billing.DateOf(now), schedule))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ApplyPayment records a payment toward one installment.
// POST /api/clients/{id}/installments/{n}/payments
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	clientID := billing.ClientID(chi.URLParam(r, "id"))
	n, err := installmentParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installment number", err)
		return
	}

	var req ApplyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Reconciler.ApplyPayment(r.Context(), billing.PaymentRequest{
		ClientID:          clientID,
		InstallmentNumber: n,
		Amount:            req.Amount,
		ExpectedRevision:  req.ExpectedRevision,
		IdempotencyKey:    strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
		CreatedBy:         req.CreatedBy,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.Clients.Invalidate(clientID)

	writeJSON(w, http.StatusCreated, PaymentResultDTO{
		Payment:     toPaymentDTO(result.Payment),
		Transaction: toTransactionDTO(result.Transaction),
		Installment: toInstallmentDTO(result.Installment),
		Applied:     money(result.Applied),
	})
}

// RevertPayment removes an installment's payment record. Ledger entries
// issued for it are kept and listed in the response.
// DELETE /api/clients/{id}/installments/{n}/payment
func (h *Handler) RevertPayment(w http.ResponseWriter, r *http.Request) {
	clientID := billing.ClientID(chi.URLParam(r, "id"))
	n, err := installmentParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid installment number", err)
		return
	}

	req := billing.RevertRequest{ClientID: clientID, InstallmentNumber: n}
	if v := r.URL.Query().Get("expectedRevision"); v != "" {
		rev, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expectedRevision", err)
			return
		}
		req.ExpectedRevision = &rev
	}

	result, err := h.Reconciler.RevertPayment(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.Clients.Invalidate(clientID)

	writeJSON(w, http.StatusOK, RevertResultDTO{
		Removed:              toPaymentDTO(result.Removed),
		Installment:          toInstallmentDTO(result.Installment),
		OrphanedTransactions: toTransactionDTOs(result.OrphanedTransactions),
	})
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListTransactions returns the ledger newest first, optionally for one month.
// GET /api/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Store.ListTransactions(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if month := r.URL.Query().Get("month"); month != "" {
		period, err := billing.ParseMonth(month)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month", err)
			return
		}
		txs = billing.InPeriod(txs, period)
	}
	if clientID := r.URL.Query().Get("clientId"); clientID != "" {
		filtered := txs[:0:0]
		for _, tx := range txs {
			if string(tx.ClientID) == clientID {
				filtered = append(filtered, tx)
			}
		}
		txs = filtered
	}

	billing.SortByDateDesc(txs)
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// CreateTransaction appends a manual ledger entry.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	draft := billing.TransactionDraft{
		Type:              billing.TxType(req.Type),
		Title:             req.Title,
		Value:             billing.ParseCurrency(req.Value),
		Category:          strings.TrimSpace(req.Category),
		Status:            billing.TxStatus(req.Status),
		ClientID:          billing.ClientID(req.ClientID),
		InstallmentNumber: req.InstallmentNumber,
		IdempotencyKey:    strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
		CreatedBy:         req.CreatedBy,
	}
	if req.Date != "" {
		date, err := billing.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
		draft.Date = date
	}

	tx, err := h.Ledger.Append(r.Context(), draft)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// DeleteTransaction removes a ledger entry.
// DELETE /api/transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := billing.TransactionID(chi.URLParam(r, "id"))
	if err := h.Ledger.Delete(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCashFlow totals the ledger for a month (default: the current one).
// GET /api/cashflow
func (h *Handler) GetCashFlow(w http.ResponseWriter, r *http.Request) {
	today := billing.DateOf(h.Clock())
	period := billing.MonthPeriod(today.Year(), today.Month())
	if month := r.URL.Query().Get("month"); month != "" {
		p, err := billing.ParseMonth(month)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month", err)
			return
		}
		period = p
	}

	txs, err := h.Store.ListTransactions(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	sum := billing.CashFlow(txs, period)
	writeJSON(w, http.StatusOK, CashFlowDTO{
		Month:   period.Start.Time().Format("2006-01"),
		In:      money(sum.In),
		Out:     money(sum.Out),
		Net:     money(sum.Net),
		Pending: money(sum.Pending),
		Count:   sum.Count,
	})
}

// =============================================================================
// PORTFOLIO HANDLERS
// =============================================================================

// GetDashboard returns the portfolio summary.
// GET /api/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	now, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asOf", err)
		return
	}

	ctx := r.Context()
	clients, err := h.Clients.ListWithFeeContract(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	txs, err := h.Store.ListTransactions(ctx)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDashboardDTO(billing.AggregatePortfolio(clients, txs, now)))
}

// ListReceivables returns one row per client with a fee contract.
// GET /api/receivables
func (h *Handler) ListReceivables(w http.ResponseWriter, r *http.Request) {
	now, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asOf", err)
		return
	}

	clients, err := h.Clients.ListWithFeeContract(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	statuses := billing.ClientStatuses(clients, now)
	dtos := make([]ReceivableDTO, len(statuses))
	for i, s := range statuses {
		dtos[i] = toReceivableDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) loadClient(w http.ResponseWriter, r *http.Request) (*billing.Client, bool) {
	id := billing.ClientID(chi.URLParam(r, "id"))
	client, err := h.Clients.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	if client == nil {
		writeDomainError(w, r, fmt.Errorf("%w: %s", billing.ErrClientNotFound, id))
		return nil, false
	}
	return client, true
}

// asOf returns the instant to evaluate schedules at: the handler's clock,
// or the asOf query date.
func (h *Handler) asOf(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("asOf")
	if v == "" {
		return h.Clock(), nil
	}
	d, err := billing.ParseDate(v)
	if err != nil {
		return time.Time{}, err
	}
	return d.Time(), nil
}

func installmentParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("installment number must be at least 1, got %d", n)
	}
	return n, nil
}
