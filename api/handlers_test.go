/*
handlers_test.go - HTTP tests for the billing API

Tests for:
- Client creation and schedule generation
- Applying, accumulating and undoing installment payments
- Error mapping (400/404/409/422)
- Ledger entries, cash flow and portfolio figures
- Cache invalidation after writes
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
	memstore "github.com/warp/billing-engine/billing/store"
	"github.com/warp/billing-engine/cache"
	"github.com/warp/billing-engine/metrics"
	"github.com/warp/billing-engine/store/sqlite"
)

// 2024-03-01: installment 1 of the standard contract (due 2024-02-10) is
// overdue, 2 and 3 are pending.
var testNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

const standardClient = `{
	"id": "cli-1",
	"name": "Ana Souza",
	"email": "ana@example.com",
	"feeContract": {
		"monthlyValue": "R$ 500,00",
		"installmentCount": "3",
		"dueDay": 10,
		"startDate": "2024-01-15"
	}
}`

type testServer struct {
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, store Store) *testServer {
	t.Helper()
	clock := billing.FixedClock(testNow)
	collector := metrics.New()
	reconciler := billing.NewReconciler(store,
		billing.WithClock(clock),
		billing.WithObserver(collector),
	)
	clients := cache.NewClients(store, time.Hour, cache.WithClock(clock))
	h := NewHandler(store, reconciler, clients, clock)
	return &testServer{
		handler: h,
		router:  NewRouter(h, RouterOptions{Metrics: collector.Handler()}),
	}
}

func newMemoryServer(t *testing.T) *testServer {
	return newTestServer(t, memstore.NewTxMemory())
}

func newSQLiteServer(t *testing.T) *testServer {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newTestServer(t, store)
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) pay(t *testing.T, clientID string, n int, amount string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	path := "/api/clients/" + clientID + "/installments/" + strconv.Itoa(n) + "/payments"
	return s.do(t, http.MethodPost, path, ApplyPaymentRequest{Amount: amount}, headers...)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func backends() map[string]func(*testing.T) *testServer {
	return map[string]func(*testing.T) *testServer{
		"memory": newMemoryServer,
		"sqlite": newSQLiteServer,
	}
}

// =============================================================================
// CLIENTS AND SCHEDULES
// =============================================================================

func TestCreateClient_ScheduleFromTextContract(t *testing.T) {
	for name, newServer := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newServer(t)

			// WHEN: A client is created with numbers sent as text
			rec := s.do(t, http.MethodPost, "/api/clients", standardClient)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			client := decode[ClientDTO](t, rec)
			require.NotNil(t, client.Contract)
			assert.Equal(t, "500.00", client.Contract.MonthlyValue.Value)
			assert.Equal(t, "R$ 1.500,00", client.Contract.TotalValue.Formatted)
			assert.Equal(t, "PIX", client.Contract.PaymentMethod)

			// THEN: The schedule has three installments, the first overdue
			rec = s.do(t, http.MethodGet, "/api/clients/cli-1/schedule", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			schedule := decode[ScheduleDTO](t, rec)

			require.Len(t, schedule.Installments, 3)
			assert.Equal(t, "2024-02-10", schedule.Installments[0].DueDate)
			assert.Equal(t, "2024-03-10", schedule.Installments[1].DueDate)
			assert.Equal(t, "2024-04-10", schedule.Installments[2].DueDate)
			assert.Equal(t, "overdue", schedule.Installments[0].Status)
			assert.Equal(t, "pending", schedule.Installments[1].Status)
			assert.Equal(t, "1500.00", schedule.Summary.TotalValue.Value)
			assert.Equal(t, "2024-03-01", schedule.AsOf)
		})
	}
}

func TestGetSchedule_AsOf(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)

	rec := s.do(t, http.MethodGet, "/api/clients/cli-1/schedule?asOf=2024-01-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schedule := decode[ScheduleDTO](t, rec)
	for _, inst := range schedule.Installments {
		assert.Equal(t, "pending", inst.Status)
	}

	rec = s.do(t, http.MethodGet, "/api/clients/cli-1/schedule?asOf=31/01/2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateClient_Update(t *testing.T) {
	s := newSQLiteServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)

	updated := strings.Replace(standardClient, "Ana Souza", "Ana Souza Lima", 1)
	rec := s.do(t, http.MethodPost, "/api/clients", updated)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/clients/cli-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ana Souza Lima", decode[ClientDTO](t, rec).Name)
}

func TestCreateClient_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"id":`},
		{"missing name", `{"id":"cli-9"}`},
		{"zero installments", `{"id":"cli-9","name":"X","feeContract":{"monthlyValue":100,"installmentCount":0,"dueDay":5,"startDate":"2024-01-01"}}`},
		{"due day out of range", `{"id":"cli-9","name":"X","feeContract":{"monthlyValue":100,"installmentCount":2,"dueDay":32,"startDate":"2024-01-01"}}`},
		{"payments not allowed", `{"id":"cli-9","name":"X","payments":[{"id":"p","installmentNumber":1,"value":1,"status":"paid"}]}`},
	}
	s := newMemoryServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/clients", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

// forgetfulStore saves clients but never finds them again.
type forgetfulStore struct {
	*memstore.TxMemory
}

func (forgetfulStore) GetClient(context.Context, billing.ClientID) (*billing.Client, error) {
	return nil, nil
}

func TestCreateClient_MissingAfterSave(t *testing.T) {
	var logs bytes.Buffer
	s := newTestServer(t, forgetfulStore{TxMemory: memstore.NewTxMemory()})
	s.router = NewRouter(s.handler, RouterOptions{Logger: zerolog.New(&logs)})

	rec := s.do(t, http.MethodPost, "/api/clients", standardClient)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), "client cli-1 missing after save")
	assert.NotContains(t, logs.String(), "%!w")
}

func TestGetClient_NotFound(t *testing.T) {
	s := newMemoryServer(t)

	rec := s.do(t, http.MethodGet, "/api/clients/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Client not found", decode[ErrorResponse](t, rec).Error)
}

func TestGetSchedule_ClientWithoutContract(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", `{"id":"cli-2","name":"Bruno"}`).Code)

	rec := s.do(t, http.MethodGet, "/api/clients/cli-2/schedule", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestApplyPayment_PartialThenPaid(t *testing.T) {
	for name, newServer := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newServer(t)
			require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)

			// WHEN: 300 is paid toward installment 1 (total 500)
			rec := s.pay(t, "cli-1", 1, "R$ 300,00")
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			first := decode[PaymentResultDTO](t, rec)

			// THEN: It is partial, with one ledger entry of 300
			assert.Equal(t, "partial", first.Installment.Status)
			assert.Equal(t, "200.00", first.Installment.RemainingValue.Value)
			assert.Equal(t, "300.00", first.Transaction.Value.Value)
			assert.Equal(t, "in", first.Transaction.Type)
			assert.Equal(t, "Honorários - Ana Souza (parcela 1/3)", first.Transaction.Title)
			assert.Equal(t, 1, first.Payment.Revision)

			// WHEN: The remaining 200 is paid
			rec = s.pay(t, "cli-1", 1, "200,00")
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			second := decode[PaymentResultDTO](t, rec)

			// THEN: The record holds 500 and the new entry holds 200, not 500
			assert.Equal(t, "paid", second.Installment.Status)
			assert.Equal(t, "0.00", second.Installment.RemainingValue.Value)
			assert.Equal(t, "500.00", second.Payment.Value.Value)
			assert.Equal(t, "200.00", second.Transaction.Value.Value)
			assert.Equal(t, 2, second.Payment.Revision)
			assert.Equal(t, first.Payment.ID, second.Payment.ID)

			rec = s.do(t, http.MethodGet, "/api/transactions", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			var values []string
			for _, tx := range decode[[]TransactionDTO](t, rec) {
				values = append(values, tx.Value.Value)
			}
			assert.ElementsMatch(t, []string{"300.00", "200.00"}, values)
		})
	}
}

func TestApplyPayment_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		amount  string
		status  int
		message string
	}{
		{"unparsable amount", "/api/clients/cli-1/installments/1/payments", "abc", http.StatusBadRequest, "Invalid amount"},
		{"zero amount", "/api/clients/cli-1/installments/1/payments", "R$ 0,00", http.StatusBadRequest, "Invalid amount"},
		{"overpayment", "/api/clients/cli-1/installments/1/payments", "600", http.StatusUnprocessableEntity, "Payment exceeds installment value"},
		{"unknown client", "/api/clients/ghost/installments/1/payments", "100", http.StatusNotFound, "Client not found"},
		{"installment out of range", "/api/clients/cli-1/installments/4/payments", "100", http.StatusNotFound, "Installment not found"},
		{"bad installment number", "/api/clients/cli-1/installments/first/payments", "100", http.StatusBadRequest, "Invalid installment number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemoryServer(t)
			require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)

			rec := s.do(t, http.MethodPost, tt.path, ApplyPaymentRequest{Amount: tt.amount})
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.message, decode[ErrorResponse](t, rec).Error)

			// Nothing was recorded
			rec = s.do(t, http.MethodGet, "/api/transactions", nil)
			assert.Empty(t, decode[[]TransactionDTO](t, rec))
		})
	}
}

func TestApplyPayment_WithinToleranceIsAccepted(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)

	rec := s.pay(t, "cli-1", 1, "500,04")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decode[PaymentResultDTO](t, rec).Installment.Status)
}

func TestApplyPayment_ReplayedIdempotencyKey(t *testing.T) {
	for name, newServer := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newServer(t)
			require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)

			rec := s.pay(t, "cli-1", 1, "300", IdempotencyHeader, "key-1")
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			// WHEN: The same request is retried
			rec = s.pay(t, "cli-1", 1, "300", IdempotencyHeader, "key-1")

			// THEN: It is refused and the payment record was rolled back
			assert.Equal(t, http.StatusConflict, rec.Code)

			rec = s.do(t, http.MethodGet, "/api/clients/cli-1/schedule", nil)
			inst := decode[ScheduleDTO](t, rec).Installments[0]
			assert.Equal(t, "300.00", inst.PaidValue.Value)
			assert.Equal(t, 1, inst.Revision)
		})
	}
}

func TestApplyPayment_StaleRevision(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)
	require.Equal(t, http.StatusCreated, s.pay(t, "cli-1", 1, "100").Code)

	// The caller still believes the installment has no payment
	stale := 0
	rec := s.do(t, http.MethodPost, "/api/clients/cli-1/installments/1/payments",
		ApplyPaymentRequest{Amount: "100", ExpectedRevision: &stale})
	assert.Equal(t, http.StatusConflict, rec.Code)

	current := 1
	rec = s.do(t, http.MethodPost, "/api/clients/cli-1/installments/1/payments",
		ApplyPaymentRequest{Amount: "100", ExpectedRevision: &current})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "200.00", decode[PaymentResultDTO](t, rec).Payment.Value.Value)
}

func TestRevertPayment_LeavesLedgerUntouched(t *testing.T) {
	for name, newServer := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newServer(t)
			require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)
			require.Equal(t, http.StatusCreated, s.pay(t, "cli-1", 1, "300").Code)
			require.Equal(t, http.StatusCreated, s.pay(t, "cli-1", 1, "200").Code)

			// WHEN: The fully paid installment is undone
			rec := s.do(t, http.MethodDelete, "/api/clients/cli-1/installments/1/payment", nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			result := decode[RevertResultDTO](t, rec)

			// THEN: Its due date has passed, so it is overdue again
			assert.Equal(t, "overdue", result.Installment.Status)
			assert.Equal(t, "500.00", result.Removed.Value.Value)
			assert.Len(t, result.OrphanedTransactions, 2)

			// AND: Both ledger entries are still there
			rec = s.do(t, http.MethodGet, "/api/transactions?clientId=cli-1", nil)
			assert.Len(t, decode[[]TransactionDTO](t, rec), 2)

			// Undo without a payment is a 404
			rec = s.do(t, http.MethodDelete, "/api/clients/cli-1/installments/1/payment", nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestRevertPayment_ExpectedRevision(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)
	require.Equal(t, http.StatusCreated, s.pay(t, "cli-1", 2, "100").Code)

	rec := s.do(t, http.MethodDelete, "/api/clients/cli-1/installments/2/payment?expectedRevision=5", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/clients/cli-1/installments/2/payment?expectedRevision=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/clients/cli-1/installments/2/payment?expectedRevision=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode[RevertResultDTO](t, rec).Installment.Status)
}

func TestApplyPayment_InvalidatesClientCache(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)

	// Warm the cache
	rec := s.do(t, http.MethodGet, "/api/clients/cli-1", nil)
	require.Empty(t, decode[ClientDTO](t, rec).Payments)

	require.Equal(t, http.StatusCreated, s.pay(t, "cli-1", 1, "250").Code)

	rec = s.do(t, http.MethodGet, "/api/clients/cli-1", nil)
	payments := decode[ClientDTO](t, rec).Payments
	require.Len(t, payments, 1)
	assert.Equal(t, "250.00", payments[0].Value.Value)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestTransactions_ManualEntries(t *testing.T) {
	s := newSQLiteServer(t)

	rec := s.do(t, http.MethodPost, "/api/transactions", CreateTransactionRequest{
		Type: "out", Title: "Aluguel", Value: "R$ 3.200,00", Category: "Aluguel", Date: "2024-03-05",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rent := decode[TransactionDTO](t, rec)
	assert.Equal(t, "3200.00", rent.Value.Value)
	assert.Equal(t, "confirmado", rent.Status)

	rec = s.do(t, http.MethodPost, "/api/transactions", CreateTransactionRequest{
		Type: "in", Title: "Consulta", Value: "450", Category: "Consultas", Status: "pendente",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-03-01", decode[TransactionDTO](t, rec).Date)

	rec = s.do(t, http.MethodPost, "/api/transactions", CreateTransactionRequest{
		Type: "in", Title: "Old", Value: "10", Category: "X", Date: "2024-02-20",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Cash flow for March
	rec = s.do(t, http.MethodGet, "/api/cashflow?month=2024-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	flow := decode[CashFlowDTO](t, rec)
	assert.Equal(t, "2024-03", flow.Month)
	assert.Equal(t, "0.00", flow.In.Value)
	assert.Equal(t, "3200.00", flow.Out.Value)
	assert.Equal(t, "-3200.00", flow.Net.Value)
	assert.Equal(t, "450.00", flow.Pending.Value)
	assert.Equal(t, 2, flow.Count)

	// Month filter, newest first
	rec = s.do(t, http.MethodGet, "/api/transactions?month=2024-03", nil)
	march := decode[[]TransactionDTO](t, rec)
	require.Len(t, march, 2)
	assert.Equal(t, "2024-03-05", march[0].Date)

	// Delete
	rec = s.do(t, http.MethodDelete, "/api/transactions/"+rent.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/transactions/"+rent.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransactions_Invalid(t *testing.T) {
	s := newMemoryServer(t)

	tests := []struct {
		name string
		req  CreateTransactionRequest
	}{
		{"bad type", CreateTransactionRequest{Type: "sideways", Title: "x", Value: "1"}},
		{"no title", CreateTransactionRequest{Type: "in", Value: "1"}},
		{"zero value", CreateTransactionRequest{Type: "in", Title: "x", Value: "abc"}},
		{"bad date", CreateTransactionRequest{Type: "in", Title: "x", Value: "1", Date: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/transactions", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodGet, "/api/transactions?month=March", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PORTFOLIO
// =============================================================================

func TestDashboard(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", `{"id":"cli-2","name":"Bruno"}`).Code)

	rec := s.do(t, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[DashboardDTO](t, rec)
	assert.Equal(t, "1500.00", dash.TotalContractValue.Value)
	assert.Equal(t, "1500.00", dash.TotalReceivable.Value)
	assert.Equal(t, "500.00", dash.TotalOverdue.Value)
	assert.Equal(t, 1, dash.OverdueCount)
	assert.Equal(t, "500.00", dash.MonthForecast.Value)
	assert.Equal(t, "0.00", dash.MonthCollected.Value)

	// A partial payment takes the installment out of overdue
	require.Equal(t, http.StatusCreated, s.pay(t, "cli-1", 1, "300").Code)

	rec = s.do(t, http.MethodGet, "/api/dashboard", nil)
	dash = decode[DashboardDTO](t, rec)
	assert.Equal(t, "1200.00", dash.TotalReceivable.Value)
	assert.Equal(t, "0.00", dash.TotalOverdue.Value)
	assert.Equal(t, 0, dash.OverdueCount)
	assert.Equal(t, "300.00", dash.MonthCollected.Value)
	require.Len(t, dash.RecentPayments, 1)
}

func TestReceivables(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", `{"id":"cli-2","name":"Bruno"}`).Code)

	rec := s.do(t, http.MethodGet, "/api/receivables?asOf=2024-04-30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]ReceivableDTO](t, rec)

	require.Len(t, rows, 1)
	assert.Equal(t, "cli-1", rows[0].ClientID)
	assert.Equal(t, 3, rows[0].OverdueCount)
	assert.Equal(t, "1500.00", rows[0].OverdueValue.Value)
	require.NotNil(t, rows[0].NextDue)
	assert.Equal(t, 1, rows[0].NextDue.Number)
}

func TestListClients_IncludesSummary(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", `{"id":"cli-2","name":"Bruno"}`).Code)

	rec := s.do(t, http.MethodGet, "/api/clients", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]ClientListItemDTO](t, rec)

	require.Len(t, items, 2)
	byID := map[string]ClientListItemDTO{}
	for _, it := range items {
		byID[it.ID] = it
	}
	require.NotNil(t, byID["cli-1"].Summary)
	assert.Equal(t, "1500.00", byID["cli-1"].Summary.RemainingValue.Value)
	assert.Nil(t, byID["cli-2"].Summary)
	assert.False(t, byID["cli-2"].Contract)
}

// =============================================================================
// OPERATIONAL ROUTES
// =============================================================================

func TestMetricsAndHealth(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)
	require.Equal(t, http.StatusCreated, s.pay(t, "cli-1", 1, "500").Code)
	require.Equal(t, http.StatusUnprocessableEntity, s.pay(t, "cli-1", 1, "10").Code)

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `billing_payments_applied_total{status="paid"} 1`)
	assert.Contains(t, rec.Body.String(), `billing_payments_rejected_total{reason="overpayment"} 1`)
}

func TestResetDatabase(t *testing.T) {
	s := newMemoryServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/clients", standardClient).Code)

	rec := s.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	clients, err := s.handler.Store.ListClients(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clients)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/clients/cli-1", nil).Code)
}
