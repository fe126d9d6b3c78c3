/*
ledger.go - Cash-flow ledger

PURPOSE:
  The ledger is the event log of money moving in and out. Each entry is the
  amount of ONE event: two payments of 300 and 200 toward the same
  installment are two entries, even though the installment's payment record
  only ever shows the running total (500).

APPEND, RARELY DELETE:
  Entries are appended with an optional idempotency key so a retried request
  cannot record the same payment twice. Deletion exists for manual entries
  typed by mistake; undoing an installment payment does NOT delete the
  entries it produced.

SEE ALSO:
  - reconcile.go: Issues ledger entries for payments
  - portfolio.go: Reads the ledger for collected and recent payments
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger records manual cash-flow entries against a Store.
type Ledger struct {
	Store Store
	Clock Clock
}

func NewLedger(store Store, clock Clock) *Ledger {
	if clock == nil {
		clock = SystemClock
	}
	return &Ledger{Store: store, Clock: clock}
}

// Append validates a draft and appends it as a new entry.
func (l *Ledger) Append(ctx context.Context, draft TransactionDraft) (FinancialTransaction, error) {
	if err := ValidateDraft(draft); err != nil {
		return FinancialTransaction{}, err
	}

	now := l.Clock()
	tx := FinancialTransaction{
		ID:                TransactionID(uuid.NewString()),
		Type:              draft.Type,
		Title:             strings.TrimSpace(draft.Title),
		Value:             draft.Value.Round(2),
		Category:          draft.Category,
		Date:              draft.Date,
		Status:            draft.Status,
		ClientID:          draft.ClientID,
		InstallmentNumber: draft.InstallmentNumber,
		IdempotencyKey:    draft.IdempotencyKey,
		CreatedAt:         now,
		CreatedBy:         draft.CreatedBy,
	}
	if tx.Date.IsZero() {
		tx.Date = DateOf(now)
	}
	if tx.Status == "" {
		tx.Status = TxConfirmed
	}

	if err := l.Store.AppendTransaction(ctx, tx); err != nil {
		return FinancialTransaction{}, err
	}
	return tx, nil
}

// Delete removes an entry.
func (l *Ledger) Delete(ctx context.Context, id TransactionID) error {
	ok, err := l.Store.DeleteTransaction(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransactionNotFound
	}
	return nil
}

// ValidateDraft checks a manual entry before it is written.
func ValidateDraft(d TransactionDraft) error {
	if d.Type != TxIn && d.Type != TxOut {
		return fmt.Errorf("%w: type must be %q or %q", ErrInvalidTransaction, TxIn, TxOut)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTransaction)
	}
	if !d.Value.Round(2).IsPositive() {
		return fmt.Errorf("%w: value must be positive", ErrInvalidTransaction)
	}
	if d.Status != "" && d.Status != TxConfirmed && d.Status != TxPending {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransaction, d.Status)
	}
	return nil
}

// =============================================================================
// QUERIES - Pure functions over a loaded ledger
// =============================================================================

// InPeriod returns the entries dated within p, in their original order.
func InPeriod(txs []FinancialTransaction, p Period) []FinancialTransaction {
	var out []FinancialTransaction
	for _, tx := range txs {
		if p.Contains(tx.Date) {
			out = append(out, tx)
		}
	}
	return out
}

// LinkedTransactions returns the entries issued for one installment.
func LinkedTransactions(txs []FinancialTransaction, clientID ClientID, installment int) []FinancialTransaction {
	var out []FinancialTransaction
	for _, tx := range txs {
		if tx.LinkedTo(clientID, installment) {
			out = append(out, tx)
		}
	}
	return out
}

// SortByDateDesc orders entries newest first; same-day entries by creation time.
func SortByDateDesc(txs []FinancialTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

// CashFlowSummary totals a period of the ledger.
type CashFlowSummary struct {
	Period  Period
	In      decimal.Decimal
	Out     decimal.Decimal
	Net     decimal.Decimal
	Pending decimal.Decimal // pendente entries, both directions, signed
	Count   int
}

// CashFlow sums confirmed entries in p. Pending entries only contribute to
// Pending (incoming positive, outgoing negative).
func CashFlow(txs []FinancialTransaction, p Period) CashFlowSummary {
	sum := CashFlowSummary{
		Period:  p,
		In:      decimal.Zero,
		Out:     decimal.Zero,
		Pending: decimal.Zero,
	}
	for _, tx := range InPeriod(txs, p) {
		sum.Count++
		if tx.Status == TxPending {
			if tx.Type == TxOut {
				sum.Pending = sum.Pending.Sub(tx.Value)
			} else {
				sum.Pending = sum.Pending.Add(tx.Value)
			}
			continue
		}
		switch tx.Type {
		case TxIn:
			sum.In = sum.In.Add(tx.Value)
		case TxOut:
			sum.Out = sum.Out.Add(tx.Value)
		}
	}
	sum.Net = sum.In.Sub(sum.Out)
	return sum
}
