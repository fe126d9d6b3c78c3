/*
reconcile.go - Applying and undoing installment payments

PURPOSE:
  The Reconciler merges one payment event into the installment's cumulative
  payment record and issues the matching ledger entry. RevertPayment removes
  the record again.

ONE UNIT OF WORK:
  The payment upsert and the ledger append run inside a single
  TxStore.WithTx call. Either both are stored or neither is, so a failure
  can never leave a payment without its ledger entry (or the reverse).

RACES:
  Writes to the same (client, installment) are serialized in-process by a
  keyed lock. Writers in other processes are caught by the revision check in
  UpsertPayment: a stale read fails with ErrConcurrentModification instead of
  overwriting the newer total.

STATUS RULE:
  paid    iff cumulative >= total - Tolerance
  partial otherwise
  A paid record is never demoted by a later payment.

UNDO IS NOT SYMMETRIC:
  RevertPayment deletes the whole record (not the last amount) and leaves the
  ledger alone. The entries that were issued for the installment are
  returned as OrphanedTransactions so callers can decide what to do with them.

EXAMPLE:
  r := billing.NewReconciler(store, billing.WithOverpaymentPolicy(billing.OverpaymentCap))
  res, err := r.ApplyPayment(ctx, billing.PaymentRequest{
      ClientID:          "cli-1",
      InstallmentNumber: 1,
      Amount:            "R$ 300,00",
  })
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// OBSERVER - Hook for metrics
// =============================================================================

// Observer is notified after each reconciliation outcome.
type Observer interface {
	PaymentApplied(status PaymentStatus, amount decimal.Decimal)
	PaymentReverted()
	PaymentRejected(reason error)
}

type nopObserver struct{}

func (nopObserver) PaymentApplied(PaymentStatus, decimal.Decimal) {}
func (nopObserver) PaymentReverted()                              {}
func (nopObserver) PaymentRejected(error)                         {}

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	store    TxStore
	clock    Clock
	policy   OverpaymentPolicy
	log      zerolog.Logger
	observer Observer
	newID    func() string
	locks    keyedLocks
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithClock(c Clock) Option { return func(r *Reconciler) { r.clock = c } }

func WithOverpaymentPolicy(p OverpaymentPolicy) Option {
	return func(r *Reconciler) { r.policy = p }
}

func WithLogger(l zerolog.Logger) Option { return func(r *Reconciler) { r.log = l } }

func WithObserver(o Observer) Option { return func(r *Reconciler) { r.observer = o } }

// WithIDGenerator replaces uuid.NewString for payment and ledger IDs.
func WithIDGenerator(f func() string) Option { return func(r *Reconciler) { r.newID = f } }

func NewReconciler(store TxStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		clock:    SystemClock,
		policy:   DefaultOverpaymentPolicy,
		log:      zerolog.Nop(),
		observer: nopObserver{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the active overpayment policy.
func (r *Reconciler) Policy() OverpaymentPolicy { return r.policy }

// =============================================================================
// APPLY PAYMENT
// =============================================================================

type PaymentRequest struct {
	ClientID          ClientID
	InstallmentNumber int
	Amount            string // localized text, e.g. "R$ 300,00"

	// ExpectedRevision, when set, must match the revision of the stored
	// record (0 = no record yet). Lets a caller detect that someone else paid
	// the installment since it was displayed.
	ExpectedRevision *int

	IdempotencyKey string
	CreatedBy      string
}

type PaymentResult struct {
	Payment     PaymentRecord
	Transaction FinancialTransaction
	Installment Installment
	Applied     decimal.Decimal // credited amount; below the request only under OverpaymentCap
}

// ApplyPayment records a payment toward one installment.
func (r *Reconciler) ApplyPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	amount := ParseCurrency(req.Amount)
	if !amount.IsPositive() {
		r.observer.PaymentRejected(ErrInvalidAmount)
		return nil, ErrInvalidAmount
	}

	unlock := r.locks.lock(req.ClientID, req.InstallmentNumber)
	defer unlock()

	now := r.clock()
	var result *PaymentResult

	err := r.store.WithTx(ctx, func(s Store) error {
		// A replay is refused before anything else is checked, so a retried
		// payment that settled the installment is not read as an overpayment.
		if req.IdempotencyKey != "" {
			prior, err := s.TransactionByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != nil {
				return fmt.Errorf("%w: %q already recorded as %s",
					ErrDuplicateIdempotencyKey, req.IdempotencyKey, prior.ID)
			}
		}

		client, contract, inst, err := loadInstallment(ctx, s, req.ClientID, req.InstallmentNumber, now)
		if err != nil {
			return err
		}

		existing, found := client.PaymentFor(req.InstallmentNumber)
		previouslyPaid, revision := decimal.Zero, 0
		if found {
			previouslyPaid, revision = existing.Value, existing.Revision
		}
		if req.ExpectedRevision != nil && *req.ExpectedRevision != revision {
			return fmt.Errorf("%w: installment %d is at revision %d, request expected %d",
				ErrConcurrentModification, req.InstallmentNumber, revision, *req.ExpectedRevision)
		}

		applied, err := r.policy.apply(inst, client.ID, previouslyPaid, amount)
		if err != nil {
			return err
		}

		newTotal := previouslyPaid.Add(applied)
		status := PaymentPartial
		if newTotal.GreaterThanOrEqual(inst.TotalValue.Sub(Tolerance)) || (found && existing.Status == PaymentPaid) {
			status = PaymentPaid
		}

		rec := PaymentRecord{
			ID:                PaymentID(r.newID()),
			ClientID:          client.ID,
			InstallmentNumber: inst.Number,
			DueDate:           inst.DueDate,
			PaidAt:            now,
			Value:             newTotal,
			Status:            status,
			Method:            contract.Method(),
			Revision:          revision + 1,
		}
		if found {
			rec.ID = existing.ID
		}
		if err := s.UpsertPayment(ctx, rec, revision); err != nil {
			return err
		}

		n := inst.Number
		entry := FinancialTransaction{
			ID:                TransactionID(r.newID()),
			Type:              TxIn,
			Title:             fmt.Sprintf("%s - %s (parcela %d/%d)", FeeCategory, client.Name, n, contract.InstallmentCount),
			Value:             applied,
			Category:          FeeCategory,
			Date:              DateOf(now),
			Status:            TxConfirmed,
			ClientID:          client.ID,
			InstallmentNumber: &n,
			IdempotencyKey:    req.IdempotencyKey,
			CreatedAt:         now,
			CreatedBy:         req.CreatedBy,
		}
		if err := s.AppendTransaction(ctx, entry); err != nil {
			return err
		}

		payments := replacePayment(client.Payments, rec)
		updated, _ := GenerateSchedule(contract, payments, now).Installment(n)
		result = &PaymentResult{Payment: rec, Transaction: entry, Installment: updated, Applied: applied}
		return nil
	})
	if err != nil {
		r.reject(req.ClientID, req.InstallmentNumber, err)
		return nil, err
	}

	r.observer.PaymentApplied(result.Payment.Status, result.Applied)
	r.log.Info().
		Str("client_id", string(req.ClientID)).
		Int("installment", req.InstallmentNumber).
		Str("amount", result.Applied.StringFixed(2)).
		Str("cumulative", result.Payment.Value.StringFixed(2)).
		Str("status", string(result.Payment.Status)).
		Int("revision", result.Payment.Revision).
		Msg("payment applied")
	return result, nil
}

// =============================================================================
// REVERT PAYMENT
// =============================================================================

type RevertRequest struct {
	ClientID          ClientID
	InstallmentNumber int
	ExpectedRevision  *int
}

type RevertResult struct {
	Removed     PaymentRecord
	Installment Installment

	// Ledger entries previously issued for the installment. Left in place.
	OrphanedTransactions []FinancialTransaction
}

// RevertPayment deletes the payment record of an installment, returning it
// to the status it would have with no payment at all.
func (r *Reconciler) RevertPayment(ctx context.Context, req RevertRequest) (*RevertResult, error) {
	unlock := r.locks.lock(req.ClientID, req.InstallmentNumber)
	defer unlock()

	now := r.clock()
	var result *RevertResult

	err := r.store.WithTx(ctx, func(s Store) error {
		client, contract, _, err := loadInstallment(ctx, s, req.ClientID, req.InstallmentNumber, now)
		if err != nil {
			return err
		}

		existing, found := client.PaymentFor(req.InstallmentNumber)
		if !found {
			return fmt.Errorf("%w: installment %d", ErrPaymentNotFound, req.InstallmentNumber)
		}
		if req.ExpectedRevision != nil && *req.ExpectedRevision != existing.Revision {
			return fmt.Errorf("%w: installment %d is at revision %d, request expected %d",
				ErrConcurrentModification, req.InstallmentNumber, existing.Revision, *req.ExpectedRevision)
		}

		deleted, err := s.DeletePayment(ctx, client.ID, req.InstallmentNumber)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: installment %d", ErrPaymentNotFound, req.InstallmentNumber)
		}

		txs, err := s.ListTransactions(ctx)
		if err != nil {
			return err
		}

		payments := removePayment(client.Payments, req.InstallmentNumber)
		reverted, _ := GenerateSchedule(contract, payments, now).Installment(req.InstallmentNumber)
		result = &RevertResult{
			Removed:              existing,
			Installment:          reverted,
			OrphanedTransactions: LinkedTransactions(txs, client.ID, req.InstallmentNumber),
		}
		return nil
	})
	if err != nil {
		r.reject(req.ClientID, req.InstallmentNumber, err)
		return nil, err
	}

	r.observer.PaymentReverted()
	r.log.Info().
		Str("client_id", string(req.ClientID)).
		Int("installment", req.InstallmentNumber).
		Str("removed_value", result.Removed.Value.StringFixed(2)).
		Int("orphaned_transactions", len(result.OrphanedTransactions)).
		Msg("payment reverted")
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func loadInstallment(ctx context.Context, s Store, clientID ClientID, n int, now time.Time) (*Client, *FeeContract, Installment, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return nil, nil, Installment{}, fmt.Errorf("failed to load client %s: %w", clientID, err)
	}
	if client == nil {
		return nil, nil, Installment{}, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	if !client.HasFeeContract() {
		return nil, nil, Installment{}, fmt.Errorf("%w: %s", ErrNoFeeContract, clientID)
	}

	schedule := GenerateSchedule(client.Contract, client.Payments, now)
	inst, ok := schedule.Installment(n)
	if !ok {
		return nil, nil, Installment{}, fmt.Errorf("%w: %d (contract has %d)",
			ErrInstallmentNotFound, n, len(schedule.Installments))
	}
	return client, client.Contract, inst, nil
}

func (r *Reconciler) reject(clientID ClientID, n int, err error) {
	r.observer.PaymentRejected(err)

	ev := r.log.Error()
	switch {
	case IsConflict(err):
		ev = r.log.Warn()
	case IsClientError(err), IsNotFound(err):
		ev = r.log.Info()
	}
	ev.Err(err).
		Str("client_id", string(clientID)).
		Int("installment", n).
		Msg("payment operation rejected")
}

func replacePayment(payments []PaymentRecord, rec PaymentRecord) []PaymentRecord {
	out := removePayment(payments, rec.InstallmentNumber)
	return append(out, rec)
}

func removePayment(payments []PaymentRecord, installment int) []PaymentRecord {
	out := make([]PaymentRecord, 0, len(payments))
	for _, p := range payments {
		if p.InstallmentNumber != installment {
			out = append(out, p)
		}
	}
	return out
}

// keyedLocks serializes work per (client, installment) and forgets keys no
// one is waiting on.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*refLock
}

type lockKey struct {
	client      ClientID
	installment int
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedLocks) lock(clientID ClientID, n int) func() {
	key := lockKey{client: clientID, installment: n}

	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[lockKey]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// IsRetryable returns true if the operation may succeed when retried with
// fresh data.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
