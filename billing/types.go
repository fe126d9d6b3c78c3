/*
Package billing provides the fee-contract billing and reconciliation engine.

PURPOSE:
  Turns a recurring-fee contract into a schedule of due installments,
  reconciles that schedule against recorded payments, derives installment
  and portfolio status, and emits ledger entries for confirmed payments.

KEY CONCEPTS IN THIS FILE (types.go):
  - FeeContract: monthly value, installment count, due day, start date
  - PaymentRecord: cumulative amount paid toward ONE installment
  - Installment: derived view of one charge period, never persisted
  - FinancialTransaction: append-only ledger event (incremental amounts)

TWO VIEWS OF MONEY RECEIVED:
  PaymentRecord is a cumulative snapshot per installment (300 then 500).
  FinancialTransaction is an event log (300, then 200). Both are written in
  the same store transaction by the Reconciler.

PRECISION:
  All values are decimal.Decimal. Equality between a paid amount and an
  installment total uses Tolerance (0.05), never exact comparison.

SEE ALSO:
  - schedule.go: Schedule generation (pure)
  - reconcile.go: Payment application and undo
  - portfolio.go: Portfolio-wide aggregation
  - store.go: Persistence interfaces
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance absorbs rounding when deciding whether an installment is paid.
var Tolerance = decimal.RequireFromString("0.05")

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type PaymentID string
type TransactionID string

// =============================================================================
// FEE CONTRACT
// =============================================================================

// DefaultPaymentMethod labels payments whose contract has no method set.
const DefaultPaymentMethod = "PIX"

// FeeContract is the recurring-billing agreement attached to a client.
// Treated as immutable once installments begin: edits only affect
// installments that have no payment yet.
type FeeContract struct {
	MonthlyValue     decimal.Decimal
	InstallmentCount int
	DueDay           int // 1-31
	StartDate        Date
	PaymentMethod    string
}

// TotalValue is MonthlyValue x InstallmentCount.
func (c FeeContract) TotalValue() decimal.Decimal {
	if c.InstallmentCount <= 0 {
		return decimal.Zero
	}
	return c.MonthlyValue.Mul(decimal.NewFromInt(int64(c.InstallmentCount)))
}

// Method returns the configured payment method or the default label.
func (c FeeContract) Method() string {
	if c.PaymentMethod == "" {
		return DefaultPaymentMethod
	}
	return c.PaymentMethod
}

// IsBillable reports whether the contract can produce installments.
func (c *FeeContract) IsBillable() bool {
	return c != nil && c.InstallmentCount > 0 && c.MonthlyValue.IsPositive()
}

// =============================================================================
// CLIENT
// =============================================================================

// Client owns a fee contract and the payment records made against it.
type Client struct {
	ID        ClientID
	Name      string
	Email     string
	Document  string // CPF/CNPJ
	Contract  *FeeContract
	Payments  []PaymentRecord
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasFeeContract reports whether the client takes part in billing.
func (c Client) HasFeeContract() bool { return c.Contract != nil }

// PaymentFor returns the record for an installment number, if any.
func (c Client) PaymentFor(installment int) (PaymentRecord, bool) {
	return findPayment(c.Payments, installment)
}

func findPayment(payments []PaymentRecord, installment int) (PaymentRecord, bool) {
	for _, p := range payments {
		if p.InstallmentNumber == installment {
			return p, true
		}
	}
	return PaymentRecord{}, false
}

// =============================================================================
// PAYMENT RECORD - Cumulative, one per (client, installment)
// =============================================================================

type PaymentStatus string

const (
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// PaymentRecord is the cumulative amount paid toward one installment.
// Replaced in place on every further payment (same ID, Revision+1) and
// deleted outright on undo.
type PaymentRecord struct {
	ID                PaymentID
	ClientID          ClientID
	InstallmentNumber int
	DueDate           Date
	PaidAt            time.Time
	Value             decimal.Decimal
	Status            PaymentStatus
	Method            string
	Revision          int
}

// =============================================================================
// INSTALLMENT - Derived view, never persisted
// =============================================================================

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

type Installment struct {
	Number         int
	DueDate        Date
	TotalValue     decimal.Decimal
	PaidValue      decimal.Decimal
	RemainingValue decimal.Decimal
	Status         InstallmentStatus

	// Set when a payment record exists for this installment.
	PaymentID PaymentID
	Revision  int
}

// HasPayment reports whether a payment record backs this installment.
func (i Installment) HasPayment() bool {
	return i.Status == InstallmentPaid || i.Status == InstallmentPartial
}

type ScheduleSummary struct {
	TotalValue     decimal.Decimal
	PaidValue      decimal.Decimal
	RemainingValue decimal.Decimal
}

type Schedule struct {
	Installments []Installment
	Summary      ScheduleSummary
}

// Installment returns installment n (1-based).
func (s Schedule) Installment(n int) (Installment, bool) {
	if n < 1 || n > len(s.Installments) {
		return Installment{}, false
	}
	return s.Installments[n-1], true
}

// NextDue returns the first installment that is not fully paid.
func (s Schedule) NextDue() (Installment, bool) {
	for _, inst := range s.Installments {
		if inst.Status != InstallmentPaid {
			return inst, true
		}
	}
	return Installment{}, false
}

// Overdue returns the overdue installments in schedule order.
func (s Schedule) Overdue() []Installment {
	var out []Installment
	for _, inst := range s.Installments {
		if inst.Status == InstallmentOverdue {
			out = append(out, inst)
		}
	}
	return out
}

// =============================================================================
// FINANCIAL TRANSACTION - Ledger entry
// =============================================================================

type TxType string

const (
	TxIn  TxType = "in"
	TxOut TxType = "out"
)

type TxStatus string

const (
	TxConfirmed TxStatus = "confirmado"
	TxPending   TxStatus = "pendente"
)

// FeeCategory is the ledger category of every reconciler entry.
const FeeCategory = "Honorários"

// FinancialTransaction is one append-only cash-flow event.
// Value is always positive; Type carries the direction.
type FinancialTransaction struct {
	ID                TransactionID
	Type              TxType
	Title             string
	Value             decimal.Decimal
	Category          string
	Date              Date
	Status            TxStatus
	ClientID          ClientID // empty when not linked
	InstallmentNumber *int
	IdempotencyKey    string
	CreatedAt         time.Time
	CreatedBy         string
}

// LinkedTo reports whether the entry was issued for the given installment.
func (t FinancialTransaction) LinkedTo(clientID ClientID, installment int) bool {
	return t.ClientID == clientID && t.InstallmentNumber != nil && *t.InstallmentNumber == installment
}

// TransactionDraft is what a caller supplies to record a manual entry.
type TransactionDraft struct {
	Type              TxType
	Title             string
	Value             decimal.Decimal
	Category          string
	Date              Date
	Status            TxStatus
	ClientID          ClientID
	InstallmentNumber *int
	IdempotencyKey    string
	CreatedBy         string
}
