package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OverpaymentPolicy decides what happens when a payment would take an
// installment's cumulative value past its total (beyond Tolerance).
type OverpaymentPolicy string

const (
	// OverpaymentReject refuses the payment with an *OverpaymentError.
	OverpaymentReject OverpaymentPolicy = "reject"
	// OverpaymentCap applies only what is still owed; the ledger records the
	// capped amount.
	OverpaymentCap OverpaymentPolicy = "cap"
	// OverpaymentAllow accepts the full amount; the installment's remaining
	// value goes negative, which reads as a credit balance.
	OverpaymentAllow OverpaymentPolicy = "allow"
)

// DefaultOverpaymentPolicy is used when none is configured.
const DefaultOverpaymentPolicy = OverpaymentReject

// ParseOverpaymentPolicy accepts "reject", "cap" or "allow" (any case).
// An empty string yields the default.
func ParseOverpaymentPolicy(s string) (OverpaymentPolicy, error) {
	switch p := OverpaymentPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultOverpaymentPolicy, nil
	case OverpaymentReject, OverpaymentCap, OverpaymentAllow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown overpayment policy %q (want reject, cap or allow)", s)
	}
}

// apply returns the amount that may actually be credited to the installment.
func (p OverpaymentPolicy) apply(inst Installment, clientID ClientID, previouslyPaid, amount decimal.Decimal) (decimal.Decimal, error) {
	if previouslyPaid.Add(amount).LessThanOrEqual(inst.TotalValue.Add(Tolerance)) {
		return amount, nil
	}

	switch p {
	case OverpaymentAllow:
		return amount, nil
	case OverpaymentCap:
		remaining := inst.TotalValue.Sub(previouslyPaid)
		if !remaining.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: installment %d", ErrInstallmentSettled, inst.Number)
		}
		return decimal.Min(amount, remaining), nil
	default:
		return decimal.Zero, &OverpaymentError{
			ClientID:       clientID,
			Installment:    inst.Number,
			Total:          inst.TotalValue,
			PreviouslyPaid: previouslyPaid,
			Attempted:      amount,
		}
	}
}
