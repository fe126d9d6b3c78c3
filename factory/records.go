package factory

import (
	"fmt"
	"time"

	"github.com/warp/billing-engine/billing"
)

// TransactionJSON is the persisted representation of a ledger entry.
type TransactionJSON struct {
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	Title             string      `json:"title"`
	Value             FlexDecimal `json:"value"`
	Category          string      `json:"category"`
	Date              string      `json:"date"`
	Status            string      `json:"status"`
	ClientID          string      `json:"clientId,omitempty"`
	InstallmentNumber *int        `json:"installmentNumber,omitempty"`
	CreatedAt         string      `json:"createdAt"`
	CreatedBy         string      `json:"createdBy"`
}

// PaymentFromJSON converts a persisted payment record.
func PaymentFromJSON(pj PaymentJSON) (billing.PaymentRecord, error) {
	if pj.InstallmentNumber < 1 {
		return billing.PaymentRecord{}, fmt.Errorf("payment %s: installmentNumber must be at least 1", pj.ID)
	}
	status := billing.PaymentStatus(pj.Status)
	if status != billing.PaymentPaid && status != billing.PaymentPartial {
		return billing.PaymentRecord{}, fmt.Errorf("payment %s: unknown status %q", pj.ID, pj.Status)
	}

	rec := billing.PaymentRecord{
		ID:                billing.PaymentID(pj.ID),
		ClientID:          billing.ClientID(pj.ClientID),
		InstallmentNumber: pj.InstallmentNumber,
		Value:             pj.Value.Decimal,
		Status:            status,
		Method:            pj.Method,
		Revision:          pj.Revision,
	}
	if rec.Revision == 0 {
		rec.Revision = 1
	}
	if pj.DueDate != "" {
		due, err := billing.ParseDate(pj.DueDate)
		if err != nil {
			return billing.PaymentRecord{}, fmt.Errorf("payment %s: %w", pj.ID, err)
		}
		rec.DueDate = due
	}
	if pj.PaidDate != "" {
		paid, err := parseTimestamp(pj.PaidDate)
		if err != nil {
			return billing.PaymentRecord{}, fmt.Errorf("payment %s: %w", pj.ID, err)
		}
		rec.PaidAt = paid
	}
	return rec, nil
}

// PaymentToJSON renders a payment record in its persisted shape.
func PaymentToJSON(p billing.PaymentRecord) PaymentJSON {
	return PaymentJSON{
		ID:                string(p.ID),
		ClientID:          string(p.ClientID),
		InstallmentNumber: p.InstallmentNumber,
		DueDate:           p.DueDate.String(),
		PaidDate:          p.PaidAt.UTC().Format(time.RFC3339),
		Value:             FlexDecimal{p.Value},
		Status:            string(p.Status),
		Method:            p.Method,
		Revision:          p.Revision,
	}
}

// TransactionFromJSON converts a persisted ledger entry.
func TransactionFromJSON(tj TransactionJSON) (billing.FinancialTransaction, error) {
	date, err := billing.ParseDate(tj.Date)
	if err != nil {
		return billing.FinancialTransaction{}, fmt.Errorf("transaction %s: %w", tj.ID, err)
	}
	tx := billing.FinancialTransaction{
		ID:                billing.TransactionID(tj.ID),
		Type:              billing.TxType(tj.Type),
		Title:             tj.Title,
		Value:             tj.Value.Decimal,
		Category:          tj.Category,
		Date:              date,
		Status:            billing.TxStatus(tj.Status),
		ClientID:          billing.ClientID(tj.ClientID),
		InstallmentNumber: tj.InstallmentNumber,
		CreatedBy:         tj.CreatedBy,
	}
	if tj.CreatedAt != "" {
		if tx.CreatedAt, err = parseTimestamp(tj.CreatedAt); err != nil {
			return billing.FinancialTransaction{}, fmt.Errorf("transaction %s: %w", tj.ID, err)
		}
	}
	return tx, nil
}

// TransactionToJSON renders a ledger entry in its persisted shape.
func TransactionToJSON(tx billing.FinancialTransaction) TransactionJSON {
	return TransactionJSON{
		ID:                string(tx.ID),
		Type:              string(tx.Type),
		Title:             tx.Title,
		Value:             FlexDecimal{tx.Value},
		Category:          tx.Category,
		Date:              tx.Date.String(),
		Status:            string(tx.Status),
		ClientID:          string(tx.ClientID),
		InstallmentNumber: tx.InstallmentNumber,
		CreatedAt:         tx.CreatedAt.UTC().Format(time.RFC3339),
		CreatedBy:         tx.CreatedBy,
	}
}

// parseTimestamp accepts RFC 3339 timestamps or bare dates.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := billing.ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return d.Time(), nil
}
