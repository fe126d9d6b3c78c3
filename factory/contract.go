/*
Package factory converts the persisted JSON shapes of clients, fee contracts,
payments and ledger entries to and from billing types.

PURPOSE:
  Client records are written by other tools, and fee-contract numbers arrive
  both as JSON numbers and as localized text. The factory accepts either and
  always produces a validated billing.FeeContract.

JSON SCHEMA (client):
  {
    "id": "cli-001",
    "name": "Maria Souza",
    "email": "maria@example.com",
    "document": "123.456.789-00",
    "feeContract": {
      "monthlyValue": "R$ 500,00",     // or 500, or "500.00"
      "installmentCount": "12",        // or 12
      "dueDay": 10,                    // or "10"
      "startDate": "2024-01-15",
      "paymentMethod": "Boleto"
    }
  }

USAGE:
  f := factory.NewContractFactory()
  client, err := f.ParseClient(jsonString)

  contractJSON := f.ContractToJSON(client.Contract)

SEE ALSO:
  - billing/types.go: FeeContract, Client
  - store/sqlite/sqlite.go: Stores contracts as JSON via this package
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ClientJSON is the persisted representation of a client.
type ClientJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Email       string           `json:"email,omitempty"`
	Document    string           `json:"document,omitempty"`
	FeeContract *FeeContractJSON `json:"feeContract,omitempty"`
	Payments    []PaymentJSON    `json:"payments,omitempty"`
}

// FeeContractJSON accepts numbers or text for every numeric field.
type FeeContractJSON struct {
	MonthlyValue     FlexDecimal `json:"monthlyValue"`
	InstallmentCount FlexInt     `json:"installmentCount"`
	DueDay           FlexInt     `json:"dueDay"`
	StartDate        string      `json:"startDate"`
	PaymentMethod    string      `json:"paymentMethod,omitempty"`
}

// PaymentJSON is the persisted representation of a payment record.
type PaymentJSON struct {
	ID                string      `json:"id"`
	ClientID          string      `json:"clientId"`
	InstallmentNumber int         `json:"installmentNumber"`
	DueDate           string      `json:"dueDate"`
	PaidDate          string      `json:"paidDate"`
	Value             FlexDecimal `json:"value"`
	Status            string      `json:"status"`
	Method            string      `json:"method"`
	Revision          int         `json:"revision,omitempty"`
}

// =============================================================================
// FLEXIBLE SCALARS
// =============================================================================

// FlexDecimal decodes a JSON number or localized currency text.
// Text that does not parse becomes zero, like billing.ParseCurrency.
type FlexDecimal struct {
	decimal.Decimal
}

func (f *FlexDecimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		f.Decimal = decimal.Zero
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f.Decimal = billing.ParseCurrency(s)
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("invalid decimal %s: %w", b, err)
	}
	f.Decimal = d
	return nil
}

func (f FlexDecimal) MarshalJSON() ([]byte, error) {
	return []byte(f.Decimal.StringFixed(2)), nil
}

// FlexInt decodes a JSON integer or a numeric string.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", b, err)
	}
	*f = FlexInt(n)
	return nil
}

// =============================================================================
// CONTRACT FACTORY
// =============================================================================

type ContractFactory struct{}

func NewContractFactory() *ContractFactory {
	return &ContractFactory{}
}

// ParseClient decodes and validates a client JSON document.
func (f *ContractFactory) ParseClient(jsonStr string) (*billing.Client, error) {
	var cj ClientJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("invalid client JSON: %w", err)
	}
	return f.ClientFromJSON(cj)
}

// ParseContract decodes and validates a fee contract JSON document.
func (f *ContractFactory) ParseContract(jsonStr string) (*billing.FeeContract, error) {
	var fj FeeContractJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidContract, err)
	}
	return f.ContractFromJSON(fj)
}

func (f *ContractFactory) ClientFromJSON(cj ClientJSON) (*billing.Client, error) {
	if strings.TrimSpace(cj.ID) == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if strings.TrimSpace(cj.Name) == "" {
		return nil, fmt.Errorf("client name is required")
	}

	client := &billing.Client{
		ID:       billing.ClientID(cj.ID),
		Name:     strings.TrimSpace(cj.Name),
		Email:    cj.Email,
		Document: cj.Document,
	}
	if cj.FeeContract != nil {
		contract, err := f.ContractFromJSON(*cj.FeeContract)
		if err != nil {
			return nil, err
		}
		client.Contract = contract
	}
	for _, pj := range cj.Payments {
		rec, err := PaymentFromJSON(pj)
		if err != nil {
			return nil, err
		}
		if rec.ClientID == "" {
			rec.ClientID = client.ID
		}
		client.Payments = append(client.Payments, rec)
	}
	return client, nil
}

// ContractFromJSON validates and converts a contract.
func (f *ContractFactory) ContractFromJSON(fj FeeContractJSON) (*billing.FeeContract, error) {
	contract, err := convertContract(fj)
	if err != nil {
		return nil, err
	}
	if err := ValidateContract(*contract); err != nil {
		return nil, err
	}
	return contract, nil
}

// DecodeStoredContract converts a contract that was already persisted.
// Range checks are skipped: a stored contract with no installments or no
// monthly value is kept as is and simply produces an empty schedule.
func (f *ContractFactory) DecodeStoredContract(jsonStr string) (*billing.FeeContract, error) {
	var fj FeeContractJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidContract, err)
	}
	return convertContract(fj)
}

func convertContract(fj FeeContractJSON) (*billing.FeeContract, error) {
	start, err := billing.ParseDate(fj.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: startDate: %v", billing.ErrInvalidContract, err)
	}
	return &billing.FeeContract{
		MonthlyValue:     fj.MonthlyValue.Decimal.Round(2),
		InstallmentCount: int(fj.InstallmentCount),
		DueDay:           int(fj.DueDay),
		StartDate:        start,
		PaymentMethod:    strings.TrimSpace(fj.PaymentMethod),
	}, nil
}

// ValidateContract checks the ranges a contract must respect.
func ValidateContract(c billing.FeeContract) error {
	switch {
	case !c.MonthlyValue.IsPositive():
		return fmt.Errorf("%w: monthlyValue must be positive", billing.ErrInvalidContract)
	case c.InstallmentCount < 1:
		return fmt.Errorf("%w: installmentCount must be at least 1", billing.ErrInvalidContract)
	case c.DueDay < 1 || c.DueDay > 31:
		return fmt.Errorf("%w: dueDay must be between 1 and 31", billing.ErrInvalidContract)
	case c.StartDate.IsZero():
		return fmt.Errorf("%w: startDate is required", billing.ErrInvalidContract)
	}
	return nil
}

// ContractToJSON renders a contract in its persisted shape.
func (f *ContractFactory) ContractToJSON(c *billing.FeeContract) FeeContractJSON {
	return FeeContractJSON{
		MonthlyValue:     FlexDecimal{c.MonthlyValue},
		InstallmentCount: FlexInt(c.InstallmentCount),
		DueDay:           FlexInt(c.DueDay),
		StartDate:        c.StartDate.String(),
		PaymentMethod:    c.PaymentMethod,
	}
}

// ClientToJSON renders a client with its contract and payments.
func (f *ContractFactory) ClientToJSON(c billing.Client) ClientJSON {
	cj := ClientJSON{
		ID:       string(c.ID),
		Name:     c.Name,
		Email:    c.Email,
		Document: c.Document,
	}
	if c.Contract != nil {
		fj := f.ContractToJSON(c.Contract)
		cj.FeeContract = &fj
	}
	for _, p := range c.Payments {
		cj.Payments = append(cj.Payments, PaymentToJSON(p))
	}
	return cj
}
