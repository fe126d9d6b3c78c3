/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Every amount is a MoneyDTO carrying the exact decimal string and the
  localized text shown to users ("R$ 1.234,56"). Clients must never do
  arithmetic on the formatted text.

TYPES:
  Clients:       ClientDTO, ContractDTO, ClientListItemDTO
  Schedule:      ScheduleDTO, InstallmentDTO, SummaryDTO
  Payments:      ApplyPaymentRequest, PaymentResultDTO, RevertPaymentRequest, RevertResultDTO
  Ledger:        TransactionDTO, CreateTransactionRequest, CashFlowDTO
  Portfolio:     DashboardDTO, ReceivableDTO
  Scenarios:     ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
  - factory/contract.go: ClientJSON accepted by POST /api/clients
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MONEY
// =============================================================================

type MoneyDTO struct {
	Value     string `json:"value"`
	Formatted string `json:"formatted"`
}

func money(d decimal.Decimal) MoneyDTO {
	return MoneyDTO{Value: d.StringFixed(2), Formatted: billing.FormatCurrency(d)}
}

// =============================================================================
// CLIENTS
// =============================================================================

type ContractDTO struct {
	MonthlyValue     MoneyDTO `json:"monthlyValue"`
	TotalValue       MoneyDTO `json:"totalValue"`
	InstallmentCount int      `json:"installmentCount"`
	DueDay           int      `json:"dueDay"`
	StartDate        string   `json:"startDate"`
	PaymentMethod    string   `json:"paymentMethod"`
}

type ClientDTO struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Email     string       `json:"email,omitempty"`
	Document  string       `json:"document,omitempty"`
	Contract  *ContractDTO `json:"feeContract,omitempty"`
	Payments  []PaymentDTO `json:"payments"`
	CreatedAt *time.Time   `json:"createdAt,omitempty"`
}

// ClientListItemDTO is a client with its schedule totals.
type ClientListItemDTO struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Email    string      `json:"email,omitempty"`
	Contract bool        `json:"hasFeeContract"`
	Summary  *SummaryDTO `json:"summary,omitempty"`
}

type PaymentDTO struct {
	ID                string   `json:"id"`
	InstallmentNumber int      `json:"installmentNumber"`
	DueDate           string   `json:"dueDate"`
	PaidAt            string   `json:"paidAt"`
	Value             MoneyDTO `json:"value"`
	Status            string   `json:"status"`
	Method            string   `json:"method"`
	Revision          int      `json:"revision"`
}

func toContractDTO(c *billing.FeeContract) *ContractDTO {
	if c == nil {
		return nil
	}
	return &ContractDTO{
		MonthlyValue:     money(c.MonthlyValue),
		TotalValue:       money(c.TotalValue()),
		InstallmentCount: c.InstallmentCount,
		DueDay:           c.DueDay,
		StartDate:        c.StartDate.String(),
		PaymentMethod:    c.Method(),
	}
}

func toPaymentDTO(p billing.PaymentRecord) PaymentDTO {
	return PaymentDTO{
		ID:                string(p.ID),
		InstallmentNumber: p.InstallmentNumber,
		DueDate:           p.DueDate.String(),
		PaidAt:            p.PaidAt.UTC().Format(time.RFC3339),
		Value:             money(p.Value),
		Status:            string(p.Status),
		Method:            p.Method,
		Revision:          p.Revision,
	}
}

func toClientDTO(c billing.Client) ClientDTO {
	dto := ClientDTO{
		ID:       string(c.ID),
		Name:     c.Name,
		Email:    c.Email,
		Document: c.Document,
		Contract: toContractDTO(c.Contract),
		Payments: make([]PaymentDTO, 0, len(c.Payments)),
	}
	if !c.CreatedAt.IsZero() {
		created := c.CreatedAt.UTC()
		dto.CreatedAt = &created
	}
	for _, p := range c.Payments {
		dto.Payments = append(dto.Payments, toPaymentDTO(p))
	}
	return dto
}

// =============================================================================
// SCHEDULE
// =============================================================================

type SummaryDTO struct {
	TotalValue     MoneyDTO `json:"totalValue"`
	PaidValue      MoneyDTO `json:"paidValue"`
	RemainingValue MoneyDTO `json:"remainingValue"`
}

type InstallmentDTO struct {
	Number         int      `json:"number"`
	DueDate        string   `json:"dueDate"`
	TotalValue     MoneyDTO `json:"totalValue"`
	PaidValue      MoneyDTO `json:"paidValue"`
	RemainingValue MoneyDTO `json:"remainingValue"`
	Status         string   `json:"status"`
	PaymentID      string   `json:"paymentId,omitempty"`
	Revision       int      `json:"revision"`
}

type ScheduleDTO struct {
	ClientID     string           `json:"clientId"`
	AsOf         string           `json:"asOf"`
	Installments []InstallmentDTO `json:"installments"`
	Summary      SummaryDTO       `json:"summary"`
}

func toSummaryDTO(s billing.ScheduleSummary) SummaryDTO {
	return SummaryDTO{
		TotalValue:     money(s.TotalValue),
		PaidValue:      money(s.PaidValue),
		RemainingValue: money(s.RemainingValue),
	}
}

func toInstallmentDTO(i billing.Installment) InstallmentDTO {
	return InstallmentDTO{
		Number:         i.Number,
		DueDate:        i.DueDate.String(),
		TotalValue:     money(i.TotalValue),
		PaidValue:      money(i.PaidValue),
		RemainingValue: money(i.RemainingValue),
		Status:         string(i.Status),
		PaymentID:      string(i.PaymentID),
		Revision:       i.Revision,
	}
}

func toScheduleDTO(clientID billing.ClientID, asOf billing.Date, s billing.Schedule) ScheduleDTO {
	dto := ScheduleDTO{
		ClientID:     string(clientID),
		AsOf:         asOf.String(),
		Installments: make([]InstallmentDTO, len(s.Installments)),
		Summary:      toSummaryDTO(s.Summary),
	}
	for i, inst := range s.Installments {
		dto.Installments[i] = toInstallmentDTO(inst)
	}
	return dto
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ApplyPaymentRequest is the body of POST .../installments/{n}/payments.
// Amount is localized text ("R$ 300,00") or a plain decimal ("300.00").
type ApplyPaymentRequest struct {
	Amount           string `json:"amount"`
	ExpectedRevision *int   `json:"expectedRevision,omitempty"`
	CreatedBy        string `json:"createdBy,omitempty"`
}

type PaymentResultDTO struct {
	Payment     PaymentDTO     `json:"payment"`
	Transaction TransactionDTO `json:"transaction"`
	Installment InstallmentDTO `json:"installment"`
	Applied     MoneyDTO       `json:"applied"`
}

type RevertPaymentRequest struct {
	ExpectedRevision *int `json:"expectedRevision,omitempty"`
}

type RevertResultDTO struct {
	Removed              PaymentDTO       `json:"removed"`
	Installment          InstallmentDTO   `json:"installment"`
	OrphanedTransactions []TransactionDTO `json:"orphanedTransactions"`
}

// =============================================================================
// LEDGER
// =============================================================================

type TransactionDTO struct {
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	Title             string   `json:"title"`
	Value             MoneyDTO `json:"value"`
	Category          string   `json:"category"`
	Date              string   `json:"date"`
	Status            string   `json:"status"`
	ClientID          string   `json:"clientId,omitempty"`
	InstallmentNumber *int     `json:"installmentNumber,omitempty"`
	CreatedAt         string   `json:"createdAt"`
	CreatedBy         string   `json:"createdBy,omitempty"`
}

func toTransactionDTO(tx billing.FinancialTransaction) TransactionDTO {
	return TransactionDTO{
		ID:                string(tx.ID),
		Type:              string(tx.Type),
		Title:             tx.Title,
		Value:             money(tx.Value),
		Category:          tx.Category,
		Date:              tx.Date.String(),
		Status:            string(tx.Status),
		ClientID:          string(tx.ClientID),
		InstallmentNumber: tx.InstallmentNumber,
		CreatedAt:         tx.CreatedAt.UTC().Format(time.RFC3339),
		CreatedBy:         tx.CreatedBy,
	}
}

func toTransactionDTOs(txs []billing.FinancialTransaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

// CreateTransactionRequest records a manual ledger entry.
type CreateTransactionRequest struct {
	Type              string `json:"type"`
	Title             string `json:"title"`
	Value             string `json:"value"`
	Category          string `json:"category"`
	Date              string `json:"date,omitempty"`
	Status            string `json:"status,omitempty"`
	ClientID          string `json:"clientId,omitempty"`
	InstallmentNumber *int   `json:"installmentNumber,omitempty"`
	CreatedBy         string `json:"createdBy,omitempty"`
}

type CashFlowDTO struct {
	Month   string   `json:"month"`
	In      MoneyDTO `json:"in"`
	Out     MoneyDTO `json:"out"`
	Net     MoneyDTO `json:"net"`
	Pending MoneyDTO `json:"pending"`
	Count   int      `json:"count"`
}

// =============================================================================
// PORTFOLIO
// =============================================================================

type DashboardDTO struct {
	AsOf               string           `json:"asOf"`
	TotalContractValue MoneyDTO         `json:"totalContractValue"`
	TotalReceivable    MoneyDTO         `json:"totalReceivable"`
	TotalOverdue       MoneyDTO         `json:"totalOverdue"`
	OverdueCount       int              `json:"overdueCount"`
	MonthForecast      MoneyDTO         `json:"monthForecast"`
	MonthCollected     MoneyDTO         `json:"monthCollected"`
	RecentPayments     []TransactionDTO `json:"recentPayments"`
}

func toDashboardDTO(p billing.PortfolioSummary) DashboardDTO {
	return DashboardDTO{
		AsOf:               p.AsOf.String(),
		TotalContractValue: money(p.TotalContractValue),
		TotalReceivable:    money(p.TotalReceivable),
		TotalOverdue:       money(p.TotalOverdue),
		OverdueCount:       p.OverdueCount,
		MonthForecast:      money(p.MonthForecast),
		MonthCollected:     money(p.MonthCollected),
		RecentPayments:     toTransactionDTOs(p.RecentPayments),
	}
}

type ReceivableDTO struct {
	ClientID     string          `json:"clientId"`
	ClientName   string          `json:"clientName"`
	Summary      SummaryDTO      `json:"summary"`
	OverdueCount int             `json:"overdueCount"`
	OverdueValue MoneyDTO        `json:"overdueValue"`
	NextDue      *InstallmentDTO `json:"nextDue,omitempty"`
}

func toReceivableDTO(s billing.ClientStatus) ReceivableDTO {
	dto := ReceivableDTO{
		ClientID:     string(s.Client.ID),
		ClientName:   s.Client.Name,
		Summary:      toSummaryDTO(s.Summary),
		OverdueCount: s.OverdueCount,
		OverdueValue: money(s.OverdueValue),
	}
	if s.NextDue != nil {
		next := toInstallmentDTO(*s.NextDue)
		dto.NextDue = &next
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
