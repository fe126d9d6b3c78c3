/*
portfolio.go - Portfolio-wide aggregation

PURPOSE:
  Folds every client's schedule and the whole ledger into dashboard figures.

TWO SOURCES, ON PURPOSE:
  MonthForecast comes from the schedules (what is due this month, at full
  value, whatever its payment state). MonthCollected comes from the ledger
  (what actually came in this month). They measure different things and are
  not expected to match.
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecentPaymentsLimit caps PortfolioSummary.RecentPayments.
const RecentPaymentsLimit = 10

type PortfolioSummary struct {
	AsOf               Date
	TotalContractValue decimal.Decimal
	TotalReceivable    decimal.Decimal
	TotalOverdue       decimal.Decimal
	OverdueCount       int
	MonthForecast      decimal.Decimal
	MonthCollected     decimal.Decimal
	RecentPayments     []FinancialTransaction
}

// AggregatePortfolio computes the dashboard at instant now.
// Clients without a fee contract are skipped.
func AggregatePortfolio(clients []Client, txs []FinancialTransaction, now time.Time) PortfolioSummary {
	today := DateOf(now)
	sum := PortfolioSummary{
		AsOf:               today,
		TotalContractValue: decimal.Zero,
		TotalReceivable:    decimal.Zero,
		TotalOverdue:       decimal.Zero,
		MonthForecast:      decimal.Zero,
		MonthCollected:     decimal.Zero,
	}

	for _, c := range clients {
		if !c.HasFeeContract() {
			continue
		}
		schedule := GenerateSchedule(c.Contract, c.Payments, now)
		sum.TotalContractValue = sum.TotalContractValue.Add(schedule.Summary.TotalValue)
		sum.TotalReceivable = sum.TotalReceivable.Add(schedule.Summary.RemainingValue)

		for _, inst := range schedule.Installments {
			if inst.Status == InstallmentOverdue {
				sum.TotalOverdue = sum.TotalOverdue.Add(inst.RemainingValue)
				sum.OverdueCount++
			}
			if inst.DueDate.SameMonth(today) {
				sum.MonthForecast = sum.MonthForecast.Add(inst.RemainingValue.Add(inst.PaidValue))
			}
		}
	}

	var incoming []FinancialTransaction
	for _, tx := range txs {
		if tx.Type != TxIn {
			continue
		}
		incoming = append(incoming, tx)
		if tx.Date.SameMonth(today) {
			sum.MonthCollected = sum.MonthCollected.Add(tx.Value)
		}
	}

	SortByDateDesc(incoming)
	if len(incoming) > RecentPaymentsLimit {
		incoming = incoming[:RecentPaymentsLimit]
	}
	sum.RecentPayments = incoming
	return sum
}

// ClientStatus is one row of the receivables listing.
type ClientStatus struct {
	Client       Client
	Summary      ScheduleSummary
	OverdueCount int
	OverdueValue decimal.Decimal
	NextDue      *Installment
}

// ClientStatuses builds the receivables listing for clients with a contract,
// preserving input order.
func ClientStatuses(clients []Client, now time.Time) []ClientStatus {
	out := make([]ClientStatus, 0, len(clients))
	for _, c := range clients {
		if !c.HasFeeContract() {
			continue
		}
		schedule := GenerateSchedule(c.Contract, c.Payments, now)
		row := ClientStatus{Client: c, Summary: schedule.Summary, OverdueValue: decimal.Zero}
		for _, inst := range schedule.Overdue() {
			row.OverdueCount++
			row.OverdueValue = row.OverdueValue.Add(inst.RemainingValue)
		}
		if next, ok := schedule.NextDue(); ok {
			row.NextDue = &next
		}
		out = append(out, row)
	}
	return out
}
