/*
schedule.go - Installment schedule generation

PURPOSE:
  Expands a FeeContract into its installments and overlays the client's
  payment records. Pure function of (contract, payments, now): nothing is
  read from the clock or the store, so identical inputs always produce an
  identical schedule.

DUE DATES:
  The first charge period starts in the contract's start month, unless the
  start day is already past the due day, in which case it starts in the
  following month. Each installment then advances one calendar month.

    contract {dueDay: 10, start: 2024-01-15, count: 3}
      -> 2024-02-10, 2024-03-10, 2024-04-10

STATUS:
  payment record present  -> record status (partial | paid), NEVER overdue
  no record, due < today  -> overdue
  no record, otherwise    -> pending
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// GenerateSchedule derives the installment schedule at instant now.
// A nil or non-billable contract yields an empty schedule and a zero summary.
func GenerateSchedule(contract *FeeContract, payments []PaymentRecord, now time.Time) Schedule {
	schedule := Schedule{Summary: ScheduleSummary{
		TotalValue:     decimal.Zero,
		PaidValue:      decimal.Zero,
		RemainingValue: decimal.Zero,
	}}
	if !contract.IsBillable() {
		return schedule
	}

	byNumber := make(map[int]PaymentRecord, len(payments))
	for _, p := range payments {
		if _, seen := byNumber[p.InstallmentNumber]; !seen {
			byNumber[p.InstallmentNumber] = p
		}
	}

	today := DateOf(now)
	total := contract.MonthlyValue
	paidSum := decimal.Zero

	schedule.Installments = make([]Installment, 0, contract.InstallmentCount)
	for n := 1; n <= contract.InstallmentCount; n++ {
		inst := Installment{
			Number:     n,
			DueDate:    DueDate(*contract, n),
			TotalValue: total,
		}

		if rec, ok := byNumber[n]; ok {
			inst.Status = InstallmentStatus(rec.Status)
			inst.PaidValue = rec.Value
			inst.RemainingValue = total.Sub(rec.Value)
			inst.PaymentID = rec.ID
			inst.Revision = rec.Revision
		} else {
			inst.PaidValue = decimal.Zero
			inst.RemainingValue = total
			inst.Status = InstallmentPending
			if inst.DueDate.Before(today) {
				inst.Status = InstallmentOverdue
			}
		}

		if inst.HasPayment() {
			paidSum = paidSum.Add(inst.PaidValue)
		}
		schedule.Installments = append(schedule.Installments, inst)
	}

	schedule.Summary.TotalValue = contract.TotalValue()
	schedule.Summary.PaidValue = paidSum
	schedule.Summary.RemainingValue = schedule.Summary.TotalValue.Sub(paidSum)
	return schedule
}

// DueDate returns the due date of installment n (1-based) under contract.
func DueDate(contract FeeContract, n int) Date {
	offset := n - 1
	if contract.StartDate.Day() > contract.DueDay {
		offset++
	}
	return AddMonthsClamped(contract.StartDate.Year(), contract.StartDate.Month(), offset, contract.DueDay)
}
