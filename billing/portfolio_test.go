package billing

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func portfolioClients() []Client {
	return []Client{
		{
			ID:       "cli-1",
			Name:     "Ana",
			Contract: standardContract(), // due 02-10, 03-10, 04-10
			Payments: []PaymentRecord{
				{InstallmentNumber: 1, Value: decimal.NewFromInt(500), Status: PaymentPaid},
			},
		},
		{
			ID:   "cli-2",
			Name: "Bruno",
			Contract: &FeeContract{
				MonthlyValue:     decimal.NewFromInt(200),
				InstallmentCount: 2,
				DueDay:           5,
				StartDate:        NewDate(2024, time.January, 1),
			}, // due 01-05, 02-05
			Payments: []PaymentRecord{
				{InstallmentNumber: 2, Value: decimal.NewFromInt(50), Status: PaymentPartial},
			},
		},
		{ID: "cli-3", Name: "Carla"},
	}
}

func TestAggregatePortfolio(t *testing.T) {
	one := 1
	txs := []FinancialTransaction{
		{ID: "t1", Type: TxIn, Value: decimal.NewFromInt(500), Date: NewDate(2024, 2, 9), ClientID: "cli-1", InstallmentNumber: &one},
		{ID: "t2", Type: TxIn, Value: decimal.NewFromInt(50), Date: NewDate(2024, 3, 12)},
		{ID: "t3", Type: TxOut, Value: decimal.NewFromInt(900), Date: NewDate(2024, 3, 13)},
	}

	sum := AggregatePortfolio(portfolioClients(), txs, at(2024, time.March, 15))

	assert.Equal(t, "2024-03-15", sum.AsOf.String())
	assert.Equal(t, "1900.00", sum.TotalContractValue.StringFixed(2))
	assert.Equal(t, "1350.00", sum.TotalReceivable.StringFixed(2))
	// Ana #2 (due 03-10) and Bruno #1 (due 01-05); Bruno #2 is partial.
	assert.Equal(t, 2, sum.OverdueCount)
	assert.Equal(t, "700.00", sum.TotalOverdue.StringFixed(2))
	assert.Equal(t, "500.00", sum.MonthForecast.StringFixed(2))
	assert.Equal(t, "50.00", sum.MonthCollected.StringFixed(2))

	require.Len(t, sum.RecentPayments, 2)
	assert.Equal(t, TransactionID("t2"), sum.RecentPayments[0].ID)
}

func TestAggregatePortfolio_RecentPaymentsCapped(t *testing.T) {
	var txs []FinancialTransaction
	for i := 1; i <= RecentPaymentsLimit+5; i++ {
		txs = append(txs, FinancialTransaction{
			ID:    TransactionID(fmt.Sprintf("t%d", i)),
			Type:  TxIn,
			Value: decimal.NewFromInt(1),
			Date:  NewDate(2024, 1, i),
		})
	}

	sum := AggregatePortfolio(nil, txs, at(2024, time.March, 1))
	require.Len(t, sum.RecentPayments, RecentPaymentsLimit)
	assert.Equal(t, TransactionID("t15"), sum.RecentPayments[0].ID)
	assert.True(t, sum.TotalContractValue.IsZero())
}

func TestClientStatuses(t *testing.T) {
	rows := ClientStatuses(portfolioClients(), at(2024, time.March, 15))
	require.Len(t, rows, 2, "clients without a contract are skipped")

	ana := rows[0]
	assert.Equal(t, ClientID("cli-1"), ana.Client.ID)
	assert.Equal(t, 1, ana.OverdueCount)
	assert.Equal(t, "500.00", ana.OverdueValue.StringFixed(2))
	require.NotNil(t, ana.NextDue)
	assert.Equal(t, 2, ana.NextDue.Number)

	bruno := rows[1]
	assert.Equal(t, 1, bruno.OverdueCount)
	assert.Equal(t, "350.00", bruno.Summary.RemainingValue.StringFixed(2))
	assert.Equal(t, "200.00", bruno.OverdueValue.StringFixed(2))
}
