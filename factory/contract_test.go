package factory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
)

func TestParseClient_FlexibleNumbers(t *testing.T) {
	tests := []struct {
		name     string
		contract string
	}{
		{"numbers", `{"monthlyValue":1500,"installmentCount":12,"dueDay":10,"startDate":"2024-01-15"}`},
		{"plain text", `{"monthlyValue":"1500.00","installmentCount":"12","dueDay":"10","startDate":"2024-01-15"}`},
		{"localized text", `{"monthlyValue":"R$ 1.500,00","installmentCount":" 12 ","dueDay":10,"startDate":"2024-01-15"}`},
	}

	f := NewContractFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := f.ParseClient(`{"id":"cli-1","name":" Ana ","feeContract":` + tt.contract + `}`)
			require.NoError(t, err)
			assert.Equal(t, "Ana", client.Name)
			require.NotNil(t, client.Contract)
			assert.Equal(t, "1500.00", client.Contract.MonthlyValue.StringFixed(2))
			assert.Equal(t, 12, client.Contract.InstallmentCount)
			assert.Equal(t, 10, client.Contract.DueDay)
			assert.Equal(t, "2024-01-15", client.Contract.StartDate.String())
			assert.Equal(t, billing.DefaultPaymentMethod, client.Contract.Method())
		})
	}
}

func TestParseClient_WithoutContract(t *testing.T) {
	client, err := NewContractFactory().ParseClient(`{"id":"cli-1","name":"Ana","email":"ana@example.com"}`)
	require.NoError(t, err)
	assert.False(t, client.HasFeeContract())
	assert.Equal(t, "ana@example.com", client.Email)
}

func TestParseClient_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		invalidTerm bool
	}{
		{"malformed json", `{"id":`, false},
		{"missing id", `{"name":"Ana"}`, false},
		{"missing name", `{"id":"cli-1"}`, false},
		{"zero value", `{"id":"c","name":"n","feeContract":{"monthlyValue":"abc","installmentCount":3,"dueDay":10,"startDate":"2024-01-15"}}`, true},
		{"no installments", `{"id":"c","name":"n","feeContract":{"monthlyValue":100,"installmentCount":0,"dueDay":10,"startDate":"2024-01-15"}}`, true},
		{"due day too large", `{"id":"c","name":"n","feeContract":{"monthlyValue":100,"installmentCount":3,"dueDay":32,"startDate":"2024-01-15"}}`, true},
		{"bad start date", `{"id":"c","name":"n","feeContract":{"monthlyValue":100,"installmentCount":3,"dueDay":10,"startDate":"15/01/2024"}}`, true},
	}

	f := NewContractFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseClient(tt.doc)
			require.Error(t, err)
			if tt.invalidTerm {
				assert.ErrorIs(t, err, billing.ErrInvalidContract)
			}
		})
	}
}

func TestParseClient_NonNumericCount(t *testing.T) {
	_, err := NewContractFactory().ParseClient(`{"id":"c","name":"n","feeContract":{"monthlyValue":100,"installmentCount":"twelve","dueDay":10,"startDate":"2024-01-15"}}`)
	assert.Error(t, err)
}

func TestParseContract_RoundTrip(t *testing.T) {
	f := NewContractFactory()
	contract, err := f.ParseContract(`{"monthlyValue":"R$ 500,00","installmentCount":"3","dueDay":31,"startDate":"2024-01-01","paymentMethod":"PIX"}`)
	require.NoError(t, err)

	b, err := json.Marshal(f.ContractToJSON(contract))
	require.NoError(t, err)
	assert.JSONEq(t, `{"monthlyValue":500.00,"installmentCount":3,"dueDay":31,"startDate":"2024-01-01","paymentMethod":"PIX"}`, string(b))

	again, err := f.ParseContract(string(b))
	require.NoError(t, err)
	assert.True(t, contract.MonthlyValue.Equal(again.MonthlyValue))
	assert.Equal(t, contract.InstallmentCount, again.InstallmentCount)
	assert.Equal(t, contract.DueDay, again.DueDay)
	assert.Equal(t, contract.StartDate.String(), again.StartDate.String())
	assert.Equal(t, "PIX", again.PaymentMethod)
}

func TestClientToJSON_IncludesPayments(t *testing.T) {
	f := NewContractFactory()
	client := billing.Client{
		ID:   "cli-1",
		Name: "Ana",
		Contract: &billing.FeeContract{
			MonthlyValue:     decimal.NewFromInt(500),
			InstallmentCount: 3,
			DueDay:           10,
			StartDate:        billing.NewDate(2024, 1, 15),
		},
		Payments: []billing.PaymentRecord{{
			ID:                "pay-1",
			ClientID:          "cli-1",
			InstallmentNumber: 1,
			DueDate:           billing.NewDate(2024, 2, 10),
			PaidAt:            time.Date(2024, 2, 9, 14, 0, 0, 0, time.UTC),
			Value:             decimal.NewFromInt(300),
			Status:            billing.PaymentPartial,
			Method:            "PIX",
			Revision:          1,
		}},
	}

	cj := f.ClientToJSON(client)
	require.NotNil(t, cj.FeeContract)
	require.Len(t, cj.Payments, 1)

	back, err := f.ClientFromJSON(cj)
	require.NoError(t, err)
	require.Len(t, back.Payments, 1)
	assert.True(t, back.Payments[0].Value.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, "2024-02-10", back.Payments[0].DueDate.String())
	assert.True(t, client.Payments[0].PaidAt.Equal(back.Payments[0].PaidAt))
}

func TestDecodeStoredContract_SkipsRangeChecks(t *testing.T) {
	f := NewContractFactory()
	doc := `{"monthlyValue":0,"installmentCount":0,"dueDay":10,"startDate":"2024-01-15"}`

	_, err := f.ParseContract(doc)
	require.ErrorIs(t, err, billing.ErrInvalidContract)

	contract, err := f.DecodeStoredContract(doc)
	require.NoError(t, err)
	assert.False(t, contract.IsBillable())

	_, err = f.DecodeStoredContract(`{"monthlyValue":100,"installmentCount":3,"dueDay":10,"startDate":"never"}`)
	assert.ErrorIs(t, err, billing.ErrInvalidContract)
}
