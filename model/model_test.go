package model

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("order")
	assert.Regexp(t, `^order_[0-9a-f-]{36}$`, id)
}

func TestGenerateTxnID(t *testing.T) {
	now := time.UnixMilli(1718000000123)
	id := GenerateTxnID(now)
	assert.Regexp(t, regexp.MustCompile(`^TXN_1718000000123_[a-z0-9]{6}$`), id)
	assert.NotEqual(t, id, GenerateTxnID(now))
}

func TestDeliveryStatus_Progress(t *testing.T) {
	tests := []struct {
		status   DeliveryStatus
		expected int
	}{
		{DeliveryStatusPending, 0},
		{DeliveryStatusProcessing, 25},
		{DeliveryStatusShipped, 50},
		{DeliveryStatusOutForDelivery, 75},
		{DeliveryStatusCompleted, 100},
		{DeliveryStatusCancelled, 0},
		{DeliveryStatus("teleported"), 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.Progress())
		})
	}
}

func TestDeliveryStatus_Presentation(t *testing.T) {
	for _, s := range append(DeliverySequence, DeliveryStatusCancelled, DeliveryStatusUnknown) {
		p := s.Presentation()
		assert.NotEmpty(t, p.Label, s)
		assert.NotEmpty(t, p.Body, s)
		assert.NotEmpty(t, p.Icon, s)
	}

	assert.Equal(t, DeliveryStatusUnknown.Presentation(), DeliveryStatus("lost").Presentation())
	assert.Equal(t, "Out for Delivery", DeliveryStatusOutForDelivery.Presentation().Label)
	assert.Contains(t, DeliveryStatusProcessing.Presentation().Body, "15 minutes")
	assert.Contains(t, DeliveryStatusOutForDelivery.Presentation().Body, "10 minutes")
}

func TestDeliveryStatus_IsTerminal(t *testing.T) {
	assert.True(t, DeliveryStatusCompleted.IsTerminal())
	assert.True(t, DeliveryStatusCancelled.IsTerminal())
	assert.False(t, DeliveryStatusOutForDelivery.IsTerminal())
	assert.False(t, DeliveryStatus("lost").IsTerminal())
}

func TestIsMonotonic(t *testing.T) {
	assert.True(t, IsMonotonic([]DeliveryStatus{DeliveryStatusPending, DeliveryStatusProcessing, DeliveryStatusProcessing, DeliveryStatusCompleted}))
	assert.True(t, IsMonotonic([]DeliveryStatus{DeliveryStatusPending, DeliveryStatusShipped, DeliveryStatusCancelled}))
	assert.False(t, IsMonotonic([]DeliveryStatus{DeliveryStatusShipped, DeliveryStatusProcessing}))
}

func TestOrder_CurrentStatus(t *testing.T) {
	assert.Equal(t, DeliveryStatusShipped, Order{Status: PaymentCompleted, DeliveryStatus: DeliveryStatusShipped}.CurrentStatus())
	assert.Equal(t, DeliveryStatus(PaymentCompleted), Order{Status: PaymentCompleted}.CurrentStatus())
	assert.Equal(t, DeliveryStatusPending, Order{}.CurrentStatus())
}

func TestOrder_IsActive(t *testing.T) {
	paid := PaymentDetails{"status": PaymentDetailSuccess}

	tests := []struct {
		name     string
		order    Order
		expected bool
	}{
		{"paid and pending", Order{Status: PaymentCompleted, DeliveryStatus: DeliveryStatusPending, PaymentDetails: paid}, true},
		{"paid and shipped", Order{Status: PaymentCompleted, DeliveryStatus: DeliveryStatusShipped, PaymentDetails: paid}, true},
		{"unpaid", Order{Status: PaymentPending, DeliveryStatus: DeliveryStatusPending}, false},
		{"payment failed", Order{Status: PaymentFailed, DeliveryStatus: DeliveryStatusPending, PaymentDetails: PaymentDetails{"status": PaymentDetailFailed}}, false},
		{"cancelled", Order{Status: PaymentCancelled, DeliveryStatus: DeliveryStatusPending, PaymentDetails: paid}, false},
		{"delivered", Order{Status: PaymentCompleted, DeliveryStatus: DeliveryStatusCompleted, PaymentDetails: paid}, false},
		{"delivery cancelled", Order{Status: PaymentCompleted, DeliveryStatus: DeliveryStatusCancelled, PaymentDetails: paid}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.order.IsActive())
		})
	}
}

func TestActiveOrders_KeepsOrder(t *testing.T) {
	paid := PaymentDetails{"status": PaymentDetailSuccess}
	orders := []Order{
		{ID: "c", PaymentDetails: paid},
		{ID: "b"},
		{ID: "a", PaymentDetails: paid},
	}
	active := ActiveOrders(orders)
	require.Len(t, active, 2)
	assert.Equal(t, "c", active[0].ID)
	assert.Equal(t, "a", active[1].ID)
}

func TestOrder_ShortOrderID(t *testing.T) {
	assert.Equal(t, "abc123", Order{OrderID: "TXN_1718000000123_abc123"}.ShortOrderID())
	assert.Equal(t, "T1", Order{OrderID: "T1"}.ShortOrderID())
}

func TestOrderUpdate_Apply(t *testing.T) {
	order := Order{Status: PaymentPending, DeliveryStatus: DeliveryStatusPending}
	status := PaymentCompleted
	now := time.Now()
	OrderUpdate{Status: &status, PaymentDetails: PaymentDetails{"status": "success"}, UpdatedAt: now}.Apply(&order)

	assert.Equal(t, PaymentCompleted, order.Status)
	assert.Equal(t, DeliveryStatusPending, order.DeliveryStatus)
	assert.Equal(t, "success", order.PaymentDetails.Status())
	assert.Equal(t, now, order.UpdatedAt)
}

func TestPriceInfo_JSON(t *testing.T) {
	p := PriceInfo{Subtotal: decimal.NewFromInt(10), Total: decimal.RequireFromString("9.5"), Savings: decimal.RequireFromString("0.5")}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"subtotal":"10.00","total":"9.50","savings":"0.50"}`, string(b))

	var back PriceInfo
	require.NoError(t, json.Unmarshal([]byte(`{"subtotal":"10.00","total":"9.50"}`), &back))
	assert.True(t, back.Total.Equal(decimal.RequireFromString("9.5")))
	assert.True(t, back.Savings.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"total":"nine"}`), &back))
}
