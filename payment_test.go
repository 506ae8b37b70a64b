/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ordersync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/cache"
	"github.com/blnkfinance/ordersync/internal/deeplink"
	"github.com/blnkfinance/ordersync/internal/payu"
	"github.com/blnkfinance/ordersync/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	successURL = "https://api.example.com/payments/payu/success"
	failureURL = "https://api.example.com/payments/payu/failure"
)

type recordingQueue struct {
	mu     sync.Mutex
	orders []model.Order
	err    error
}

func (q *recordingQueue) EnqueueOrderConfirmation(_ context.Context, order model.Order) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.orders = append(q.orders, order)
	return q.err
}

func (q *recordingQueue) enqueued() []model.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.Order(nil), q.orders...)
}

func paymentConfig(key, salt string) *config.Configuration {
	return &config.Configuration{
		Payment: config.PaymentConfig{
			Key:                 key,
			Salt:                salt,
			ActionURL:           config.DEFAULT_PAYMENT_ACTION_URL,
			SuccessURL:          successURL,
			FailureURL:          failureURL,
			ConfirmationDelayMs: 3000,
			ConfirmationView:    config.DEFAULT_CONFIRMATION_VIEW,
			SessionTTLSec:       60,
			WalletSchemes:       []string{"upi", "gpay", "phonepe", "paytm"},
		},
	}
}

type paymentFixture struct {
	bridge *PaymentBridge
	store  *memStore
	queue  *recordingQueue
}

func newPaymentFixture(t *testing.T, cnf *config.Configuration) *paymentFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	queue := &recordingQueue{}
	bridge := NewPaymentBridge(cnf, store, cache.NewCache(client, 0, 0), client, queue)
	bridge.now = func() time.Time { return time.UnixMilli(1715000000000) }
	return &paymentFixture{bridge: bridge, store: store, queue: queue}
}

func checkoutRequest() CheckoutRequest {
	return CheckoutRequest{
		UserID: "user_1",
		Items: []model.Item{
			{ID: "meal_1", Name: "Paneer Bowl", Quantity: 2, Price: decimal.RequireFromString("4.50")},
		},
		PriceInfo:   model.PriceInfo{Subtotal: decimal.RequireFromString("9"), Total: decimal.RequireFromString("10")},
		OrderType:   model.OrderTypeOneTime,
		Address:     gofakeit.Address().Address,
		PhoneNumber: "9999999999",
		FirstName:   "F",
		Email:       "e@x.com",
		ProductInfo: "P",
	}
}

func (f *paymentFixture) presented(t *testing.T) *PaymentSession {
	t.Helper()
	ctx := context.Background()
	session, err := f.bridge.Prepare(ctx, checkoutRequest())
	require.NoError(t, err)
	session, err = f.bridge.Present(ctx, session.TxnID)
	require.NoError(t, err)
	require.Equal(t, PaymentStatePresented, session.State)
	return session
}

func TestPrepare_NotConfigured(t *testing.T) {
	for _, cnf := range []*config.Configuration{paymentConfig("", "S"), paymentConfig("ABC", "")} {
		f := newPaymentFixture(t, cnf)

		_, err := f.bridge.Prepare(context.Background(), checkoutRequest())
		assert.ErrorIs(t, err, ErrPaymentNotConfigured)
		assert.False(t, f.bridge.Configured())
		assert.Empty(t, f.store.orders)
	}
}

func TestPrepare_PersistsPendingOrderAndSignsForm(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))

	session, err := f.bridge.Prepare(context.Background(), checkoutRequest())
	require.NoError(t, err)

	assert.Regexp(t, `^TXN_1715000000000_[a-z0-9]{6}$`, session.TxnID)
	assert.Equal(t, PaymentStateFormPrepared, session.State)

	order := f.store.get(session.OrderID)
	assert.Equal(t, session.TxnID, order.OrderID)
	assert.Equal(t, model.PaymentPending, order.Status)
	assert.Equal(t, model.DeliveryStatusPending, order.DeliveryStatus)

	fields := session.Fields
	assert.Equal(t, "ABC", fields.Key)
	assert.Equal(t, "10.00", fields.Amount)
	assert.Equal(t, successURL, fields.SURL)
	assert.Equal(t, failureURL, fields.FURL)
	assert.Equal(t, "9999999999", fields.Phone)
	assert.Len(t, fields.Hash, 128)
	assert.Equal(t, payu.Hash(payu.HashInput("ABC", session.TxnID, "10.00", "P", "F", "e@x.com", "S")), fields.Hash)

	stored, err := f.bridge.Session(context.Background(), session.TxnID)
	require.NoError(t, err)
	assert.Equal(t, session.OrderID, stored.OrderID)
}

func TestPresent(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	session := f.presented(t)

	again, err := f.bridge.Present(context.Background(), session.TxnID)
	require.NoError(t, err)
	assert.Equal(t, PaymentStatePresented, again.State)
	assert.Equal(t, config.DEFAULT_PAYMENT_ACTION_URL, again.ActionURL)

	_, err = f.bridge.Present(context.Background(), "TXN_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNavigate_WalletAppUnavailable(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	session := f.presented(t)

	decision, err := f.bridge.Navigate(context.Background(), session.TxnID, "upi://pay?pa=merchant@bank", deeplink.NewCapabilities(nil))
	require.NoError(t, err)
	assert.Equal(t, NavigationVeto, decision.Action)
	assert.Contains(t, decision.Message, "UPI")

	decision, err = f.bridge.Navigate(context.Background(), session.TxnID, "phonepe://pay", nil)
	require.NoError(t, err)
	assert.Equal(t, NavigationVeto, decision.Action)
	assert.Contains(t, decision.Message, "PhonePe")

	stored, err := f.bridge.Session(context.Background(), session.TxnID)
	require.NoError(t, err)
	assert.Equal(t, PaymentStatePresented, stored.State)
	assert.Equal(t, model.PaymentPending, f.store.get(session.OrderID).Status)
	assert.Equal(t, 0, f.store.updateCount())
}

func TestNavigate_WalletAppOpened(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	session := f.presented(t)
	opener := deeplink.NewCapabilities([]string{"gpay"})

	decision, err := f.bridge.Navigate(context.Background(), session.TxnID, "gpay://upi/pay?pa=x", opener)
	require.NoError(t, err)
	assert.Equal(t, NavigationOpenExternal, decision.Action)
	assert.Equal(t, "gpay://upi/pay?pa=x", decision.OpenURL)
	assert.Equal(t, []string{"gpay://upi/pay?pa=x"}, opener.Opened())
	assert.Equal(t, 0, f.store.updateCount())
}

func TestNavigate_OtherPagesAllowed(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	session := f.presented(t)

	decision, err := f.bridge.Navigate(context.Background(), session.TxnID, "https://test.payu.in/otp", nil)
	require.NoError(t, err)
	assert.Equal(t, NavigationAllow, decision.Action)
}

func TestNavigate_LookalikeRedirectAllowed(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	session := f.presented(t)

	decision, err := f.bridge.Navigate(context.Background(), session.TxnID, successURL+"fully?status=success", nil)
	require.NoError(t, err)
	assert.Equal(t, NavigationAllow, decision.Action)
	assert.Equal(t, 0, f.store.updateCount())

	current, err := f.bridge.Session(context.Background(), session.TxnID)
	require.NoError(t, err)
	assert.Equal(t, PaymentStatePresented, current.State)
}

func TestMatchesRedirect(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   bool
	}{
		{"exact", successURL, true},
		{"with query", successURL + "?status=success&txnid=T1", true},
		{"trailing slash", successURL + "/?status=success", true},
		{"host case", "https://API.example.com/payments/payu/success", true},
		{"longer path", successURL + "-page", false},
		{"suffix word", successURL + "fully", false},
		{"sub path", successURL + "/extra", false},
		{"other host", "https://evil.example.net/payments/payu/success", false},
		{"other scheme", "http://api.example.com/payments/payu/success", false},
		{"invalid", "://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesRedirect(tt.target, successURL))
		})
	}
	assert.False(t, matchesRedirect(successURL, ""))
}

func TestNavigate_Success(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	session := f.presented(t)

	decision, err := f.bridge.Navigate(context.Background(), session.TxnID, successURL+"?mihpayid=403993715&status=success&txnid="+session.TxnID, nil)
	require.NoError(t, err)
	assert.Equal(t, NavigationVeto, decision.Action)
	assert.Equal(t, OutcomeSuccess, decision.Result)
	assert.Equal(t, 3*time.Second, decision.RedirectAfter)
	assert.Equal(t, config.DEFAULT_CONFIRMATION_VIEW, decision.RedirectTo)

	order := f.store.get(session.OrderID)
	assert.Equal(t, model.PaymentCompleted, order.Status)
	assert.Equal(t, "success", order.PaymentDetails.Status())
	assert.Equal(t, "403993715", order.PaymentDetails["mihpayid"])
	assert.True(t, order.IsActive())

	enqueued := f.queue.enqueued()
	require.Len(t, enqueued, 1)
	assert.Equal(t, session.OrderID, enqueued[0].ID)
	assert.Equal(t, session.TxnID, enqueued[0].OrderID)
}

func TestNavigate_Failure(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	session := f.presented(t)

	decision, err := f.bridge.Navigate(context.Background(), session.TxnID, failureURL+"?status=success&error=E308", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, decision.Result)
	assert.Zero(t, decision.RedirectAfter)

	order := f.store.get(session.OrderID)
	assert.Equal(t, model.PaymentFailed, order.Status)
	assert.Equal(t, "failed", order.PaymentDetails.Status())
	assert.Equal(t, "E308", order.PaymentDetails["error"])
	assert.Empty(t, f.queue.enqueued())
}

func TestResolve_FirstResultWins(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	session := f.presented(t)
	ctx := context.Background()

	_, err := f.bridge.Resolve(ctx, session.TxnID, true, map[string]string{"mihpayid": "1"})
	require.NoError(t, err)

	decision, err := f.bridge.Resolve(ctx, session.TxnID, false, map[string]string{"error": "late"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, decision.Result)

	assert.Equal(t, 1, f.store.updateCount())
	assert.Equal(t, model.PaymentCompleted, f.store.get(session.OrderID).Status)
	assert.Len(t, f.queue.enqueued(), 1)
}

func TestResolve_ConfirmationEnqueueFailureIsNotFatal(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	f.queue.err = errors.New("redis down")
	session := f.presented(t)

	decision, err := f.bridge.Resolve(context.Background(), session.TxnID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, decision.Result)
	assert.Equal(t, model.PaymentCompleted, f.store.get(session.OrderID).Status)
}

func TestCancel(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	ctx := context.Background()

	prepared, err := f.bridge.Prepare(ctx, checkoutRequest())
	require.NoError(t, err)
	assert.ErrorIs(t, f.bridge.Cancel(ctx, prepared.TxnID), ErrInvalidTransition)

	session := f.presented(t)
	require.NoError(t, f.bridge.Cancel(ctx, session.TxnID))

	order := f.store.get(session.OrderID)
	assert.Equal(t, model.PaymentCancelled, order.Status)
	assert.Equal(t, model.PaymentDetails{"status": "cancelled"}, order.PaymentDetails)
	assert.False(t, order.IsActive())

	assert.ErrorIs(t, f.bridge.Cancel(ctx, session.TxnID), ErrSessionResolved)

	decision, err := f.bridge.Navigate(ctx, session.TxnID, successURL+"?status=success", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, decision.Result)
	assert.Equal(t, model.PaymentCancelled, f.store.get(session.OrderID).Status)
	assert.Empty(t, f.queue.enqueued())
}

func TestCancel_UnknownSession(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	assert.ErrorIs(t, f.bridge.Cancel(context.Background(), "TXN_unknown"), ErrSessionNotFound)
	assert.ErrorIs(t, f.bridge.Cancel(context.Background(), ""), ErrSessionNotFound)
}

func TestResolveCallback(t *testing.T) {
	f := newPaymentFixture(t, paymentConfig("ABC", "S"))
	session := f.presented(t)

	params := map[string]string{
		"key":         "ABC",
		"txnid":       session.TxnID,
		"amount":      "10.00",
		"productinfo": "P",
		"firstname":   "F",
		"email":       "e@x.com",
		"status":      "success",
		"mihpayid":    "77",
	}

	forged := map[string]string{"hash": "deadbeef"}
	for k, v := range params {
		forged[k] = v
	}
	_, err := f.bridge.ResolveCallback(context.Background(), true, forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 0, f.store.updateCount())

	params["hash"] = payu.Hash(payu.ResponseHashInput("S", params))
	decision, err := f.bridge.ResolveCallback(context.Background(), true, params)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, decision.Result)
	assert.Equal(t, "77", f.store.get(session.OrderID).PaymentDetails["mihpayid"])
}
