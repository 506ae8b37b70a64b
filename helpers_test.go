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
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/blnkfinance/ordersync/internal/apierror"
	"github.com/blnkfinance/ordersync/internal/changefeed"
	"github.com/blnkfinance/ordersync/internal/push"
	"github.com/blnkfinance/ordersync/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// memStore is an in-memory order store.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]model.Order
	updates  int
	ownerErr error
}

func newMemStore(orders ...model.Order) *memStore {
	s := &memStore{orders: make(map[string]model.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *memStore) CreateOrder(_ context.Context, order *model.Order) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ID == "" {
		order.ID = model.GenerateUUIDWithSuffix("order")
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	s.orders[order.ID] = *order
	created := *order
	return &created, nil
}

func (s *memStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", id), nil)
	}
	return &o, nil
}

func (s *memStore) GetOrderByTxnID(_ context.Context, txnID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderID == txnID {
			return &o, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, "order not found", nil)
}

func (s *memStore) GetOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownerErr != nil {
		return nil, s.ownerErr
	}
	out := []model.Order{}
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateOrder(_ context.Context, id string, update model.OrderUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "order not found", nil)
	}
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = time.Now()
	}
	update.Apply(&o)
	s.orders[id] = o
	s.updates++
	return nil
}

func (s *memStore) setOwnerErr(err error) {
	s.mu.Lock()
	s.ownerErr = err
	s.mu.Unlock()
}

func (s *memStore) get(id string) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// setDelivery writes a fulfillment transition and reports it to feed.
func (s *memStore) setDelivery(t *testing.T, feed *changefeed.Feed, id string, status model.DeliveryStatus) {
	t.Helper()
	require.NoError(t, s.UpdateOrder(context.Background(), id, model.OrderUpdate{DeliveryStatus: &status}))
	feed.Notify(id, "")
}

// recordingSender is a push.Sender that records every message.
type recordingSender struct {
	mu       sync.Mutex
	messages []push.Message
	tokens   []string
	results  []bool
}

// failNext makes the following n sends fail.
func (r *recordingSender) failNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		r.results = append(r.results, false)
	}
}

func (r *recordingSender) Send(_ context.Context, token string, msg push.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token == "" {
		return false
	}
	msg.To = token
	r.messages = append(r.messages, msg)
	r.tokens = append(r.tokens, token)
	if len(r.results) > 0 {
		ok := r.results[0]
		r.results = r.results[1:]
		return ok
	}
	return true
}

func (r *recordingSender) sent() []push.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]push.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// memTokens is an in-memory tokens.Registry.
type memTokens struct {
	mu     sync.Mutex
	tokens map[string]string
	err    error
}

func newMemTokens(pairs ...string) *memTokens {
	m := &memTokens{tokens: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		m.tokens[pairs[i]] = pairs[i+1]
	}
	return m
}

func (m *memTokens) Register(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}

func (m *memTokens) Lookup(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.tokens[userID], nil
}

func (m *memTokens) Remove(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, userID)
	return nil
}

var errQueryFailed = errors.New("query stream interrupted")

func paidOrder(userID string, status model.DeliveryStatus) model.Order {
	return model.Order{
		ID:             model.GenerateUUIDWithSuffix("order"),
		OrderID:        model.GenerateTxnID(time.Now()),
		UserID:         userID,
		Address:        gofakeit.Address().Address,
		PhoneNumber:    gofakeit.Phone(),
		PaymentMethod:  "payu",
		Status:         model.PaymentCompleted,
		DeliveryStatus: status,
		PaymentDetails: model.PaymentDetails{"status": model.PaymentDetailSuccess},
		CreatedAt:      time.Now(),
	}
}

func flushFeed(t *testing.T, feed *changefeed.Feed) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, feed.Flush(ctx))
}

func waitDelivery(t *testing.T, dl *Delivery) bool {
	t.Helper()
	require.NotNil(t, dl)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	sent, err := dl.Wait(ctx)
	require.NoError(t, err)
	return sent
}

// waitDeliveries flushes the feed and waits until the watch has started n
// sends, all of which have finished.
func waitDeliveries(t *testing.T, feed *changefeed.Feed, w *OrderWatch, n int) []*Delivery {
	t.Helper()
	flushFeed(t, feed)
	require.Eventually(t, func() bool { return len(w.Deliveries()) >= n }, waitTimeout, 5*time.Millisecond)
	deliveries := w.Deliveries()
	for _, dl := range deliveries {
		waitDelivery(t, dl)
	}
	return deliveries
}
