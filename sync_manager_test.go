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
	"sync"
	"testing"
	"time"

	"github.com/blnkfinance/ordersync/internal/changefeed"
	"github.com/blnkfinance/ordersync/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// countingWatcher records how often each order was watched.
type countingWatcher struct {
	inner *Dispatcher

	mu     sync.Mutex
	counts map[string]int
}

func (c *countingWatcher) WatchOrder(ctx context.Context, order model.Order) (*OrderWatch, error) {
	c.mu.Lock()
	c.counts[order.ID]++
	c.mu.Unlock()
	return c.inner.WatchOrder(ctx, order)
}

func (c *countingWatcher) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

type syncFixture struct {
	store      *memStore
	feed       *changefeed.Feed
	sender     *recordingSender
	dispatcher *Dispatcher
	watcher    *countingWatcher
	manager    *OrderSyncManager
}

func newSyncFixture(t *testing.T, orders ...model.Order) *syncFixture {
	t.Helper()
	store := newMemStore(orders...)
	feed := changefeed.New(store)
	sender := &recordingSender{}
	dispatcher := NewDispatcher(feed, newMemTokens("user_1", testToken), sender)
	watcher := &countingWatcher{inner: dispatcher, counts: make(map[string]int)}
	return &syncFixture{
		store:      store,
		feed:       feed,
		sender:     sender,
		dispatcher: dispatcher,
		watcher:    watcher,
		manager:    NewOrderSyncManager(feed, watcher),
	}
}

// close stops the manager and the feed.
func (f *syncFixture) close(t *testing.T) {
	t.Helper()
	f.manager.Stop()
	f.feed.Close()
}

func receive(t *testing.T, updates <-chan ActiveOrderSet) ActiveOrderSet {
	t.Helper()
	select {
	case set, ok := <-updates:
		require.True(t, ok, "updates channel closed")
		return set
	case <-time.After(waitTimeout):
		t.Fatal("no active order set published")
	}
	return ActiveOrderSet{}
}

func orderIDs(orders []model.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}

func TestOrderSyncManager_Watch(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	active := paidOrder("user_1", model.DeliveryStatusProcessing)
	unpaid := paidOrder("user_1", model.DeliveryStatusPending)
	unpaid.Status = model.PaymentPending
	unpaid.PaymentDetails = nil
	delivered := paidOrder("user_1", model.DeliveryStatusCompleted)
	other := paidOrder("user_2", model.DeliveryStatusShipped)

	f := newSyncFixture(t, active, unpaid, delivered, other)

	updates, err := f.manager.Watch(context.Background(), "user_1")
	require.NoError(t, err)

	set := receive(t, updates)
	assert.Equal(t, "user_1", set.OwnerID)
	assert.Equal(t, []string{active.ID}, orderIDs(set.Orders))
	assert.Equal(t, []string{active.ID}, f.manager.WatchedOrders())
	assert.Equal(t, set.Orders, f.manager.ActiveOrders().Orders)

	f.close(t)
	waitAllSends(t, f)
}

func TestOrderSyncManager_TracksSetChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	first := paidOrder("user_1", model.DeliveryStatusProcessing)
	f := newSyncFixture(t, first)

	updates, err := f.manager.Watch(context.Background(), "user_1")
	require.NoError(t, err)
	receive(t, updates)

	second := paidOrder("user_1", model.DeliveryStatusPending)
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	_, err = f.store.CreateOrder(context.Background(), &second)
	require.NoError(t, err)
	f.feed.Notify(second.ID, second.UserID)

	set := receive(t, updates)
	assert.Equal(t, []string{second.ID, first.ID}, orderIDs(set.Orders))
	assert.ElementsMatch(t, []string{first.ID, second.ID}, f.manager.WatchedOrders())

	f.store.setDelivery(t, f.feed, first.ID, model.DeliveryStatusCompleted)
	flushFeed(t, f.feed)

	set = f.manager.ActiveOrders()
	assert.Equal(t, []string{second.ID}, orderIDs(set.Orders))
	assert.Equal(t, []string{second.ID}, f.manager.WatchedOrders())

	f.close(t)
	waitAllSends(t, f)
}

func TestOrderSyncManager_WatchTwiceKeepsSingleWatch(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	order := paidOrder("user_1", model.DeliveryStatusShipped)
	f := newSyncFixture(t, order)

	updates, err := f.manager.Watch(context.Background(), "user_1")
	require.NoError(t, err)
	receive(t, updates)

	again, err := f.manager.Watch(context.Background(), "user_1")
	require.NoError(t, err)
	receive(t, again)

	assert.Equal(t, 1, f.watcher.count(order.ID))
	assert.Equal(t, []string{order.ID}, f.manager.WatchedOrders())

	f.close(t)
	waitAllSends(t, f)
}

func TestOrderSyncManager_QueryErrorKeepsLastSet(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	order := paidOrder("user_1", model.DeliveryStatusOutForDelivery)
	f := newSyncFixture(t, order)

	updates, err := f.manager.Watch(context.Background(), "user_1")
	require.NoError(t, err)
	before := receive(t, updates)

	f.store.setOwnerErr(errQueryFailed)
	f.feed.Notify(order.ID, order.UserID)
	flushFeed(t, f.feed)

	assert.Equal(t, before, f.manager.ActiveOrders())
	assert.Equal(t, []string{order.ID}, f.manager.WatchedOrders())
	assert.True(t, f.manager.Running())

	f.store.setOwnerErr(nil)
	retried, err := f.manager.Watch(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, orderIDs(receive(t, retried).Orders))

	f.close(t)
	waitAllSends(t, f)
}

func TestOrderSyncManager_Stop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := paidOrder("user_1", model.DeliveryStatusProcessing)
	b := paidOrder("user_1", model.DeliveryStatusShipped)
	f := newSyncFixture(t, a, b)

	updates, err := f.manager.Watch(context.Background(), "user_1")
	require.NoError(t, err)
	receive(t, updates)
	require.Len(t, f.manager.WatchedOrders(), 2)

	f.manager.Stop()
	f.manager.Stop()

	assert.Empty(t, f.manager.WatchedOrders())
	assert.False(t, f.manager.Running())
	for range updates {
	}

	sentBefore := len(f.sender.sent())
	f.store.setDelivery(t, f.feed, a.ID, model.DeliveryStatusOutForDelivery)
	flushFeed(t, f.feed)
	waitAllSends(t, f)
	assert.Len(t, f.sender.sent(), sentBefore)

	f.feed.Close()
}

func TestOrderSyncManager_ContextCancelStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newSyncFixture(t, paidOrder("user_1", model.DeliveryStatusProcessing))

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := f.manager.Watch(ctx, "user_1")
	require.NoError(t, err)
	receive(t, updates)

	cancel()
	require.Eventually(t, func() bool { return !f.manager.Running() }, waitTimeout, 5*time.Millisecond)

	f.close(t)
	waitAllSends(t, f)
}

func TestOrderSyncManager_MissingOwner(t *testing.T) {
	f := newSyncFixture(t)
	defer f.close(t)

	_, err := f.manager.Watch(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingOwner)
}

// waitAllSends waits for every detached send started by the dispatcher.
func waitAllSends(t *testing.T, f *syncFixture) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.dispatcher.inFlight() == 0
	}, waitTimeout, 5*time.Millisecond)
}
