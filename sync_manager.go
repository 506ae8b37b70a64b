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
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/ordersync/internal/apierror"
	"github.com/blnkfinance/ordersync/internal/changefeed"
	"github.com/blnkfinance/ordersync/internal/metrics"
	"github.com/blnkfinance/ordersync/model"
	"github.com/sirupsen/logrus"
)

// ErrMissingOwner is returned by Watch when no owner id is given.
var ErrMissingOwner = apierror.NewAPIError(apierror.ErrInvalidInput, "owner id is required", nil)

// OwnerFeed delivers snapshots of every order of an owner.
type OwnerFeed interface {
	SubscribeOwner(userID string, fn func([]model.Order), onErr func(error)) *changefeed.Subscription
}

// OrderWatcher starts a notification watch for a single order.
type OrderWatcher interface {
	WatchOrder(ctx context.Context, order model.Order) (*OrderWatch, error)
}

// ActiveOrderSet is the owner's active orders, newest first.
type ActiveOrderSet struct {
	OwnerID   string        `json:"owner_id"`
	Orders    []model.Order `json:"orders"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// OrderSyncManager mirrors one owner's orders into an active set and keeps
// exactly one dispatcher watch per active order.
type OrderSyncManager struct {
	feed       OwnerFeed
	dispatcher OrderWatcher

	mu        sync.Mutex
	ownerID   string
	gen       uint64
	running   bool
	sub       *changefeed.Subscription
	stopAfter func() bool
	watches   map[string]*OrderWatch
	active    ActiveOrderSet
	updates   chan ActiveOrderSet
}

// NewOrderSyncManager creates an idle manager.
// Parameters:
// - feed: source of owner snapshots.
// - dispatcher: starts one notification watch per active order.
// Call Watch to start syncing.
func NewOrderSyncManager(feed OwnerFeed, dispatcher OrderWatcher) *OrderSyncManager {
	return &OrderSyncManager{
		feed:       feed,
		dispatcher: dispatcher,
		watches:    make(map[string]*OrderWatch),
	}
}

// Watch starts the owner query. Every snapshot replaces the active set and
// is published on the returned channel, which only ever holds the latest
// set. Calling Watch again restarts the query; watches of orders that are
// still active are kept. Cancelling ctx stops the manager.
func (m *OrderSyncManager) Watch(ctx context.Context, ownerID string) (<-chan ActiveOrderSet, error) {
	if ownerID == "" {
		return nil, ErrMissingOwner
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.sub.Cancel()
		m.stopAfter()
		if ownerID != m.ownerID {
			m.stopWatchesLocked()
			m.active = ActiveOrderSet{}
		}
	} else {
		m.updates = make(chan ActiveOrderSet, 1)
		metrics.OwnerSyncStarted()
	}

	m.running = true
	m.ownerID = ownerID
	m.gen++
	gen := m.gen

	m.sub = m.feed.SubscribeOwner(ownerID,
		func(orders []model.Order) { m.onSnapshot(gen, orders) },
		func(err error) { m.onError(gen, err) },
	)
	m.stopAfter = context.AfterFunc(ctx, m.Stop)

	logrus.WithField("user_id", ownerID).Info("order sync started")
	return m.updates, nil
}

func (m *OrderSyncManager) onSnapshot(gen uint64, orders []model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || gen != m.gen {
		return
	}

	active := model.ActiveOrders(orders)
	ids := make(map[string]struct{}, len(active))
	for _, order := range active {
		ids[order.ID] = struct{}{}
		if _, ok := m.watches[order.ID]; ok {
			continue
		}
		w, err := m.dispatcher.WatchOrder(context.Background(), order)
		if err != nil {
			logrus.WithError(err).WithField("order_id", order.ID).Error("failed to watch order")
			continue
		}
		m.watches[order.ID] = w
	}

	for id, w := range m.watches {
		if _, ok := ids[id]; !ok {
			w.Stop()
			delete(m.watches, id)
		}
	}

	m.active = ActiveOrderSet{OwnerID: m.ownerID, Orders: active, UpdatedAt: time.Now()}
	m.publishLocked(m.active)
}

// onError keeps the last known set. The caller restarts with Watch.
func (m *OrderSyncManager) onError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || gen != m.gen {
		return
	}
	logrus.WithError(err).WithFields(logrus.Fields{
		"user_id": m.ownerID,
		"active":  len(m.active.Orders),
	}).Error("order sync query failed, keeping last known active orders")
}

func (m *OrderSyncManager) publishLocked(set ActiveOrderSet) {
	select {
	case <-m.updates:
	default:
	}
	m.updates <- set
}

func (m *OrderSyncManager) stopWatchesLocked() {
	for id, w := range m.watches {
		w.Stop()
		delete(m.watches, id)
	}
}

// ActiveOrders returns the last known active set.
func (m *OrderSyncManager) ActiveOrders() ActiveOrderSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// WatchedOrders lists the ids of the orders with a live dispatcher watch.
func (m *OrderSyncManager) WatchedOrders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Running reports whether the owner query is live.
func (m *OrderSyncManager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stop ends the owner query and every dispatcher watch, then closes the
// updates channel. In-flight sends are left to finish.
func (m *OrderSyncManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.sub.Cancel()
	m.stopAfter()
	m.stopWatchesLocked()
	close(m.updates)
	metrics.OwnerSyncStopped()

	logrus.WithField("user_id", m.ownerID).Info("order sync stopped")
}
