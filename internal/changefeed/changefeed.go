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

// Package changefeed turns order store writes into per-document and
// per-owner snapshot callbacks. Every callback runs on a single event-loop
// goroutine, one at a time, in the order the writes were observed.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blnkfinance/ordersync/internal/metrics"
	"github.com/blnkfinance/ordersync/model"
	"github.com/sirupsen/logrus"
)

// DefaultFetchTimeout bounds store reads when WithFetchTimeout is not given.
const DefaultFetchTimeout = 10 * time.Second

// ErrMissingID is returned for change notifications that carry no order id.
var ErrMissingID = errors.New("change notification has no order id")

// OrderSource is the read side of the order store.
type OrderSource interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
}

// Subscription is returned by the Subscribe methods. Cancel stops further
// callbacks and may be called from inside a callback.
type Subscription struct {
	id        uint64
	cancelled atomic.Bool
	cancel    func()
}

// Cancel is idempotent.
func (s *Subscription) Cancel() {
	if s == nil || !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.cancel()
}

type docSubscriber struct {
	sub *Subscription
	fn  func(model.Order)
}

type ownerSubscriber struct {
	sub   *Subscription
	fn    func([]model.Order)
	onErr func(error)
}

// Feed is the watchable view over an OrderSource.
type Feed struct {
	source  OrderSource
	timeout time.Duration
	onError func(error)

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	closed bool

	nextID atomic.Uint64

	// owned by the loop goroutine
	docs   map[string]map[uint64]docSubscriber
	owners map[string]map[uint64]ownerSubscriber
}

// Option customises a Feed.
type Option func(*Feed)

// WithFetchTimeout bounds every store read issued by the feed.
func WithFetchTimeout(d time.Duration) Option {
	return func(f *Feed) { f.timeout = d }
}

// WithErrorHandler receives document fetch failures.
func WithErrorHandler(fn func(error)) Option {
	return func(f *Feed) { f.onError = fn }
}

// New starts the event loop. Close must be called to release it.
func New(source OrderSource, opts ...Option) *Feed {
	f := &Feed{
		source:  source,
		timeout: DefaultFetchTimeout,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		docs:    make(map[string]map[uint64]docSubscriber),
		owners:  make(map[string]map[uint64]ownerSubscriber),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.onError == nil {
		f.onError = func(err error) {
			logrus.WithError(err).Error("change feed error")
		}
	}
	go f.run()
	return f
}

func (f *Feed) run() {
	defer close(f.done)
	for {
		f.mu.Lock()
		tasks := f.queue
		f.queue = nil
		f.mu.Unlock()

		for _, task := range tasks {
			task()
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-f.wake:
		case <-f.stop:
			return
		}
	}
}

func (f *Feed) enqueue(task func()) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	f.queue = append(f.queue, task)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops the event loop and waits for the running callback to return.
// Queued tasks are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return
	}
	f.closed = true
	f.mu.Unlock()

	close(f.stop)
	<-f.done
}

// Flush blocks until every task queued before the call has run.
func (f *Feed) Flush(ctx context.Context) error {
	ran := make(chan struct{})
	if !f.enqueue(func() { close(ran) }) {
		return nil
	}
	select {
	case <-ran:
		return nil
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeOrder delivers the current state of the order and then one
// snapshot per observed write.
func (f *Feed) SubscribeOrder(id string, fn func(model.Order)) *Subscription {
	sub := &Subscription{id: f.nextID.Add(1)}
	sub.cancel = func() {
		f.enqueue(func() {
			delete(f.docs[id], sub.id)
			if len(f.docs[id]) == 0 {
				delete(f.docs, id)
			}
		})
	}

	f.enqueue(func() {
		if sub.cancelled.Load() {
			return
		}
		if f.docs[id] == nil {
			f.docs[id] = make(map[uint64]docSubscriber)
		}
		s := docSubscriber{sub: sub, fn: fn}
		f.docs[id][sub.id] = s

		order, err := f.fetchOrder(id)
		if err != nil {
			f.fail(err)
			return
		}
		deliverOrder(s, *order)
	})
	return sub
}

// SubscribeOwner delivers every order of the owner, newest first, right
// away and again after each write touching one of them. Query failures go
// to onErr and do not end the subscription.
func (f *Feed) SubscribeOwner(userID string, fn func([]model.Order), onErr func(error)) *Subscription {
	sub := &Subscription{id: f.nextID.Add(1)}
	sub.cancel = func() {
		f.enqueue(func() {
			delete(f.owners[userID], sub.id)
			if len(f.owners[userID]) == 0 {
				delete(f.owners, userID)
			}
		})
	}

	f.enqueue(func() {
		if sub.cancelled.Load() {
			return
		}
		if f.owners[userID] == nil {
			f.owners[userID] = make(map[uint64]ownerSubscriber)
		}
		s := ownerSubscriber{sub: sub, fn: fn, onErr: onErr}
		f.owners[userID][sub.id] = s
		f.deliverOwner(userID, []ownerSubscriber{s})
	})
	return sub
}

// Notify records a write to order id. userID may be empty, in which case
// it is read from the refreshed document.
func (f *Feed) Notify(id, userID string) {
	f.enqueue(func() {
		f.dispatch(id, userID)
	})
}

// HandleNotification accepts the payload of the order_change database
// notification.
func (f *Feed) HandleNotification(table string, data map[string]interface{}) error {
	id, _ := data["id"].(string)
	if id == "" {
		return fmt.Errorf("%w (table %s)", ErrMissingID, table)
	}
	userID, _ := data["user_id"].(string)
	f.Notify(id, userID)
	return nil
}

func (f *Feed) dispatch(id, userID string) {
	subs := f.docs[id]
	if len(subs) > 0 || userID == "" {
		order, err := f.fetchOrder(id)
		switch {
		case err != nil:
			f.fail(err)
			if userID == "" {
				return
			}
		default:
			if userID == "" {
				userID = order.UserID
			}
			for _, s := range snapshotDocs(subs) {
				deliverOrder(s, *order)
			}
		}
	}

	if owners := f.owners[userID]; len(owners) > 0 {
		list := make([]ownerSubscriber, 0, len(owners))
		for _, s := range owners {
			list = append(list, s)
		}
		f.deliverOwner(userID, list)
	}
}

func (f *Feed) deliverOwner(userID string, subs []ownerSubscriber) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	orders, err := f.source.GetOrdersByUser(ctx, userID)
	cancel()

	for _, s := range subs {
		if s.sub.cancelled.Load() {
			continue
		}
		if err != nil {
			metrics.FeedError()
			if s.onErr != nil {
				s.onErr(err)
			}
			continue
		}
		s.fn(orders)
	}
}

func (f *Feed) fetchOrder(id string) (*model.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	return f.source.GetOrder(ctx, id)
}

func (f *Feed) fail(err error) {
	metrics.FeedError()
	f.onError(err)
}

func deliverOrder(s docSubscriber, order model.Order) {
	if s.sub.cancelled.Load() {
		return
	}
	s.fn(order)
}

func snapshotDocs(subs map[uint64]docSubscriber) []docSubscriber {
	list := make([]docSubscriber, 0, len(subs))
	for _, s := range subs {
		list = append(list, s)
	}
	return list
}
