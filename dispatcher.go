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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blnkfinance/ordersync/internal/apierror"
	"github.com/blnkfinance/ordersync/internal/changefeed"
	"github.com/blnkfinance/ordersync/internal/metrics"
	"github.com/blnkfinance/ordersync/internal/push"
	"github.com/blnkfinance/ordersync/internal/tokens"
	"github.com/blnkfinance/ordersync/model"
	"github.com/sirupsen/logrus"
)

const defaultSendTimeout = 15 * time.Second

// ErrInvalidOrder is returned when a watch is requested for an order
// without a store id.
var ErrInvalidOrder = apierror.NewAPIError(apierror.ErrInvalidInput, "order has no id", nil)

// OrderFeed delivers per-document snapshots.
type OrderFeed interface {
	SubscribeOrder(id string, fn func(model.Order)) *changefeed.Subscription
}

// NotificationDedup remembers the last status successfully notified for
// each order. It lives as long as the dispatcher that owns it.
type NotificationDedup struct {
	mu   sync.Mutex
	last map[string]model.DeliveryStatus
}

// NewNotificationDedup returns an empty dedup table.
func NewNotificationDedup() *NotificationDedup {
	return &NotificationDedup{last: make(map[string]model.DeliveryStatus)}
}

// Get returns the last notified status of an order.
func (n *NotificationDedup) Get(orderID string) (model.DeliveryStatus, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	status, ok := n.last[orderID]
	return status, ok
}

func (n *NotificationDedup) set(orderID string, status model.DeliveryStatus) {
	n.mu.Lock()
	n.last[orderID] = status
	n.mu.Unlock()
}

// Len is the number of orders with a recorded notification.
func (n *NotificationDedup) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.last)
}

// Delivery is the pending result of one push send.
type Delivery struct {
	OrderID string
	Status  model.DeliveryStatus
	Message push.Message

	done chan struct{}
	sent bool
}

// Done is closed once the send attempt has finished.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Sent reports whether the gateway accepted the notification. It is only
// meaningful after Done is closed.
func (d *Delivery) Sent() bool {
	<-d.done
	return d.sent
}

// Wait blocks until the send finishes or ctx ends.
func (d *Delivery) Wait(ctx context.Context) (bool, error) {
	select {
	case <-d.done:
		return d.sent, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Dispatcher turns delivery status changes into push notifications, at
// most one per observed transition.
type Dispatcher struct {
	feed        OrderFeed
	tokens      tokens.Registry
	sender      push.Sender
	dedup       *NotificationDedup
	sendTimeout time.Duration
	pending     atomic.Int64
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDedup injects the dedup table, letting callers inspect it.
func WithDedup(dedup *NotificationDedup) DispatcherOption {
	return func(d *Dispatcher) { d.dedup = dedup }
}

// WithSendTimeout bounds each token lookup and push send.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.sendTimeout = timeout }
}

// NewDispatcher creates a Dispatcher.
// Parameters:
// - feed: source of per-order snapshots.
// - registry: resolves the owner's push token for each send.
// - sender: the push transport.
// - opts: optional dedup table and send timeout.
// Without WithDedup the dispatcher owns a fresh table.
func NewDispatcher(feed OrderFeed, registry tokens.Registry, sender push.Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		feed:        feed,
		tokens:      registry,
		sender:      sender,
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.dedup == nil {
		d.dedup = NewNotificationDedup()
	}
	return d
}

// Dedup exposes the dispatcher's dedup table.
func (d *Dispatcher) Dedup() *NotificationDedup {
	return d.dedup
}

func (d *Dispatcher) inFlight() int64 {
	return d.pending.Load()
}

// OrderWatch is a live subscription to one order.
type OrderWatch struct {
	OrderID string

	sub      *changefeed.Subscription
	stopOnce sync.Once
	stopped  chan struct{}

	mu         sync.Mutex
	deliveries []*Delivery
}

// Stop cancels the subscription. Safe to call more than once and from
// any goroutine.
func (w *OrderWatch) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.mu.Lock()
		sub := w.sub
		w.mu.Unlock()
		sub.Cancel()
		metrics.WatchStopped()
	})
}

// Stopped is closed once the watch has ended.
func (w *OrderWatch) Stopped() <-chan struct{} {
	return w.stopped
}

// Deliveries lists the sends started by this watch, oldest first.
func (w *OrderWatch) Deliveries() []*Delivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Delivery, len(w.deliveries))
	copy(out, w.deliveries)
	return out
}

func (w *OrderWatch) record(dl *Delivery) {
	w.mu.Lock()
	w.deliveries = append(w.deliveries, dl)
	w.mu.Unlock()
}

// WatchOrder subscribes to order and notifies its owner on every status
// change, starting with the current one. A delivered or cancelled order
// stops its own watch once the final send attempt completes.
func (d *Dispatcher) WatchOrder(ctx context.Context, order model.Order) (*OrderWatch, error) {
	if order.ID == "" {
		return nil, ErrInvalidOrder
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &OrderWatch{OrderID: order.ID, stopped: make(chan struct{})}
	metrics.WatchStarted()

	sub := d.feed.SubscribeOrder(order.ID, func(current model.Order) {
		select {
		case <-w.stopped:
			return
		default:
		}
		status := current.CurrentStatus()

		var after func()
		if status.IsTerminal() {
			after = w.Stop
		}

		dl := d.notify(current, after)
		if dl == nil {
			if after != nil {
				after()
			}
			return
		}
		w.record(dl)
	})

	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()
	// the first event may already have stopped the watch
	select {
	case <-w.stopped:
		sub.Cancel()
	default:
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
	}).Debug("watching order")
	return w, nil
}

// Notify handles a single order event. It returns nil when the status was
// already notified, otherwise the detached send.
func (d *Dispatcher) Notify(order model.Order) *Delivery {
	return d.notify(order, nil)
}

func (d *Dispatcher) notify(order model.Order, after func()) *Delivery {
	status := order.CurrentStatus()

	if last, ok := d.dedup.Get(order.ID); ok && last == status {
		metrics.Notification(string(status), metrics.ResultSkipped)
		return nil
	}

	dl := &Delivery{
		OrderID: order.ID,
		Status:  status,
		Message: BuildMessage(order),
		done:    make(chan struct{}),
	}

	d.pending.Add(1)
	go func() {
		defer func() {
			d.pending.Add(-1)
			close(dl.done)
			if after != nil {
				after()
			}
		}()
		dl.sent = d.send(order, dl.Message)
		if dl.sent {
			d.dedup.set(order.ID, status)
			metrics.Notification(string(status), metrics.ResultSent)
			return
		}
		metrics.Notification(string(status), metrics.ResultFailed)
	}()

	return dl
}

func (d *Dispatcher) send(order model.Order, msg push.Message) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	token, err := d.tokens.Lookup(ctx, order.UserID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", order.UserID).Error("failed to look up push token")
		return false
	}
	if token == "" {
		logrus.WithFields(logrus.Fields{
			"order_id": order.ID,
			"user_id":  order.UserID,
		}).Warn("no push token registered")
	}

	return d.sender.Send(ctx, token, msg)
}

// BuildMessage renders the notification for the order's current status.
func BuildMessage(order model.Order) push.Message {
	status := order.CurrentStatus()
	presentation := status.Known().Presentation()
	completed := status.IsTerminal()

	return push.Message{
		Title: fmt.Sprintf("Order #%s - %s", order.ShortOrderID(), presentation.Label),
		Body:  presentation.Body,
		Data: push.Data{
			OrderID:     order.ID,
			Status:      string(status),
			Progress:    status.Progress(),
			IsCompleted: completed,
			Ongoing:     !completed,
			AutoDismiss: completed,
			Icon:        presentation.Icon,
			Type:        "order_status",
		},
		Priority: push.PriorityHigh,
		Sound:    push.SoundDefault,
	}
}
