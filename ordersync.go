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
	"embed"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/database"
	"github.com/blnkfinance/ordersync/internal/cache"
	"github.com/blnkfinance/ordersync/internal/changefeed"
	"github.com/blnkfinance/ordersync/internal/push"
	redis_db "github.com/blnkfinance/ordersync/internal/redis-db"
	"github.com/blnkfinance/ordersync/internal/tokens"
	"github.com/blnkfinance/ordersync/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Engine wires the order store, change feed, notification dispatcher and
// payment bridge, and keeps one OrderSyncManager per synced user.
type Engine struct {
	config     *config.Configuration
	datasource database.IDataSource
	store      *feedStore
	redis      redis.UniversalClient
	feed       *changefeed.Feed
	tokens     tokens.Registry
	queue      ConfirmationQueue
	dispatcher *Dispatcher
	payments   *PaymentBridge

	mu       sync.Mutex
	managers map[string]*OrderSyncManager

	closeRedis func() error
}

type engineOptions struct {
	databaseListener bool
}

// EngineOption customises an Engine.
type EngineOption func(*engineOptions)

// WithDatabaseListener tells the engine that a pg_listener feeds the change
// feed with every order write. The engine then stops reporting its own
// writes, which the order_change trigger already delivers.
func WithDatabaseListener() EngineOption {
	return func(o *engineOptions) { o.databaseListener = true }
}

// NewEngine connects to the configured Redis and push gateway.
func NewEngine(db database.IDataSource, opts ...EngineOption) (*Engine, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(redis_db.SplitAddresses(configuration.Redis.Dns))
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(configuration)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}
	engine := NewEngineWith(configuration, db, redisClient.Client(), push.NewClientFromConfig(configuration), queue, opts...)
	engine.closeRedis = redisClient.Close
	return engine, nil
}

// NewEngineWith builds an Engine from explicit dependencies. queue may be
// nil, in which case no confirmation push is scheduled after payment.
func NewEngineWith(cnf *config.Configuration, db database.IDataSource, client redis.UniversalClient, sender push.Sender, queue ConfirmationQueue, opts ...EngineOption) *Engine {
	var options engineOptions
	for _, opt := range opts {
		opt(&options)
	}

	feed := changefeed.New(db)
	store := &feedStore{IDataSource: db, feed: feed, notify: !options.databaseListener}
	registry := tokens.NewRedisRegistry(client)

	sendTimeout := time.Duration(cnf.Push.TimeoutSec) * time.Second
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	return &Engine{
		config:     cnf,
		datasource: db,
		store:      store,
		redis:      client,
		feed:       feed,
		tokens:     registry,
		queue:      queue,
		dispatcher: NewDispatcher(feed, registry, sender, WithSendTimeout(sendTimeout)),
		payments:   NewPaymentBridge(cnf, store, cache.NewCache(client, 0, 0), client, queue),
		managers:   make(map[string]*OrderSyncManager),
	}
}

// Feed is the change feed every watch subscribes to.
func (e *Engine) Feed() *changefeed.Feed {
	return e.feed
}

// Dispatcher is the engine's notification dispatcher.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Payments is the checkout bridge.
func (e *Engine) Payments() *PaymentBridge {
	return e.payments
}

// Tokens is the push-token registry.
func (e *Engine) Tokens() tokens.Registry {
	return e.tokens
}

// StartSync starts mirroring a user's orders, or restarts the owner query
// when the user is already synced.
func (e *Engine) StartSync(userID string) (*OrderSyncManager, <-chan ActiveOrderSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	manager, ok := e.managers[userID]
	if !ok {
		manager = NewOrderSyncManager(e.feed, e.dispatcher)
	}
	updates, err := manager.Watch(context.Background(), userID)
	if err != nil {
		return nil, nil, err
	}
	e.managers[userID] = manager
	return manager, updates, nil
}

// StopSync stops the user's manager. It reports whether one was running.
func (e *Engine) StopSync(userID string) bool {
	e.mu.Lock()
	manager, ok := e.managers[userID]
	delete(e.managers, userID)
	e.mu.Unlock()

	if ok {
		manager.Stop()
	}
	return ok
}

// ActiveOrders returns the last known active set of a synced user.
func (e *Engine) ActiveOrders(userID string) (ActiveOrderSet, bool) {
	e.mu.Lock()
	manager, ok := e.managers[userID]
	e.mu.Unlock()
	if !ok {
		return ActiveOrderSet{}, false
	}
	return manager.ActiveOrders(), true
}

// SyncedUsers lists the users with a running manager.
func (e *Engine) SyncedUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	users := make([]string, 0, len(e.managers))
	for id := range e.managers {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// RegisterPushToken stores the user's device token and starts syncing the
// user's orders.
func (e *Engine) RegisterPushToken(ctx context.Context, userID, token string) error {
	if !tokens.ValidToken(token) {
		return tokens.ErrInvalidToken
	}
	if err := e.tokens.Register(ctx, userID, token); err != nil {
		return err
	}
	_, _, err := e.StartSync(userID)
	return err
}

// GetOrder reads an order by its store id.
func (e *Engine) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return e.datasource.GetOrder(ctx, id)
}

// UpdateDeliveryStatus writes a fulfillment transition. The value is not
// checked against the delivery sequence.
func (e *Engine) UpdateDeliveryStatus(ctx context.Context, id string, status model.DeliveryStatus) (*model.Order, error) {
	if err := e.store.UpdateOrder(ctx, id, model.OrderUpdate{DeliveryStatus: &status}); err != nil {
		return nil, err
	}
	return e.datasource.GetOrder(ctx, id)
}

// Close stops every manager and the change feed.
func (e *Engine) Close() {
	e.mu.Lock()
	managers := e.managers
	e.managers = make(map[string]*OrderSyncManager)
	e.mu.Unlock()

	for _, manager := range managers {
		manager.Stop()
	}
	e.feed.Close()

	if closer, ok := e.queue.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close queue")
		}
	}
	if e.closeRedis != nil {
		if err := e.closeRedis(); err != nil {
			logrus.WithError(err).Warn("failed to close redis client")
		}
	}
}

// feedStore reports its own writes to the change feed when no database
// listener does. Exactly one source reports each write.
type feedStore struct {
	database.IDataSource
	feed   *changefeed.Feed
	notify bool
}

func (s *feedStore) CreateOrder(ctx context.Context, order *model.Order) (*model.Order, error) {
	created, err := s.IDataSource.CreateOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	if s.notify {
		s.feed.Notify(created.ID, created.UserID)
	}
	return created, nil
}

func (s *feedStore) UpdateOrder(ctx context.Context, id string, update model.OrderUpdate) error {
	if err := s.IDataSource.UpdateOrder(ctx, id, update); err != nil {
		return err
	}
	if s.notify {
		s.feed.Notify(id, "")
	}
	return nil
}
