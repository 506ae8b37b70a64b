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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/push"
	redis_db "github.com/blnkfinance/ordersync/internal/redis-db"
	"github.com/blnkfinance/ordersync/internal/tokens"
	"github.com/blnkfinance/ordersync/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

// TypeOrderConfirmation is the asynq task type of the confirmation push.
const TypeOrderConfirmation = "order:confirmation"

// Queue enqueues background push work.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
}

// ConfirmationPayload is the body of an order confirmation task.
type ConfirmationPayload struct {
	OrderID string `json:"order_id"`
	TxnID   string `json:"txn_id"`
	UserID  string `json:"user_id"`
}

// RedisConnOpt converts the configured Redis DNS into asynq options.
func RedisConnOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Username:  redisOption.Username,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// NewQueue connects a Queue to the configured Redis.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisConnOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis url: %w", err)
	}
	return NewQueueWithOpt(opt, conf.Queue.PushQueue), nil
}

// NewQueueWithOpt creates a Queue enqueuing into queueName.
func NewQueueWithOpt(opt asynq.RedisConnOpt, queueName string) *Queue {
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		name:      queueName,
	}
}

// Name is the asynq queue the tasks go to.
func (q *Queue) Name() string {
	return q.name
}

// EnqueueOrderConfirmation schedules a single-attempt confirmation push.
// A second enqueue for the same transaction is ignored.
func (q *Queue) EnqueueOrderConfirmation(ctx context.Context, order model.Order) error {
	ctx, span := otel.Tracer("Queue").Start(ctx, "Enqueue order confirmation")
	defer span.End()

	payload, err := json.Marshal(ConfirmationPayload{OrderID: order.ID, TxnID: order.OrderID, UserID: order.UserID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeOrderConfirmation, payload,
		asynq.TaskID(confirmationTaskID(order.OrderID)),
		asynq.Queue(q.name),
		asynq.MaxRetry(0),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"txnid":    order.OrderID,
		"task_id":  info.ID,
	}).Info("enqueued order confirmation")
	return nil
}

// Close releases the client and inspector connections.
func (q *Queue) Close() error {
	return errors.Join(q.Inspector.Close(), q.Client.Close())
}

func confirmationTaskID(txnID string) string {
	return "confirm_" + txnID
}

// OrderReader loads a single order.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
}

// ConfirmationHandler sends the order confirmation push in the worker.
type ConfirmationHandler struct {
	orders OrderReader
	tokens tokens.Registry
	sender push.Sender
}

// NewConfirmationHandler creates the worker-side handler of confirmation tasks.
func NewConfirmationHandler(orders OrderReader, registry tokens.Registry, sender push.Sender) *ConfirmationHandler {
	return &ConfirmationHandler{orders: orders, tokens: registry, sender: sender}
}

// ProcessTask implements asynq.Handler.
func (h *ConfirmationHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ConfirmationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid confirmation payload: %v: %w", err, asynq.SkipRetry)
	}

	order, err := h.orders.GetOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}

	token, err := h.tokens.Lookup(ctx, order.UserID)
	if err != nil {
		return err
	}

	if !h.sender.Send(ctx, token, ConfirmationMessage(*order)) {
		return fmt.Errorf("confirmation push for order %s was not accepted", order.ID)
	}
	return nil
}

// ConfirmationMessage is the push sent once a payment succeeds.
func ConfirmationMessage(order model.Order) push.Message {
	return push.Message{
		Title: "Order Confirmed! 🎉",
		Body:  fmt.Sprintf("Your order #%s has been placed successfully. We'll notify you as it moves along.", order.ShortOrderID()),
		Data: push.Data{
			OrderID:  order.ID,
			Status:   string(order.CurrentStatus()),
			Progress: order.CurrentStatus().Progress(),
			Ongoing:  true,
			Icon:     model.DeliveryStatusPending.Presentation().Icon,
			Type:     "order_confirmation",
		},
		Priority: push.PriorityHigh,
		Sound:    push.SoundDefault,
	}
}
