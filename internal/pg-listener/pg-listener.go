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

package pg_listener

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the channel the orders trigger notifies on.
const DefaultChannel = "order_change"

// NotificationHandler receives decoded notification payloads.
type NotificationHandler interface {
	HandleNotification(table string, data map[string]interface{}) error
}

// ListenerConfig configures a DBListener. Zero durations get defaults.
type ListenerConfig struct {
	PgConnStr string
	Channel   string
	Interval  time.Duration
	Timeout   time.Duration
}

// DBListener relays Postgres notifications on one channel to a handler.
type DBListener struct {
	config  ListenerConfig
	handler NotificationHandler
}

// NotificationPayload is the JSON sent by the orders trigger.
type NotificationPayload struct {
	Table string                 `json:"table"`
	Data  map[string]interface{} `json:"data"`
}

// NewDBListener creates a listener for config.Channel, falling back to
// DefaultChannel.
func NewDBListener(config ListenerConfig, handler NotificationHandler) *DBListener {
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.Interval == 0 {
		config.Interval = 90 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = time.Minute
	}
	return &DBListener{
		config:  config,
		handler: handler,
	}
}

// Start listens until ctx is cancelled. It only returns early if the
// channel cannot be subscribed to.
func (d *DBListener) Start(ctx context.Context) error {
	listener := pq.NewListener(d.config.PgConnStr, 10*time.Second, d.config.Timeout, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithError(err).WithField("event", ev).Warn("postgres listener event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(d.config.Channel); err != nil {
		return err
	}

	logrus.WithField("channel", d.config.Channel).Info("listening for postgres notifications")

	for {
		select {
		case <-ctx.Done():
			return nil
		case notification := <-listener.Notify:
			// nil after a reconnect
			if notification != nil {
				d.handleNotification(notification.Extra)
			}
		case <-time.After(d.config.Interval):
			go func() {
				if err := listener.Ping(); err != nil {
					logrus.WithError(err).Warn("postgres listener ping failed")
				}
			}()
		}
	}
}

func (d *DBListener) handleNotification(extra string) {
	payload, err := parsePayload(extra)
	if err != nil {
		logrus.WithError(err).Error("error unmarshalling notification payload")
		return
	}

	if err := d.handler.HandleNotification(payload.Table, payload.Data); err != nil {
		logrus.WithError(err).WithField("table", payload.Table).Error("error handling notification")
	}
}

func parsePayload(extra string) (NotificationPayload, error) {
	var payload NotificationPayload
	if err := json.Unmarshal([]byte(extra), &payload); err != nil {
		return payload, err
	}

	for key, value := range payload.Data {
		if floatValue, ok := value.(float64); ok && key == "id" {
			payload.Data[key] = strconv.FormatFloat(floatValue, 'f', -1, 64)
		}
	}
	return payload, nil
}
