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

package push

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/blnkfinance/ordersync/config"
	"github.com/sirupsen/logrus"
)

// Sender delivers one notification to one device token.
type Sender interface {
	Send(ctx context.Context, token string, msg Message) bool
}

// Client posts notifications to an Expo compatible push gateway. Each call
// is a single attempt; retries belong to the caller.
type Client struct {
	url     string
	headers map[string]string
	http    *http.Client
}

// NewClient creates a push gateway client.
// Parameters:
// - url: the gateway endpoint messages are POSTed to.
// - timeout: bound on each request.
// - headers: extra headers sent with every request, such as an access token.
func NewClient(url string, timeout time.Duration, headers map[string]string) *Client {
	return &Client{
		url:     url,
		headers: headers,
		http:    &http.Client{Timeout: timeout},
	}
}

// NewClientFromConfig builds a client from the push section of the configuration.
func NewClientFromConfig(cnf *config.Configuration) *Client {
	return NewClient(cnf.Push.GatewayURL, time.Duration(cnf.Push.TimeoutSec)*time.Second, cnf.Push.Headers)
}

// Send reports true only when the gateway answers 2xx with data.status "ok".
// Every failure is logged and reported as false. An empty token fails
// without a network call.
func (c *Client) Send(ctx context.Context, token string, msg Message) bool {
	fields := logrus.Fields{
		"order_id": msg.Data.OrderID,
		"status":   msg.Data.Status,
	}
	if token == "" {
		logrus.WithFields(fields).Warn("push skipped: no device token registered")
		return false
	}

	msg.To = token
	if msg.Priority == "" {
		msg.Priority = PriorityHigh
	}
	if msg.Sound == "" {
		msg.Sound = SoundDefault
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("failed to marshal push payload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("failed to create push request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("push request failed")
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("failed to read push response")
		return false
	}

	fields["status_code"] = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fields["response"] = string(body)
		logrus.WithFields(fields).Error("push gateway rejected request")
		return false
	}

	var t ticket
	if err := json.Unmarshal(body, &t); err != nil {
		fields["response"] = string(body)
		logrus.WithFields(fields).WithError(err).Error("push gateway returned an unreadable response")
		return false
	}
	if t.Data.Status != "ok" {
		fields["ticket_status"] = t.Data.Status
		fields["ticket_message"] = t.Data.Message
		logrus.WithFields(fields).Error("push gateway did not accept notification")
		return false
	}

	logrus.WithFields(fields).WithField("ticket_id", t.Data.ID).Info("push notification sent")
	return true
}
