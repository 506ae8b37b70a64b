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

// Package metrics holds the Prometheus collectors for notification
// dispatch, order watches and payment outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ordersync"

// Notification results.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

var (
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Status notifications by delivery status and result.",
		},
		[]string{"status", "result"},
	)

	activeWatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "order_watches_active",
			Help:      "Orders currently watched for status transitions.",
		},
	)

	syncedOwners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_owners_active",
			Help:      "Owners with a running active-order sync.",
		},
	)

	paymentOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_outcomes_total",
			Help:      "Resolved checkout sessions by outcome.",
		},
		[]string{"outcome"},
	)

	feedErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_feed_errors_total",
			Help:      "Errors raised while re-reading orders after a change.",
		},
	)
)

func init() {
	prometheus.MustRegister(notifications, activeWatches, syncedOwners, paymentOutcomes, feedErrors)
}

// Notification counts a notification attempt by status and result.
func Notification(status, result string) {
	notifications.WithLabelValues(status, result).Inc()
}

// WatchStarted counts a new live order watch.
func WatchStarted() { activeWatches.Inc() }

// WatchStopped counts a finished order watch.
func WatchStopped() { activeWatches.Dec() }

// OwnerSyncStarted counts a user whose orders are being synced.
func OwnerSyncStarted() { syncedOwners.Inc() }

// OwnerSyncStopped counts a user whose sync ended.
func OwnerSyncStopped() { syncedOwners.Dec() }

// PaymentOutcome counts resolved payment sessions.
func PaymentOutcome(outcome string) {
	paymentOutcomes.WithLabelValues(outcome).Inc()
}

// FeedError counts failed change feed reads.
func FeedError() { feedErrors.Inc() }

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
