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

package model

import "math"

// DeliveryStatus is the fulfillment state of an order.
type DeliveryStatus string

const (
	DeliveryStatusPending        DeliveryStatus = "pending"
	DeliveryStatusProcessing     DeliveryStatus = "processing"
	DeliveryStatusShipped        DeliveryStatus = "shipped"
	DeliveryStatusOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryStatusCompleted      DeliveryStatus = "completed"
	DeliveryStatusCancelled      DeliveryStatus = "cancelled"

	// DeliveryStatusUnknown stands in for any value outside the known set.
	DeliveryStatusUnknown DeliveryStatus = "unknown"
)

// DeliverySequence is the forward path of an order. Cancelled is reachable
// from any non-terminal state and is not part of it.
var DeliverySequence = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusProcessing,
	DeliveryStatusShipped,
	DeliveryStatusOutForDelivery,
	DeliveryStatusCompleted,
}

// Known normalizes the status: any value outside the known set becomes
// DeliveryStatusUnknown.
func (s DeliveryStatus) Known() DeliveryStatus {
	switch s {
	case DeliveryStatusPending, DeliveryStatusProcessing, DeliveryStatusShipped,
		DeliveryStatusOutForDelivery, DeliveryStatusCompleted, DeliveryStatusCancelled:
		return s
	}
	return DeliveryStatusUnknown
}

// Index is the position of the status in DeliverySequence, or -1.
func (s DeliveryStatus) Index() int {
	for i, v := range DeliverySequence {
		if v == s {
			return i
		}
	}
	return -1
}

// Progress is the percentage along DeliverySequence. Statuses outside the
// sequence count as index 0.
func (s DeliveryStatus) Progress() int {
	idx := s.Index()
	if idx < 0 {
		idx = 0
	}
	return int(math.Round(100 * float64(idx) / float64(len(DeliverySequence)-1)))
}

// IsTerminal reports whether no further delivery transition is expected.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusCompleted || s == DeliveryStatusCancelled
}

// StatusPresentation is the user-facing rendering of a status.
type StatusPresentation struct {
	Label string
	Body  string
	Icon  string
}

// Presentation renders the status. Every known variant and the unknown
// variant have an explicit case.
func (s DeliveryStatus) Presentation() StatusPresentation {
	switch s.Known() {
	case DeliveryStatusPending:
		return StatusPresentation{Label: "Order Placed", Body: "We're assigning a delivery agent to your order.", Icon: "hourglass"}
	case DeliveryStatusProcessing:
		return StatusPresentation{Label: "Processing", Body: "Your order is being packed and will be ready in about 15 minutes.", Icon: "package"}
	case DeliveryStatusShipped:
		return StatusPresentation{Label: "Shipped", Body: "Your order has been picked up by our delivery agent.", Icon: "truck"}
	case DeliveryStatusOutForDelivery:
		return StatusPresentation{Label: "Out for Delivery", Body: "Your order is on its way and will arrive in about 10 minutes.", Icon: "bike"}
	case DeliveryStatusCompleted:
		return StatusPresentation{Label: "Delivered", Body: "Your order has been delivered. Enjoy your meal!", Icon: "check"}
	case DeliveryStatusCancelled:
		return StatusPresentation{Label: "Cancelled", Body: "Your order has been cancelled.", Icon: "cross"}
	case DeliveryStatusUnknown:
		return StatusPresentation{Label: "Status Update", Body: "We couldn't determine the status of your order.", Icon: "question"}
	}
	return StatusPresentation{}
}

// IsMonotonic reports whether the observed statuses never move backwards
// along DeliverySequence. Cancelled observations are ignored.
func IsMonotonic(observed []DeliveryStatus) bool {
	last := -1
	for _, s := range observed {
		if s == DeliveryStatusCancelled {
			continue
		}
		idx := s.Index()
		if idx < last {
			return false
		}
		last = idx
	}
	return true
}
