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

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Payment outcome values stored in Order.Status.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
)

// Values of PaymentDetails["status"].
const (
	PaymentDetailSuccess   = "success"
	PaymentDetailFailed    = "failed"
	PaymentDetailCancelled = "cancelled"
)

const (
	OrderTypeOneTime      = "one-time"
	OrderTypeSubscription = "subscription"
)

// Item is a single line of an order.
type Item struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// PriceInfo carries the order totals. Amounts are serialized as strings
// with exactly two fraction digits.
type PriceInfo struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`
	Savings  decimal.Decimal `json:"savings"`
}

type priceInfoJSON struct {
	Subtotal string `json:"subtotal"`
	Total    string `json:"total"`
	Savings  string `json:"savings"`
}

// MarshalJSON writes every amount with two fraction digits.
func (p PriceInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceInfoJSON{
		Subtotal: p.Subtotal.StringFixed(2),
		Total:    p.Total.StringFixed(2),
		Savings:  p.Savings.StringFixed(2),
	})
}

// UnmarshalJSON reads the decimal strings written by MarshalJSON. Missing
// amounts are zero.
func (p *PriceInfo) UnmarshalJSON(data []byte) error {
	var raw priceInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, f := range []struct {
		in  string
		out *decimal.Decimal
	}{{raw.Subtotal, &p.Subtotal}, {raw.Total, &p.Total}, {raw.Savings, &p.Savings}} {
		if f.in == "" {
			*f.out = decimal.Zero
			continue
		}
		d, err := decimal.NewFromString(f.in)
		if err != nil {
			return err
		}
		*f.out = d
	}
	return nil
}

// PaymentDetails is the flat map of gateway fields written by the payment
// bridge. The "status" key holds success, failed or cancelled.
type PaymentDetails map[string]string

// Status returns the payment detail status or an empty string.
func (p PaymentDetails) Status() string {
	if p == nil {
		return ""
	}
	return p["status"]
}

// Order mirrors one order document of the authoritative store.
type Order struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	UserID         string         `json:"user_id"`
	Items          []Item         `json:"items"`
	PriceInfo      PriceInfo      `json:"price_info"`
	OrderType      string         `json:"order_type"`
	Frequency      string         `json:"frequency,omitempty"`
	Duration       string         `json:"duration,omitempty"`
	TimeSlot       string         `json:"time_slot,omitempty"`
	Address        string         `json:"address"`
	PhoneNumber    string         `json:"phone_number"`
	PaymentMethod  string         `json:"payment_method"`
	Status         string         `json:"status"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	PaymentDetails PaymentDetails `json:"payment_details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CurrentStatus resolves the status a notification is computed from:
// the delivery status, else the payment status, else pending.
func (o Order) CurrentStatus() DeliveryStatus {
	if o.DeliveryStatus != "" {
		return o.DeliveryStatus
	}
	if o.Status != "" {
		return DeliveryStatus(o.Status)
	}
	return DeliveryStatusPending
}

// IsActive reports whether the order belongs to its owner's active set:
// not cancelled, not delivered, and paid.
func (o Order) IsActive() bool {
	if o.Status == PaymentCancelled {
		return false
	}
	if o.DeliveryStatus == DeliveryStatusCompleted || o.DeliveryStatus == DeliveryStatusCancelled {
		return false
	}
	return o.PaymentDetails.Status() == PaymentDetailSuccess
}

// ShortOrderID returns the last six characters of the client transaction id.
func (o Order) ShortOrderID() string {
	if len(o.OrderID) <= 6 {
		return o.OrderID
	}
	return o.OrderID[len(o.OrderID)-6:]
}

// OrderUpdate is a partial write. Nil fields are left untouched;
// UpdatedAt is always written.
type OrderUpdate struct {
	Status         *string
	DeliveryStatus *DeliveryStatus
	PaymentDetails PaymentDetails
	UpdatedAt      time.Time
}

// Apply copies the set fields of the update onto the order.
func (u OrderUpdate) Apply(o *Order) {
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.DeliveryStatus != nil {
		o.DeliveryStatus = *u.DeliveryStatus
	}
	if u.PaymentDetails != nil {
		o.PaymentDetails = u.PaymentDetails
	}
	o.UpdatedAt = u.UpdatedAt
}

// ActiveOrders filters orders down to the active ones, keeping their order.
func ActiveOrders(orders []Order) []Order {
	active := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.IsActive() {
			active = append(active, o)
		}
	}
	return active
}
