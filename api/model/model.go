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
	"errors"
	"regexp"
	"time"

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// CreateCheckout is the body of POST /checkout.
type CreateCheckout struct {
	UserID      string          `json:"user_id"`
	Items       []model.Item    `json:"items"`
	PriceInfo   model.PriceInfo `json:"price_info"`
	OrderType   string          `json:"order_type"`
	Frequency   string          `json:"frequency"`
	Duration    string          `json:"duration"`
	TimeSlot    string          `json:"time_slot"`
	Address     string          `json:"address"`
	PhoneNumber string          `json:"phone_number"`
	FirstName   string          `json:"first_name"`
	Email       string          `json:"email"`
	ProductInfo string          `json:"product_info"`
}

// CheckoutResponse describes a prepared checkout.
type CheckoutResponse struct {
	TxnID   string      `json:"txnid"`
	OrderID string      `json:"order_id"`
	State   string      `json:"state"`
	FormURL string      `json:"form_url"`
	Fields  interface{} `json:"fields"`
}

// Navigation is a URL the payment web view is about to load, with the
// wallet schemes the device can open.
type Navigation struct {
	URL     string   `json:"url"`
	CanOpen []string `json:"can_open"`
}

// NavigationResponse tells the web view how to handle a navigation.
type NavigationResponse struct {
	Action          string `json:"action"`
	OpenURL         string `json:"open_url,omitempty"`
	Message         string `json:"message,omitempty"`
	Result          string `json:"result,omitempty"`
	RedirectTo      string `json:"redirect_to,omitempty"`
	RedirectAfterMs int64  `json:"redirect_after_ms,omitempty"`
}

// RegisterPushToken is the body of PUT /users/:id/push-token.
type RegisterPushToken struct {
	Token string `json:"token"`
}

// UpdateDeliveryStatus is the body of PUT /orders/:id/delivery-status.
type UpdateDeliveryStatus struct {
	DeliveryStatus string `json:"delivery_status"`
}

// ActiveOrders is a user's last known active set.
type ActiveOrders struct {
	UserID    string        `json:"user_id"`
	Orders    []model.Order `json:"orders"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ValidateCreateCheckout checks the items, totals and contact fields.
func (c *CreateCheckout) ValidateCreateCheckout() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.UserID, validation.Required),
		validation.Field(&c.Items, validation.Required, validation.Each(validation.By(validateItem))),
		validation.Field(&c.PriceInfo, validation.By(validatePriceInfo)),
		validation.Field(&c.OrderType, validation.Required, validation.In(model.OrderTypeOneTime, model.OrderTypeSubscription)),
		validation.Field(&c.Frequency, validation.When(c.OrderType == model.OrderTypeSubscription, validation.Required)),
		validation.Field(&c.Duration, validation.When(c.OrderType == model.OrderTypeSubscription, validation.Required)),
		validation.Field(&c.Address, validation.Required),
		validation.Field(&c.PhoneNumber, validation.Required, validation.Match(phonePattern).Error("must be 10 to 15 digits")),
		validation.Field(&c.FirstName, validation.Required),
		validation.Field(&c.Email, validation.Required, validation.Match(emailPattern).Error("must be a valid email address")),
	)
}

// ToCheckoutRequest converts the body into the engine's checkout request.
func (c *CreateCheckout) ToCheckoutRequest() ordersync.CheckoutRequest {
	return ordersync.CheckoutRequest{
		UserID:      c.UserID,
		Items:       c.Items,
		PriceInfo:   c.PriceInfo,
		OrderType:   c.OrderType,
		Frequency:   c.Frequency,
		Duration:    c.Duration,
		TimeSlot:    c.TimeSlot,
		Address:     c.Address,
		PhoneNumber: c.PhoneNumber,
		FirstName:   c.FirstName,
		Email:       c.Email,
		ProductInfo: c.ProductInfo,
	}
}

func validateItem(value interface{}) error {
	item, ok := value.(model.Item)
	if !ok {
		return errors.New("invalid item")
	}
	return validation.ValidateStruct(&item,
		validation.Field(&item.ID, validation.Required),
		validation.Field(&item.Name, validation.Required),
		validation.Field(&item.Quantity, validation.Required, validation.Min(1)),
		validation.Field(&item.Price, validation.By(nonNegative)),
	)
}

func validatePriceInfo(value interface{}) error {
	info, ok := value.(model.PriceInfo)
	if !ok {
		return errors.New("invalid price info")
	}
	if !info.Total.IsPositive() {
		return errors.New("total must be greater than zero")
	}
	if info.Subtotal.IsNegative() || info.Savings.IsNegative() {
		return errors.New("amounts cannot be negative")
	}
	return nil
}

func nonNegative(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid amount")
	}
	if amount.IsNegative() {
		return errors.New("cannot be negative")
	}
	return nil
}

// ValidateNavigation requires a URL.
func (n *Navigation) ValidateNavigation() error {
	return validation.ValidateStruct(n,
		validation.Field(&n.URL, validation.Required),
	)
}

// ValidateRegisterPushToken requires a token.
func (r *RegisterPushToken) ValidateRegisterPushToken() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Token, validation.Required),
	)
}

// ValidateUpdateDeliveryStatus requires a status. Its value is not checked
// against the delivery sequence.
func (u *UpdateDeliveryStatus) ValidateUpdateDeliveryStatus() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.DeliveryStatus, validation.Required),
	)
}
