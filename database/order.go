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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/ordersync/internal/apierror"
	"github.com/blnkfinance/ordersync/model"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

const orderColumns = `store_id, order_id, user_id, items, price_info, order_type, frequency, duration, time_slot,
	address, phone_number, payment_method, status, delivery_status, payment_details, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateOrder inserts a new order. The store id and timestamps are assigned here.
func (d Datasource) CreateOrder(ctx context.Context, order *model.Order) (*model.Order, error) {
	ctx, span := otel.Tracer("Order").Start(ctx, "Saving order to db")
	defer span.End()

	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal items", err)
	}
	priceInfo, err := json.Marshal(order.PriceInfo)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal price info", err)
	}
	paymentDetails, err := marshalPaymentDetails(order.PaymentDetails)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal payment details", err)
	}

	if order.ID == "" {
		order.ID = model.GenerateUUIDWithSuffix("order")
	}
	if order.DeliveryStatus == "" {
		order.DeliveryStatus = model.DeliveryStatusPending
	}
	if order.Status == "" {
		order.Status = model.PaymentPending
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO ordersync.orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		order.ID, order.OrderID, order.UserID, items, priceInfo, order.OrderType,
		nullString(order.Frequency), nullString(order.Duration), nullString(order.TimeSlot),
		order.Address, order.PhoneNumber, order.PaymentMethod, order.Status, string(order.DeliveryStatus),
		paymentDetails, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Order with this transaction id already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create order", err)
	}

	return order, nil
}

// GetOrder retrieves an order by its store id.
func (d Datasource) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	ctx, span := otel.Tracer("Order").Start(ctx, "Fetching order from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM ordersync.orders WHERE store_id = $1`, id)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", id), err)
	}
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order data", err)
	}
	return order, nil
}

// GetOrderByTxnID retrieves an order by the client transaction id it was checked out with.
func (d Datasource) GetOrderByTxnID(ctx context.Context, txnID string) (*model.Order, error) {
	ctx, span := otel.Tracer("Order").Start(ctx, "Fetching order by txn id from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM ordersync.orders WHERE order_id = $1`, txnID)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with transaction ID '%s' not found", txnID), err)
	}
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order data", err)
	}
	return order, nil
}

// GetOrdersByUser returns every order of a user ordered by created_at descending.
func (d Datasource) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	ctx, span := otel.Tracer("Order").Start(ctx, "Fetching user orders from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM ordersync.orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch orders", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan order data", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate orders", err)
	}

	return orders, nil
}

// UpdateOrder writes the set fields of update. The write is unconditional:
// no compare-and-set on the previous status.
func (d Datasource) UpdateOrder(ctx context.Context, id string, update model.OrderUpdate) error {
	ctx, span := otel.Tracer("Order").Start(ctx, "Updating order")
	defer span.End()

	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.DeliveryStatus != nil {
		add("delivery_status", string(*update.DeliveryStatus))
	}
	if update.PaymentDetails != nil {
		details, err := marshalPaymentDetails(update.PaymentDetails)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal payment details", err)
		}
		add("payment_details", details)
	}
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = time.Now()
	}
	add("updated_at", update.UpdatedAt)

	args = append(args, id)
	query := fmt.Sprintf("UPDATE ordersync.orders SET %s WHERE store_id = $%d", strings.Join(sets, ", "), len(args))

	result, err := d.Conn.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update order", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Order with ID '%s' not found", id), nil)
	}
	return nil
}

func scanOrder(row rowScanner) (*model.Order, error) {
	order := &model.Order{}
	var (
		items, priceInfo, paymentDetails []byte
		frequency, duration, timeSlot    sql.NullString
		deliveryStatus                   string
	)
	err := row.Scan(
		&order.ID, &order.OrderID, &order.UserID, &items, &priceInfo, &order.OrderType,
		&frequency, &duration, &timeSlot,
		&order.Address, &order.PhoneNumber, &order.PaymentMethod, &order.Status, &deliveryStatus,
		&paymentDetails, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Frequency = frequency.String
	order.Duration = duration.String
	order.TimeSlot = timeSlot.String
	order.DeliveryStatus = model.DeliveryStatus(deliveryStatus)

	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return nil, err
		}
	}
	if len(priceInfo) > 0 {
		if err := json.Unmarshal(priceInfo, &order.PriceInfo); err != nil {
			return nil, err
		}
	}
	if len(paymentDetails) > 0 {
		if err := json.Unmarshal(paymentDetails, &order.PaymentDetails); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func marshalPaymentDetails(details model.PaymentDetails) ([]byte, error) {
	if details == nil {
		return nil, nil
	}
	return json.Marshal(details)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
