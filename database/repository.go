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

	"github.com/blnkfinance/ordersync/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	order // Interface for order-related operations
}

// order defines methods for handling order records.
type order interface {
	CreateOrder(ctx context.Context, order *model.Order) (*model.Order, error)  // Persists a new order and assigns its store id
	GetOrder(ctx context.Context, id string) (*model.Order, error)              // Retrieves an order by store id
	GetOrderByTxnID(ctx context.Context, txnID string) (*model.Order, error)    // Retrieves an order by client transaction id
	GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)  // Retrieves a user's orders, newest first
	UpdateOrder(ctx context.Context, id string, update model.OrderUpdate) error // Applies a partial update to an order
}
