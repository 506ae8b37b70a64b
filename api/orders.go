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

package api

import (
	"net/http"

	"github.com/blnkfinance/ordersync/api/model"
	domain "github.com/blnkfinance/ordersync/model"
	"github.com/gin-gonic/gin"
)

// GetOrder returns a single order by its store id.
func (a Api) GetOrder(c *gin.Context) {
	order, err := a.engine.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// UpdateDeliveryStatus is written by the fulfillment side. Any value is
// stored as given.
func (a Api) UpdateDeliveryStatus(c *gin.Context) {
	var update model.UpdateDeliveryStatus
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := update.ValidateUpdateDeliveryStatus(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	order, err := a.engine.UpdateDeliveryStatus(c.Request.Context(), c.Param("id"), domain.DeliveryStatus(update.DeliveryStatus))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
