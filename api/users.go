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

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/api/model"
	"github.com/gin-gonic/gin"
)

// RegisterPushToken stores a device token and starts the user's order sync.
func (a Api) RegisterPushToken(c *gin.Context) {
	var token model.RegisterPushToken
	if err := c.ShouldBindJSON(&token); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := token.ValidateRegisterPushToken(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.engine.RegisterPushToken(c.Request.Context(), c.Param("id"), token.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Push token registered successfully"})
}

// StartSync begins watching a user's orders. The first snapshot is loaded
// asynchronously, so the response may list no orders yet.
func (a Api) StartSync(c *gin.Context) {
	manager, _, err := a.engine.StartSync(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toActiveOrders(manager.ActiveOrders()))
}

// StopSync stops the user's order sync.
func (a Api) StopSync(c *gin.Context) {
	if !a.engine.StopSync(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sync running for user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sync stopped"})
}

// GetActiveOrders returns the user's last known active orders.
func (a Api) GetActiveOrders(c *gin.Context) {
	set, ok := a.engine.ActiveOrders(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sync running for user"})
		return
	}
	c.JSON(http.StatusOK, toActiveOrders(set))
}

func toActiveOrders(set ordersync.ActiveOrderSet) model.ActiveOrders {
	return model.ActiveOrders{
		UserID:    set.OwnerID,
		Orders:    set.Orders,
		UpdatedAt: set.UpdatedAt,
	}
}
