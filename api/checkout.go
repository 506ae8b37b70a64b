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
	"github.com/blnkfinance/ordersync/internal/deeplink"
	"github.com/blnkfinance/ordersync/internal/payu"
	"github.com/gin-gonic/gin"
)

// CreateCheckout persists a pending order and returns the signed gateway form.
func (a Api) CreateCheckout(c *gin.Context) {
	var newCheckout model.CreateCheckout
	if err := c.ShouldBindJSON(&newCheckout); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := newCheckout.ValidateCreateCheckout(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	session, err := a.engine.Payments().Prepare(c.Request.Context(), newCheckout.ToCheckoutRequest())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.CheckoutResponse{
		TxnID:   session.TxnID,
		OrderID: session.OrderID,
		State:   string(session.State),
		FormURL: "/checkout/" + session.TxnID + "/form",
		Fields:  session.Fields,
	})
}

// CheckoutForm serves the page that posts the signed fields to the gateway.
func (a Api) CheckoutForm(c *gin.Context) {
	session, err := a.engine.Payments().Present(c.Request.Context(), c.Param("txnid"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := payu.RenderForm(c.Writer, session.ActionURL, session.Fields); err != nil {
		_ = c.Error(err)
	}
}

// Navigate decides what the payment web view does with a navigation.
func (a Api) Navigate(c *gin.Context) {
	var navigation model.Navigation
	if err := c.ShouldBindJSON(&navigation); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := navigation.ValidateNavigation(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	opener := deeplink.NewCapabilities(navigation.CanOpen)
	decision, err := a.engine.Payments().Navigate(c.Request.Context(), c.Param("txnid"), navigation.URL, opener)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNavigationResponse(decision))
}

// CancelCheckout records a user cancellation of a presented checkout.
func (a Api) CancelCheckout(c *gin.Context) {
	if err := a.engine.Payments().Cancel(c.Request.Context(), c.Param("txnid")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment cancelled", "result": ordersync.OutcomeCancelled})
}

func toNavigationResponse(d ordersync.NavigationDecision) model.NavigationResponse {
	return model.NavigationResponse{
		Action:          string(d.Action),
		OpenURL:         d.OpenURL,
		Message:         d.Message,
		Result:          d.Result,
		RedirectTo:      d.RedirectTo,
		RedirectAfterMs: d.RedirectAfter.Milliseconds(),
	}
}
