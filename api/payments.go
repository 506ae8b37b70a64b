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
	"math"
	"net/http"

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/internal/payu"
	"github.com/gin-gonic/gin"
)

// PaymentSuccess handles the gateway's browser redirect to surl.
func (a Api) PaymentSuccess(c *gin.Context) {
	a.paymentRedirect(c, true)
}

// PaymentFailure handles the gateway's browser redirect to furl.
func (a Api) PaymentFailure(c *gin.Context) {
	a.paymentRedirect(c, false)
}

// PaymentSuccessCallback handles a signed success result posted by the gateway.
func (a Api) PaymentSuccessCallback(c *gin.Context) {
	a.paymentCallback(c, true)
}

// PaymentFailureCallback handles a signed failure result posted by the gateway.
func (a Api) PaymentFailureCallback(c *gin.Context) {
	a.paymentCallback(c, false)
}

// paymentRedirect handles the gateway's browser redirect to surl or furl.
func (a Api) paymentRedirect(c *gin.Context, success bool) {
	params := payu.Flatten(c.Request.URL.Query())
	decision, err := a.engine.Payments().Resolve(c.Request.Context(), params["txnid"], success, params)
	if err != nil {
		respondError(c, err)
		return
	}
	renderResult(c, decision)
}

// paymentCallback handles a result posted by the gateway. The reverse hash
// is checked before the order is touched.
func (a Api) paymentCallback(c *gin.Context, success bool) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params := payu.Flatten(c.Request.PostForm)
	decision, err := a.engine.Payments().ResolveCallback(c.Request.Context(), success, params)
	if err != nil {
		respondError(c, err)
		return
	}
	renderResult(c, decision)
}

func renderResult(c *gin.Context, decision ordersync.NavigationDecision) {
	page := payu.ResultPage{
		Title:   "Payment Failed",
		Message: "Your payment could not be completed. Please try again.",
	}
	if decision.Result == ordersync.OutcomeSuccess {
		page = payu.ResultPage{
			Title:        "Payment Successful",
			Message:      "Thank you! Your order has been placed.",
			RedirectURL:  decision.RedirectTo,
			DelaySeconds: int(math.Ceil(decision.RedirectAfter.Seconds())),
		}
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := payu.RenderResult(c.Writer, page); err != nil {
		_ = c.Error(err)
	}
}
