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
	"errors"
	"net/http"

	"github.com/blnkfinance/ordersync"
	"github.com/blnkfinance/ordersync/api/middleware"
	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/apierror"
	"github.com/blnkfinance/ordersync/internal/metrics"
	"github.com/blnkfinance/ordersync/internal/tokens"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Paths reached by the payment gateway and the monitoring scraper. They
// never carry the secret key.
var publicPrefixes = []string{"/payments/", "/metrics"}

// Api serves the HTTP surface of the sync engine.
type Api struct {
	engine *ordersync.Engine
	router *gin.Engine
}

// Router returns the gin engine with every route registered.
func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/checkout", a.CreateCheckout)
	router.GET("/checkout/:txnid/form", a.CheckoutForm)
	router.POST("/checkout/:txnid/navigation", a.Navigate)
	router.POST("/checkout/:txnid/cancel", a.CancelCheckout)

	router.GET("/payments/payu/success", a.PaymentSuccess)
	router.POST("/payments/payu/success", a.PaymentSuccessCallback)
	router.GET("/payments/payu/failure", a.PaymentFailure)
	router.POST("/payments/payu/failure", a.PaymentFailureCallback)

	router.PUT("/users/:id/push-token", a.RegisterPushToken)
	router.POST("/users/:id/sync", a.StartSync)
	router.DELETE("/users/:id/sync", a.StopSync)
	router.GET("/users/:id/active-orders", a.GetActiveOrders)

	router.GET("/orders/:id", a.GetOrder)
	router.PUT("/orders/:id/delivery-status", a.UpdateDeliveryStatus)
	return a.router
}

// NewAPI builds the router for e. It returns nil when the configuration
// cannot be loaded.
func NewAPI(e *ordersync.Engine) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.Metrics())
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware(publicPrefixes...))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return &Api{engine: e, router: r}
}

func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if errors.Is(err, tokens.ErrInvalidToken) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
