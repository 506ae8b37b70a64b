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

package ordersync

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/blnkfinance/ordersync/config"
	"github.com/blnkfinance/ordersync/internal/apierror"
	"github.com/blnkfinance/ordersync/internal/cache"
	"github.com/blnkfinance/ordersync/internal/deeplink"
	redlock "github.com/blnkfinance/ordersync/internal/lock"
	"github.com/blnkfinance/ordersync/internal/metrics"
	"github.com/blnkfinance/ordersync/internal/payu"
	"github.com/blnkfinance/ordersync/model"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrPaymentNotConfigured = apierror.NewAPIError(apierror.ErrNotConfigured, "payment gateway key and salt are not configured", nil)
	ErrSessionNotFound      = apierror.NewAPIError(apierror.ErrNotFound, "payment session not found", nil)
	ErrSessionResolved      = apierror.NewAPIError(apierror.ErrInvalidState, "payment session is already resolved", nil)
	ErrInvalidTransition    = apierror.NewAPIError(apierror.ErrInvalidState, "payment session does not allow this action in its current state", nil)
	ErrInvalidSignature     = apierror.NewAPIError(apierror.ErrBadRequest, "payment result signature does not match", nil)
)

const (
	sessionLockTTL  = 10 * time.Second
	sessionLockWait = 5 * time.Second
)

// PaymentState is the position of a checkout in the hand-off to the gateway.
type PaymentState string

const (
	PaymentStateFormPrepared PaymentState = "form_prepared"
	PaymentStatePresented    PaymentState = "presented"
	PaymentStateResolved     PaymentState = "resolved"
)

// Outcomes of a resolved session.
const (
	OutcomeSuccess   = model.PaymentDetailSuccess
	OutcomeFailed    = model.PaymentDetailFailed
	OutcomeCancelled = model.PaymentDetailCancelled
)

// PaymentSession is the server-side state of one checkout.
type PaymentSession struct {
	TxnID     string          `json:"txnid"`
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	State     PaymentState    `json:"state"`
	Outcome   string          `json:"outcome,omitempty"`
	ActionURL string          `json:"action_url"`
	Fields    payu.FormFields `json:"fields"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CheckoutRequest is everything needed to create an order and sign the
// gateway form.
type CheckoutRequest struct {
	UserID      string
	Items       []model.Item
	PriceInfo   model.PriceInfo
	OrderType   string
	Frequency   string
	Duration    string
	TimeSlot    string
	Address     string
	PhoneNumber string
	FirstName   string
	Email       string
	ProductInfo string
}

// NavigationAction tells the embedding web view what to do with a
// navigation.
type NavigationAction string

const (
	NavigationAllow        NavigationAction = "allow"
	NavigationVeto         NavigationAction = "veto"
	NavigationOpenExternal NavigationAction = "open_external"
)

// NavigationDecision is the answer to a single navigation.
type NavigationDecision struct {
	Action        NavigationAction
	OpenURL       string
	Message       string
	Result        string
	RedirectTo    string
	RedirectAfter time.Duration
}

// PaymentStore is the write side of the order store used by checkout.
type PaymentStore interface {
	CreateOrder(ctx context.Context, order *model.Order) (*model.Order, error)
	UpdateOrder(ctx context.Context, id string, update model.OrderUpdate) error
}

// ConfirmationQueue schedules the order confirmation push.
type ConfirmationQueue interface {
	EnqueueOrderConfirmation(ctx context.Context, order model.Order) error
}

// PaymentBridge drives a checkout from signed form to terminal payment
// state. Sessions live in Redis and every transition holds a per
// transaction lock, so the first result or cancellation wins.
type PaymentBridge struct {
	store    PaymentStore
	sessions cache.Cache
	redis    redis.UniversalClient
	queue    ConfirmationQueue
	wallets  *deeplink.Matcher

	creds             payu.Credentials
	actionURL         string
	successURL        string
	failureURL        string
	confirmationView  string
	confirmationDelay time.Duration
	sessionTTL        time.Duration

	now func() time.Time
}

// NewPaymentBridge creates the checkout bridge.
// Parameters:
// - cnf: gateway credentials, redirect targets and wallet schemes.
// - store: where orders and payment results are written.
// - sessions: the session store shared by every instance.
// - client: Redis client used for per-transaction locks.
// - queue: schedules the confirmation push; may be nil.
func NewPaymentBridge(cnf *config.Configuration, store PaymentStore, sessions cache.Cache, client redis.UniversalClient, queue ConfirmationQueue) *PaymentBridge {
	return &PaymentBridge{
		store:             store,
		sessions:          sessions,
		redis:             client,
		queue:             queue,
		wallets:           deeplink.NewMatcher(cnf.Payment.WalletSchemes),
		creds:             payu.Credentials{Key: cnf.Payment.Key, Salt: cnf.Payment.Salt},
		actionURL:         cnf.Payment.ActionURL,
		successURL:        cnf.Payment.SuccessURL,
		failureURL:        cnf.Payment.FailureURL,
		confirmationView:  cnf.Payment.ConfirmationView,
		confirmationDelay: time.Duration(cnf.Payment.ConfirmationDelayMs) * time.Millisecond,
		sessionTTL:        time.Duration(cnf.Payment.SessionTTLSec) * time.Second,
		now:               time.Now,
	}
}

// Configured reports whether the merchant key and salt are present.
func (b *PaymentBridge) Configured() bool {
	return b.creds.Valid()
}

// Prepare persists a pending order and signs the gateway form for it. The
// order is written before the form can be presented.
func (b *PaymentBridge) Prepare(ctx context.Context, req CheckoutRequest) (*PaymentSession, error) {
	if !b.creds.Valid() {
		return nil, ErrPaymentNotConfigured
	}

	now := b.now()
	txnID := model.GenerateTxnID(now)
	order, err := b.store.CreateOrder(ctx, &model.Order{
		OrderID:        txnID,
		UserID:         req.UserID,
		Items:          req.Items,
		PriceInfo:      req.PriceInfo,
		OrderType:      req.OrderType,
		Frequency:      req.Frequency,
		Duration:       req.Duration,
		TimeSlot:       req.TimeSlot,
		Address:        req.Address,
		PhoneNumber:    req.PhoneNumber,
		PaymentMethod:  "payu",
		Status:         model.PaymentPending,
		DeliveryStatus: model.DeliveryStatusPending,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create order")
	}

	session := &PaymentSession{
		TxnID:     txnID,
		OrderID:   order.ID,
		UserID:    order.UserID,
		State:     PaymentStateFormPrepared,
		ActionURL: b.actionURL,
		Fields: payu.Sign(b.creds, payu.Request{
			TxnID:       txnID,
			Amount:      req.PriceInfo.Total,
			ProductInfo: productInfo(req),
			FirstName:   req.FirstName,
			Email:       req.Email,
			Phone:       req.PhoneNumber,
			SuccessURL:  b.successURL,
			FailureURL:  b.failureURL,
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.saveSession(ctx, session); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"txnid":    txnID,
		"order_id": order.ID,
		"user_id":  order.UserID,
	}).Info("checkout prepared")
	return session, nil
}

// Present marks the form as shown and returns the signed fields.
func (b *PaymentBridge) Present(ctx context.Context, txnID string) (*PaymentSession, error) {
	var session *PaymentSession
	err := b.withSession(ctx, txnID, func(s *PaymentSession) error {
		switch s.State {
		case PaymentStateResolved:
			return ErrSessionResolved
		case PaymentStateFormPrepared:
			s.State = PaymentStatePresented
			if err := b.saveSession(ctx, s); err != nil {
				return err
			}
		}
		session = s
		return nil
	})
	return session, err
}

// Navigate decides what happens to a navigation inside the presented
// payment page. Wallet deep links are vetoed and handed to opener when it
// can take them; the gateway's success and failure redirects resolve the
// session. opener may be nil.
func (b *PaymentBridge) Navigate(ctx context.Context, txnID, target string, opener deeplink.Opener) (NavigationDecision, error) {
	session, err := b.Session(ctx, txnID)
	if err != nil {
		return NavigationDecision{}, err
	}

	if scheme, ok := b.wallets.Match(target); ok {
		if session.State != PaymentStatePresented {
			return NavigationDecision{}, ErrInvalidTransition
		}
		return b.openWallet(ctx, txnID, scheme, target, opener), nil
	}

	success := matchesRedirect(target, b.successURL)
	if !success && !matchesRedirect(target, b.failureURL) {
		return NavigationDecision{Action: NavigationAllow}, nil
	}

	params, err := payu.ParseResult(target)
	if err != nil {
		return NavigationDecision{}, errors.Wrap(err, "invalid gateway redirect")
	}
	return b.Resolve(ctx, txnID, success, params)
}

func (b *PaymentBridge) openWallet(ctx context.Context, txnID, scheme, target string, opener deeplink.Opener) NavigationDecision {
	fields := logrus.Fields{"txnid": txnID, "scheme": scheme}

	if opener == nil || !opener.CanOpen(ctx, target) {
		logrus.WithFields(fields).Info("wallet app unavailable")
		return NavigationDecision{Action: NavigationVeto, Message: deeplink.UnavailableMessage(scheme)}
	}
	if err := opener.Open(ctx, target); err != nil {
		logrus.WithFields(fields).WithError(err).Warn("failed to open wallet app")
		return NavigationDecision{Action: NavigationVeto, Message: deeplink.UnavailableMessage(scheme)}
	}
	return NavigationDecision{Action: NavigationOpenExternal, OpenURL: target}
}

// Resolve writes the gateway result to the order once per session. Later
// results for the same session report the stored outcome without writing.
func (b *PaymentBridge) Resolve(ctx context.Context, txnID string, success bool, params map[string]string) (NavigationDecision, error) {
	var outcome string
	err := b.withSession(ctx, txnID, func(s *PaymentSession) error {
		if s.State == PaymentStateResolved {
			outcome = s.Outcome
			return nil
		}

		outcome = OutcomeFailed
		status := model.PaymentFailed
		if success {
			outcome = OutcomeSuccess
			status = model.PaymentCompleted
		}

		details := make(model.PaymentDetails, len(params)+1)
		for k, v := range params {
			details[k] = v
		}
		details["status"] = outcome

		if err := b.store.UpdateOrder(ctx, s.OrderID, model.OrderUpdate{
			Status:         &status,
			PaymentDetails: details,
			UpdatedAt:      b.now(),
		}); err != nil {
			return errors.Wrap(err, "failed to record payment result")
		}

		if err := b.finish(ctx, s, outcome); err != nil {
			return err
		}

		if success && b.queue != nil {
			order := model.Order{ID: s.OrderID, OrderID: s.TxnID, UserID: s.UserID, Status: status}
			if err := b.queue.EnqueueOrderConfirmation(ctx, order); err != nil {
				logrus.WithError(err).WithField("txnid", s.TxnID).Error("failed to enqueue order confirmation")
			}
		}
		return nil
	})
	if err != nil {
		return NavigationDecision{}, err
	}

	decision := NavigationDecision{Action: NavigationVeto, Result: outcome}
	if outcome == OutcomeSuccess {
		decision.RedirectTo = b.confirmationView
		decision.RedirectAfter = b.confirmationDelay
	}
	return decision, nil
}

// ResolveCallback handles a result posted by the gateway server to server.
// The reverse hash must match before anything is written.
func (b *PaymentBridge) ResolveCallback(ctx context.Context, success bool, params map[string]string) (NavigationDecision, error) {
	if !b.creds.Valid() {
		return NavigationDecision{}, ErrPaymentNotConfigured
	}
	if !payu.VerifyResult(b.creds, params) {
		return NavigationDecision{}, ErrInvalidSignature
	}
	return b.Resolve(ctx, params["txnid"], success, params)
}

// Cancel records a user cancellation. Only a presented session can be
// cancelled.
func (b *PaymentBridge) Cancel(ctx context.Context, txnID string) error {
	return b.withSession(ctx, txnID, func(s *PaymentSession) error {
		switch s.State {
		case PaymentStateResolved:
			return ErrSessionResolved
		case PaymentStatePresented:
		default:
			return ErrInvalidTransition
		}

		status := model.PaymentCancelled
		if err := b.store.UpdateOrder(ctx, s.OrderID, model.OrderUpdate{
			Status:         &status,
			PaymentDetails: model.PaymentDetails{"status": OutcomeCancelled},
			UpdatedAt:      b.now(),
		}); err != nil {
			return errors.Wrap(err, "failed to record cancellation")
		}
		return b.finish(ctx, s, OutcomeCancelled)
	})
}

// Session loads the current state of a checkout.
func (b *PaymentBridge) Session(ctx context.Context, txnID string) (*PaymentSession, error) {
	session := &PaymentSession{}
	err := b.sessions.Get(ctx, sessionKey(txnID), session)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load payment session")
	}
	return session, nil
}

func (b *PaymentBridge) finish(ctx context.Context, s *PaymentSession, outcome string) error {
	s.State = PaymentStateResolved
	s.Outcome = outcome
	if err := b.saveSession(ctx, s); err != nil {
		return err
	}
	metrics.PaymentOutcome(outcome)

	logrus.WithFields(logrus.Fields{
		"txnid":    s.TxnID,
		"order_id": s.OrderID,
		"outcome":  outcome,
	}).Info("payment resolved")
	return nil
}

func (b *PaymentBridge) withSession(ctx context.Context, txnID string, fn func(*PaymentSession) error) error {
	if txnID == "" {
		return ErrSessionNotFound
	}
	return redlock.WithLock(ctx, b.redis, lockKey(txnID), sessionLockTTL, sessionLockWait, func() error {
		session, err := b.Session(ctx, txnID)
		if err != nil {
			return err
		}
		return fn(session)
	})
}

func (b *PaymentBridge) saveSession(ctx context.Context, s *PaymentSession) error {
	s.UpdatedAt = b.now()
	if err := b.sessions.Set(ctx, sessionKey(s.TxnID), s, b.sessionTTL); err != nil {
		return errors.Wrap(err, "failed to save payment session")
	}
	return nil
}

// matchesRedirect reports whether target points at the redirect page. The
// query string and fragment are ignored.
func matchesRedirect(target, redirect string) bool {
	if redirect == "" {
		return false
	}
	t, err := url.Parse(target)
	if err != nil {
		return false
	}
	r, err := url.Parse(redirect)
	if err != nil {
		return false
	}
	return strings.EqualFold(t.Scheme, r.Scheme) &&
		strings.EqualFold(t.Host, r.Host) &&
		strings.TrimSuffix(t.Path, "/") == strings.TrimSuffix(r.Path, "/")
}

func productInfo(req CheckoutRequest) string {
	if req.ProductInfo != "" {
		return req.ProductInfo
	}
	names := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		names = append(names, item.Name)
	}
	if len(names) == 0 {
		return "Order"
	}
	return strings.Join(names, ", ")
}

func sessionKey(txnID string) string {
	return "payment_session:" + txnID
}

func lockKey(txnID string) string {
	return "payment_lock:" + txnID
}
