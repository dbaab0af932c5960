package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-booking/internal/logger"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// Stripe drives manual-capture PaymentIntents. The authorization token is the
// PaymentIntent id and so is the capture receipt; refunds go against it.
type Stripe struct {
	client *client.API
	log    *logger.Logger
}

func NewStripe(secretKey string, log *logger.Logger) (*Stripe, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}
	sc := client.New(secretKey, nil)
	if sc == nil {
		return nil, ErrStripeClientInitFailed
	}
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &Stripe{client: sc, log: log}, nil
}

func (s *Stripe) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
		params.OffSession = stripe.Bool(true)
	}
	if req.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethod)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey + ":authorize")
	}

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("authorize failed: %v", err))
		return "", fmt.Errorf("%w: authorize: %v", ErrUnavailable, err)
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		return "", fmt.Errorf("%w: authorize: intent %s is %s", ErrUnavailable, pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (s *Stripe) Capture(ctx context.Context, token string, amount int64) (string, error) {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(token + ":capture")

	pi, err := s.client.PaymentIntents.Capture(token, params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("capture %s failed: %v", token, err))
		return "", fmt.Errorf("%w: capture: %v", ErrUnavailable, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", fmt.Errorf("%w: capture: intent %s is %s", ErrUnavailable, pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (s *Stripe) Refund(ctx context.Context, receipt string, amount int64, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(receipt),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey + ":refund")
	}

	r, err := s.client.Refunds.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("refund of %s failed: %v", receipt, err))
		return "", fmt.Errorf("%w: refund: %v", ErrUnavailable, err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return "", fmt.Errorf("%w: refund %s is %s", ErrUnavailable, r.ID, r.Status)
	}
	return r.ID, nil
}
