// Package stripepay implements payrail.Gateway against Stripe. It stops at
// the capture/refund boundary: this service initiates and reverses
// captures through Stripe's API, it never handles the hosted checkout or
// webhook surface.
package stripepay

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
)

// StripeRail implements payrail.Gateway using PaymentIntents.
type StripeRail struct {
	apiKey string
}

// NewStripeRail configures the package-level Stripe key and returns a rail.
func NewStripeRail(apiKey string) *StripeRail {
	stripe.Key = apiKey
	return &StripeRail{apiKey: apiKey}
}

// InitiateCapture creates and captures a PaymentIntent for the order's
// final price, returning the PaymentIntent id as the capture id.
func (sr *StripeRail) InitiateCapture(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (string, error) {
	amountMinor := amount.Mul(decimal.NewFromInt(100)).IntPart()

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amountMinor),
		Currency:           stripe.String(currency),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
		Confirm:            stripe.Bool(true),
		Metadata:           map[string]string{"order_id": orderID},
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create payment intent: %w", err)
	}

	log.WithFields(log.Fields{
		"order_id":          orderID,
		"payment_intent_id": pi.ID,
		"amount":            amount,
		"currency":          currency,
	}).Info("initiated stripe capture")

	return pi.ID, nil
}

// RefundCapture refunds a previously captured PaymentIntent, in full or in
// part depending on amount.
func (sr *StripeRail) RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(captureID),
		Amount:        stripe.Int64(amount.Mul(decimal.NewFromInt(100)).IntPart()),
	}
	rf, err := refund.New(params)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}

	log.WithFields(log.Fields{
		"capture_id": captureID,
		"refund_id":  rf.ID,
		"amount":     amount,
	}).Info("refunded stripe capture")
	return nil
}
