package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

var ErrPaymentNotSettled = errors.New("payment has not succeeded at the gateway")

// StripeVerifier confirms a PaymentIntent actually succeeded before the
// reconciler persists anything.
type StripeVerifier struct{}

func NewStripeVerifier(apiKey string) *StripeVerifier {
	stripe.Key = apiKey
	return &StripeVerifier{}
}

func (v *StripeVerifier) Verify(ctx context.Context, paymentRef string) error {
	if paymentRef == "" {
		return fmt.Errorf("%w: empty payment reference", ErrPaymentNotSettled)
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(paymentRef, params)
	if err != nil {
		return fmt.Errorf("fetch payment intent %s: %w", paymentRef, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("%w: status %s", ErrPaymentNotSettled, pi.Status)
	}

	return nil
}
