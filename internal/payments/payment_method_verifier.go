package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// PaymentMethodDetails is the card metadata persisted alongside a saved
// payment method. Only the display fields are kept; the token stays the
// single source of truth on the PSP side.
type PaymentMethodDetails struct {
	Token    string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// StripePaymentMethodVerifier resolves a tokenised payment method against
// Stripe before it is attached to a user profile.
type StripePaymentMethodVerifier struct {
	api     stripePaymentMethodAPI
	account string
}

// NewStripePaymentMethodVerifier builds a verifier from the shared Stripe
// configuration, reusing an injected client when the config carries one.
func NewStripePaymentMethodVerifier(cfg StripeProviderConfig) (*StripePaymentMethodVerifier, error) {
	if cfg.Clients != nil && cfg.Clients.paymentMethods != nil {
		return &StripePaymentMethodVerifier{
			api:     cfg.Clients.paymentMethods,
			account: strings.TrimSpace(cfg.AccountID),
		}, nil
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, cfg.Backends)
	return &StripePaymentMethodVerifier{
		api:     sc.PaymentMethods,
		account: strings.TrimSpace(cfg.AccountID),
	}, nil
}

// Lookup fetches the payment method behind token and returns its card
// display metadata. Non-card methods come back with only the token set.
func (v *StripePaymentMethodVerifier) Lookup(ctx context.Context, token string) (PaymentMethodDetails, error) {
	if v == nil {
		return PaymentMethodDetails{}, errors.New("stripe: verifier is nil")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return PaymentMethodDetails{}, errors.New("stripe: payment method token is required")
	}

	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if v.account != "" {
		params.SetStripeAccount(v.account)
	}

	pm, err := v.api.Get(token, params)
	if err != nil {
		return PaymentMethodDetails{}, err
	}

	details := PaymentMethodDetails{Token: token}
	if pm == nil {
		return details, nil
	}
	if id := strings.TrimSpace(pm.ID); id != "" {
		details.Token = id
	}
	if pm.Type == stripe.PaymentMethodTypeCard && pm.Card != nil {
		details.Brand = strings.ToLower(string(pm.Card.Brand))
		details.Last4 = strings.TrimSpace(pm.Card.Last4)
		details.ExpMonth = int(pm.Card.ExpMonth)
		details.ExpYear = int(pm.Card.ExpYear)
	}
	return details, nil
}
