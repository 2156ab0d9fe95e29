// Package payments creates checkout sessions and confirms completed ones.
// Purchase rows are only written after the processor confirms payment; the
// redirect success flag alone is never trusted.
package payments

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"rentvault/internal/entitlement"
)

var ErrNotPaid = errors.New("checkout session not paid")

// Session is a created checkout the client should be redirected to.
type Session struct {
	ID          string
	RedirectURL string
}

// Confirmation is the processor's view of a finished checkout.
type Confirmation struct {
	SessionID   string
	CaseID      string
	Pack        entitlement.Pack
	AmountCents int64
	Currency    string
}

// Provider is the payment surface the handlers depend on.
type Provider interface {
	CreateCheckout(ctx context.Context, caseID string, pack entitlement.Pack, amountCents int64, currency string) (*Session, error)
	ConfirmCheckout(ctx context.Context, sessionID string) (*Confirmation, error)
}

type StripeProvider struct {
	successURL    string
	cancelURL     string
	webhookSecret string
}

// NewStripeProvider configures the global stripe client from STRIPE_* env.
func NewStripeProvider() *StripeProvider {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	return &StripeProvider{
		successURL:    os.Getenv("STRIPE_SUCCESS_URL"),
		cancelURL:     os.Getenv("STRIPE_CANCEL_URL"),
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
	}
}

func packLabel(p entitlement.Pack) string {
	switch p {
	case entitlement.PackCheckin:
		return "RentVault Check-in Pack"
	case entitlement.PackDeposit:
		return "RentVault Deposit Recovery Pack"
	case entitlement.PackBundle:
		return "RentVault Bundle"
	}
	return "RentVault Pack"
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, caseID string, pack entitlement.Pack, amountCents int64, currency string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.successURL + "?session_id={CHECKOUT_SESSION_ID}&pack=" + string(pack)),
		CancelURL:  stripe.String(p.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(amountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(packLabel(pack)),
				},
			},
		}},
		Metadata: map[string]string{
			"case_id": caseID,
			"pack":    string(pack),
		},
	}
	params.Context = ctx
	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Session{ID: s.ID, RedirectURL: s.URL}, nil
}

func (p *StripeProvider) ConfirmCheckout(ctx context.Context, sessionID string) (*Confirmation, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := session.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("fetch checkout session: %w", err)
	}
	if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, ErrNotPaid
	}
	pack, err := entitlement.ParsePack(s.Metadata["pack"])
	if err != nil {
		return nil, fmt.Errorf("checkout session metadata: %w", err)
	}
	return &Confirmation{
		SessionID:   s.ID,
		CaseID:      s.Metadata["case_id"],
		Pack:        pack,
		AmountCents: s.AmountTotal,
		Currency:    string(s.Currency),
	}, nil
}

// VerifyWebhook validates the signature and returns the parsed event.
func (p *StripeProvider) VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, p.webhookSecret)
}
