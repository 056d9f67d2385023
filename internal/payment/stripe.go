// internal/payment/stripe.go
package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"
)

var ErrNotConfigured = errors.New("stripe is not configured")

type Config struct {
	SecretKey  string
	WebhookKey string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

type StripeClient struct {
	secretKey     string
	webhookSecret string
	priceID       string
	successURL    string
	cancelURL     string
	// newSession is swapped in tests.
	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeClient(cfg Config) *StripeClient {
	// Set the secret key for backend operations
	stripe.Key = cfg.SecretKey

	return &StripeClient{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookKey,
		priceID:       cfg.PriceID,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		newSession:    session.New,
	}
}

func (s *StripeClient) Enabled() bool {
	return s != nil && s.secretKey != "" && s.priceID != ""
}

// CreateCheckoutSession returns the session id and the hosted checkout URL.
func (s *StripeClient) CreateCheckoutSession(userID uuid.UUID, email string) (string, string, error) {
	if !s.Enabled() {
		return "", "", ErrNotConfigured
	}
	// Ensure we're using the secret key for API operations
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(userID.String()),
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	sess, err := s.newSession(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess.ID, sess.URL, nil
}

// CompletedSession is the part of checkout.session.completed the workflow needs.
type CompletedSession struct {
	SessionID     string
	UserID        uuid.UUID
	PaymentIntent string
	AmountTotal   int64
	Currency      string
}

// ParseEvent verifies the signature and decodes completed checkout sessions.
// ok is false for events of other types.
func (s *StripeClient) ParseEvent(payload []byte, sig string) (cs *CompletedSession, ok bool, err error) {
	if s.webhookSecret == "" {
		return nil, false, fmt.Errorf("webhook secret is not configured")
	}
	event, err := webhook.ConstructEvent(payload, sig, s.webhookSecret)
	if err != nil {
		return nil, false, fmt.Errorf("invalid signature: %w", err)
	}
	if event.Type != "checkout.session.completed" {
		return nil, false, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, false, fmt.Errorf("error parsing webhook JSON: %w", err)
	}
	userID, err := uuid.Parse(sess.ClientReferenceID)
	if err != nil {
		return nil, false, fmt.Errorf("invalid client reference id %q: %w", sess.ClientReferenceID, err)
	}

	cs = &CompletedSession{
		SessionID:   sess.ID,
		UserID:      userID,
		AmountTotal: sess.AmountTotal,
		Currency:    string(sess.Currency),
	}
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		cs.PaymentIntent = sess.PaymentIntent.ID
	} else {
		cs.PaymentIntent = sess.ID
	}
	return cs, true, nil
}
