// internal/payment/payment.go
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CheckoutSession is the provider's view of one payment attempt. The
// session id doubles as the campaign's payment_reference.
type CheckoutSession struct {
	ID            string
	URL           string
	Paid          bool
	CustomerEmail string
	Metadata      map[string]string
}

// Provider is the payment-collaborator contract: create a hosted checkout
// session and retrieve its payment state. Webhook signature verification
// happens upstream of this module.
type Provider interface {
	CreateSession(ctx context.Context, amountCents int64, description, email string, metadata map[string]string) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, id string) (*CheckoutSession, error)
}

// StripeProvider talks to the Stripe checkout sessions REST API.
type StripeProvider struct {
	SecretKey  string
	BaseURL    string
	SuccessURL string
	CancelURL  string
	Client     *http.Client
}

func NewStripeProvider(secretKey, successURL, cancelURL string) *StripeProvider {
	return &StripeProvider{
		SecretKey:  secretKey,
		BaseURL:    "https://api.stripe.com/v1",
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type stripeSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

func (p *StripeProvider) CreateSession(ctx context.Context, amountCents int64, description, email string, metadata map[string]string) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", description)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(amountCents, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	if email != "" {
		form.Set("customer_email", email)
	}
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	sess, err := p.do(ctx, http.MethodPost, "/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	return sess.toCheckout(), nil
}

func (p *StripeProvider) RetrieveSession(ctx context.Context, id string) (*CheckoutSession, error) {
	sess, err := p.do(ctx, http.MethodGet, "/checkout/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return sess.toCheckout(), nil
}

func (p *StripeProvider) do(ctx context.Context, method, path string, body *strings.Reader) (*stripeSession, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, p.BaseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, p.BaseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment provider request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment provider status %d", resp.StatusCode)
	}

	var sess stripeSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode payment provider response: %w", err)
	}
	return &sess, nil
}

func (s *stripeSession) toCheckout() *CheckoutSession {
	return &CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		Paid:          s.PaymentStatus == "paid",
		CustomerEmail: s.CustomerEmail,
		Metadata:      s.Metadata,
	}
}

var _ Provider = (*StripeProvider)(nil)
