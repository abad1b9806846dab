// Package card integrates the hosted-checkout card processor. The server
// never touches card numbers: it opens a checkout session, sends the buyer to
// the processor's page, and learns the outcome from signed webhooks.
package card

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/httputil"
)

// Webhook event types the server reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "checkout.session.payment_failed"
)

// DefaultTolerance bounds webhook timestamp skew.
const DefaultTolerance = 5 * time.Minute

// Config configures the card client.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	// SuccessURL and CancelURL are where the processor sends the buyer
	// after checkout.
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
	Tolerance  time.Duration
	HTTPClient *http.Client
}

// Client talks to the card processor API.
type Client struct {
	api        *httputil.Client
	secret     []byte
	successURL string
	cancelURL  string
	tolerance  time.Duration
}

// Event is a parsed webhook delivery.
type Event struct {
	Type      string
	SessionID string
	// Reference is the purchase id echoed back from session creation.
	Reference string
}

// New creates a card client. An empty base URL produces a disabled client;
// checkout attempts then fail with a clear error instead of a dial error.
func New(cfg Config) *Client {
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Client{
		api: httputil.NewClient(httputil.ClientConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}),
		secret:     []byte(cfg.WebhookSecret),
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		tolerance:  tolerance,
	}
}

// Enabled reports whether the processor is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.api.BaseURL() != ""
}

// CreateCheckoutSession opens a hosted checkout page for a pending purchase.
// The purchase id travels as the client reference so webhooks can be matched
// back even if the session id is lost.
func (c *Client) CreateCheckoutSession(ctx context.Context, purchase shop.Purchase, item shop.Item) (shop.CheckoutSession, error) {
	if !c.Enabled() {
		return shop.CheckoutSession{}, fmt.Errorf("card processor not configured")
	}

	req := map[string]interface{}{
		"client_reference_id": purchase.ID,
		"amount_cents":        purchase.AmountCents,
		"currency":            strings.ToLower(purchase.Currency),
		"product_name":        item.Name,
		"product_description": item.Description,
		"success_url":         c.successURL,
		"cancel_url":          c.cancelURL,
	}

	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.api.PostJSON(ctx, "/v1/checkout/sessions", req, &resp); err != nil {
		return shop.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	if resp.ID == "" || resp.URL == "" {
		return shop.CheckoutSession{}, fmt.Errorf("checkout session response missing id or url")
	}
	return shop.CheckoutSession{SessionID: resp.ID, URL: resp.URL}, nil
}

// VerifySignature checks a webhook delivery. The header carries a timestamp
// and an HMAC over "<timestamp>.<body>"; deliveries outside the tolerance
// window are rejected to stop replays.
func (c *Client) VerifySignature(header string, body []byte, now time.Time) error {
	if len(c.secret) == 0 {
		return fmt.Errorf("webhook secret not configured")
	}

	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("malformed signature timestamp")
			}
			ts = parsed
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return fmt.Errorf("malformed signature header")
	}

	stamped := time.Unix(ts, 0)
	if drift := now.Sub(stamped); drift > c.tolerance || drift < -c.tolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	if !hmac.Equal([]byte(c.sign(ts, body)), []byte(sig)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Sign produces the signature header for a payload. Production deliveries are
// signed by the processor; this is for tests and local webhook replays.
func (c *Client) Sign(t time.Time, body []byte) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, c.sign(ts, body))
}

func (c *Client) sign(ts int64, body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent extracts the fields the server acts on from a webhook body.
func ParseEvent(body []byte) (Event, error) {
	doc := gjson.ParseBytes(body)
	evt := Event{
		Type:      doc.Get("type").String(),
		SessionID: doc.Get("data.object.id").String(),
		Reference: doc.Get("data.object.client_reference_id").String(),
	}
	if evt.Type == "" {
		return Event{}, fmt.Errorf("webhook body missing type")
	}
	if evt.SessionID == "" && evt.Reference == "" {
		return Event{}, fmt.Errorf("webhook body missing session id and reference")
	}
	return evt, nil
}
