// Package pix integrates a PIX payment provider. PIX providers do not share a
// payload shape, so the fields the server needs are extracted with configured
// JSON paths; switching PSPs is configuration, not code.
package pix

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/httputil"
)

// Default charge lifetime and settlement poll cadence.
const (
	DefaultExpiry       = time.Hour
	DefaultPollInterval = 15 * time.Second
)

// Config configures the PIX client.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	// Expiry is how long a charge stays payable.
	Expiry       time.Duration
	PollInterval time.Duration

	// JSON paths into the provider's charge payloads.
	TxIDPath   string
	StatusPath string
	QRPath     string
	QRURLPath  string

	HTTPClient *http.Client
}

// Client talks to the PIX provider API.
type Client struct {
	api          *httputil.Client
	secret       []byte
	expiry       time.Duration
	pollInterval time.Duration
	txIDPath     string
	statusPath   string
	qrPath       string
	qrURLPath    string
}

// ChargeUpdate is one settlement notification from a webhook delivery.
type ChargeUpdate struct {
	TxID   string
	Status string
}

// New creates a PIX client. An empty base URL produces a disabled client.
func New(cfg Config) *Client {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Client{
		api: httputil.NewClient(httputil.ClientConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}),
		secret:       []byte(cfg.WebhookSecret),
		expiry:       expiry,
		pollInterval: pollInterval,
		txIDPath:     pathOrDefault(cfg.TxIDPath, "$.txid"),
		statusPath:   pathOrDefault(cfg.StatusPath, "$.status"),
		qrPath:       pathOrDefault(cfg.QRPath, "$.pixCopiaECola"),
		qrURLPath:    pathOrDefault(cfg.QRURLPath, "$.qrcodeImage"),
	}
}

// Enabled reports whether the provider is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.api.BaseURL() != ""
}

// CreateCharge opens a PIX charge for a pending purchase and returns the
// copy-paste code the buyer pays with.
func (c *Client) CreateCharge(ctx context.Context, purchase shop.Purchase, item shop.Item) (shop.PIXCharge, error) {
	if !c.Enabled() {
		return shop.PIXCharge{}, fmt.Errorf("pix provider not configured")
	}

	req := map[string]interface{}{
		"reference_id":       purchase.ID,
		"amount_cents":       purchase.AmountCents,
		"currency":           strings.ToUpper(purchase.Currency),
		"description":        item.Name,
		"expiration_seconds": int(c.expiry.Seconds()),
	}

	resp, err := c.api.Post(ctx, "/charges", req)
	if err != nil {
		return shop.PIXCharge{}, fmt.Errorf("create charge: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return shop.PIXCharge{}, fmt.Errorf("create charge: %w", err)
	}

	txid, err := c.extract(body, c.txIDPath)
	if err != nil {
		return shop.PIXCharge{}, fmt.Errorf("charge response missing txid at %s: %w", c.txIDPath, err)
	}
	// QR fields are best effort: some PSPs deliver them on a second call.
	qr, _ := c.extract(body, c.qrPath)
	qrURL, _ := c.extract(body, c.qrURLPath)

	return shop.PIXCharge{
		TxID:      txid,
		QRCode:    qr,
		QRCodeURL: qrURL,
		ExpiresAt: time.Now().UTC().Add(c.expiry),
	}, nil
}

// ChargeStatus fetches the provider's status string for a charge.
func (c *Client) ChargeStatus(ctx context.Context, txid string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("pix provider not configured")
	}

	resp, err := c.api.Get(ctx, "/charges/"+url.PathEscape(txid))
	if err != nil {
		return "", fmt.Errorf("get charge %s: %w", txid, err)
	}
	body, err := readBody(resp)
	if err != nil {
		return "", fmt.Errorf("get charge %s: %w", txid, err)
	}

	status, err := c.extract(body, c.statusPath)
	if err != nil {
		return "", fmt.Errorf("charge %s missing status at %s: %w", txid, c.statusPath, err)
	}
	return status, nil
}

// Resolve implements the settlement poller contract: it asks the provider for
// the charge status and reports whether the purchase reached a terminal state.
func (c *Client) Resolve(ctx context.Context, purchase shop.Purchase) (done bool, success bool, providerRef string, message string, retryAfter time.Duration, err error) {
	if purchase.ProviderRef == "" {
		return false, false, "", "charge has no provider reference", c.pollInterval, nil
	}

	status, err := c.ChargeStatus(ctx, purchase.ProviderRef)
	if err != nil {
		return false, false, purchase.ProviderRef, "", c.pollInterval, err
	}

	done, success = StatusOutcome(status)
	if !done {
		return false, false, purchase.ProviderRef, status, c.pollInterval, nil
	}
	return true, success, purchase.ProviderRef, status, 0, nil
}

// VerifySignature checks a webhook delivery against the shared secret. PIX
// PSPs commonly sign the raw body with a plain hex HMAC.
func (c *Client) VerifySignature(header string, body []byte) error {
	if len(c.secret) == 0 {
		return fmt.Errorf("webhook secret not configured")
	}
	header = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(header))) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Sign produces the signature header for a payload, for tests and local
// webhook replays.
func (c *Client) Sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook extracts charge updates from a delivery. Both the batched
// {"pix":[...]} shape and a single flat object are accepted.
func ParseWebhook(body []byte) ([]ChargeUpdate, error) {
	doc := gjson.ParseBytes(body)

	var updates []ChargeUpdate
	if batch := doc.Get("pix"); batch.IsArray() {
		batch.ForEach(func(_, entry gjson.Result) bool {
			updates = append(updates, ChargeUpdate{
				TxID:   entry.Get("txid").String(),
				Status: entry.Get("status").String(),
			})
			return true
		})
	} else {
		updates = append(updates, ChargeUpdate{
			TxID:   doc.Get("txid").String(),
			Status: doc.Get("status").String(),
		})
	}

	valid := updates[:0]
	for _, u := range updates {
		if u.TxID != "" {
			valid = append(valid, u)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("webhook body carries no txid")
	}
	return valid, nil
}

// StatusOutcome maps a provider status string onto the purchase lifecycle.
// Unknown statuses are treated as still pending so polling continues.
func StatusOutcome(status string) (done bool, success bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "CONCLUIDA", "COMPLETED", "PAID", "APPROVED", "CONFIRMED":
		return true, true
	case "REMOVIDA_PELO_USUARIO_RECEBEDOR", "REMOVIDA_PELO_PSP",
		"EXPIRED", "CANCELLED", "CANCELED", "FAILED", "REFUSED":
		return true, false
	default:
		return false, false
	}
}

func (c *Client) extract(body []byte, path string) (string, error) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	value, err := jsonpath.Get(path, data)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("empty value")
		}
		return v, nil
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), "."), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", value)
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		excerpt, _, _ := httputil.ReadAllWithLimit(resp.Body, 4<<10)
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return httputil.ReadAllStrict(resp.Body, 1<<20)
}

func pathOrDefault(path, fallback string) string {
	if strings.TrimSpace(path) == "" {
		return fallback
	}
	return path
}
