// Package media stores billboard images in an S3-compatible object store
// behind a Supabase-style storage API. Only uploads and public URLs are
// needed; images are immutable once placed.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/EndlessPixel/git-city/internal/httputil"
)

// DefaultMaxUpload bounds billboard image size.
const DefaultMaxUpload = 2 << 20

// AllowedTypes maps accepted content types to file extensions.
var AllowedTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// Config configures the media client.
type Config struct {
	BaseURL    string
	APIKey     string
	Bucket     string
	MaxUpload  int64
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client uploads objects and derives their public URLs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	bucket     string
	maxUpload  int64
}

// New creates a media client. An empty base URL produces a disabled client;
// billboard placement then requires an already-hosted image URL.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	maxUpload := cfg.MaxUpload
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "git-city-media"
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		bucket:     bucket,
		maxUpload:  maxUpload,
	}
}

// Enabled reports whether uploads are configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// MaxUpload is the upload size limit in bytes.
func (c *Client) MaxUpload() int64 {
	return c.maxUpload
}

// Upload stores an image under a generated name and returns its public URL.
// The reader is cut off at the size limit; oversized uploads fail rather than
// truncate.
func (c *Client) Upload(ctx context.Context, contentType string, r io.Reader) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("media storage not configured")
	}
	ext, ok := AllowedTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}

	data, err := httputil.ReadAllStrict(r, c.maxUpload)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty upload")
	}

	name := fmt.Sprintf("billboards/%s.%s", uuid.NewString(), ext)
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "public, max-age=31536000, immutable")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		excerpt, _, _ := httputil.ReadAllWithLimit(resp.Body, 4<<10)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", fmt.Errorf("drain upload response: %w", err)
	}

	return c.PublicURL(name), nil
}

// PublicURL returns the unauthenticated URL for an object.
func (c *Client) PublicURL(name string) string {
	escaped := make([]string, 0, 4)
	for _, part := range strings.Split(name, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, strings.Join(escaped, "/"))
}
