// Package nasa is the HTTP client for NASA tile and capability endpoints.
// When a local proxy base URL is configured, every request is routed
// through the proxy so that responses are cached and throttling is shared.
package nasa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"space-explorer/internal/ratelimit"
)

const (
	// UserAgent is sent with every upstream request
	UserAgent = "SpaceExplorer/1.0 (+https://github.com/space-explorer)"

	// maxBodyBytes caps a single tile or document download
	maxBodyBytes = 32 << 20
)

// ErrRateLimited is returned without touching the network while the target
// host is cooling down
var ErrRateLimited = errors.New("nasa: upstream host is rate limited")

// StatusError is returned for non-2xx upstream responses
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nasa: %s returned HTTP %d", e.URL, e.Code)
}

// Client handles communication with NASA imagery services
type Client struct {
	httpClient *http.Client
	proxyBase  string
	limiter    *ratelimit.Handler
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithProxy routes requests through the local proxy at base
func WithProxy(base string) Option {
	return func(c *Client) { c.proxyBase = strings.TrimRight(base, "/") }
}

// WithRateLimiter shares throttling state with the proxy
func WithRateLimiter(h *ratelimit.Handler) Option {
	return func(c *Client) { c.limiter = h }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new client with system proxy support
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 8,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("nasa")
	return c
}

// ProxyBase returns the configured proxy base URL, or ""
func (c *Client) ProxyBase() string {
	return c.proxyBase
}

// FetchCapabilities downloads a WMTS capabilities document
func (c *Client) FetchCapabilities(ctx context.Context, capURL string) ([]byte, error) {
	target := capURL
	if c.proxyBase != "" {
		target = CapabilitiesProxyURL(c.proxyBase, capURL)
	}
	return c.get(ctx, capURL, target)
}

// FetchTile downloads a single tile or image
func (c *Client) FetchTile(ctx context.Context, tileURL string) ([]byte, error) {
	target := tileURL
	if c.proxyBase != "" {
		proxied, err := TileProxyURL(c.proxyBase, tileURL)
		if err != nil {
			return nil, err
		}
		target = proxied
	}
	return c.get(ctx, tileURL, target)
}

// Check reports whether tileURL answers with a 2xx status
func (c *Client) Check(ctx context.Context, tileURL string) bool {
	_, err := c.FetchTile(ctx, tileURL)
	if err != nil {
		c.logger.Debug("tile check failed", zap.String("url", tileURL), zap.Error(err))
		return false
	}
	return true
}

// ErrNoProxy is returned by Mosaic when no proxy is configured
var ErrNoProxy = errors.New("nasa: mosaic requires the local proxy")

type mosaicRequest struct {
	TemplateURL string `json:"templateUrl"`
	Z           int    `json:"z"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Format      string `json:"format"`
}

// Mosaic asks the proxy to composite the 3x3 neighborhood of (x, y) at z
// and returns the PNG
func (c *Client) Mosaic(ctx context.Context, template string, z, x, y int) ([]byte, error) {
	if c.proxyBase == "" {
		return nil, ErrNoProxy
	}
	body, err := json.Marshal(mosaicRequest{TemplateURL: template, Z: z, X: x, Y: y, Format: "png"})
	if err != nil {
		return nil, err
	}

	target := c.proxyBase + "/api/mosaic"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request mosaic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode, URL: target}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read mosaic: %w", err)
	}
	c.logger.Debug("mosaic received", zap.Int("z", z), zap.Int("x", x), zap.Int("y", y), zap.Int("bytes", len(data)))
	return data, nil
}

// get fetches target, using origin to key rate limiting
func (c *Client) get(ctx context.Context, origin, target string) ([]byte, error) {
	host := hostOf(origin)
	if c.limiter != nil && c.limiter.IsRateLimited(host) {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", origin, err)
	}
	defer resp.Body.Close()

	if c.limiter != nil {
		c.limiter.CheckResponse(host, resp)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{Code: resp.StatusCode, URL: origin}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", origin, err)
	}
	return data, nil
}

// CapabilitiesProxyURL builds the proxy URL that relays a capabilities document
func CapabilitiesProxyURL(proxyBase, capURL string) string {
	return strings.TrimRight(proxyBase, "/") + "/api/wmts/capabilities?url=" + url.QueryEscape(capURL)
}

// TileProxyURL maps https://host/path?q onto {proxyBase}/api/tiles/host/path?q
func TileProxyURL(proxyBase, tileURL string) (string, error) {
	u, err := url.Parse(tileURL)
	if err != nil {
		return "", fmt.Errorf("nasa: bad tile url %q: %w", tileURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("nasa: tile url %q has no host", tileURL)
	}
	out := strings.TrimRight(proxyBase, "/") + "/api/tiles/" + u.Host + u.EscapedPath()
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
