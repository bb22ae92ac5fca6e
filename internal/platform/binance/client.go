// Package binance implements the REST gateway to Binance USD-M
// perpetual futures.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
)

// requestTimeout bounds every REST call; the venue's own defaults are
// far looser than a trading loop can tolerate.
const requestTimeout = 10 * time.Second

// Limiter gates outbound requests. Implementations return
// domain.ErrRateLimited (possibly wrapped) when the budget is spent.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// nopLimiter admits every request.
type nopLimiter struct{}

func (nopLimiter) Allow(context.Context, string) error { return nil }

// Client is the REST client for the Binance USD-M futures API.
// It implements domain.Exchange.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int
	httpClient *http.Client
	limiter    Limiter
	logger     *slog.Logger

	rulesMu sync.RWMutex
	rules   map[string]*domain.SymbolRule
}

var _ domain.Exchange = (*Client)(nil)

// NewClient creates a new Binance futures REST client. limiter may be
// nil, in which case requests are not locally throttled.
func NewClient(cfg config.BinanceConfig, limiter Limiter, logger *slog.Logger) *Client {
	if limiter == nil {
		limiter = nopLimiter{}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.ApiKey,
		apiSecret:  cfg.ApiSecret,
		recvWindow: cfg.RecvWindow,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "binance")),
		rules:   make(map[string]*domain.SymbolRule),
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs (HMAC-SHA256), sends, and reads an HTTP
// request against a private endpoint. params must not already contain
// timestamp or signature.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Allow(ctx, "rest:"+path); err != nil {
		return nil, fmt.Errorf("throttle %s: %w", path, err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	query := params.Encode()
	query += "&signature=" + c.sign(query)

	fullURL := c.baseURL + path + "?" + query

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

// doPublicRequest sends an unsigned request against a public endpoint.
func (c *Client) doPublicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Allow(ctx, "rest:"+path); err != nil {
		return nil, fmt.Errorf("throttle %s: %w", path, err)
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil {
			apiErr.Message = string(body)
		}
		c.logger.Warn("api error",
			slog.String("path", req.URL.Path),
			slog.Int("status", apiErr.Status),
			slog.Int("code", apiErr.Code),
			slog.String("msg", apiErr.Message))
		return nil, apiErr
	}

	return body, nil
}

// sign computes the HMAC-SHA256 signature of the canonical query string.
func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
