// Package apiclient provides the HTTP plumbing shared by the vendor report
// clients: per-vendor rate limiting, a circuit breaker and typed API errors.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Harvey-AU/ad-metrics-sync/internal/observability"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 60 * time.Second
	maxBodyBytes   = 64 << 20
)

// ErrCircuitOpen is returned when the vendor's breaker is rejecting calls
var ErrCircuitOpen = errors.New("vendor circuit breaker open")

// APIError represents a non-2xx response from a vendor API.
type APIError struct {
	Vendor     string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: API error %d (%s): %s", e.Vendor, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Vendor, e.StatusCode, e.Message)
}

// Temporary reports whether retrying later could succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrorDecoder extracts a vendor error from a non-2xx body. It returns false
// when the body is not in the vendor's error shape.
type ErrorDecoder func(body []byte) (code, message string, ok bool)

// Config configures a vendor client
type Config struct {
	Vendor string
	// HTTPClient defaults to a client with a 60s timeout. Pass an oauth2 client
	// to authenticate requests.
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Burst             int
	DecodeError       ErrorDecoder
	// BreakerTimeout is how long the breaker stays open before probing again
	BreakerTimeout time.Duration
}

// Client executes vendor requests behind a limiter and a circuit breaker
type Client struct {
	vendor      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[[]byte]
	decodeError ErrorDecoder
}

// New creates a vendor client
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	decode := cfg.DecodeError
	if decode == nil {
		decode = DecodeStandardError
	}

	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 2 * time.Minute
	}

	c := &Client{
		vendor:      cfg.Vendor,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(limit, burst),
		decodeError: decode,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cfg.Vendor,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("vendor", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Vendor circuit breaker state changed")
			observability.RecordBreakerState(context.Background(), name, int64(to))
		},
		// Client errors are the caller's fault and must not open the breaker
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return errors.Is(err, context.Canceled)
		},
	})

	return c
}

// Vendor returns the vendor name used in errors and metrics
func (c *Client) Vendor() string {
	return c.vendor
}

// Do sends the request and returns the response body for a 2xx status.
// Non-2xx responses become *APIError.
func (c *Client) Do(req *http.Request) ([]byte, error) {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", c.vendor, err)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.RecordVendorRequest(ctx, c.vendor, "rejected")
			return nil, fmt.Errorf("%s: %w", c.vendor, ErrCircuitOpen)
		}
		observability.RecordVendorRequest(ctx, c.vendor, "failure")
		return nil, err
	}

	observability.RecordVendorRequest(ctx, c.vendor, "success")
	return body, nil
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.vendor, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", c.vendor, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	apiErr := &APIError{Vendor: c.vendor, StatusCode: resp.StatusCode, Message: string(body)}
	if code, message, ok := c.decodeError(body); ok {
		apiErr.Code = code
		apiErr.Message = message
	}
	return nil, apiErr
}

// GetJSON issues a GET and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", c.vendor, err)
	}
	copyHeader(req.Header, header)
	return c.doJSON(req, out)
}

// PostJSON marshals payload, POSTs it and decodes the JSON response into out
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", c.vendor, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", c.vendor, err)
	}
	copyHeader(req.Header, header)
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	body, err := c.Do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", c.vendor, err)
	}
	return nil
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// DecodeStandardError understands the {"error": {"code", "message", "status"}}
// shape used by Google and Meta APIs.
func DecodeStandardError(body []byte) (string, string, bool) {
	var payload struct {
		Error struct {
			Code    json.RawMessage `json:"code"`
			Status  string          `json:"status"`
			Type    string          `json:"type"`
			Message string          `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return "", "", false
	}

	code := payload.Error.Status
	if code == "" {
		code = payload.Error.Type
	}
	if code == "" && len(payload.Error.Code) > 0 {
		code = string(bytes.Trim(payload.Error.Code, `"`))
	}
	return code, payload.Error.Message, true
}
