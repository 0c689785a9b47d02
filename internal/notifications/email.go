package notifications

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	loopsBaseURL      = "https://app.loops.so/api/v1"
	emailSendTimeout  = 10 * time.Second
	maxErrorBodyBytes = 4096
)

// EmailConfig configures alert delivery through Loops transactional email
type EmailConfig struct {
	APIKey          string
	TransactionalID string
	Recipients      []string
	BaseURL         string
}

// EmailChannel sends each notification as a transactional email to every
// recipient. The template receives title, message, severity and details.
type EmailChannel struct {
	apiKey          string
	transactionalID string
	recipients      []string
	baseURL         string
	httpClient      *http.Client
}

type transactionalRequest struct {
	Email           string         `json:"email"`
	TransactionalID string         `json:"transactionalId"`
	DataVariables   map[string]any `json:"dataVariables,omitempty"`
}

// EmailAPIError is a non-2xx response from the email API
type EmailAPIError struct {
	StatusCode int
	Message    string
}

func (e *EmailAPIError) Error() string {
	return fmt.Sprintf("email API error %d: %s", e.StatusCode, e.Message)
}

// NewEmailChannel validates cfg and returns a channel ready to deliver
func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("email api key is required")
	}
	if cfg.TransactionalID == "" {
		return nil, errors.New("email transactional id is required")
	}

	var recipients []string
	for _, r := range cfg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return nil, errors.New("at least one alert recipient is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = loopsBaseURL
	}

	return &EmailChannel{
		apiKey:          cfg.APIKey,
		transactionalID: cfg.TransactionalID,
		recipients:      recipients,
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: emailSendTimeout},
	}, nil
}

// Name returns the channel name
func (c *EmailChannel) Name() string {
	return "email"
}

// Deliver emails n to every recipient; failures for one address do not stop the rest
func (c *EmailChannel) Deliver(ctx context.Context, n *Notification) error {
	vars := map[string]any{
		"title":    n.Title,
		"message":  n.Message,
		"severity": string(n.Severity),
		"details":  formatFields(n.Fields),
	}
	key := idempotencyKey(n)

	var errs []error
	for _, to := range c.recipients {
		req := &transactionalRequest{
			Email:           to,
			TransactionalID: c.transactionalID,
			DataVariables:   vars,
		}
		if err := c.send(ctx, req, key+":"+to); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	log.Info().Str("title", n.Title).Int("recipients", len(c.recipients)).Msg("Email alert sent")
	return nil
}

func (c *EmailChannel) send(ctx context.Context, req *transactionalRequest, idempotency string) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactional", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotency)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var apiResp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &apiResp) == nil && apiResp.Message != "" {
		return &EmailAPIError{StatusCode: resp.StatusCode, Message: apiResp.Message}
	}
	return &EmailAPIError{StatusCode: resp.StatusCode, Message: string(raw)}
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, fields[k])
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// idempotencyKey is stable for identical alerts raised within the same hour
func idempotencyKey(n *Notification) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", n.Title, n.Message, n.Severity, time.Now().UTC().Format("2006010215"))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
