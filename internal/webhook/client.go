package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/dunamismax/pixelframe/internal/id"
)

const (
	HeaderSignature = "X-Pixelframe-Signature"
	HeaderTimestamp = "X-Pixelframe-Timestamp"
	HeaderEvent     = "X-Pixelframe-Event"
	HeaderDelivery  = "X-Pixelframe-Delivery"
	HeaderAttempt   = "X-Pixelframe-Attempt"
)

const (
	EventExportSucceeded = "export.succeeded"
	EventExportFailed    = "export.failed"
)

const maxPayloadBytes = 64 << 10

var ErrPayloadTooLarge = errors.New("webhook payload too large")

// ExportEvent is the body posted when an export job settles.
type ExportEvent struct {
	JobID       string              `json:"job_id"`
	SessionID   string              `json:"session_id,omitempty"`
	Kind        string              `json:"kind"`
	Status      string              `json:"status"`
	OutputKey   string              `json:"output_key,omitempty"`
	OutputName  string              `json:"output_name,omitempty"`
	DownloadURL string              `json:"download_url,omitempty"`
	Error       string              `json:"error,omitempty"`
	Stats       *domain.ExportStats `json:"stats,omitempty"`
	CompletedAt time.Time           `json:"completed_at"`
}

// StatusError is returned when the receiver answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status=%d", e.StatusCode)
}

// Retryable reports whether a later attempt could succeed. Client errors other
// than timeouts and throttling mean the receiver rejected the event itself.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	default:
		return true
	}
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client posts signed export events. Every attempt of one delivery carries the
// same delivery ID and signature so receivers can deduplicate.
type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: initialBackoff,
		maxBackoff:     max(cfg.MaxBackoff, initialBackoff),
		now:            time.Now,
	}
}

type delivery struct {
	id        string
	event     string
	timestamp string
	signature string
	body      []byte
}

func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	d, err := c.prepare(event, payload)
	if err != nil {
		return err
	}

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.attempt(ctx, endpoint, d, attempt)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.Retryable() {
			return fmt.Errorf("webhook delivery %s rejected: %w", d.id, lastErr)
		}
		if attempt == c.maxAttempts {
			break
		}

		wait := backoff
		if statusErr != nil && statusErr.RetryAfter > wait {
			wait = min(statusErr.RetryAfter, c.maxBackoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery %s failed after %d attempts: %w", d.id, c.maxAttempts, lastErr)
}

func (c *Client) prepare(event string, payload any) (delivery, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return delivery{}, fmt.Errorf("marshal webhook payload: %w", err)
	}
	if len(body) > maxPayloadBytes {
		return delivery{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(body))
	}

	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	return delivery{
		id:        id.New(),
		event:     event,
		timestamp: timestamp,
		signature: sign(c.signingSecret, timestamp, body),
		body:      body,
	}, nil
}

func (c *Client) attempt(ctx context.Context, endpoint string, d delivery, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(d.body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, d.timestamp)
	req.Header.Set(HeaderSignature, d.signature)
	req.Header.Set(HeaderEvent, d.event)
	req.Header.Set(HeaderDelivery, d.id)
	req.Header.Set(HeaderAttempt, strconv.Itoa(n))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced for timestamp and body with secret.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(sign(secret, timestamp, body)), []byte(signature))
}

func parseRetryAfter(v string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
