// Package webhook notifies run owners when a run finishes.
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

	"github.com/dunamismax/solarprep/internal/domain"
)

const (
	HeaderSignature = "X-Solarprep-Signature"
	HeaderTimestamp = "X-Solarprep-Timestamp"
	HeaderEvent     = "X-Solarprep-Event"

	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// errPermanent marks a response that retrying will not fix.
var errPermanent = errors.New("permanent webhook failure")

// RunEvent is the body posted for both run events.
type RunEvent struct {
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	Produced   int             `json:"produced"`
	Failed     int             `json:"failed"`
	Exhausted  bool            `json:"exhausted"`
	Error      string          `json:"error,omitempty"`
	Summary    *domain.Summary `json:"summary,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

// NewRunEvent builds the notification for a finished run and picks its
// event name.
func NewRunEvent(run domain.Run) (string, RunEvent) {
	evt := RunEvent{
		RunID:      run.ID,
		Status:     run.Status,
		Error:      run.Error,
		Summary:    run.Summary,
		FinishedAt: run.UpdatedAt,
	}
	if run.Summary != nil {
		evt.Produced = run.Summary.Produced
		evt.Failed = run.Summary.Failed
		evt.Exhausted = run.Summary.Exhausted
	}
	if run.Status == domain.RunStatusFailed {
		return EventRunFailed, evt
	}
	return EventRunCompleted, evt
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
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
		maxAttempts:    max(1, cfg.MaxAttempts),
		initialBackoff: initialBackoff,
		maxBackoff:     max(cfg.MaxBackoff, initialBackoff),
	}
}

// Send posts payload as JSON, retrying network errors and 5xx/429
// responses with exponential backoff. An empty endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.post(ctx, endpoint, event, timestamp, signature, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) || attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery to %s failed: %w", endpoint, lastErr)
}

func (c *Client) post(ctx context.Context, endpoint, event, timestamp, signature string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, event)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status=%d", errPermanent, resp.StatusCode)
	}
}

// Sign computes the signature header value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret, timestamp, signature string, body []byte) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
