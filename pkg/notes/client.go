// Package notes is the client for the community notes platform: it submits
// notes, reports their display status and scores drafts.
package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/resilience"
)

// RejectionError is returned when the platform refuses a request outright.
// Reason carries the platform's explanation for the caller.
type RejectionError struct {
	StatusCode int
	Reason     string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("notes: rejected (%d): %s", e.StatusCode, e.Reason)
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit paces requests to rps per second. rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// Client talks to the notes platform HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client. The default pace is 2 req/s.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(2, 2),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type submitRequest struct {
	ItemRef            string   `json:"item_ref"`
	Text               string   `json:"text"`
	Links              []string `json:"links"`
	Classification     string   `json:"classification"`
	Tags               []string `json:"tags,omitempty"`
	TrustworthySources bool     `json:"trustworthy_sources"`
}

// Submit sends a note and returns the platform's id for it.
func (c *Client) Submit(ctx context.Context, p model.SubmissionPayload) (string, error) {
	req := submitRequest{
		ItemRef:            p.ItemRef,
		Text:               p.Text,
		Links:              p.Links,
		Classification:     string(p.Classification),
		Tags:               p.Tags,
		TrustworthySources: p.TrustworthySources,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/notes", req, &resp); err != nil {
		return "", eris.Wrap(err, "notes: submit")
	}
	if resp.ID == "" {
		return "", eris.New("notes: submit: response has no id")
	}
	return resp.ID, nil
}

// Status returns the raw display status of a submitted note.
func (c *Client) Status(ctx context.Context, externalID string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/notes/"+url.PathEscape(externalID), nil, &resp); err != nil {
		return "", eris.Wrapf(err, "notes: status %s", externalID)
	}
	return resp.Status, nil
}

// Evaluate scores a draft against the item it annotates.
func (c *Client) Evaluate(ctx context.Context, text, itemRef string) (float64, error) {
	req := map[string]string{"text": text, "item_ref": itemRef}
	var resp struct {
		Score *float64 `json:"score"`
	}
	if err := c.do(ctx, http.MethodPost, "/evaluate", req, &resp); err != nil {
		return 0, eris.Wrap(err, "notes: evaluate")
	}
	if resp.Score == nil {
		return 0, eris.New("notes: evaluate: response has no score")
	}
	return *resp.Score, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(eris.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), resp.StatusCode)
	default:
		return &RejectionError{StatusCode: resp.StatusCode, Reason: rejectionReason(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}

// rejectionReason extracts {"error": "..."} or {"reason": "..."} and falls
// back to the raw body.
func rejectionReason(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Reason != "" {
			return body.Reason
		}
		if body.Error != "" {
			return body.Error
		}
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "no reason given"
	}
	return s
}
