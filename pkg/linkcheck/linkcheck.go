// Package linkcheck validates the links of a drafted note over HTTP.
package linkcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/factcheck-cli/internal/strategy"
)

// Options configures a Checker.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	Concurrency int
	// RequestsPerSecond paces outbound requests across all hosts. <= 0
	// disables pacing.
	RequestsPerSecond float64
}

// Checker implements strategy.URLValidator. A link is valid when it answers
// HEAD (or GET, for servers that refuse HEAD) with a 2xx or 3xx status.
type Checker struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// New creates a Checker. Redirects are not followed: a 3xx already proves
// the link resolves.
func New(opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "factcheck-cli/1.0"
	}
	c := &Checker{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		opts: opts,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(int(opts.RequestsPerSecond), 1))
	}
	return c
}

// Validate checks every URL and returns one result per input, in order.
// Only context cancellation is reported as an error; per-link failures are
// results with a diagnostic.
func (c *Checker) Validate(ctx context.Context, urls []string) ([]strategy.URLCheck, error) {
	out := make([]strategy.URLCheck, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			out[i] = c.check(gctx, u)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "linkcheck: validate")
	}

	invalid := 0
	for _, r := range out {
		if !r.Valid {
			invalid++
		}
	}
	zap.L().Debug("linkcheck: validated links",
		zap.Int("total", len(urls)),
		zap.Int("invalid", invalid),
	)
	return out, nil
}

func (c *Checker) check(ctx context.Context, raw string) strategy.URLCheck {
	res := strategy.URLCheck{URL: raw}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		res.Diagnostic = "malformed URL"
		return res
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		res.Diagnostic = fmt.Sprintf("unsupported scheme %q", u.Scheme)
		return res
	}

	status, err := c.probe(ctx, http.MethodHead, u.String())
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = c.probe(ctx, http.MethodGet, u.String())
	}
	if err != nil {
		res.Diagnostic = err.Error()
		return res
	}

	res.Valid = status >= 200 && status < 400
	res.Diagnostic = fmt.Sprintf("HTTP %d", status)
	return res
}

func (c *Checker) probe(ctx context.Context, method, target string) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
