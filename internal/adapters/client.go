// Package adapters holds the endpoint-specific provider adapters and
// the HTTP client they share. Everything provider-protocol-shaped
// (headers, status codes, the error-budget signal) stays in here; the
// synchronizer only ever sees entities and tracker states.
package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/auth"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/esync"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/throttle"
)

// Response is one successful provider response with the protocol
// signals the adapters and the scheduler care about.
type Response struct {
	Status      int
	Body        []byte
	Expires     time.Time
	ETag        string
	Pages       int
	NotModified bool
}

// Client is the shared provider HTTP client. Every call funnels
// through the throttle, and every response reports its error budget
// back to it.
type Client struct {
	base     string
	http     *http.Client
	throttle *throttle.Throttle
	clock    quartz.Clock
	log      slog.Logger
}

func NewClient(base string, th *throttle.Throttle, clock quartz.Clock, log slog.Logger) *Client {
	return &Client{
		base:     strings.TrimRight(base, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		throttle: th,
		clock:    clock,
		log:      log.Named("provider"),
	}
}

// Get issues one throttled provider call. Non-success responses come
// back as *esync.ProviderError values (404 included, for callers doing
// per-item lookups); a 403 maps to esync.ErrMissingScope. A 304 against
// the supplied etag is reported through Response.NotModified.
func (c *Client) Get(ctx context.Context, ep model.Endpoint, path string, query url.Values, cred auth.Credentials, etag string) (*Response, error) {
	if err := c.throttle.Wait(ctx, ep); err != nil {
		return nil, fmt.Errorf("throttle: %w", err)
	}

	u := c.base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &esync.ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &esync.ProviderError{Message: fmt.Sprintf("read body: %v", err)}
	}

	c.observeBudget(ctx, resp.Header)

	out := &Response{
		Status:  resp.StatusCode,
		Body:    body,
		ETag:    resp.Header.Get("ETag"),
		Expires: parseExpires(resp.Header),
	}
	if pages := resp.Header.Get("X-Pages"); pages != "" {
		if n, err := strconv.Atoi(pages); err == nil {
			out.Pages = n
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		out.NotModified = true
		return out, nil
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", esync.ErrMissingScope, strings.TrimSpace(string(body)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &esync.ProviderError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return out, nil
}

// observeBudget reports the provider's error-budget headers to the
// throttle. The reset header counts seconds until the budget window
// rolls over.
func (c *Client) observeBudget(ctx context.Context, h http.Header) {
	remain := h.Get("X-Esi-Error-Limit-Remain")
	reset := h.Get("X-Esi-Error-Limit-Reset")
	if remain == "" || reset == "" {
		return
	}
	r, err := strconv.Atoi(remain)
	if err != nil {
		return
	}
	sec, err := strconv.Atoi(reset)
	if err != nil {
		return
	}
	c.throttle.Observe(ctx, throttle.Budget{
		Remain:  r,
		ResetAt: c.clock.Now().Add(time.Duration(sec) * time.Second),
	})
}

func parseExpires(h http.Header) time.Time {
	raw := h.Get("Expires")
	if raw == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
