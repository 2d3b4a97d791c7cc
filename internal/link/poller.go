package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/litescript/ls-fleet/internal/telemetry"
)

const (
	// DefaultPollTimeout bounds each polling request.
	DefaultPollTimeout = 5 * time.Second

	maxPollBody = 1 << 20
)

// Poller fetches one telemetry snapshot over request/response.
type Poller interface {
	Poll(ctx context.Context, key string) (telemetry.Record, error)
}

// PollerFunc adapts a function to the Poller interface.
type PollerFunc func(ctx context.Context, key string) (telemetry.Record, error)

// Poll calls f.
func (f PollerFunc) Poll(ctx context.Context, key string) (telemetry.Record, error) {
	return f(ctx, key)
}

// HTTPPoller polls the telemetry and status endpoints of the backend.
type HTTPPoller struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	now     func() time.Time
}

// PollerOption configures an HTTPPoller.
type PollerOption func(*HTTPPoller)

// WithPollTimeout sets the HTTP request timeout.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *HTTPPoller) {
		p.timeout = d
	}
}

// WithPollClient sets a custom HTTP client.
func WithPollClient(client *http.Client) PollerOption {
	return func(p *HTTPPoller) {
		p.client = client
	}
}

// NewHTTPPoller creates a poller for the backend at baseURL.
func NewHTTPPoller(baseURL string, opts ...PollerOption) *HTTPPoller {
	p := &HTTPPoller{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultPollTimeout,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		p.client = &http.Client{
			Timeout: p.timeout,
		}
	}

	return p
}

// Poll fetches /telemetry and /status and merges them, status overlaid on
// telemetry. One failing endpoint still yields the other's data; only a
// failure of both is an error.
func (p *HTTPPoller) Poll(ctx context.Context, key string) (telemetry.Record, error) {
	received := p.now()

	var (
		rec  telemetry.Record
		errs []error
		ok   bool
	)
	for _, path := range []string{"/telemetry", "/status"} {
		body, err := p.get(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r, err := telemetry.NormalizeAt(body, received)
		if err != nil {
			errs = append(errs, fmt.Errorf("normalize %s: %w", path, err))
			continue
		}
		if ok {
			rec = rec.Merge(r)
		} else {
			rec, ok = r, true
		}
	}

	if !ok {
		return telemetry.Record{}, errors.Join(errs...)
	}
	if rec.VehicleID == "" {
		rec.VehicleID = key
	}
	return rec, nil
}

func (p *HTTPPoller) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll %s: unexpected status code: %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", path, err)
	}
	return body, nil
}

// BaseURL returns the configured backend URL.
func (p *HTTPPoller) BaseURL() string {
	return p.baseURL
}
