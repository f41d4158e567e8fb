// Package api is the single choke point for every call to the portal REST API.
//
// Client attaches the common headers (JSON content type, correlation id, bearer
// token), probes the backend before dispatch, classifies failures into *errors.APIError
// and performs the process-wide side effects of an expired session. Nothing is retried
// here; callers layer retry.Do on top when they want it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	perrors "github.com/khgapparov/flipApp/internal/errors"
	"github.com/khgapparov/flipApp/internal/metrics"
	"github.com/khgapparov/flipApp/internal/notify"
	"github.com/khgapparov/flipApp/internal/requestid"
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sessions is the part of the session store the executor needs.
type Sessions interface {
	Token(ctx context.Context) string
	Clear(ctx context.Context) error
}

// Prober reports whether the backend answers at all.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// Navigator performs the hard navigation to the login entry point.
type Navigator interface {
	ToLogin(ctx context.Context)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context)

func (f NavigatorFunc) ToLogin(ctx context.Context) { f(ctx) }

const (
	msgUnreachable    = "Backend server is not reachable. Please check if the server is running."
	msgNetwork        = "Network error. Please check your connection and ensure the backend server is running."
	msgSessionExpired = "Session expired. Please login again."
)

// Request describes one API call. Path is relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  Params
	Header http.Header
	// Body is JSON-encoded when non-nil.
	Body any
	// Timeout bounds the call (probe excluded). Zero falls back to the client default.
	Timeout time.Duration
	// SkipProbe bypasses the reachability probe for this call.
	SkipProbe bool
}

// Client wraps the portal REST API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	sessions   Sessions
	prober     Prober
	notifier   notify.Notifier
	navigator  Navigator
	metrics    *metrics.Metrics
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithProber sets the reachability probe run before every request.
func WithProber(p Prober) Option {
	return func(c *Client) { c.prober = p }
}

// WithNotifier sets where user-visible notices go.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithNavigator sets the login redirect performed on an expired session.
func WithNavigator(n Navigator) Option {
	return func(c *Client) { c.navigator = n }
}

// WithMetrics records request counts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimeout sets the default per-request timeout. Zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit throttles outgoing requests client-side. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new API client. Without WithProber no reachability probe runs.
func NewClient(baseURL string, sessions Sessions, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		sessions:   sessions,
		notifier:   notify.Nop{},
		logger:     logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.navigator == nil {
		log := c.logger
		c.navigator = NavigatorFunc(func(context.Context) {
			log.Warn().Msg("session expired, login required")
		})
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes req and decodes a successful JSON response into out (nil discards it).
// Every failure is returned as an *errors.APIError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx, reqID := requestid.New(ctx)
	logger := c.logger.With().Str("method", method).Str("path", req.Path).Str("request_id", reqID).Logger()
	start := time.Now()

	err := c.do(ctx, logger, method, req, out)

	c.observe(method, start, err)
	if err != nil {
		if apiErr, ok := perrors.As(err); ok {
			apiErr.RequestID = reqID
		}
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("request failed")
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, logger zerolog.Logger, method string, req Request, out any) error {
	logger.Debug().Msg("api request")

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return classifyTransport(ctxErr)
			}
			// The limiter refuses early when the wait would outlast the deadline.
			if _, ok := ctx.Deadline(); ok {
				return perrors.Timeout(err)
			}
			return classifyTransport(err)
		}
	}

	if err := ctx.Err(); err != nil {
		return classifyTransport(err)
	}
	if c.prober != nil && !req.SkipProbe && !c.prober.Reachable(ctx) {
		if err := ctx.Err(); err != nil {
			return classifyTransport(err)
		}
		if c.metrics != nil {
			c.metrics.RecordProbeFailure()
		}
		return perrors.Network(msgUnreachable, nil)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			apiErr := perrors.NewAPIError(perrors.KindServer, 0, "Invalid request body")
			apiErr.Err = fmt.Errorf("encoding request body: %w", err)
			return apiErr
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.url(req.Path, req.Query), body)
	if err != nil {
		apiErr := perrors.NewAPIError(perrors.KindServer, 0, "Invalid request")
		apiErr.Err = fmt.Errorf("creating request: %w", err)
		return apiErr
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	requestid.Stamp(httpReq)
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Set(k, v)
		}
	}
	if token := c.sessions.Token(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(err)
	}

	logger.Debug().Int("status", resp.StatusCode).Msg("api response")

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.expireSession(ctx)
		apiErr := perrors.NewAPIError(perrors.KindAuth, resp.StatusCode, "Authentication failed")
		apiErr.Data = decodeErrorBody(respBody)
		return apiErr
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		wait := retryAfter
		if wait == "" {
			wait = "a few"
		}
		notify.Error(ctx, c.notifier, fmt.Sprintf("Too many requests. Please try again in %s seconds.", wait))
		apiErr := perrors.NewAPIError(perrors.KindRateLimit, resp.StatusCode, "Rate limit exceeded")
		apiErr.RetryAfter = retryAfter
		apiErr.Data = decodeErrorBody(respBody)
		return apiErr
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return serverError(resp.StatusCode, respBody, fmt.Sprintf("HTTP error! status: %d", resp.StatusCode))
	}

	return decodeInto(resp.StatusCode, respBody, out)
}

// expireSession tears the session down process-wide. It runs even when ctx was
// cancelled mid-flight.
func (c *Client) expireSession(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	if err := c.sessions.Clear(detached); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear session after 401")
	}
	notify.Error(detached, c.notifier, msgSessionExpired)
	c.navigator.ToLogin(detached)
}

func (c *Client) url(path string, query Params) string {
	u := c.baseURL + path
	if q := query.Encode(); q != "" {
		if strings.Contains(path, "?") {
			u += "&" + q
		} else {
			u += "?" + q
		}
	}
	return u
}

func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		if apiErr, ok := perrors.As(err); ok {
			outcome = string(apiErr.Kind)
			if apiErr.StatusCode > 0 {
				outcome = strconv.Itoa(apiErr.StatusCode)
			}
		} else {
			outcome = "client"
		}
	}
	c.metrics.RecordRequest(method, outcome)
	c.metrics.ObserveDuration(method, time.Since(start).Seconds())
}

// Get is shorthand for a GET request.
func (c *Client) Get(ctx context.Context, path string, query Params, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post is shorthand for a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put is shorthand for a PUT request with a JSON body and optional extra headers.
func (c *Client) Put(ctx context.Context, path string, header http.Header, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Header: header, Body: body}, out)
}

// Delete is shorthand for a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, out)
}

// classifyTransport maps a failure that produced no HTTP response. Deadline and
// cancellation (the abort signal) become timeouts; everything else is a network error.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return perrors.Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return perrors.Timeout(err)
	}
	return perrors.Network(msgNetwork, err)
}

func decodeErrorBody(body []byte) map[string]any {
	data := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return data
	}
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return map[string]any{}
	}
	return data
}

func serverError(status int, body []byte, fallback string) *perrors.APIError {
	data := decodeErrorBody(body)
	msg, _ := data["message"].(string)
	if msg == "" {
		msg = fallback
	}
	apiErr := perrors.NewAPIError(perrors.KindServer, status, msg)
	apiErr.Data = data
	return apiErr
}

func decodeInto(status int, body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		apiErr := perrors.NewAPIError(perrors.KindMalformed, status, "Invalid JSON in server response")
		apiErr.Err = err
		return apiErr
	}
	return nil
}
