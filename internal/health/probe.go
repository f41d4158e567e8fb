package health

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProbeTimeout bounds every reachability probe regardless of caller timeouts.
const ProbeTimeout = 3 * time.Second

// DefaultProbePath is the backend endpoint used for reachability probes.
const DefaultProbePath = "/test/datetime"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober checks whether the backend answers at all. Any HTTP response, including
// 404 or 500, counts as reachable; only transport failures mean "down".
type Prober struct {
	url        string
	httpClient HTTPClient
	logger     zerolog.Logger
}

// NewProber creates a prober for baseURL+path.
func NewProber(baseURL, path string, httpClient HTTPClient, logger zerolog.Logger) *Prober {
	if path == "" {
		path = DefaultProbePath
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Prober{
		url:        strings.TrimSuffix(baseURL, "/") + path,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "probe").Logger(),
	}
}

// Reachable issues a GET against the probe endpoint with a fixed 3s bound. The
// caller's deadline and cancellation do not shorten it.
func (p *Prober) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn().Err(err).Msg("building probe request")
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", p.url).Msg("backend server is not reachable")
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}

// Check adapts the prober to a CheckFunc.
func (p *Prober) Check(ctx context.Context) Status {
	if p.Reachable(ctx) {
		return StatusOK
	}
	return StatusDown
}
