package clash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrNotConnected is returned when a request is made before Connect
// has adopted a working control-plane address.
var ErrNotConnected = errors.New("not connected to control plane")

// ErrUnauthorized marks a 401 from the control plane so callers can
// surface a secret-specific diagnostic.
var ErrUnauthorized = errors.New("control plane rejected credentials")

// APIError carries the HTTP status of a failed control-plane request.
type APIError struct {
	Status int
	Path   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane returned HTTP %d for %s", e.Status, e.Path)
}

// cacheWindow is how long a probe result stays fresh. A probe for an
// endpoint measured more recently than this is answered from memory
// without touching the network.
const cacheWindow = 60 * time.Second

// Client talks to the Clash-compatible control daemon. All probe
// requests pass through the limiter, so the daemon never sees more
// than the configured number of concurrent delay checks.
type Client struct {
	candidates []string
	secret     string
	testURL    string
	timeout    time.Duration

	baseURL string
	client  *http.Client
	limiter *Limiter

	cacheMu sync.RWMutex
	cache   map[string]Result

	// now is swappable in tests to age cache entries.
	now func() time.Time
}

func NewClient(candidates []string, secret, testURL string, timeoutSeconds, concurrency int) *Client {
	timeout := time.Duration(timeoutSeconds) * time.Second

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        concurrency,
		MaxIdleConnsPerHost: concurrency,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		candidates: candidates,
		secret:     secret,
		testURL:    testURL,
		timeout:    timeout,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		limiter: NewLimiter(concurrency),
		cache:   make(map[string]Result),
		now:     time.Now,
	}
}

// Limiter exposes the admission gate for callers that need to wait on
// batch drain behavior.
func (c *Client) Limiter() *Limiter { return c.limiter }

// BaseURL is the adopted control-plane address, empty before Connect.
func (c *Client) BaseURL() string { return c.baseURL }

type versionResponse struct {
	Version string `json:"version"`
}

// Connect tries each candidate base URL in order and adopts the first
// one whose /version route answers 200. Connection refusal, timeouts
// and malformed bodies just move on to the next candidate. Returns
// false when every candidate fails.
func (c *Client) Connect(ctx context.Context) bool {
	for _, candidate := range c.candidates {
		var ver versionResponse
		if err := c.getJSON(ctx, candidate, "/version", nil, &ver); err != nil {
			log.Debugf("control plane candidate %s failed: %v", candidate, err)
			continue
		}
		c.baseURL = candidate
		log.Infof("Connected to control plane at %s (version %s)", candidate, ver.Version)
		return true
	}
	log.Errorf("No control plane reachable among candidates: %v", c.candidates)
	return false
}

// ProxyList is the daemon's full endpoint inventory, keyed by name.
type ProxyList struct {
	Proxies map[string]json.RawMessage `json:"proxies"`
}

// Proxies fetches every endpoint definition known to the daemon.
func (c *Client) Proxies(ctx context.Context) (*ProxyList, error) {
	if c.baseURL == "" {
		return nil, ErrNotConnected
	}
	var list ProxyList
	if err := c.getJSON(ctx, c.baseURL, "/proxies", nil, &list); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: check the configured secret", ErrUnauthorized)
		}
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	return &list, nil
}

type delayResponse struct {
	Delay *int64 `json:"delay"`
}

// ProbeDelay measures one endpoint's round-trip latency through the
// daemon's delay-check route. Failures of any kind (transport, HTTP
// status, missing delay field) come back as a failed Result, never an
// error: a dead endpoint is data, not an exceptional condition. Fresh
// cached results short-circuit without network I/O or a limiter slot.
func (c *Client) ProbeDelay(ctx context.Context, name string) Result {
	if cached, ok := c.cachedResult(name); ok {
		return cached
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		// Canceled while waiting for a slot; not cached so a later
		// run measures for real.
		return failResult(name)
	}
	defer c.limiter.Release()

	result := c.probe(ctx, name)
	if ctx.Err() == nil {
		c.storeResult(result)
	}
	return result
}

func (c *Client) probe(ctx context.Context, name string) Result {
	if c.baseURL == "" {
		return failResult(name)
	}

	// The daemon takes its per-probe timeout in milliseconds.
	params := url.Values{}
	params.Set("url", c.testURL)
	params.Set("timeout", strconv.FormatInt(c.timeout.Milliseconds(), 10))

	var resp delayResponse
	path := "/proxies/" + url.PathEscape(name) + "/delay"
	if err := c.getJSON(ctx, c.baseURL, path, params, &resp); err != nil {
		log.Debugf("probe %q failed: %v", name, err)
		return failResult(name)
	}
	if resp.Delay == nil {
		log.Debugf("probe %q returned no delay figure", name)
		return failResult(name)
	}
	return okResult(name, *resp.Delay)
}

func (c *Client) cachedResult(name string) (Result, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	cached, ok := c.cache[name]
	if !ok || c.now().Sub(cached.MeasuredAt) >= cacheWindow {
		return Result{}, false
	}
	return cached, true
}

func (c *Client) storeResult(result Result) {
	c.cacheMu.Lock()
	c.cache[result.Name] = result
	c.cacheMu.Unlock()
}

func (c *Client) getJSON(ctx context.Context, base, path string, params url.Values, out any) error {
	reqURL := base + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Path: path}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
