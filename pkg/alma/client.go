// Package alma implements the rate-limited Alma API client: paginated user
// listing, single-user fetch, and full-record replacement, with classified
// errors for both of the error body formats the API speaks.
package alma

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bibops/alma-user-batch/pkg/ratelimit"
	"github.com/bibops/alma-user-batch/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Alma client operations.
var (
	almaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alma_requests_total",
		Help: "Total Alma API requests by operation and status",
	}, []string{"operation", "status"})

	almaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alma_request_duration_seconds",
		Help:    "Alma API request duration in seconds by operation",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	almaErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alma_errors_total",
		Help: "Total Alma API errors by class",
	}, []string{"class"})
)

// Operation names used for metrics and logging.
const (
	opListUsers  = "list_users"
	opGetUser    = "get_user"
	opUpdateUser = "update_user"
)

// Config holds the client configuration.
type Config struct {
	// Region selects the Alma API host, e.g. "na", "eu", "ap".
	Region string

	// APIKey is the institution API key appended to every request.
	APIKey string

	// BaseURL overrides the region-derived API base URL. Used by tests.
	BaseURL string

	// HTTPClient overrides the default transport.
	HTTPClient *http.Client

	// Limiter gates every outbound call. When nil, a limiter with the Alma
	// defaults (10 req/s, 75ms jitter) is created.
	Limiter *ratelimit.Limiter
}

// Client is the Alma API client. It is safe for concurrent use; every
// operation acquires a rate limit token before any network I/O.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	apiKey     string
	limiter    *ratelimit.Limiter
	logger     zerolog.Logger
}

// New creates an Alma client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	base := cfg.BaseURL
	if base == "" {
		if cfg.Region == "" {
			return nil, fmt.Errorf("region is required when no base url is set")
		}
		base = fmt.Sprintf("https://api-%s.hosted.exlibrisgroup.com/almaws/v1/", cfg.Region)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewDefault()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		limiter:    limiter,
		logger:     log.With().Str("component", "alma-client").Logger(),
	}, nil
}

// UserIDsAndTotal lists one page of user primary ids ordered by primary id,
// together with the total record count the server advertises on the listing
// element. A response without the count is a DecodeError wrapping
// ErrMissingTotalCount.
func (c *Client) UserIDsAndTotal(ctx context.Context, offset, limit int) ([]string, int, error) {
	resp, err := c.listPage(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	ids, total, haveTotal, err := decodeUserListing(resp.Body)
	if err != nil {
		return nil, 0, &DecodeError{Err: err}
	}
	if !haveTotal {
		return nil, 0, &DecodeError{Err: ErrMissingTotalCount}
	}
	return ids, total, nil
}

// UserIDs lists one page of user primary ids without requiring the total
// record count.
func (c *Client) UserIDs(ctx context.Context, offset, limit int) ([]string, error) {
	resp, err := c.listPage(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ids, _, _, err := decodeUserListing(resp.Body)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return ids, nil
}

func (c *Client) listPage(ctx context.Context, offset, limit int) (*http.Response, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: "users"})
	q := url.Values{}
	q.Set("order_by", "primary_id")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	return c.do(ctx, opListUsers, http.MethodGet, u, "application/xml", "", nil)
}

// User fetches the full user record as a JSON document. Reserved characters
// in the id ('#' in particular) are percent-encoded into the request path.
func (c *Client) User(ctx context.Context, id string) (record.Document, error) {
	return c.fetchUser(ctx, id, nil)
}

// UserWithFees fetches the full user record with the fee balance expanded.
func (c *Client) UserWithFees(ctx context.Context, id string) (record.Document, error) {
	return c.fetchUser(ctx, id, url.Values{"expand": []string{"fees"}})
}

func (c *Client) fetchUser(ctx context.Context, id string, query url.Values) (record.Document, error) {
	u := c.userURL(id)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	resp, err := c.do(ctx, opGetUser, http.MethodGet, u, "application/json", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: opGetUser, URL: u.String(), Err: err}
	}
	doc, err := record.Parse(body)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return doc, nil
}

// UpdateUser replaces the full user record with a PUT of the given document.
func (c *Client) UpdateUser(ctx context.Context, id string, doc record.Document) error {
	body, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encode user %s: %w", id, err)
	}

	resp, err := c.do(ctx, opUpdateUser, http.MethodPut, c.userURL(id), "", "application/json", body)
	if err != nil {
		return err
	}
	// Drain the echoed record so the connection is reusable for the next
	// update.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// userURL builds the single-user endpoint URL. Setting the unescaped Path
// lets URL serialization percent-encode reserved characters such as '#'.
func (c *Client) userURL(id string) *url.URL {
	return c.baseURL.ResolveReference(&url.URL{Path: "users/" + id})
}

// do acquires a rate limit token, executes the request, and classifies any
// 4xx/5xx response into a structured error. The API key is appended after
// logging so it never reaches the logs. The caller owns the response body on
// success.
func (c *Client) do(ctx context.Context, op, method string, u *url.URL, accept, contentType string, body []byte) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		almaRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	logURL := u.String()
	c.logger.Debug().Str("method", method).Str("url", logURL).Msg("Alma request")

	q := u.Query()
	q.Set("apikey", c.apiKey)
	u.RawQuery = q.Encode()

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, &TransportError{Op: op, URL: logURL, Err: err}
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		almaErrorsTotal.WithLabelValues("transport").Inc()
		almaRequestsTotal.WithLabelValues(op, "transport_error").Inc()
		return nil, &TransportError{Op: op, URL: logURL, Err: err}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		classified := classifyErrorResponse(resp)
		almaErrorsTotal.WithLabelValues(errorClass(classified)).Inc()
		almaRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
		c.logger.Warn().
			Str("operation", op).
			Int("status", resp.StatusCode).
			Err(classified).
			Msg("Alma request failed")
		return nil, classified
	}

	almaRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// errorClass labels a classified error for metrics.
func errorClass(err error) string {
	var apiErrs APIErrors
	if errors.As(err, &apiErrs) {
		return "api"
	}
	return "protocol"
}
