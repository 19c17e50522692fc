// Package source implements the fetchPage capability against the paged
// alert endpoint. The transport specifics stay behind this boundary; the
// pagination controller only sees pages and failures.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Newcityvip/bdt-fraud-radar/configs"
	"github.com/Newcityvip/bdt-fraud-radar/internal/models"
)

// ErrTimeout marks a fetch that did not complete within the bounded
// interval. Callers can tell it apart from an explicit upstream error.
var ErrTimeout = errors.New("page fetch timed out")

// Client fetches alert pages over HTTP.
type Client struct {
	baseURL    string
	authToken  string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a page client for the configured source.
func NewClient(cfg configs.SourceConfig) *Client {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetAuthToken attaches a bearer token to subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// FetchPage issues one bounded page request. A well-formed response is
// returned as-is, including upstream failures carried in the ok flag; a
// transport failure or timeout is returned as an error.
func (c *Client) FetchPage(ctx context.Context, params models.QueryParams) (*models.PageResponse, error) {
	params = params.Normalized()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build page request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("page fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	var page models.PageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("upstream did not return a well-formed page: %w", err)
	}

	return &page, nil
}

// pageURL builds the page request URL, including a uniqueness token to
// defeat intermediary caching.
func (c *Client) pageURL(params models.QueryParams) string {
	q := url.Values{}
	q.Set("days", strconv.Itoa(params.Days))
	q.Set("minScore", strconv.Itoa(params.MinScore))
	q.Set("limit", strconv.Itoa(params.Limit))
	q.Set("offset", strconv.Itoa(params.Offset))
	q.Set("t", uuid.NewString())
	return c.baseURL + "?" + q.Encode()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
