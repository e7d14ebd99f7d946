// Package deezer implements the remote song lookup against the Deezer search API.
package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/kittunes-backend/internal/domain/player"
)

const (
	// DefaultBaseURL is the public Deezer API base URL
	DefaultBaseURL = "https://api.deezer.com"

	// DefaultRapidAPIHost is the RapidAPI gateway host for Deezer
	DefaultRapidAPIHost = "deezerdevs-deezer.p.rapidapi.com"

	DefaultUserAgent = "KitTunes/0.1.0 (https://github.com/edumarques81/kittunes-backend)"

	DefaultTimeout = 15 * time.Second

	// DefaultRateLimit stays well under Deezer's 50 requests / 5 seconds quota
	DefaultRateLimit = 8

	DefaultLimit = 25
)

// Client searches tracks via the Deezer API.
type Client struct {
	baseURL    string
	userAgent  string
	apiKey     string
	apiHost    string
	limit      int
	httpClient *http.Client
	limiter    *rateLimiter
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRapidAPI routes requests through the RapidAPI gateway.
// An empty host uses DefaultRapidAPIHost.
func WithRapidAPI(key, host string) Option {
	return func(c *Client) {
		if host == "" {
			host = DefaultRapidAPIHost
		}
		c.apiKey = key
		c.apiHost = host
	}
}

// WithLimit sets the maximum number of results per search.
func WithLimit(n int) Option {
	return func(c *Client) {
		c.limit = n
	}
}

// WithRateLimit sets the rate limit in requests per second. Zero disables it.
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		c.limiter = newRateLimiter(rps)
	}
}

// NewClient creates a new Deezer API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		limit:     DefaultLimit,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: newRateLimiter(DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SearchTracks runs a free-text track search.
func (c *Client) SearchTracks(ctx context.Context, query string) ([]player.Song, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	if c.limit > 0 {
		params.Set("limit", strconv.Itoa(c.limit))
	}
	searchURL := c.baseURL + "/search?" + params.Encode()

	log.Debug().
		Str("query", query).
		Str("url", searchURL).
		Msg("Searching Deezer")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Success
	case resp.StatusCode == http.StatusTooManyRequests:
		log.Warn().Str("query", query).Msg("Deezer rate limit exceeded")
		apiErr := statusError(resp.StatusCode, body)
		apiErr.Err = ErrRateLimited
		return nil, apiErr
	case resp.StatusCode >= 500:
		log.Warn().Int("status", resp.StatusCode).Msg("Deezer temporary error")
		apiErr := statusError(resp.StatusCode, body)
		apiErr.Err = ErrTemporaryFailure
		return nil, apiErr
	default:
		return nil, statusError(resp.StatusCode, body)
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if e := searchResp.Error; e != nil {
		// Deezer reports quota errors (code 4) in a 200 body.
		apiErr := &APIError{StatusCode: resp.StatusCode, Type: e.Type, Message: e.Message, Code: e.Code}
		if e.Code == 4 {
			apiErr.Err = ErrRateLimited
		}
		return nil, apiErr
	}

	songs := make([]player.Song, 0, len(searchResp.Data))
	for _, t := range searchResp.Data {
		songs = append(songs, t.Song())
	}

	log.Debug().
		Str("query", query).
		Int("results", len(songs)).
		Int("total", searchResp.Total).
		Msg("Deezer search completed")
	return songs, nil
}

// statusError builds an APIError from a non-success response, preferring
// the server's message when the body carries one and falling back to the
// HTTP reason phrase.
func statusError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var wrapped struct {
		Error   *ErrorBody `json:"error"`
		Message string     `json:"message"`
	}
	if json.Unmarshal(body, &wrapped) == nil {
		if wrapped.Error != nil {
			apiErr.Type = wrapped.Error.Type
			apiErr.Message = wrapped.Error.Message
			apiErr.Code = wrapped.Error.Code
		} else {
			apiErr.Message = wrapped.Message
		}
	}
	// Proxies answer 5xx with HTML pages; only plain text is worth showing.
	if text := strings.TrimSpace(string(body)); apiErr.Message == "" && !strings.HasPrefix(text, "<") {
		apiErr.Message = text
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
