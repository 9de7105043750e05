// Package api provides the REST client for the Hearth platform API.
// Authentication is handled by the transport the HTTP client carries; this
// package only knows the JSON envelope and the error taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hearthside/hearth-go/model"
	"github.com/hearthside/hearth-go/telemetry"
)

// DefaultPageLimit is the page size used by paginated fetches.
const DefaultPageLimit = 20

// Config holds client configuration.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *telemetry.Metrics
}

// Client is the Hearth REST API client.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	m := cfg.Metrics
	if m == nil {
		m = telemetry.Nop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpClient,
		log:     cfg.Logger.With().Str("component", "api").Logger(),
		metrics: m,
	}, nil
}

// envelope is the standard response body: {success, data, message} plus an
// optional pagination block.
type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message,omitempty"`
	Pagination *model.PageInfo `json:"pagination,omitempty"`
}

// Get performs a GET and unmarshals the envelope data into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := c.do(ctx, http.MethodGet, path, query, nil, out)
	return err
}

// GetPage performs a paginated GET. Extra query parameters may be nil.
func (c *Client) GetPage(ctx context.Context, path string, page, limit int, query url.Values, out any) (*model.PageInfo, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	_, err := c.do(ctx, http.MethodPost, path, nil, body, out)
	return err
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	_, err := c.do(ctx, http.MethodPatch, path, nil, body, out)
	return err
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, out)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (*model.PageInfo, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.Requests.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.Requests.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode < 400 {
			return nil, fmt.Errorf("unmarshal envelope: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("request failed")
		return nil, &RequestError{StatusCode: resp.StatusCode, APIMessage: env.Message}
	}
	if !env.Success {
		return nil, &RequestError{StatusCode: resp.StatusCode, APIMessage: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("unmarshal response data: %w", err)
		}
	}
	return env.Pagination, nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
