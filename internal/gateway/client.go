// Package gateway holds the store.Gateway implementations: an HTTP client
// for the REST backend and an in-process one over the SQLite repo.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"siteledger/internal/domain"
	"siteledger/internal/store"
)

// Client talks to the siteledger REST API. Non-2xx answers come back as a
// Response carrying only the status code; transport failures are errors.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

var _ store.Gateway = (*Client)(nil)

const defaultTimeout = 10 * time.Second

// NewClient creates a client whose requests give up after timeout
// (10s when zero).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type projectList struct {
	Items []domain.Project `json:"items"`
}

func (c *Client) List(ctx context.Context, token string) (store.Response[[]domain.Project], error) {
	var body projectList
	code, err := c.do(ctx, http.MethodGet, "v0/projects", token, nil, &body)
	if err != nil || code != http.StatusOK {
		return store.Response[[]domain.Project]{StatusCode: code}, err
	}
	if body.Items == nil {
		body.Items = []domain.Project{}
	}
	return store.Response[[]domain.Project]{StatusCode: code, Data: body.Items}, nil
}

// Get fetches one project; the store never needs it but reports do.
func (c *Client) Get(ctx context.Context, token string, id int64) (store.Response[domain.Project], error) {
	var p domain.Project
	code, err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/projects/%d", id), token, nil, &p)
	if err != nil || code != http.StatusOK {
		return store.Response[domain.Project]{StatusCode: code}, err
	}
	return store.Response[domain.Project]{StatusCode: code, Data: p}, nil
}

func (c *Client) Create(ctx context.Context, token string, draft domain.Project) (store.Response[domain.Project], error) {
	var p domain.Project
	code, err := c.do(ctx, http.MethodPost, "v0/projects", token, draft, &p)
	if err != nil || code != http.StatusOK {
		return store.Response[domain.Project]{StatusCode: code}, err
	}
	return store.Response[domain.Project]{StatusCode: code, Data: p}, nil
}

func (c *Client) Update(ctx context.Context, token string, p domain.Project) (store.Response[domain.Project], error) {
	var saved domain.Project
	code, err := c.do(ctx, http.MethodPut, fmt.Sprintf("v0/projects/%d", p.ID), token, p, &saved)
	if err != nil || code != http.StatusOK {
		return store.Response[domain.Project]{StatusCode: code}, err
	}
	return store.Response[domain.Project]{StatusCode: code, Data: saved}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, body any, out any) (int, error) {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Debug("gateway request rejected",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", b))
		return resp.StatusCode, nil
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, endpoint, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
