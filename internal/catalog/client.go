package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sehatline/triage-ai/pkg/logging"
)

const defaultTimeout = 15 * time.Second

// Client fetches the product catalog over HTTP. The first successful fetch is
// cached for the lifetime of the client (one triage session).
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger

	mu      sync.Mutex
	indexed []IndexedProduct
	loaded  bool
}

// ClientConfig describes how to reach the catalog service.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *logging.Logger
}

// NewClient validates the configuration and returns a ready-to-use client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("catalog: base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Products returns the indexed catalog, fetching it on first use. A failed
// fetch is not cached; the next call retries.
func (c *Client) Products(ctx context.Context) ([]IndexedProduct, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.indexed, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/catalog/products", nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch products: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("catalog: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Products []Product `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("catalog: decode products: %w", err)
	}

	c.indexed = Index(payload.Products)
	c.loaded = true
	c.logger.Info("catalog loaded", "products", len(c.indexed))
	return c.indexed, nil
}
