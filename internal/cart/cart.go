package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sehatline/triage-ai/internal/catalog"
	"github.com/sehatline/triage-ai/pkg/logging"
)

const defaultTimeout = 15 * time.Second

// Item is a cart line owned by the cart service.
type Item struct {
	Product  catalog.Product `json:"product"`
	Quantity int             `json:"quantity"`
}

// Client talks to the cart service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger
}

// ClientConfig describes how to reach the cart service.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *logging.Logger
}

// NewClient validates the configuration and returns a ready-to-use client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("cart: base URL required")
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

// Items lists the current cart contents.
func (c *Client) Items(ctx context.Context) ([]Item, error) {
	var payload struct {
		Items []Item `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/cart", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// SetQuantity adds the product or overwrites its quantity.
func (c *Client) SetQuantity(ctx context.Context, productID string, quantity int) error {
	body := map[string]any{"productId": productID, "quantity": quantity}
	return c.do(ctx, http.MethodPost, "/cart/items", body, nil)
}

// Remove deletes a product from the cart.
func (c *Client) Remove(ctx context.Context, productID string) error {
	return c.do(ctx, http.MethodDelete, "/cart/items/"+productID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cart: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("cart: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cart: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("cart: %s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("cart: decode response: %w", err)
		}
	}
	return nil
}
