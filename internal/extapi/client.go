package extapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	conf "github.com/restockd/restockd/internal/config"
	"github.com/restockd/restockd/internal/ratelimit"
	"github.com/rs/zerolog"
)

// Filters narrow an inventory page fetch. Zero value means the full
// catalog.
type Filters struct {
	ModifiedSince *time.Time
	ActiveOnly    bool
	LowStockOnly  bool
	Fields        string // provider-side field subset, comma separated
}

// Client wraps the provider's products/inventory, vendor and
// purchase-order resources. Every request goes through the rate
// limiter; the client never talks to the network directly from a
// caller's goroutine.
type Client struct {
	log     zerolog.Logger
	cfg     conf.APIConfig
	http    *http.Client
	limiter *ratelimit.Limiter
}

func NewClient(log zerolog.Logger, cfg conf.APIConfig, limiter *ratelimit.Limiter) *Client {
	return &Client{
		log:     log.With().Str("component", "extapi").Logger(),
		cfg:     cfg,
		http:    &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
	}
}

// FetchInventoryPage returns one page of catalog records. An empty slice
// means the provider has no further pages.
func (c *Client) FetchInventoryPage(ctx context.Context, page int, f Filters) ([]Record, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(c.pageSize()))
	q.Set("orderby", "modified")
	q.Set("order", "desc")
	if f.ModifiedSince != nil {
		q.Set("modified_since", f.ModifiedSince.UTC().Format(time.RFC3339))
	}
	if f.ActiveOnly {
		q.Set("active", "true")
	}
	if f.LowStockOnly {
		q.Set("low_stock", "true")
	}
	if f.Fields != "" {
		q.Set("_fields", f.Fields)
	}

	var items []Record
	err := c.limiter.Schedule(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, "inventory", q, &items)
	})
	if err != nil {
		return nil, fmt.Errorf("inventory page %d: %w", page, err)
	}
	return items, nil
}

func (c *Client) FetchVendors(ctx context.Context) ([]VendorRecord, error) {
	var vendors []VendorRecord
	err := c.limiter.Schedule(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, "vendors", nil, &vendors)
	})
	if err != nil {
		return nil, fmt.Errorf("vendors: %w", err)
	}
	return vendors, nil
}

func (c *Client) PushPurchaseOrder(ctx context.Context, order OrderPayload) error {
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal purchase order: %w", err)
	}
	err = c.limiter.Schedule(ctx, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodPost, "purchase-orders", nil, bytes.NewReader(body))
		if err != nil {
			return err
		}
		return c.do(req, nil)
	})
	if err != nil {
		return fmt.Errorf("push purchase order %s: %w", order.PONumber, err)
	}
	return nil
}

func (c *Client) pageSize() int {
	if c.cfg.PageSize > 0 {
		return c.cfg.PageSize
	}
	return 100
}

func (c *Client) newRequest(ctx context.Context, method, resource string, q url.Values, body *bytes.Reader) (*http.Request, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("bad base url: %w", err)
	}
	u = u.JoinPath(c.cfg.AccountPath, resource)
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "restockd/1.0")
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, resource string, q url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, resource, q, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// do executes the request and maps the response status onto the error
// taxonomy callers branch on.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &TransientError{Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return fmt.Errorf("extapi: http %d on %s", resp.StatusCode, req.URL.Path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if sec, err := strconv.Atoi(s); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return time.Second
}
