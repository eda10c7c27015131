// Package upstream is the client for the external order-management system
// of record. It exposes the lightweight paginated listing, the per-order
// detail endpoint, and the auxiliary actor/account/product lookups behind
// a TTL cache.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orderline/internal/cache"
)

const (
	defaultPageSize = 100
	defaultCacheTTL = 10 * time.Minute
)

// Client is an authenticated upstream API client. Auth is a static
// credential header; the upstream offers nothing stronger.
type Client struct {
	BaseURL    string
	Token      string
	PageSize   int
	HTTPClient *http.Client
	Timeout    time.Duration

	actors   *cache.Lookup[Actor]
	accounts *cache.Lookup[Account]
	products *cache.Lookup[Product]
}

type Config struct {
	BaseURL  string
	Token    string
	PageSize int
	CacheTTL time.Duration
}

func New(cfg Config) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	timeout := 15 * time.Second
	return &Client{
		BaseURL:    cfg.BaseURL,
		Token:      cfg.Token,
		PageSize:   pageSize,
		Timeout:    timeout,
		HTTPClient: &http.Client{Timeout: timeout},
		actors:     cache.NewLookup[Actor](0, ttl),
		accounts:   cache.NewLookup[Account](0, ttl),
		products:   cache.NewLookup[Product](0, ttl),
	}
}

// ListingEntry is the lightweight reference tuple from the listing
// endpoint.
type ListingEntry struct {
	ID          string `json:"id"`
	Ref         string `json:"ref"`
	ContractRef string `json:"contract_ref"`
}

// OrderDetail is the full upstream record.
type OrderDetail struct {
	ID          string `json:"id"`
	Ref         string `json:"ref"`
	ContractRef string `json:"contract_ref"`
	AccountRef  string `json:"account_ref"`
	ActorID     string `json:"actor_id"`
	ProductCode string `json:"product_code"`
	CreatedAt   string `json:"created_at"`
}

// Actor is a staff member on the upstream side.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account is the counterpart/customer record.
type Account struct {
	Ref         string `json:"ref"`
	Company     string `json:"company"`
	ContactName string `json:"contact_name"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
}

// Product is a catalog entry.
type Product struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// APIError wraps non-2xx upstream responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListOrders fetches one page of the listing, ascending stable sort by
// ref. Pages are numbered from 1; a page shorter than PageSize is the last.
func (c *Client) ListOrders(ctx context.Context, page int) ([]ListingEntry, error) {
	endpoint := fmt.Sprintf("orders?page=%d&size=%d&sort=ref", page, c.PageSize)
	var entries []ListingEntry
	if err := c.get(ctx, endpoint, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// OrderDetail fetches the full record for one upstream id.
func (c *Client) OrderDetail(ctx context.Context, id string) (OrderDetail, error) {
	var detail OrderDetail
	err := c.get(ctx, "orders/"+url.PathEscape(id), &detail)
	return detail, err
}

// ActorName resolves an actor id to a display name through the cache.
func (c *Client) ActorName(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	actor, err := c.actors.GetOrFetch(ctx, id, func(ctx context.Context, id string) (Actor, error) {
		var a Actor
		err := c.get(ctx, "actors/"+url.PathEscape(id), &a)
		return a, err
	})
	if err != nil {
		return "", err
	}
	return actor.Name, nil
}

// Account resolves a counterpart account through the cache.
func (c *Client) Account(ctx context.Context, ref string) (Account, error) {
	return c.accounts.GetOrFetch(ctx, ref, func(ctx context.Context, ref string) (Account, error) {
		var a Account
		err := c.get(ctx, "accounts/"+url.PathEscape(ref), &a)
		return a, err
	})
}

// Product resolves a catalog entry through the cache.
func (c *Client) Product(ctx context.Context, code string) (Product, error) {
	return c.products.GetOrFetch(ctx, code, func(ctx context.Context, code string) (Product, error) {
		var p Product
		err := c.get(ctx, "products/"+url.PathEscape(code), &p)
		return p, err
	})
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	// Detail fetches run concurrently on one client; never write back to
	// the struct here.
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/v1/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Auth-Token", c.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
