package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client fetches cone searches from an HTTP catalog service that
// speaks a simple JSON protocol: GET <base>?catalog=&ra=&dec=&radius=
// returning an array of Source records. Responses are cached in an
// optional on-disk cache keyed by the query parameters.
type Client struct {
	BaseURL string
	Catalog string // catalog name passed to the service, e.g. "apass"
	HTTP    *http.Client
	Cache   *QueryCache // nil disables caching
}

func NewClient(baseURL, catalogName string) *Client {
	return &Client{
		BaseURL: baseURL,
		Catalog: catalogName,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// ConeSearch returns the catalog sources within radius degrees of
// (ra,dec). Cache hits never touch the network.
func (c *Client) ConeSearch(ctx context.Context, ra, dec, radius float64) ([]Source, error) {
	if c.Cache != nil {
		if body, ok, err := c.Cache.Get(c.Catalog, ra, dec, radius); err != nil {
			log.Printf("catalog: cache lookup failed: %v", err)
		} else if ok {
			return decodeSources(body)
		}
	}

	body, err := c.fetch(ctx, ra, dec, radius)
	if err != nil {
		return nil, err
	}
	if c.Cache != nil {
		if err := c.Cache.Put(c.Catalog, ra, dec, radius, body); err != nil {
			log.Printf("catalog: cache store failed: %v", err)
		}
	}
	return decodeSources(body)
}

func (c *Client) fetch(ctx context.Context, ra, dec, radius float64) ([]byte, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: bad base URL %q: %w", c.BaseURL, err)
	}
	q := u.Query()
	q.Set("catalog", c.Catalog)
	q.Set("ra", strconv.FormatFloat(ra, 'f', 6, 64))
	q.Set("dec", strconv.FormatFloat(dec, 'f', 6, 64))
	q.Set("radius", strconv.FormatFloat(radius, 'f', 6, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: %s returned %s", u, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading response: %w", err)
	}
	return body, nil
}

func decodeSources(body []byte) ([]Source, error) {
	var sources []Source
	if err := json.Unmarshal(body, &sources); err != nil {
		return nil, fmt.Errorf("catalog: decoding response: %w", err)
	}
	if len(sources) == 0 {
		return nil, ErrNotFound
	}
	return sources, nil
}
