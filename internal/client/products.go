package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/syncx"
)

// ProductClient provides CRUD operations against the product endpoints.
// Every non-2xx response is returned as a *catalog.Error whose Kind follows
// the status code.
//
// List remembers the last full collection with its Last-Modified stamp and
// revalidates with If-Modified-Since, so an unchanged collection costs a 304.
type ProductClient struct {
	http *HTTPClient

	mu    sync.Mutex
	cache listCache
}

// listCache is valid only for the credentials it was fetched with
type listCache struct {
	creds        Credentials
	lastModified string
	products     []catalog.Product
}

// NewProductClient creates a new product client
func NewProductClient(httpClient *HTTPClient) *ProductClient {
	return &ProductClient{http: httpClient}
}

type errorBody struct {
	Error          string       `json:"error"`
	Kind           catalog.Kind `json:"kind"`
	CorrelationID  string       `json:"correlationId"`
	CurrentVersion int          `json:"currentVersion"`
}

// decodeError turns a non-2xx response into a catalog error
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	kind := catalog.KindFromStatus(resp.StatusCode)
	msg := fmt.Sprintf("server responded %d", resp.StatusCode)

	var body errorBody
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			msg = body.Error
		}
		if body.CorrelationID != "" {
			msg += " (correlationId " + body.CorrelationID + ")"
		}
	}

	return &catalog.Error{Kind: kind, Message: msg, CurrentVersion: body.CurrentVersion}
}

func (c *ProductClient) send(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.http.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.http.Do(ctx, req)
}

func decodeProduct(resp *http.Response) (catalog.Product, error) {
	var p catalog.Product
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return catalog.Product{}, catalog.Wrap(catalog.KindUnexpected, err, "failed to decode product")
	}
	return p, nil
}

func productPath(id string) string {
	return "/product/" + url.PathEscape(id)
}

// SetToken switches the identity used by subsequent requests to the one
// token names. A dev token ("dev:<sub>") is sent as X-Debug-Sub.
func (c *ProductClient) SetToken(token string) {
	c.http.SetCredentials(CredentialsFromToken(token))
}

// List fetches every product owned by the caller. A 304 answer to the
// If-Modified-Since revalidation returns the cached collection.
func (c *ProductClient) List(ctx context.Context) ([]catalog.Product, error) {
	creds := c.http.Credentials()

	c.mu.Lock()
	cached := c.cache
	c.mu.Unlock()

	var headers map[string]string
	if cached.lastModified != "" && cached.creds == creds {
		headers = map[string]string{"If-Modified-Since": cached.lastModified}
	}

	resp, err := c.send(ctx, http.MethodGet, "/product", nil, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && headers != nil {
		return append([]catalog.Product(nil), cached.products...), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var products []catalog.Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, catalog.Wrap(catalog.KindUnexpected, err, "failed to decode product list")
	}

	c.mu.Lock()
	c.cache = listCache{
		creds:        creds,
		lastModified: resp.Header.Get("Last-Modified"),
		products:     append([]catalog.Product(nil), products...),
	}
	c.mu.Unlock()
	return products, nil
}

// Get retrieves a single product by id
func (c *ProductClient) Get(ctx context.Context, id string) (catalog.Product, error) {
	resp, err := c.send(ctx, http.MethodGet, productPath(id), nil, nil)
	if err != nil {
		return catalog.Product{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return catalog.Product{}, decodeError(resp)
	}
	return decodeProduct(resp)
}

// Create submits a product without identity; the server assigns id and version
func (c *ProductClient) Create(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	p.ID = ""
	p.Version = 0
	resp, err := c.send(ctx, http.MethodPost, "/product", p, nil)
	if err != nil {
		return catalog.Product{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return catalog.Product{}, decodeError(resp)
	}
	return decodeProduct(resp)
}

// Update submits p declaring p.Version as the last observed version
func (c *ProductClient) Update(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if !p.Assigned() {
		return catalog.Product{}, catalog.Errorf(catalog.KindValidation, "update requires an id")
	}

	var headers map[string]string
	if p.Version > 0 {
		headers = map[string]string{"If-Match": syncx.FormatETag(p.Version)}
	}

	resp, err := c.send(ctx, http.MethodPut, productPath(p.ID), p, headers)
	if err != nil {
		return catalog.Product{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return catalog.Product{}, decodeError(resp)
	}
	return decodeProduct(resp)
}

// Delete removes a product. Deleting an absent id succeeds.
func (c *ProductClient) Delete(ctx context.Context, id string) error {
	resp, err := c.send(ctx, http.MethodDelete, productPath(id), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}
