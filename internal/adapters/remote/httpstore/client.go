// Package httpstore implements the remote store port over the quoting
// service's HTTP API. The compare-and-swap endpoint is the only mutation path
// the drain uses; its atomicity lives server-side, the client just transports
// the outcome.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quotedesk/quotedesk/internal/application/ports"
	domainErrors "github.com/quotedesk/quotedesk/internal/domain/errors"
	"github.com/quotedesk/quotedesk/internal/domain/record"
)

// Compile-time check that Client implements RemoteStorePort.
var _ ports.RemoteStorePort = (*Client)(nil)

// Client is an HTTP client for the remote quoting store.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL for the client
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithAPIToken sets the bearer token sent with every request
func WithAPIToken(token string) ClientOption {
	return func(c *Client) {
		c.apiToken = token
	}
}

// NewClient creates a new remote store client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Read fetches the authoritative copy of a record.
func (c *Client) Read(ctx context.Context, entityType record.EntityType, id string) (*record.Record, error) {
	endpoint := c.recordURL(entityType, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domainErrors.NewError(domainErrors.CodeTransport, "remote read failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domainErrors.ErrRecordNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var doc recordDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return fromDoc(&doc), nil
}

// List returns the remote records of the given type matching the filter.
func (c *Client) List(ctx context.Context, entityType record.EntityType, filter *ports.Filter) ([]*record.Record, error) {
	endpoint := c.baseURL + EndpointRecords + "/" + url.PathEscape(string(entityType))

	if filter != nil {
		params := url.Values{}
		if filter.ParentID != "" {
			params.Set("parent_id", filter.ParentID)
		}
		if filter.Limit > 0 {
			params.Set("limit", strconv.Itoa(filter.Limit))
		}
		if len(filter.Fields) > 0 {
			fieldsJSON, err := json.Marshal(filter.Fields)
			if err != nil {
				return nil, fmt.Errorf("marshaling field criteria: %w", err)
			}
			params.Set("fields", string(fieldsJSON))
		}
		if encoded := params.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domainErrors.NewError(domainErrors.CodeTransport, "remote list failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var listResp listResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]*record.Record, 0, len(listResp.Records))
	for _, doc := range listResp.Records {
		records = append(records, fromDoc(doc))
	}

	return records, nil
}

// Upsert writes a record without a version check.
func (c *Client) Upsert(ctx context.Context, rec *record.Record) (*ports.UpsertResult, error) {
	body, err := json.Marshal(toDoc(rec))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.recordURL(rec.EntityType, rec.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domainErrors.NewError(domainErrors.CodeTransport, "remote upsert failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var upsertResp upsertResponse
	if err := json.NewDecoder(resp.Body).Decode(&upsertResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &ports.UpsertResult{Applied: upsertResp.Applied, Reason: upsertResp.Reason}, nil
}

// Delete removes a record from the remote store.
func (c *Client) Delete(ctx context.Context, entityType record.EntityType, id string) error {
	endpoint := c.recordURL(entityType, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domainErrors.NewError(domainErrors.CodeTransport, "remote delete failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domainErrors.ErrRecordNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.parseError(resp)
	}

	return nil
}

// CompareAndSwapWrite atomically applies payload if the stored version equals
// expectedVersion. A version mismatch comes back as HTTP 409 with the same
// response shape; both outcomes decode into the structured result.
func (c *Client) CompareAndSwapWrite(ctx context.Context, entityType record.EntityType, id string, expectedVersion int64, payload *record.Record) (*ports.CASResult, error) {
	body, err := json.Marshal(&casRequest{
		ExpectedVersion: expectedVersion,
		Record:          toDoc(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.recordURL(entityType, id) + "/cas"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domainErrors.NewError(domainErrors.CodeTransport, "remote write failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return nil, c.parseError(resp)
	}

	var casResp casResponse
	if err := json.NewDecoder(resp.Body).Decode(&casResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &ports.CASResult{
		Success:        casResp.Success,
		NewVersion:     casResp.NewVersion,
		CurrentVersion: casResp.CurrentVersion,
		Reason:         casResp.Reason,
	}, nil
}

// IsSessionAuthenticated reports whether an authenticated remote session
// exists. Any failure reads as "not authenticated"; the drain skips and the
// operations stay queued.
func (c *Client) IsSessionAuthenticated(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+EndpointSession, nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var sessionResp sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sessionResp); err != nil {
		return false
	}

	return sessionResp.Authenticated
}

// IsReachable reports whether the remote store currently responds.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+EndpointHealth, nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// recordURL builds the endpoint for a single record.
func (c *Client) recordURL(entityType record.EntityType, id string) string {
	return c.baseURL + EndpointRecords + "/" + url.PathEscape(string(entityType)) + "/" + url.PathEscape(id)
}

// setHeaders applies the common headers to a request.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
}

// parseError extracts error information from a failed response.
func (c *Client) parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domainErrors.NewError(domainErrors.CodeTransport,
			fmt.Sprintf("status %d: failed to read error body", resp.StatusCode), nil)
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return domainErrors.NewError(domainErrors.CodeTransport,
			fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)), nil)
	}

	code := domainErrors.CodeTransport
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusUnprocessableEntity:
		code = domainErrors.CodeRejectedWrite
	case http.StatusUnauthorized:
		code = domainErrors.CodePermanent
	}

	return domainErrors.NewError(code, fmt.Sprintf("remote store error: %s", errResp.Error), nil)
}
