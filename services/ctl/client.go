package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"keysync/pkg/apperr"
	"keysync/services/identity"
	"keysync/services/reconcile"
)

// APIClient talks to a running keysync API.
type APIClient struct {
	base string
	http *http.Client
}

// NewAPIClient returns a client for baseURL. A nil httpClient gets a 2 minute
// timeout, long enough for large batches.
func NewAPIClient(baseURL string, httpClient *http.Client) (*APIClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &APIClient{base: baseURL, http: httpClient}, nil
}

// APIError is a non-2xx answer carrying the catalog body.
type APIError struct {
	apperr.Body
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("api %d: %s (%s)", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// ApplyClients posts the client specs for creation or reactivation.
func (c *APIClient) ApplyClients(ctx context.Context, specs []reconcile.ClientSpec) ([]reconcile.ClientResult, error) {
	var out struct {
		Results []reconcile.ClientResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/create-clients-with-config", map[string]any{"clients": specs}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// CreateRoles creates roles on the given clients.
func (c *APIClient) CreateRoles(ctx context.Context, clients []string, roles []reconcile.RoleSpec) (map[string]*reconcile.RoleBatch, error) {
	var out struct {
		Results map[string]*reconcile.RoleBatch `json:"results"`
	}
	body := map[string]any{"clients": clients, "roles": roles}
	if err := c.do(ctx, http.MethodPost, "/roles/create", body, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// ListClients returns remote clients matching search.
func (c *APIClient) ListClients(ctx context.Context, search string) ([]identity.ClientRepresentation, error) {
	path := "/get-clients"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	var out []identity.ClientRepresentation
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{}
		if json.Unmarshal(data, &apiErr.Body) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
