// Package supabaseclient is a minimal PostgREST-style HTTP client for the
// optional cloud store described in spec.md §5. No Supabase Go SDK appears
// anywhere in the retrieval pack, so this follows findface.Client's own
// shape instead: a BaseURL + auth header + *http.Client, one method per
// verb, request/response bodies as plain JSON. Every call degrades to a
// returned error rather than a panic — the sync engine treats an
// unreachable cloud store as "try again next cycle," never fatal.
package supabaseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a PostgREST-compatible endpoint (Supabase's REST layer)
// using the service-role key for row-level-security bypass, the same way
// a trusted single-host sync process is expected to authenticate.
type Client struct {
	BaseURL    string
	ServiceKey string
	HTTP       *http.Client
}

// New builds a Client with a bounded request timeout, same rationale as
// findface.Client.New: a cloud outage must not wedge the sync loop.
func New(baseURL, serviceKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		ServiceKey: serviceKey,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("apikey", c.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	req.Header.Set("Content-Type", "application/json")
}

// Upsert POSTs rows to table with Prefer: resolution=merge-duplicates,
// PostgREST's upsert-on-conflict mechanism. rows are plain
// column-name-to-value maps; callers build them per table since no single
// domain struct maps cleanly onto every cloud table's column set.
func (c *Client) Upsert(ctx context.Context, table string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("supabaseclient: marshal %s rows: %w", table, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rest/v1/"+table, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("supabaseclient: build upsert request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("supabaseclient: upsert %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("supabaseclient: upsert %s returned %d: %s", table, resp.StatusCode, string(respBody))
	}
	return nil
}

// SelectUpdatedSince GETs rows from table whose updated_at column is
// strictly greater than since, ordered by updated_at ascending — the pull
// side of last-write-wins sync for cloud-authored edits.
func (c *Client) SelectUpdatedSince(ctx context.Context, table, since string) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("updated_at", "gt."+since)
	q.Set("order", "updated_at.asc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/rest/v1/"+table+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("supabaseclient: build select request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabaseclient: select %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("supabaseclient: select %s returned %d: %s", table, resp.StatusCode, string(respBody))
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("supabaseclient: decode %s rows: %w", table, err)
	}
	return rows, nil
}
