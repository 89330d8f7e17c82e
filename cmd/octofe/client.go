package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"octogrid/pkg/databases"
)

const lz4ContentType = "application/x-octogrid-lz4"

// dbClient is the gateway's only path to the storage service. Every call
// carries the service API key and times out after five seconds so a stalled
// backend degrades into an error envelope instead of a hung request.
type dbClient struct {
	base   string
	apiKey string
	http   *http.Client
}

func newDBClient(base, apiKey string) *dbClient {
	return &dbClient{
		base:   base,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 5 * time.Second},
	}
}

type setResponse struct {
	Status         string             `json:"status"`
	ID             string             `json:"id"`
	Index          int64              `json:"index"`
	Entities       []databases.Entity `json:"entities"`
	IsLatestOnFile bool               `json:"is_latest_on_file"`
}

func (c *dbClient) do(ctx context.Context, method, path string, body, out any, compressed bool) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if compressed {
		req.Header.Set("X-Accept-Compression", "lz4")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "storage %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("storage %s returned %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Type") == lz4ContentType {
		reader = lz4.NewReader(resp.Body)
	}
	if err := json.NewDecoder(reader).Decode(out); err != nil {
		return errors.Wrapf(err, "decode storage %s", path)
	}
	return nil
}

func (c *dbClient) Range(ctx context.Context, zone int, bounds databases.RangeBounds) ([]databases.Entity, error) {
	var resp struct {
		Entities []databases.Entity `json:"entities"`
	}
	err := c.do(ctx, "POST", fmt.Sprintf("/range/%d", zone), bounds, &resp, true)
	return resp.Entities, err
}

func (c *dbClient) Expand(ctx context.Context, x, y, z int, intended *int64) (databases.IterStack, error) {
	var stack databases.IterStack
	req := map[string]any{"x": x, "y": y, "z": z, "i": intended}
	err := c.do(ctx, "POST", "/expand", req, &stack, false)
	return stack, err
}

func (c *dbClient) ExpandAll(ctx context.Context, x, y, z int) (databases.IterStack, error) {
	var stack databases.IterStack
	req := map[string]any{"x": x, "y": y, "z": z}
	err := c.do(ctx, "POST", "/expandall", req, &stack, false)
	return stack, err
}

func (c *dbClient) Set(ctx context.Context, zone int, e databases.Entity) (setResponse, error) {
	var resp setResponse
	err := c.do(ctx, "POST", fmt.Sprintf("/set/%d", zone), e, &resp, false)
	return resp, err
}

type ownershipQuery struct {
	Ownership     string `json:"ownership"`
	PageSize      int    `json:"page_size"`
	AfterIndex    *int64 `json:"after_index"`
	IncludeTotals bool   `json:"include_totals"`
}

func (c *dbClient) Ownership(ctx context.Context, zone int, q ownershipQuery) (databases.OwnershipPage, error) {
	var page databases.OwnershipPage
	err := c.do(ctx, "POST", fmt.Sprintf("/ownership/%d", zone), q, &page, false)
	return page, err
}

func (c *dbClient) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, "GET", "/health", nil, &out, false)
	return out, err
}
