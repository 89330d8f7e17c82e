package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"

	"octogrid/pkg/databases"
	"octogrid/pkg/security"

	_ "modernc.org/sqlite"
)

// setupTest wires the package globals to throwaway state, mirroring what
// main does at boot.
func setupTest(t *testing.T) (http.Handler, string) {
	t.Helper()

	InfoLog = log.New(io.Discard, "", 0)
	ErrorLog = log.New(io.Discard, "", 0)

	cfg := databases.DefaultConfig()
	cfg.Driver = "sqlite"
	cfg.FlushInterval = time.Hour

	registry = databases.NewRegistry(t.TempDir(), cfg, ErrorLog)
	require.NoError(t, registry.InitAll(context.Background()))
	t.Cleanup(func() { _ = registry.CloseAll(context.Background()) })

	codec = security.NewCodec(filepath.Join(t.TempDir(), "key.json"))
	key, err := codec.Encode("user:tester")
	require.NoError(t, err)

	return requireKey(newRouter()), key
}

func doJSON(t *testing.T, h http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	h, _ := setupTest(t)

	rec := doJSON(t, h, "GET", "/health", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, "GET", "/health", "garbage-key", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHelloEchoesDecode(t *testing.T) {
	h, key := setupTest(t)

	rec := doJSON(t, h, "GET", "/hello", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token security.Token `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Token.Success)
	require.Equal(t, []string{"user:tester"}, resp.Token.Data)

	// Bad keys still answer; that is the point of the endpoint.
	rec = doJSON(t, h, "GET", "/hello", "nonsense", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Token.Success)
	require.Equal(t, security.NoneID, resp.Token.ID)
}

func TestSetAllocatesIndex(t *testing.T) {
	h, key := setupTest(t)

	entity := map[string]any{
		"index": nil, "iter": 0, "uuid": "00000000-0000-4000-8000-000000000001",
		"state": 0, "name": "Void", "description": "Genesis",
		"positionX": 3, "positionY": 4, "positionZ": 0,
		"aesthetics": map[string]any{}, "ownership": "user:tester",
		"minted": false, "timestamp": 1700000000,
	}
	rec := doJSON(t, h, "POST", "/set/0", key, entity)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status         string             `json:"status"`
		ID             string             `json:"id"`
		Index          int64              `json:"index"`
		Entities       []databases.Entity `json:"entities"`
		IsLatestOnFile bool               `json:"is_latest_on_file"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, int64(1), resp.Index)
	require.Equal(t, "1v0", resp.ID)
	require.Len(t, resp.Entities, 1)
	require.True(t, resp.IsLatestOnFile)

	rec = doJSON(t, h, "GET", "/get/0/1", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got databases.Entity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Void", got.Name)
	require.True(t, got.OwnedBy("user:tester"))

	rec = doJSON(t, h, "GET", "/get/0/1/0", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, "GET", "/get/0/77", key, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidZone(t *testing.T) {
	h, key := setupTest(t)

	rec := doJSON(t, h, "GET", "/get_max_index/999", key, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, "POST", "/expand", key, map[string]any{"x": 0, "y": 0, "z": -5})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpandStacks(t *testing.T) {
	h, key := setupTest(t)

	for iter := 0; iter < 3; iter++ {
		entity := map[string]any{
			"index": 1, "iter": iter, "uuid": "00000000-0000-4000-8000-000000000001",
			"state": 0, "name": "Void", "description": "Genesis",
			"positionX": 5, "positionY": 6, "positionZ": 0,
			"aesthetics": map[string]any{}, "minted": false, "timestamp": 1700000000,
		}
		rec := doJSON(t, h, "POST", "/set/0", key, entity)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// Historical view: intended iter 1 hides iter 2 but reports it.
	rec := doJSON(t, h, "POST", "/expand", key, map[string]any{"x": 5, "y": 6, "z": 0, "i": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	var stack databases.IterStack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stack))
	require.Len(t, stack.Entities, 2)
	require.Equal(t, int64(2), *stack.MaxIterOnFile)
	require.False(t, stack.IsLatestOnFile)

	// expandall ignores the intended iteration.
	rec = doJSON(t, h, "POST", "/expandall", key, map[string]any{"x": 5, "y": 6, "z": 0, "i": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stack))
	require.Len(t, stack.Entities, 3)
	require.True(t, stack.IsLatestOnFile)
}

func TestRangeWithLZ4(t *testing.T) {
	h, key := setupTest(t)

	for i := 0; i < 3; i++ {
		entity := map[string]any{
			"index": i + 1, "iter": 0, "uuid": "00000000-0000-4000-8000-000000000001",
			"state": 0, "name": "Void", "description": "Genesis",
			"positionX": i, "positionY": 0, "positionZ": 0,
			"aesthetics": map[string]any{}, "minted": false, "timestamp": 1700000000,
		}
		rec := doJSON(t, h, "POST", "/set/0", key, entity)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	store, err := registry.Lookup(0)
	require.NoError(t, err)
	require.NoError(t, store.Flush(context.Background(), true))

	bounds := map[string]any{"x_min": 0, "x_max": 7, "y_min": 0, "y_max": 7}

	rec := doJSON(t, h, "POST", "/range/0", key, bounds)
	require.Equal(t, http.StatusOK, rec.Code)
	var plain struct {
		Entities []databases.Entity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plain))
	require.Len(t, plain.Entities, 3)

	req := httptest.NewRequest("POST", "/range/0", mustJSONBody(t, bounds))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", key)
	req.Header.Set("X-Accept-Compression", "lz4")
	comp := httptest.NewRecorder()
	h.ServeHTTP(comp, req)
	require.Equal(t, http.StatusOK, comp.Code)
	require.Equal(t, lz4ContentType, comp.Header().Get("Content-Type"))

	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(comp.Body.Bytes())))
	require.NoError(t, err)
	var framed struct {
		Entities []databases.Entity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(raw, &framed))
	require.Len(t, framed.Entities, 3)
}

func TestOwnershipEndpoint(t *testing.T) {
	h, key := setupTest(t)

	for i := 0; i < 4; i++ {
		entity := map[string]any{
			"index": i + 1, "iter": 0, "uuid": "00000000-0000-4000-8000-000000000001",
			"state": 1, "name": "Claimed", "description": "",
			"positionX": i, "positionY": 0, "positionZ": 0,
			"aesthetics": map[string]any{}, "ownership": "user:tester",
			"minted": true, "timestamp": 1700000000,
		}
		rec := doJSON(t, h, "POST", "/set/0", key, entity)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	store, err := registry.Lookup(0)
	require.NoError(t, err)
	require.NoError(t, store.Flush(context.Background(), true))

	rec := doJSON(t, h, "POST", "/ownership/0", key, map[string]any{
		"ownership": "user:tester", "page_size": 3, "include_totals": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var page databases.OwnershipPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Entities, 3)
	require.True(t, page.HasMore)
	require.Equal(t, int64(4), *page.TotalEntities)
}

func mustJSONBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}
