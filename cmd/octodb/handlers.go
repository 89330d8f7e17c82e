package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"octogrid/pkg/databases"
)

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

const lz4ContentType = "application/x-octogrid-lz4"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ErrorLog.Printf("encode response: %v", err)
	}
}

func httpError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// zoneStore resolves the {zone} path variable. An unknown zone is a client
// error, never a 500.
func zoneStore(w http.ResponseWriter, r *http.Request) (*databases.EntityStore, bool) {
	zone, err := strconv.Atoi(mux.Vars(r)["zone"])
	if err != nil {
		httpError(w, http.StatusBadRequest, "zone must be an integer")
		return nil, false
	}
	store, err := registry.Lookup(zone)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid zone %d", zone))
		return nil, false
	}
	return store, true
}

func handleHello(w http.ResponseWriter, r *http.Request) {
	tok := codec.Decode(r.Header.Get("X-API-Key"))
	writeJSON(w, http.StatusOK, map[string]any{"token": tok})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"zones":  registry.Zones(),
		"db":     registry.MetricsAll(),
	})
}

func handleZoneHealth(w http.ResponseWriter, r *http.Request) {
	store, ok := zoneStore(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "db": store.Metrics()})
}

func handleMaxIndex(w http.ResponseWriter, r *http.Request) {
	store, ok := zoneStore(w, r)
	if !ok {
		return
	}
	n, err := store.MaxIndex(r.Context())
	if err != nil {
		ErrorLog.Printf("max index: %v", err)
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"max_index": n})
}

func handleSet(w http.ResponseWriter, r *http.Request) {
	store, ok := zoneStore(w, r)
	if !ok {
		return
	}

	var e databases.Entity
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		httpError(w, http.StatusBadRequest, "malformed entity")
		return
	}

	ctx := r.Context()
	if e.Index == nil {
		idx, err := store.AllocateIndex(ctx)
		if err != nil {
			ErrorLog.Printf("allocate index: %v", err)
			httpError(w, http.StatusInternalServerError, "storage failure")
			return
		}
		e.Index = &idx
	}
	// exists is a render hint, never stored.
	e.Exists = nil

	if err := store.Set(ctx, e); err != nil {
		ErrorLog.Printf("set %dv%d: %v", *e.Index, e.Iter, err)
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	stack, err := store.ItersOfOne(ctx, e.PositionX, e.PositionY, &e.Iter)
	if err != nil {
		ErrorLog.Printf("read back %dv%d: %v", *e.Index, e.Iter, err)
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"id":                fmt.Sprintf("%dv%d", *e.Index, e.Iter),
		"index":             *e.Index,
		"entities":          stack.Entities,
		"is_latest_on_file": stack.IsLatestOnFile,
	})
}

func handleGet(w http.ResponseWriter, r *http.Request) {
	store, ok := zoneStore(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	index, err := strconv.ParseInt(vars["index"], 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	var iter *int64
	if raw, present := vars["iter"]; present {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "iter must be an integer")
			return
		}
		iter = &v
	}

	e, err := store.Get(r.Context(), index, iter)
	if errors.Is(err, databases.ErrNotFound) {
		httpError(w, http.StatusNotFound, "entity not found")
		return
	}
	if err != nil {
		ErrorLog.Printf("get %d: %v", index, err)
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type expandRequest struct {
	X int    `json:"x"`
	Y int    `json:"y"`
	Z int    `json:"z"`
	I *int64 `json:"i"`
}

// handleExpand returns the cell's iteration stack up to the intended
// iteration; handleExpandAll returns the whole stack.
func handleExpand(w http.ResponseWriter, r *http.Request)    { expand(w, r, true) }
func handleExpandAll(w http.ResponseWriter, r *http.Request) { expand(w, r, false) }

func expand(w http.ResponseWriter, r *http.Request, honorIntended bool) {
	var req expandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed expand request")
		return
	}
	store, err := registry.Lookup(req.Z)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid zone %d", req.Z))
		return
	}

	intended := req.I
	if !honorIntended {
		intended = nil
	}
	stack, err := store.ItersOfOne(r.Context(), int64(req.X), int64(req.Y), intended)
	if err != nil {
		ErrorLog.Printf("expand (%d,%d,%d): %v", req.X, req.Y, req.Z, err)
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, stack)
}

func handleRange(w http.ResponseWriter, r *http.Request) {
	store, ok := zoneStore(w, r)
	if !ok {
		return
	}
	var bounds databases.RangeBounds
	if err := json.NewDecoder(r.Body).Decode(&bounds); err != nil {
		httpError(w, http.StatusBadRequest, "malformed range request")
		return
	}

	entities, err := store.RangeQuery(r.Context(), bounds)
	if err != nil {
		ErrorLog.Printf("range: %v", err)
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	body := map[string]any{"entities": entities}
	if r.Header.Get("X-Accept-Compression") == "lz4" {
		payload, err := json.Marshal(body)
		if err != nil {
			ErrorLog.Printf("encode range: %v", err)
			httpError(w, http.StatusInternalServerError, "storage failure")
			return
		}
		w.Header().Set("Content-Type", lz4ContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(compressLZ4(payload))
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type ownershipRequest struct {
	Ownership     string `json:"ownership"`
	PageSize      int    `json:"page_size"`
	AfterIndex    *int64 `json:"after_index"`
	IncludeTotals bool   `json:"include_totals"`
}

func handleOwnership(w http.ResponseWriter, r *http.Request) {
	store, ok := zoneStore(w, r)
	if !ok {
		return
	}
	var req ownershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed ownership request")
		return
	}
	if req.Ownership == "" {
		httpError(w, http.StatusBadRequest, "ownership is required")
		return
	}

	page, err := store.OwnershipCursor(r.Context(), req.Ownership, req.PageSize, req.AfterIndex, req.IncludeTotals)
	if err != nil {
		ErrorLog.Printf("ownership cursor: %v", err)
		httpError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func compressLZ4(src []byte) []byte {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)
	zw := lz4.NewWriter(buf)
	zw.Write(src)
	zw.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}
