package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"octogrid/pkg/databases"
	"octogrid/pkg/mapmath"
	"octogrid/pkg/ratelimits"
	"octogrid/pkg/security"
	"octogrid/pkg/tarot"
	"octogrid/pkg/zonetables"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ErrorLog.Printf("encode response: %v", err)
	}
}

// Canned db_health blocks for the error envelope. Rate-limited and
// degraded-backend answers are indistinguishable from a healthy ERROR at
// the status-code level; the block is where clients look.
var (
	healthOK          = map[string]any{"message": "OK"}
	healthRateLimited = map[string]any{"message": "Rate Limit Exceeded"}
	healthUnreachable = map[string]any{"message": "Database server unreachable"}
)

// okEnvelope and errEnvelope are the gateway's uniform response shapes.
// Degraded conditions still answer 200 with message ERROR so browser
// clients read the envelope instead of an opaque failure page. Every
// error envelope carries a db_health block.
func okEnvelope(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"message": "OK"}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func errEnvelope(w http.ResponseWriter, dbHealth map[string]any, fields map[string]any) {
	body := map[string]any{"message": "ERROR", "db_health": dbHealth}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func httpError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// authenticate runs the shared admission path: the per-IP bucket for the
// route, then token decode, then the per-key bucket. Strict mode adds the
// full authorization predicate and the blacklist. The raw key never reaches
// a bucket or a log line; its fingerprint does.
func authenticate(w http.ResponseWriter, r *http.Request, ipBucket string, ipPolicy ratelimits.Policy, strict bool) (security.Token, bool) {
	if !limiter.Admit(ipBucket, ipPolicy, clientIP(r)) {
		errEnvelope(w, healthRateLimited, nil)
		return security.Token{}, false
	}

	key := r.Header.Get("X-API-Key")
	tok := codec.Decode(key)
	if !tok.Success {
		httpError(w, http.StatusUnauthorized, "Invalid API Key")
		return security.Token{}, false
	}
	if !limiter.Admit("api-key", ratelimits.APIKey, security.Fingerprint(key)) {
		errEnvelope(w, healthRateLimited, nil)
		return security.Token{}, false
	}

	if strict {
		if !tok.Valid() || blacklist.AnyBanned(tok.Data) {
			httpError(w, http.StatusUnauthorized, "Invalid API Key")
			return security.Token{}, false
		}
	}
	return tok, true
}

// userPart extracts the caller's principal from the token data. Ownership
// columns store this exact value.
func userPart(tok security.Token) (string, bool) {
	for _, part := range tok.Data {
		if strings.HasPrefix(part, "user:") {
			return part, true
		}
	}
	return "", false
}

func hasPart(tok security.Token, part string) bool {
	for _, p := range tok.Data {
		if p == part {
			return true
		}
	}
	return false
}

// normalize stamps zone and existence onto a stored row before it leaves
// the gateway. Synthesized genesis rows already carry exists=false.
func normalize(e databases.Entity, z int) databases.Entity {
	e.PositionZ = z
	if e.Exists == nil {
		exists := true
		e.Exists = &exists
	}
	return e
}

func userContext(tok security.Token) map[string]any {
	return map[string]any{"ID": tok.ID, "data": tok.Data, "days_old": tok.DaysOld}
}

type renderRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// handleRender returns the 8x8 sector at axis address (x, y): stored rows
// from the range query, deterministic genesis for every absent cell.
func handleRender(w http.ResponseWriter, r *http.Request) {
	tok, ok := authenticate(w, r, "ip-default", ratelimits.IPDefault, false)
	if !ok {
		return
	}
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed render request")
		return
	}
	if !zonetables.Valid(req.Z) {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid zone %d", req.Z))
		return
	}

	xs := mapmath.ExpandSequence(req.X)
	ys := mapmath.ExpandSequence(req.Y)
	bounds := databases.RangeBounds{
		XMin:  int64(xs[0]),
		XMax:  int64(xs[len(xs)-1]),
		YMin:  int64(ys[0]),
		YMax:  int64(ys[len(ys)-1]),
		Limit: mapmath.SegmentWidth * mapmath.SegmentWidth,
	}

	stored, err := db.Range(r.Context(), req.Z, bounds)
	if err != nil {
		ErrorLog.Printf("render (%d,%d,%d): %v", req.X, req.Y, req.Z, err)
		errEnvelope(w, healthUnreachable, nil)
		return
	}

	byCell := make(map[string]databases.Entity, len(stored))
	for _, e := range stored {
		byCell[fmt.Sprintf("%d:%d", e.PositionX, e.PositionY)] = e
	}

	grid := make([]databases.Entity, 0, len(xs)*len(ys))
	for _, cy := range ys {
		for _, cx := range xs {
			if e, found := byCell[fmt.Sprintf("%d:%d", cx, cy)]; found {
				grid = append(grid, normalize(e, req.Z))
				continue
			}
			grid = append(grid, databases.GenesisEntity(cx, cy, req.Z))
		}
	}

	okEnvelope(w, map[string]any{
		"x":            req.X,
		"y":            req.Y,
		"entities":     grid,
		"user_context": userContext(tok),
		"banner":       zonetables.ZoneColors[req.Z],
	})
}

type renderOneRequest struct {
	X int    `json:"x"`
	Y int    `json:"y"`
	Z int    `json:"z"`
	I *int64 `json:"i"`
}

// handleRenderOne returns one cell's iteration map, keyed by iteration
// number. A cell with no storage renders as {"0": genesis}.
func handleRenderOne(w http.ResponseWriter, r *http.Request) {
	tok, ok := authenticate(w, r, "ip-render-one", ratelimits.RenderOne, false)
	if !ok {
		return
	}
	var req renderOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed render request")
		return
	}
	if !zonetables.Valid(req.Z) {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid zone %d", req.Z))
		return
	}

	stack, err := db.Expand(r.Context(), req.X, req.Y, req.Z, req.I)
	if err != nil {
		ErrorLog.Printf("render one (%d,%d,%d): %v", req.X, req.Y, req.Z, err)
		errEnvelope(w, healthUnreachable, nil)
		return
	}

	iters := make(map[string]databases.Entity, len(stack.Entities))
	for _, e := range stack.Entities {
		iters[fmt.Sprint(e.Iter)] = normalize(e, req.Z)
	}
	if len(iters) == 0 {
		iters["0"] = databases.GenesisEntity(req.X, req.Y, req.Z)
	}

	okEnvelope(w, map[string]any{
		"entities":         iters,
		"intended_iter":    req.I,
		"iter_is_latest":   stack.IsLatestOnFile,
		"max_iter_on_file": stack.MaxIterOnFile,
		"user_context":     userContext(tok),
		"banner":           zonetables.ZoneColors[req.Z],
	})
}

type renderAreasRequest struct {
	Z             int    `json:"z"`
	PageSize      int    `json:"page_size"`
	AfterIndex    *int64 `json:"after_index"`
	IncludeTotals bool   `json:"include_totals"`
}

// handleRenderAreas pages through the latest iteration of everything the
// caller owns in one zone.
func handleRenderAreas(w http.ResponseWriter, r *http.Request) {
	tok, ok := authenticate(w, r, "ip-default", ratelimits.IPDefault, true)
	if !ok {
		return
	}
	owner, ok := userPart(tok)
	if !ok {
		httpError(w, http.StatusUnauthorized, "Invalid API Key")
		return
	}
	var req renderAreasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed areas request")
		return
	}
	if !zonetables.Valid(req.Z) {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid zone %d", req.Z))
		return
	}

	page, err := db.Ownership(r.Context(), req.Z, ownershipQuery{
		Ownership:     owner,
		PageSize:      req.PageSize,
		AfterIndex:    req.AfterIndex,
		IncludeTotals: req.IncludeTotals,
	})
	if err != nil {
		ErrorLog.Printf("areas %s zone %d: %v", owner, req.Z, err)
		errEnvelope(w, healthUnreachable, nil)
		return
	}

	entities := make([]databases.Entity, 0, len(page.Entities))
	for _, e := range page.Entities {
		entities = append(entities, normalize(e, req.Z))
	}
	okEnvelope(w, map[string]any{
		"entities":       entities,
		"has_more":       page.HasMore,
		"next_cursor":    page.NextCursor,
		"total_entities": page.TotalEntities,
		"user_context":   userContext(tok),
	})
}

// editAdmit layers the tight mutation buckets over strict auth: the shared
// per-IP edit-action bucket plus the per-key edit bucket.
func editAdmit(w http.ResponseWriter, r *http.Request) (security.Token, string, bool) {
	tok, ok := authenticate(w, r, "ip-edit-action", ratelimits.EditAction, true)
	if !ok {
		return security.Token{}, "", false
	}
	owner, ok := userPart(tok)
	if !ok {
		httpError(w, http.StatusUnauthorized, "Invalid API Key")
		return security.Token{}, "", false
	}
	if !limiter.Admit("edit", ratelimits.Edit, security.Fingerprint(r.Header.Get("X-API-Key"))) {
		errEnvelope(w, healthRateLimited, nil)
		return security.Token{}, "", false
	}
	return tok, owner, true
}

// handleMint claims a cell's genesis row for the caller: ownership, the
// minted flag, and state 1, written back through the storage service.
func handleMint(w http.ResponseWriter, r *http.Request) {
	_, owner, ok := editAdmit(w, r)
	if !ok {
		return
	}
	var req renderOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed mint request")
		return
	}
	if !zonetables.Valid(req.Z) {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid zone %d", req.Z))
		return
	}

	ctx := r.Context()
	stack, err := db.Expand(ctx, req.X, req.Y, req.Z, req.I)
	if err != nil {
		ErrorLog.Printf("mint expand (%d,%d,%d): %v", req.X, req.Y, req.Z, err)
		errEnvelope(w, healthUnreachable, nil)
		return
	}

	// The stack is bounded by the intended iteration, so its highest row is
	// the version the caller is looking at. An untouched cell mints from
	// synthesized genesis.
	target := databases.GenesisEntity(req.X, req.Y, req.Z)
	if len(stack.Entities) > 0 {
		best := stack.Entities[0]
		for _, e := range stack.Entities[1:] {
			if e.Iter > best.Iter {
				best = e
			}
		}
		target = best.Clone()
	}
	if target.Minted {
		errEnvelope(w, healthOK, map[string]any{"detail": "Already minted."})
		return
	}
	if target.Ownership != nil && !target.OwnedBy(owner) {
		errEnvelope(w, healthOK, map[string]any{"detail": "Owned by another."})
		return
	}

	target.Ownership = &owner
	target.Minted = true
	if target.Iter == 0 {
		target.State = 1
	}
	target.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	target.Exists = nil

	resp, err := db.Set(ctx, req.Z, target)
	if err != nil {
		ErrorLog.Printf("mint set (%d,%d,%d): %v", req.X, req.Y, req.Z, err)
		errEnvelope(w, healthUnreachable, nil)
		return
	}
	InfoLog.Printf("minted %s in zone %d for %s", resp.ID, req.Z, owner)

	entities := make([]databases.Entity, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		entities = append(entities, normalize(e, req.Z))
	}
	okEnvelope(w, map[string]any{
		"id":                resp.ID,
		"index":             resp.Index,
		"entities":          entities,
		"is_latest_on_file": resp.IsLatestOnFile,
	})
}

// handleNewIter appends the next iteration of a cell the caller owns. The
// new row is named by the cell's deterministic tarot deal.
func handleNewIter(w http.ResponseWriter, r *http.Request) {
	_, owner, ok := editAdmit(w, r)
	if !ok {
		return
	}
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed newiter request")
		return
	}
	if !zonetables.Valid(req.Z) {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid zone %d", req.Z))
		return
	}

	ctx := r.Context()
	stack, err := db.ExpandAll(ctx, req.X, req.Y, req.Z)
	if err != nil {
		ErrorLog.Printf("newiter expand (%d,%d,%d): %v", req.X, req.Y, req.Z, err)
		errEnvelope(w, healthUnreachable, nil)
		return
	}

	var genesisRow *databases.Entity
	for i := range stack.Entities {
		if stack.Entities[i].Iter == 0 {
			genesisRow = &stack.Entities[i]
			break
		}
	}
	if genesisRow == nil || !genesisRow.OwnedBy(owner) {
		errEnvelope(w, healthOK, map[string]any{"detail": "Only the owner of genesis may create new iterations."})
		return
	}

	nextIter := int64(len(stack.Entities))
	deck := tarot.ShuffledFor(fmt.Sprintf("%d:%d:%d", req.X, req.Y, req.Z))
	card := deck[int(nextIter-1)%len(deck)]

	// New iterations are synthesized genesis overlaid with the stack's
	// index and the caller's claim, not copies of the previous row.
	next := databases.GenesisEntity(req.X, req.Y, req.Z)
	next.Index = genesisRow.Index
	next.Iter = nextIter
	next.Name = card
	next.Description = tarot.Meaning(card)
	next.State = 2
	next.Ownership = &owner
	next.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	next.Exists = nil

	resp, err := db.Set(ctx, req.Z, next)
	if err != nil {
		ErrorLog.Printf("newiter set (%d,%d,%d): %v", req.X, req.Y, req.Z, err)
		errEnvelope(w, healthUnreachable, nil)
		return
	}
	InfoLog.Printf("iteration %s in zone %d for %s: %s", resp.ID, req.Z, owner, card)

	entities := make([]databases.Entity, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		entities = append(entities, normalize(e, req.Z))
	}
	okEnvelope(w, map[string]any{
		"id":                resp.ID,
		"index":             resp.Index,
		"iter":              nextIter,
		"name":              card,
		"entities":          entities,
		"is_latest_on_file": resp.IsLatestOnFile,
	})
}

func handleCheckAPIKey(w http.ResponseWriter, r *http.Request) {
	if !limiter.Admit("ip-check-key", ratelimits.CheckKey, clientIP(r)) {
		errEnvelope(w, healthRateLimited, nil)
		return
	}
	tok := codec.Decode(r.Header.Get("X-API-Key"))
	valid := tok.Valid() && !blacklist.AnyBanned(tok.Data)
	writeJSON(w, http.StatusOK, map[string]bool{"valid_key": valid})
}

type issueKeyRequest struct {
	Parts []string `json:"parts"`
}

// handleIssueAPIKey mints a token for a new principal. Issuance is an admin
// surface: the caller's own token must carry the isAdmin part.
func handleIssueAPIKey(w http.ResponseWriter, r *http.Request) {
	tok, ok := authenticate(w, r, "token-issue", ratelimits.TokenIssue, true)
	if !ok {
		return
	}
	if !hasPart(tok, "isAdmin") {
		httpError(w, http.StatusUnauthorized, "Invalid API Key")
		return
	}
	var req issueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Parts) == 0 {
		httpError(w, http.StatusBadRequest, "parts are required")
		return
	}
	for _, part := range req.Parts {
		if strings.Contains(part, security.TokenSeparator) {
			httpError(w, http.StatusBadRequest, "parts must not contain the separator")
			return
		}
	}

	minted, err := codec.Encode(req.Parts...)
	if err != nil {
		ErrorLog.Printf("issue key: %v", err)
		errEnvelope(w, healthOK, map[string]any{"detail": "key issuance failed"})
		return
	}
	InfoLog.Printf("issued key %s for %v", security.Fingerprint(minted), req.Parts)
	okEnvelope(w, map[string]any{"api_key": minted})
}

// handleRenewAPIKey re-seals the caller's own data parts with a fresh
// timestamp and request-binding ID.
func handleRenewAPIKey(w http.ResponseWriter, r *http.Request) {
	tok, ok := authenticate(w, r, "ip-edit-action", ratelimits.EditAction, true)
	if !ok {
		return
	}
	minted, err := codec.Encode(tok.Data...)
	if err != nil {
		ErrorLog.Printf("renew key: %v", err)
		errEnvelope(w, healthOK, map[string]any{"detail": "key renewal failed"})
		return
	}
	InfoLog.Printf("renewed key for %s", tok.ID)
	okEnvelope(w, map[string]any{"api_key": minted})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := db.Health(r.Context())
	if err != nil {
		errEnvelope(w, healthUnreachable, nil)
		return
	}
	okEnvelope(w, map[string]any{"db_health": health})
}
