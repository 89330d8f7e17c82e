package databases

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// ErrNotFound marks a lookup that matched no row in the queue or the
// durable table.
var ErrNotFound = errors.New("entity not found")

const (
	mmapSizeBytes  = 268435456 // 256 MiB
	busyTimeoutMS  = 5000
	checkpointEach = 20 // flushes between passive WAL checkpoints
)

// Metrics is a point-in-time snapshot of one store's counters.
type Metrics struct {
	Started     float64 `json:"started"`
	Flushes     int64   `json:"flushes"`
	Writes      int64   `json:"writes"`
	CacheHits   int64   `json:"cache_hits"`
	CacheMisses int64   `json:"cache_misses"`
	QueueDepth  int64   `json:"queue_depth"`
}

// RangeBounds selects entities by position box. Limit <= 0 means the
// default of 64.
type RangeBounds struct {
	XMin  int64 `json:"x_min"`
	XMax  int64 `json:"x_max"`
	YMin  int64 `json:"y_min"`
	YMax  int64 `json:"y_max"`
	Limit int   `json:"limit"`
}

// IterStack is the full version history of one cell, durable and queued rows
// merged, queued rows shadowing.
type IterStack struct {
	Entities       []Entity `json:"entities"`
	MaxIterOnFile  *int64   `json:"max_iter_on_file"`
	IsLatestOnFile bool     `json:"is_latest_on_file"`
	IntendedIter   *int64   `json:"intended_iter"`
}

// OwnershipPage is one page of an owner's latest-iteration entities.
type OwnershipPage struct {
	Entities      []Entity `json:"entities"`
	HasMore       bool     `json:"has_more"`
	NextCursor    *int64   `json:"next_cursor"`
	TotalEntities *int64   `json:"total_entities,omitempty"`
}

// EntityStore is one zone's versioned entity database: a WAL-mode SQLite
// file fronted by a write queue, a read-through LRU, and a background flush
// loop. All writes land in write_queue first and reach the entities table in
// batched transactions.
type EntityStore struct {
	path string
	cfg  Config
	logf *log.Logger

	db    *sql.DB
	cache *lru.Cache[string, Entity]

	// writeMu serializes flushes so at most one batch transaction runs.
	writeMu sync.Mutex
	done    chan struct{}
	loopWG  sync.WaitGroup
	running bool

	started     time.Time
	flushes     atomic.Int64
	writes      atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	queueDepth  atomic.Int64
}

// NewEntityStore prepares a store for the database file at path. Init must
// run before use.
func NewEntityStore(path string, cfg Config, logger *log.Logger) *EntityStore {
	if logger == nil {
		logger = log.Default()
	}
	return &EntityStore{path: path, cfg: cfg, logf: logger}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		"index" INTEGER NOT NULL,
		"iter" INTEGER NOT NULL,
		uuid TEXT,
		state INTEGER,
		name TEXT,
		description TEXT,
		positionX INTEGER,
		positionY INTEGER,
		aesthetics TEXT,
		ownership TEXT,
		minted INTEGER DEFAULT 0,
		timestamp INTEGER,
		PRIMARY KEY ("index", "iter")
	)`,
	`CREATE TABLE IF NOT EXISTS write_queue (
		queue_id INTEGER PRIMARY KEY AUTOINCREMENT,
		"index" INTEGER NOT NULL,
		"iter" INTEGER NOT NULL,
		uuid TEXT,
		state INTEGER,
		name TEXT,
		description TEXT,
		positionX INTEGER,
		positionY INTEGER,
		aesthetics TEXT,
		ownership TEXT,
		minted INTEGER DEFAULT 0,
		timestamp INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS index_seq (
		id INTEGER PRIMARY KEY AUTOINCREMENT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_uuid ON entities (uuid)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_position ON entities (positionX, positionY)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_latest ON entities ("index", "iter" DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_ownership ON entities (ownership, "index", "iter" DESC)`,
}

// Init opens the handle pool, applies pragmas, creates the schema, restores
// the queue depth from any rows left behind by a previous run, and starts
// the flush loop. Calling Init on a running store is a no-op.
func (s *EntityStore) Init(ctx context.Context) error {
	if s.running {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create database directory")
		}
	}

	db, err := sql.Open(s.cfg.Driver, s.path)
	if err != nil {
		return errors.Wrapf(err, "open %s", s.path)
	}
	db.SetMaxOpenConns(s.cfg.PoolSize)
	db.SetMaxIdleConns(s.cfg.PoolSize)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		fmt.Sprintf("PRAGMA mmap_size=%d", mmapSizeBytes),
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return errors.Wrapf(err, "apply %q", pragma)
		}
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return errors.Wrap(err, "create schema")
		}
	}

	cache, err := lru.New[string, Entity](s.cfg.LRUCacheSize)
	if err != nil {
		db.Close()
		return err
	}

	var leftover int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM write_queue`).Scan(&leftover); err != nil {
		db.Close()
		return errors.Wrap(err, "count leftover queue rows")
	}

	s.db = db
	s.cache = cache
	s.queueDepth.Store(leftover)
	s.started = time.Now()
	s.done = make(chan struct{})
	s.running = true

	s.loopWG.Add(1)
	go s.flushLoop()
	return nil
}

// flushLoop drains the queue every FlushInterval until Close.
func (s *EntityStore) flushLoop() {
	defer s.loopWG.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.queueDepth.Load() == 0 {
				continue
			}
			if err := s.flush(context.Background(), false); err != nil {
				s.logf.Printf("flush %s: %v", s.path, err)
			}
		}
	}
}

// Set queues one entity write. The entity must carry an allocated index.
// The LRU is updated immediately so reads observe the write before it
// reaches the durable table. Crossing MaxQueueRows triggers an inline
// flush; a queue past ten times that depth forces a full drain.
func (s *EntityStore) Set(ctx context.Context, e Entity) error {
	if e.Index == nil {
		return errors.New("set requires an allocated index")
	}

	s.cache.Add(cacheKey(*e.Index, e.Iter), e.Clone())

	query := fmt.Sprintf(
		`INSERT INTO write_queue (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entityColumns,
	)
	if _, err := s.db.ExecContext(ctx, query, writeArgs(e)...); err != nil {
		return errors.Wrap(err, "queue write")
	}
	s.writes.Add(1)

	depth := s.queueDepth.Add(1)
	if depth > int64(10*s.cfg.MaxQueueRows) {
		s.logf.Printf("write queue backlog at %d rows on %s, forcing drain", depth, s.path)
		return s.flush(ctx, true)
	}
	if depth >= int64(s.cfg.MaxQueueRows) {
		return s.flush(ctx, false)
	}
	return nil
}

// Get returns the entity at (index, iter), or the highest iteration when
// iter is nil. Specific-version lookups are served from the LRU when
// possible; every miss checks the write queue before the durable table, so
// queued writes are always visible.
func (s *EntityStore) Get(ctx context.Context, index int64, iter *int64) (Entity, error) {
	if iter != nil {
		if e, ok := s.cache.Get(cacheKey(index, *iter)); ok {
			s.cacheHits.Add(1)
			return e.Clone(), nil
		}
	}
	s.cacheMisses.Add(1)

	var row *sql.Row
	if iter != nil {
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT %s FROM write_queue WHERE "index" = ? AND "iter" = ? ORDER BY queue_id DESC LIMIT 1`,
			entityColumns), index, *iter)
	} else {
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT %s FROM write_queue WHERE "index" = ? ORDER BY "iter" DESC, queue_id DESC LIMIT 1`,
			entityColumns), index)
	}
	e, err := scanEntity(row)
	if err == nil {
		s.cache.Add(cacheKey(*e.Index, e.Iter), e.Clone())
		return e, nil
	}
	if err != sql.ErrNoRows {
		return Entity{}, errors.Wrap(err, "read queue")
	}

	if iter != nil {
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT %s FROM entities WHERE "index" = ? AND "iter" = ?`,
			entityColumns), index, *iter)
	} else {
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT %s FROM entities WHERE "index" = ? ORDER BY "iter" DESC LIMIT 1`,
			entityColumns), index)
	}
	e, err = scanEntity(row)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, errors.Wrap(err, "read entities")
	}
	s.cache.Add(cacheKey(*e.Index, e.Iter), e.Clone())
	return e, nil
}

// RangeQuery returns the latest iteration of every entity inside the box.
// Only durable rows are visible; queued writes surface after the next
// flush, which the short flush interval keeps near-immediate.
func (s *EntityStore) RangeQuery(ctx context.Context, b RangeBounds) ([]Entity, error) {
	limit := b.Limit
	if limit <= 0 {
		limit = 64
	}
	query := fmt.Sprintf(`
		SELECT %s FROM entities e
		JOIN (
			SELECT "index" AS idx, MAX("iter") AS max_iter FROM entities
			WHERE positionX BETWEEN ? AND ? AND positionY BETWEEN ? AND ?
			GROUP BY "index"
		) latest ON e."index" = latest.idx AND e."iter" = latest.max_iter
		ORDER BY e."index" ASC
		LIMIT ?`,
		prefixColumns("e"))

	rows, err := s.db.QueryContext(ctx, query, b.XMin, b.XMax, b.YMin, b.YMax, limit)
	if err != nil {
		return nil, errors.Wrap(err, "range query")
	}
	defer rows.Close()

	out := make([]Entity, 0, limit)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ItersOfOne returns every iteration stored for the cell at (x, y), merging
// queued rows over durable ones. When intendedIter is set, iterations above
// it are filtered out of the list but still count toward MaxIterOnFile, so
// callers can tell a historical view from the latest one.
func (s *EntityStore) ItersOfOne(ctx context.Context, x, y int64, intendedIter *int64) (IterStack, error) {
	merged := make(map[string]Entity)

	collect := func(query string) error {
		rows, err := s.db.QueryContext(ctx, query, x, y)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntity(rows)
			if err != nil {
				return err
			}
			merged[cacheKey(*e.Index, e.Iter)] = e
		}
		return rows.Err()
	}

	durable := fmt.Sprintf(
		`SELECT %s FROM entities WHERE positionX = ? AND positionY = ?`, entityColumns)
	// Queue rows in enqueue order so the newest write for a version wins.
	queued := fmt.Sprintf(
		`SELECT %s FROM write_queue WHERE positionX = ? AND positionY = ? ORDER BY queue_id ASC`,
		entityColumns)
	if err := collect(durable); err != nil {
		return IterStack{}, errors.Wrap(err, "read entities")
	}
	if err := collect(queued); err != nil {
		return IterStack{}, errors.Wrap(err, "read queue")
	}

	stack := IterStack{Entities: []Entity{}, IsLatestOnFile: true, IntendedIter: intendedIter}
	for _, e := range merged {
		if stack.MaxIterOnFile == nil || e.Iter > *stack.MaxIterOnFile {
			v := e.Iter
			stack.MaxIterOnFile = &v
		}
		if intendedIter != nil && e.Iter > *intendedIter {
			continue
		}
		stack.Entities = append(stack.Entities, e)
	}
	sortEntities(stack.Entities)
	if intendedIter != nil && stack.MaxIterOnFile != nil {
		stack.IsLatestOnFile = *intendedIter >= *stack.MaxIterOnFile
	}
	return stack, nil
}

// MaxIndex returns the highest allocated entity index, 0 for an empty zone.
func (s *EntityStore) MaxIndex(ctx context.Context) (int64, error) {
	var durable, queued sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX("index") FROM entities`).Scan(&durable); err != nil {
		return 0, errors.Wrap(err, "max index")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT MAX("index") FROM write_queue`).Scan(&queued); err != nil {
		return 0, errors.Wrap(err, "max queued index")
	}
	if queued.Int64 > durable.Int64 {
		return queued.Int64, nil
	}
	return durable.Int64, nil
}

// AllocateIndex reserves a fresh entity index from the monotone allocator
// table. Indexes are never reused and never derived from MAX(index), so
// concurrent allocations cannot collide.
func (s *EntityStore) AllocateIndex(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO index_seq DEFAULT VALUES`)
	if err != nil {
		return 0, errors.Wrap(err, "allocate index")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "allocate index")
	}
	return id, nil
}

// OwnershipCursor pages through the latest iteration of every entity owned
// by owner, ordered by index. pageSize clamps to [1, 1000]; afterIndex
// resumes past a previous page's NextCursor. Durable rows only.
func (s *EntityStore) OwnershipCursor(ctx context.Context, owner string, pageSize int, afterIndex *int64, includeTotals bool) (OwnershipPage, error) {
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 1000 {
		pageSize = 1000
	}
	cursor := int64(-1)
	if afterIndex != nil {
		cursor = *afterIndex
	}

	query := fmt.Sprintf(`
		SELECT %s FROM entities e
		JOIN (
			SELECT "index" AS idx, MAX("iter") AS max_iter FROM entities
			WHERE ownership = ? AND "index" > ?
			GROUP BY "index"
			ORDER BY "index" ASC
			LIMIT ?
		) latest ON e."index" = latest.idx AND e."iter" = latest.max_iter
		ORDER BY e."index" ASC`,
		prefixColumns("e"))

	// One extra row decides has_more without a count.
	rows, err := s.db.QueryContext(ctx, query, owner, cursor, pageSize+1)
	if err != nil {
		return OwnershipPage{}, errors.Wrap(err, "ownership cursor")
	}
	defer rows.Close()

	page := OwnershipPage{Entities: []Entity{}}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return OwnershipPage{}, err
		}
		page.Entities = append(page.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return OwnershipPage{}, err
	}

	if len(page.Entities) > pageSize {
		page.HasMore = true
		page.Entities = page.Entities[:pageSize]
	}
	if n := len(page.Entities); n > 0 {
		page.NextCursor = page.Entities[n-1].Index
	}

	if includeTotals {
		var total int64
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(DISTINCT "index") FROM entities WHERE ownership = ?`, owner,
		).Scan(&total)
		if err != nil {
			return OwnershipPage{}, errors.Wrap(err, "ownership totals")
		}
		page.TotalEntities = &total
	}
	return page, nil
}

// Flush drains queued writes into the entities table. Exposed for shutdown
// and tests; the background loop calls it on its own cadence.
func (s *EntityStore) Flush(ctx context.Context, force bool) error {
	return s.flush(ctx, force)
}

func (s *EntityStore) flush(ctx context.Context, force bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	batchLimit := 2 * s.cfg.MaxQueueRows
	if force {
		batchLimit = 10 * s.cfg.MaxQueueRows
	}

	totalFlushed := 0
	for {
		n, err := s.flushBatch(ctx, batchLimit)
		if err != nil {
			return err
		}
		totalFlushed += n
		// Normal flushes take one batch; forced flushes repeat until the
		// queue produces a short batch.
		if n == 0 || !force || n < batchLimit {
			break
		}
	}

	if totalFlushed > 0 {
		if s.flushes.Add(1)%checkpointEach == 0 {
			if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
				s.logf.Printf("wal checkpoint %s: %v", s.path, err)
			}
		}
		// The counter drifts when flushes race queued sets; the table is
		// authoritative.
		var depth int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM write_queue`).Scan(&depth); err != nil {
			return errors.Wrap(err, "recount queue")
		}
		s.queueDepth.Store(depth)
		if force {
			s.logf.Printf("forced drain moved %d rows on %s, queue depth now %d", totalFlushed, s.path, depth)
		}
	}
	return nil
}

// flushBatch moves up to limit queue rows into entities inside one
// immediate transaction. A failure rolls back and leaves the rows queued.
func (s *EntityStore) flushBatch(ctx context.Context, limit int) (int, error) {
	selectQ := fmt.Sprintf(
		`SELECT queue_id, %s FROM write_queue ORDER BY queue_id ASC LIMIT ?`, entityColumns)
	rows, err := s.db.QueryContext(ctx, selectQ, limit)
	if err != nil {
		return 0, errors.Wrap(err, "select batch")
	}

	type queuedRow struct {
		queueID int64
		entity  Entity
	}
	batch := make([]queuedRow, 0, limit)
	for rows.Next() {
		var qr queuedRow
		var (
			index      int64
			aesthetics string
			ownership  sql.NullString
			minted     int64
			timestamp  int64
		)
		err := rows.Scan(
			&qr.queueID, &index, &qr.entity.Iter, &qr.entity.UUID, &qr.entity.State,
			&qr.entity.Name, &qr.entity.Description, &qr.entity.PositionX, &qr.entity.PositionY,
			&aesthetics, &ownership, &minted, &timestamp,
		)
		if err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scan batch")
		}
		qr.entity.Index = &index
		qr.entity.Aesthetics = textToAesthetics(aesthetics)
		if ownership.Valid {
			own := ownership.String
			qr.entity.Ownership = &own
		}
		qr.entity.Minted = minted != 0
		qr.entity.Timestamp = float64(timestamp)
		batch = append(batch, qr)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, errors.Wrap(err, "scan batch")
	}
	rows.Close()
	if len(batch) == 0 {
		return 0, nil
	}

	// BEGIN IMMEDIATE takes the write lock up front, so the batch cannot
	// deadlock against a competing writer mid-transaction. database/sql's
	// Begin cannot express it, so the transaction runs on a pinned conn.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "pin connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return 0, errors.Wrap(err, "begin immediate")
	}
	rollback := func(cause error) (int, error) {
		if _, rbErr := conn.ExecContext(ctx, `ROLLBACK`); rbErr != nil {
			s.logf.Printf("rollback %s: %v", s.path, rbErr)
		}
		return 0, cause
	}

	insertQ := fmt.Sprintf(
		`INSERT OR REPLACE INTO entities (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entityColumns)
	ids := make([]string, 0, len(batch))
	for _, qr := range batch {
		if _, err := conn.ExecContext(ctx, insertQ, writeArgs(qr.entity)...); err != nil {
			return rollback(errors.Wrap(err, "apply batch row"))
		}
		ids = append(ids, fmt.Sprint(qr.queueID))
	}
	deleteQ := fmt.Sprintf(
		`DELETE FROM write_queue WHERE queue_id IN (%s)`, strings.Join(ids, ", "))
	if _, err := conn.ExecContext(ctx, deleteQ); err != nil {
		return rollback(errors.Wrap(err, "clear batch"))
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return rollback(errors.Wrap(err, "commit batch"))
	}
	return len(batch), nil
}

// Metrics snapshots the store's counters.
func (s *EntityStore) Metrics() Metrics {
	return Metrics{
		Started:     float64(s.started.UnixNano()) / float64(time.Second),
		Flushes:     s.flushes.Load(),
		Writes:      s.writes.Load(),
		CacheHits:   s.cacheHits.Load(),
		CacheMisses: s.cacheMisses.Load(),
		QueueDepth:  s.queueDepth.Load(),
	}
}

// Close stops the flush loop, force-drains the queue, and closes the handle
// pool. Safe to call once per Init.
func (s *EntityStore) Close(ctx context.Context) error {
	if !s.running {
		return nil
	}
	s.running = false
	close(s.done)
	s.loopWG.Wait()

	flushErr := s.flush(ctx, true)
	if err := s.db.Close(); err != nil && flushErr == nil {
		flushErr = errors.Wrap(err, "close database")
	}
	return flushErr
}

// prefixColumns qualifies entityColumns with a table alias for joins.
func prefixColumns(alias string) string {
	cols := strings.Split(entityColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// sortEntities orders by index ascending, then iteration descending.
func sortEntities(list []Entity) {
	sort.Slice(list, func(i, j int) bool {
		if *list[i].Index != *list[j].Index {
			return *list[i].Index < *list[j].Index
		}
		return list[i].Iter > list[j].Iter
	})
}
