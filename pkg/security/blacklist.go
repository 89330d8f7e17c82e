package security

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
)

// blacklistFlushEvery is how many additions may accumulate before the file
// is rewritten.
const blacklistFlushEvery = 100

// BlacklistEntry records one banned principal.
type BlacklistEntry struct {
	User    string `json:"user"`
	AddedAt int64  `json:"added_at"`
}

// Blacklist is a persistent set of banned principal ids. Membership checks
// use the "user:"-prefixed form that appears inside token data parts.
// Additions are buffered and flushed to disk every blacklistFlushEvery
// entries, on Flush, and on termination signals.
type Blacklist struct {
	path string

	mu     sync.RWMutex
	cache  map[string]BlacklistEntry
	banned map[string]struct{}
	dirty  int
}

// NewBlacklist loads the blacklist at path. A missing or corrupt file yields
// an empty list.
func NewBlacklist(path string) *Blacklist {
	b := &Blacklist{
		path:   path,
		cache:  make(map[string]BlacklistEntry),
		banned: make(map[string]struct{}),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return b
	}
	var stored map[string]BlacklistEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return b
	}
	for id, entry := range stored {
		b.cache[id] = entry
		b.banned["user:"+id] = struct{}{}
	}
	return b
}

// Add bans a principal id. The write is buffered; every
// blacklistFlushEvery additions force a flush.
func (b *Blacklist) Add(id string) error {
	b.mu.Lock()
	b.cache[id] = BlacklistEntry{User: id, AddedAt: time.Now().Unix()}
	b.banned["user:"+id] = struct{}{}
	b.dirty++
	flushNow := b.dirty >= blacklistFlushEvery
	b.mu.Unlock()

	if flushNow {
		return b.Flush()
	}
	return nil
}

// IsBanned reports whether a "user:"-prefixed token part is banned.
func (b *Blacklist) IsBanned(part string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.banned[part]
	return ok
}

// AnyBanned reports whether any token data part is banned.
func (b *Blacklist) AnyBanned(parts []string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, part := range parts {
		if _, ok := b.banned[part]; ok {
			return true
		}
	}
	return false
}

// Flush rewrites the backing file atomically. No-op while empty.
func (b *Blacklist) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.cache) == 0 {
		return nil
	}
	blob, err := json.MarshalIndent(b.cache, "", "    ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(b.path, strings.NewReader(string(blob))); err != nil {
		return err
	}
	b.dirty = 0
	return nil
}

// HandleSignals flushes on SIGINT/SIGTERM and then exits. Call once from the
// owning process's main goroutine setup.
func (b *Blacklist) HandleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		_ = b.Flush()
		os.Exit(0)
	}()
}
