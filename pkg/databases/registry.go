package databases

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"octogrid/pkg/zonetables"
)

// ErrInvalidZone marks a request addressing a zone with no configured store.
var ErrInvalidZone = errors.New("invalid zone")

// Registry owns one EntityStore per configured zone. Zone membership is
// fixed at construction; Lookup never creates stores.
type Registry struct {
	zones map[int]*EntityStore
}

// NewRegistry builds a store per zone under dir, named zone<N>.sqlite.
func NewRegistry(dir string, cfg Config, logger *log.Logger) *Registry {
	zones := make(map[int]*EntityStore, len(zonetables.ZoneIntegers))
	for _, z := range zonetables.ZoneIntegers {
		path := filepath.Join(dir, fmt.Sprintf("zone%d.sqlite", z))
		zones[z] = NewEntityStore(path, cfg, logger)
	}
	return &Registry{zones: zones}
}

// Lookup resolves a zone id to its store.
func (r *Registry) Lookup(zone int) (*EntityStore, error) {
	s, ok := r.zones[zone]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidZone, "zone %d", zone)
	}
	return s, nil
}

// Zones lists the configured zone ids in ascending order.
func (r *Registry) Zones() []int {
	out := make([]int, 0, len(r.zones))
	for z := range r.zones {
		out = append(out, z)
	}
	sort.Ints(out)
	return out
}

// InitAll opens every zone store in parallel. Any failure aborts startup.
func (r *Registry) InitAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for z, store := range r.zones {
		z, store := z, store
		g.Go(func() error {
			if err := store.Init(ctx); err != nil {
				return errors.Wrapf(err, "init zone %d", z)
			}
			return nil
		})
	}
	return g.Wait()
}

// CloseAll drains and closes every zone store in parallel.
func (r *Registry) CloseAll(ctx context.Context) error {
	g := new(errgroup.Group)
	for z, store := range r.zones {
		z, store := z, store
		g.Go(func() error {
			if err := store.Close(ctx); err != nil {
				return errors.Wrapf(err, "close zone %d", z)
			}
			return nil
		})
	}
	return g.Wait()
}

// MetricsAll snapshots every zone's counters, keyed by zone id.
func (r *Registry) MetricsAll() map[int]Metrics {
	out := make(map[int]Metrics, len(r.zones))
	for z, store := range r.zones {
		out[z] = store.Metrics()
	}
	return out
}
