package databases

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"octogrid/pkg/zonetables"
)

func TestRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(t.TempDir(), testConfig(), nil)

	require.Equal(t, zonetables.ZoneIntegers, r.Zones())
	require.NoError(t, r.InitAll(ctx))

	store, err := r.Lookup(0)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, testEntity(1, 0, 0, 0)))

	metrics := r.MetricsAll()
	require.Len(t, metrics, len(zonetables.ZoneIntegers))
	require.Equal(t, int64(1), metrics[0].Writes)

	require.NoError(t, r.CloseAll(ctx))
}

func TestRegistryRejectsUnknownZone(t *testing.T) {
	r := NewRegistry(t.TempDir(), testConfig(), nil)
	_, err := r.Lookup(999)
	require.True(t, errors.Is(err, ErrInvalidZone))
	_, err = r.Lookup(-1)
	require.True(t, errors.Is(err, ErrInvalidZone))
}
