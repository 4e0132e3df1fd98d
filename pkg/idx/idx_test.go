package idx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestNewIsAValidULID(t *testing.T) {
	id := idx.New()
	_, err := ulid.ParseStrict(id.String())
	require.NoError(t, err)
}

func TestNewAtEmbedsTime(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	u, err := ulid.ParseStrict(idx.NewAt(tm).String())
	require.NoError(t, err)
	require.Equal(t, tm, ulid.Time(u.Time()).UTC())
}

func TestOrdering(t *testing.T) {
	a := idx.NewAt(time.Unix(1, 0).UTC())
	b := idx.NewAt(time.Unix(2, 0).UTC())
	require.Less(t, a.String(), b.String())
}

func TestOrderingWithinSameMillisecond(t *testing.T) {
	tm := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	prev := idx.NewAt(tm)
	for range 100 {
		next := idx.NewAt(tm)
		require.Less(t, prev.String(), next.String())
		prev = next
	}
}
