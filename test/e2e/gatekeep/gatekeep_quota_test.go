package gatekeep_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/stretchr/testify/require"
)

// TestQuotaSharedAcrossInstances checks that two instances on one database
// enforce a single daily quota per identity.
func TestQuotaSharedAcrossInstances(t *testing.T) {
	c := setupCluster(t)
	a := c.start(t)
	b := c.start(t)
	ctx := t.Context()

	clients := []*gatekeepsdk.Client{
		a.as(t, c, "free@gatekeep.test", "free"),
		b.as(t, c, "free@gatekeep.test", "free"),
	}

	var recorded, refused atomic.Int32
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(client *gatekeepsdk.Client) {
			defer wg.Done()
			res, err := client.RecordArrangement(ctx, []string{"a", "b", "c"}, []string{"c", "b", "a"})
			switch {
			case err == nil && res.Recorded:
				recorded.Add(1)
			case err != nil:
				require.ErrorIs(t, err, gatekeepsdk.ErrQuotaExceeded)
				refused.Add(1)
			}
		}(clients[i%2])
	}
	wg.Wait()

	require.EqualValues(t, 10, recorded.Load())
	require.EqualValues(t, 6, refused.Load())

	for _, client := range clients {
		usage, err := client.GetUsage(ctx)
		require.NoError(t, err)
		require.Equal(t, 10, usage.Used)
		require.Zero(t, usage.Remaining)
	}
}

// TestPurchaseVisibleOnOtherInstance buys premium on one instance and uses
// it on another.
func TestPurchaseVisibleOnOtherInstance(t *testing.T) {
	c := setupCluster(t)
	a := c.start(t)
	b := c.start(t)
	ctx := t.Context()

	res, err := a.as(t, c, "buyer@gatekeep.test", "free").Purchase(ctx, "lifetime")
	require.NoError(t, err)
	require.Equal(t, "premium", res.Role)

	sess, err := b.as(t, c, "buyer@gatekeep.test", "free").GetSession(ctx)
	require.NoError(t, err)
	require.Equal(t, "premium", sess.Role.Name)
	require.True(t, sess.Usage.Unlimited)
}
