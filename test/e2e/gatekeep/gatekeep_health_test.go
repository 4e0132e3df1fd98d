package gatekeep_test

import (
	"testing"

	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/stretchr/testify/require"
)

// TestHealthEndpoints verifies both probes against a postgres backed instance.
func TestHealthEndpoints(t *testing.T) {
	c := setupCluster(t)
	svc := c.start(t)
	client := gatekeepsdk.NewClient(svc.url)

	health, err := client.GetLiveness(t.Context())
	assertHealthy(t, health, err)

	health, err = client.GetReadiness(t.Context())
	assertHealthy(t, health, err)
	require.Equal(t, "ok", health.Checks.Database)
	require.Equal(t, "ok", health.Checks.Identity)
}
