package gatekeep_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/app"
	"github.com/aussiebroadwan/gatekeep/internal/access/identity"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * End-to-end helpers. Every test gets its own postgres container and can
 * start several service instances against it, the way gatekeep runs behind
 * a load balancer.
 */

const superAdmin = "root@gatekeep.test"

// cluster is a postgres database shared by one or more service instances.
type cluster struct {
	cfg app.Config
	idp *identity.JWTProvider
}

// instance is one running service.
type instance struct {
	app *app.Application
	url string
}

// setupCluster starts postgres and prepares a config every instance shares.
func setupCluster(t *testing.T) *cluster {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "gatekeep",
			"POSTGRES_PASSWORD": "gatekeep",
			"POSTGRES_DB":       "gatekeep",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := app.DefaultConfig()
	cfg.Env = "test"
	cfg.LogLevel = "error"
	cfg.DatabaseDriver = "postgres"
	cfg.DatabaseURL = fmt.Sprintf("postgres://gatekeep:gatekeep@%s:%s/gatekeep?sslmode=disable", host, port.Port())
	cfg.IdentityMode = "dev"
	cfg.DevKeyFile = filepath.Join(t.TempDir(), "dev.pem")
	cfg.SuperAdmin = superAdmin
	cfg.AdminActionsPerMinute = 1000
	require.NoError(t, cfg.Validate())

	idp, err := app.InitIdentity(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return &cluster{cfg: cfg, idp: idp}
}

// start runs a new service instance against the cluster's database.
func (c *cluster) start(t *testing.T) *instance {
	t.Helper()

	application, err := app.New(c.cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)

	return &instance{app: application, url: srv.URL}
}

// as returns a client for identity with the given role claim.
func (i *instance) as(t *testing.T, c *cluster, id, role string) *gatekeepsdk.Client {
	t.Helper()
	token, err := c.idp.Mint(id, "", role, 10*time.Minute)
	require.NoError(t, err)
	return gatekeepsdk.NewClient(i.url).WithToken(token)
}

// assertHealthy checks a health response.
func assertHealthy(t *testing.T, health *gatekeepsdk.HealthResponse, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, health)
	require.Equal(t, "ok", health.Status)
	require.NotEmpty(t, health.Version)
}
