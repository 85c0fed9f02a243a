//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/repostats/pkg/window"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway PostgreSQL container and returns a store
// connected to it. The test is skipped when no container runtime is available.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("repostats_test"),
		postgres.WithUsername("repostats"),
		postgres.WithPassword("repostats_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	store, err := Open(Config{Driver: DriverPostgres, DSN: connStr, MaxConns: 4}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestPostgresLifecycle(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTables(ctx))
	existing, err := store.ExistingTables(ctx)
	require.NoError(t, err)
	assert.Len(t, existing, 4)

	community := uuid.NewString()
	collection := uuid.NewString()

	_, err = store.Register(ctx, Record{Kind: KindCommunity, ID: community, Name: "Physics", URL: "https://repo/communities/" + community})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = store.Register(ctx, Record{Kind: KindCollection, ID: collection, Name: "Theses", URL: "u", ParentName: "Physics"})
		require.NoError(t, err)
	}

	n, err := store.SetCounters(ctx, KindCollection, MetricItems, window.Month, map[string]int{collection: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := store.List(ctx, KindCollection)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0].ItemsLastMonth)
	assert.Equal(t, "Physics", rows[0].ParentName)

	require.NoError(t, store.DropTables(ctx))
	existing, err = store.ExistingTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, existing)
}
