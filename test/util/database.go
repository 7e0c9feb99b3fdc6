// Package util provides test utilities and helper functions for database testing.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/AutonomosCdM/vigia-sub003/internal/config"
)

var (
	sharedDSN     string
	containerOnce sync.Once
	containerErr  error
)

// NewTestStoreConfig provisions an isolated Postgres database for one test —
// a fresh CREATE DATABASE against a shared testcontainer in local dev, or
// against CI_DATABASE_URL's server in CI — and returns a config.StoreConfig
// pointed at it. The caller passes the result to hospitalstore.Open or
// processingstore.Open, which apply their own embedded migrations; this
// helper only owns provisioning and teardown of the database itself.
func NewTestStoreConfig(t *testing.T) config.StoreConfig {
	t.Helper()
	ctx := context.Background()

	base := baseDSN(t)
	admin, err := stdsql.Open("pgx", base)
	require.NoError(t, err)
	defer admin.Close()

	dbName := generateDatabaseName(t)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName))
	require.NoError(t, err, "creating test database %s", dbName)

	t.Cleanup(func() {
		// Terminate lingering connections before dropping, since a store's
		// own *sql.DB may still be open when cleanup runs.
		_, _ = admin.ExecContext(context.Background(),
			fmt.Sprintf(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()`, dbName))
		_, err := admin.ExecContext(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
		if err != nil {
			t.Logf("warning: failed to drop test database %s: %v", dbName, err)
		}
	})

	u, err := url.Parse(base)
	require.NoError(t, err)
	host := u.Hostname()
	port := 5432
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	user := "test"
	password := "test"
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}

	return config.StoreConfig{
		Host:            host,
		Port:            port,
		User:            user,
		Password:        password,
		Database:        dbName,
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// baseDSN returns a connection string to the shared Postgres server used for
// provisioning per-test databases: CI_DATABASE_URL in CI, or a shared
// testcontainer started once per package in local dev.
func baseDSN(t *testing.T) string {
	t.Helper()
	if ci := os.Getenv("CI_DATABASE_URL"); ci != "" {
		return ci
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("starting postgres testcontainer: %w", err)
			return
		}
		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("resolving testcontainer connection string: %w", err)
			return
		}
		sharedDSN = connStr
	})

	require.NoError(t, containerErr, "failed to start shared postgres testcontainer")
	return sharedDSN
}

// generateDatabaseName returns a unique, Postgres-safe database name derived
// from the test name plus a random suffix, so parallel tests never collide.
func generateDatabaseName(t *testing.T) string {
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}

	suffix := make([]byte, 4)
	_, err := rand.Read(suffix)
	require.NoError(t, err)

	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(suffix))
}
