package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a ClickHouse container and returns a connection.
// Returns a cleanup function that must be called when done.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	// Start ClickHouse container
	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_DB":       "test",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	// Get native port (9000)
	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port())

	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err)

	runMigrations(t, conn)

	cleanup := func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}

	return conn, cleanup
}

// runMigrations applies the archive schema from the migrations directory,
// falling back to an inline copy when the file cannot be found.
func runMigrations(t *testing.T, conn *Conn) {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(findProjectRoot(), "internal", "storage", "migrations", "clickhouse", "001_ledger_events.sql")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Logf("Could not read migration %s: %v, using inline schema", path, err)
		content = []byte(inlineSchema)
	}

	stmt := strings.TrimSuffix(strings.TrimSpace(string(content)), ";")
	require.NoError(t, conn.Exec(ctx, stmt), "failed to apply archive schema")
}

// findProjectRoot walks up from the working directory to the one holding go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}

const inlineSchema = `
	CREATE TABLE IF NOT EXISTS ledger_events (
		seq             UInt64,
		event_id        String,
		kind            LowCardinality(String),
		actor           String,
		timestamp_ms    Int64,
		from_address    String,
		to_address      String,
		amount          UInt256,
		tax             UInt256,
		net             UInt256,
		classification  LowCardinality(String),
		disposition     LowCardinality(String),
		fee_recipient   String,
		total_supply    UInt256,
		archived_at     DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree(archived_at)
	ORDER BY seq
	SETTINGS index_granularity = 8192
`
