// Package migrations embeds and applies the SQL schemas of the ledger stores.
package migrations

import "embed"

// PostgresFS embeds the ledger state and journal schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the event archive schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
