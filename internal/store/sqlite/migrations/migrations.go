// Package migrations embeds the SQLite schema for the local gateway.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
