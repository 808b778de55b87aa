// Package migrations embeds the goose schema migrations applied by
// cmd/jobmon-migrate, so the binary ships as a single static artifact
// instead of depending on a SQL directory living next to it at runtime.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
