// Package migrations embeds the SQL migration files so the migrate binary
// ships them without filesystem dependencies.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
