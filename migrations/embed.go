// Package migrations holds the SQL schema shared by the Postgres and SQLite
// backends. Files follow the golang-migrate naming scheme.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
