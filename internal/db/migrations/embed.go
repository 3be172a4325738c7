// Package migrations holds the schema for each supported database.
package migrations

import "embed"

// FS contains one directory of golang-migrate files per driver.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
