// Package migrations embeds the SQL schema applied at boot.
package migrations

import _ "embed"

// Schema holds the idempotent DDL for the files and quotas tables.
//
//go:embed 001_init.sql
var Schema string
