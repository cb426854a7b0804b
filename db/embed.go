// Package db embeds the database schema applied at startup.
package db

import _ "embed"

// Schema contains the DDL for the settlement engine tables: sessions,
// customers, promo codes, orders, payments, registrations, the usage
// ledger, and API keys.
//
//go:embed migrations/001_schema.sql
var Schema string
