// Package stores persists apply runs and dispatch history in SQLite.
// The schema is managed with embedded golang-migrate migrations.
package stores
