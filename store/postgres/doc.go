// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: single-statement ON CONFLICT idempotency claims, JSONB
// failure history, embedded SQL migrations.
package postgres
