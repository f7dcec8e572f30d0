// Package models contains shared data models used across the genrelay codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolation boundary for one caller identity. Every credential and
// job belongs to exactly one tenant. Tenants are created on first use of an API
// key and are never deleted automatically.
type Tenant struct {
	ID        uuid.UUID `db:"id"          json:"id"`
	KeyHash   string    `db:"key_hash"    json:"-"`
	KeyPrefix string    `db:"key_prefix"  json:"key_prefix"`
	CreatedAt time.Time `db:"created_at"  json:"created_at"`
}
