package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	CredentialAvailable = "available"
	CredentialClaimed   = "claimed"
)

// Credential is a single-holder identity used to authenticate against the
// generation provider. (TenantID, Identifier) is unique.
// Secret holds the sealed form while in the store and the plain form once
// opened by the pool.
type Credential struct {
	TenantID   uuid.UUID `db:"tenant_id"  json:"-"`
	Identifier string    `db:"identifier" json:"identifier"`
	Secret     string    `db:"secret"     json:"-"`
	State      string    `db:"state"      json:"state"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Claimed reports whether the credential is currently held by a job.
func (c *Credential) Claimed() bool {
	return c.State == CredentialClaimed
}
