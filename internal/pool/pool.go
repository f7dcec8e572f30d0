// Package pool hands out single-holder provider credentials per tenant.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deneee3444-wq/api/internal/store"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/google/uuid"
)

var ErrInvalidAccount = errors.New("account must be formatted as identifier:secret")

// Pool is the credential pool. Claim and release are delegated to the store's
// atomic primitives; the pool adds secret sealing and bulk parsing on top.
type Pool struct {
	store  store.Store
	sealer *Sealer
}

func New(s store.Store, sealer *Sealer) *Pool {
	return &Pool{store: s, sealer: sealer}
}

// Claim marks one available credential of the tenant as claimed and returns it
// with its secret opened. ok is false when none is available.
// A credential whose secret cannot be opened is released again and the error
// wraps ErrUnsealable.
func (p *Pool) Claim(ctx context.Context, tenantID uuid.UUID) (*models.Credential, bool, error) {
	cred, ok, err := p.store.ClaimCredential(ctx, tenantID)
	if err != nil || !ok {
		return nil, false, err
	}

	secret, err := p.sealer.Open(cred.Secret)
	if err != nil {
		if relErr := p.Release(ctx, tenantID, cred.Identifier); relErr != nil {
			slog.Error("release unsealable credential", "identifier", cred.Identifier, "error", relErr)
		}
		return nil, false, fmt.Errorf("credential %s: %w", cred.Identifier, err)
	}
	cred.Secret = secret
	return cred, true, nil
}

// Release returns the credential to the available state. Releasing an
// available or deleted credential is a no-op.
func (p *Pool) Release(ctx context.Context, tenantID uuid.UUID, identifier string) error {
	return p.store.ReleaseCredential(ctx, tenantID, identifier)
}

func (p *Pool) CountAvailable(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return p.store.CountAvailableCredentials(ctx, tenantID)
}

// Add stores a new credential. It returns false without error when the
// identifier already exists for the tenant.
func (p *Pool) Add(ctx context.Context, tenantID uuid.UUID, identifier, secret string) (bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return false, ErrInvalidAccount
	}

	sealed, err := p.sealer.Seal(secret)
	if err != nil {
		return false, err
	}

	err = p.store.InsertCredential(ctx, &models.Credential{
		TenantID:   tenantID,
		Identifier: identifier,
		Secret:     sealed,
		State:      models.CredentialAvailable,
		CreatedAt:  time.Now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddResult summarises a bulk add.
type AddResult struct {
	Added   []string `json:"added"`
	Skipped []string `json:"skipped"`
	Invalid []string `json:"invalid"`
}

// AddAccounts adds each "identifier:secret" line. Blank lines are ignored,
// malformed lines are reported as invalid and duplicates as skipped.
func (p *Pool) AddAccounts(ctx context.Context, tenantID uuid.UUID, accounts []string) (*AddResult, error) {
	res := &AddResult{Added: []string{}, Skipped: []string{}, Invalid: []string{}}
	for _, line := range accounts {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		identifier, secret, err := ParseAccount(line)
		if err != nil {
			res.Invalid = append(res.Invalid, line)
			continue
		}
		added, err := p.Add(ctx, tenantID, identifier, secret)
		if err != nil {
			return res, fmt.Errorf("add %s: %w", identifier, err)
		}
		if added {
			res.Added = append(res.Added, identifier)
		} else {
			res.Skipped = append(res.Skipped, identifier)
		}
	}
	return res, nil
}

// Remove deletes the credential. It returns false if it did not exist.
func (p *Pool) Remove(ctx context.Context, tenantID uuid.UUID, identifier string) (bool, error) {
	err := p.store.DeleteCredential(ctx, tenantID, identifier)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns the tenant's credentials with secrets stripped.
func (p *Pool) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Credential, error) {
	creds, err := p.store.ListCredentials(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, c := range creds {
		c.Secret = ""
	}
	return creds, nil
}

// Reset forces every claimed credential back to available, for one tenant or
// for all tenants when tenantID is nil.
func (p *Pool) Reset(ctx context.Context, tenantID *uuid.UUID) (int64, error) {
	return p.store.ResetCredentials(ctx, tenantID)
}

// ParseAccount splits "identifier:secret" on the first colon.
func ParseAccount(line string) (identifier, secret string, err error) {
	identifier, secret, found := strings.Cut(strings.TrimSpace(line), ":")
	identifier = strings.TrimSpace(identifier)
	if !found || identifier == "" || secret == "" {
		return "", "", ErrInvalidAccount
	}
	return identifier, secret, nil
}
