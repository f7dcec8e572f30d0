package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/deneee3444-wq/api/internal/api/response"
	"github.com/deneee3444-wq/api/pkg/models"
	"golang.org/x/crypto/blake2b"
)

// KeyPrefixLen is the length of the key prefix kept for display; shorter keys
// are rejected.
const KeyPrefixLen = 8

// AdminKeyHeader carries the operator key on admin routes.
const AdminKeyHeader = "X-Admin-Key"

// TenantStore resolves API key fingerprints to tenants.
type TenantStore interface {
	GetOrCreateTenant(ctx context.Context, keyHash, keyPrefix string) (*models.Tenant, error)
}

// Auth provides caller authentication and the admin gate.
type Auth struct {
	store    TenantStore
	adminKey string
}

// NewAuth creates a new Auth middleware.
func NewAuth(s TenantStore, adminKey string) *Auth {
	return &Auth{store: s, adminKey: adminKey}
}

// HashKey returns the hex BLAKE2b-256 fingerprint of an API key.
func HashKey(rawKey string) string {
	sum := blake2b.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// Authenticate treats the bearer token as the caller identity. The tenant
// for its fingerprint is created on first use, and tenant_id and key_prefix
// are set in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < KeyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:KeyPrefixLen]
		tenant, err := a.store.GetOrCreateTenant(r.Context(), HashKey(rawKey), prefix)
		if err != nil {
			slog.Error("resolving tenant", "key_prefix", prefix, "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		ctx := SetTenantID(r.Context(), tenant.ID)
		ctx = setKeyPrefix(ctx, prefix)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects requests whose X-Admin-Key header does not match the
// configured admin key.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AdminKeyHeader)
		if got == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing "+AdminKeyHeader+" header", nil)
			return
		}
		if a.adminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.adminKey)) != 1 {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
