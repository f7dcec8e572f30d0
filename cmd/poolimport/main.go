// Command poolimport bulk-loads provider credentials from a YAML file into a
// tenant's pool. It reads the same environment as the server.
//
// Usage:
//
//	poolimport -file accounts.yaml [-tenant-key KEY | -tenant-id UUID] [-dry-run]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mw "github.com/deneee3444-wq/api/internal/api/middleware"
	"github.com/deneee3444-wq/api/internal/config"
	"github.com/deneee3444-wq/api/internal/pool"
	"github.com/deneee3444-wq/api/internal/store"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/google/uuid"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := run(os.Args[1:]); err != nil {
		slog.Error("import failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("poolimport", flag.ContinueOnError)
	file := fs.String("file", "", "YAML file with tenant and accounts")
	tenantKey := fs.String("tenant-key", "", "API key of the tenant to load into (overrides tenant_key)")
	tenantID := fs.String("tenant-id", "", "id of an existing tenant (overrides tenant_id)")
	dryRun := fs.Bool("dry-run", false, "parse and report without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	plan, err := parseImportFile(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parse %s: %w", *file, err)
	}
	if err := plan.resolveTenant(*tenantKey, *tenantID); err != nil {
		return err
	}

	if *dryRun {
		slog.Info("dry run", "accounts", len(plan.accounts), "tenant_id", plan.tenantID, "by_key", plan.tenantKey != "")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	s := store.NewPostgresStore(db)
	p := pool.New(s, pool.NewSealer(cfg.Auth.SealKey))

	res, err := importAccounts(ctx, s, p, plan)
	if err != nil {
		return err
	}
	slog.Info("import complete",
		"added", len(res.Added), "skipped", len(res.Skipped), "invalid", len(res.Invalid))
	for _, line := range res.Invalid {
		slog.Warn("invalid account entry", "entry", line)
	}
	return nil
}

// tenantResolver is the part of the store used to find the target tenant.
type tenantResolver interface {
	GetOrCreateTenant(ctx context.Context, keyHash, keyPrefix string) (*models.Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// accountAdder is the part of the pool used to load accounts.
type accountAdder interface {
	Add(ctx context.Context, tenantID uuid.UUID, identifier, secret string) (bool, error)
	AddAccounts(ctx context.Context, tenantID uuid.UUID, accounts []string) (*pool.AddResult, error)
}

func importAccounts(ctx context.Context, tenants tenantResolver, p accountAdder, plan *importPlan) (*pool.AddResult, error) {
	tenant, err := lookupTenant(ctx, tenants, plan)
	if err != nil {
		return nil, err
	}

	var lines []string
	var structured []account
	for _, a := range plan.accounts {
		if a.structured() {
			structured = append(structured, a)
		} else {
			lines = append(lines, a.line)
		}
	}

	res, err := p.AddAccounts(ctx, tenant.ID, lines)
	if err != nil {
		return nil, fmt.Errorf("add accounts: %w", err)
	}
	for _, a := range structured {
		added, err := p.Add(ctx, tenant.ID, a.identifier, a.secret)
		switch {
		case errors.Is(err, pool.ErrInvalidAccount):
			res.Invalid = append(res.Invalid, a.identifier)
		case err != nil:
			return nil, fmt.Errorf("add %s: %w", a.identifier, err)
		case added:
			res.Added = append(res.Added, a.identifier)
		default:
			res.Skipped = append(res.Skipped, a.identifier)
		}
	}
	return res, nil
}

func lookupTenant(ctx context.Context, tenants tenantResolver, plan *importPlan) (*models.Tenant, error) {
	if plan.tenantKey != "" {
		if len(plan.tenantKey) < mw.KeyPrefixLen {
			return nil, errors.New("tenant key is too short")
		}
		t, err := tenants.GetOrCreateTenant(ctx, mw.HashKey(plan.tenantKey), plan.tenantKey[:mw.KeyPrefixLen])
		if err != nil {
			return nil, fmt.Errorf("resolve tenant by key: %w", err)
		}
		return t, nil
	}
	t, err := tenants.GetTenant(ctx, plan.tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("tenant %s does not exist", plan.tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tenant by id: %w", err)
	}
	return t, nil
}
