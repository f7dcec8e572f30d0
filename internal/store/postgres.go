package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

// GetOrCreateTenant returns the tenant owning keyHash, creating it on first use.
func (s *PostgresStore) GetOrCreateTenant(ctx context.Context, keyHash, keyPrefix string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, key_hash, key_prefix, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (key_hash) DO UPDATE SET key_hash = EXCLUDED.key_hash
		 RETURNING id, key_hash, key_prefix, created_at`,
		uuid.New(), keyHash, keyPrefix,
	).Scan(&t.ID, &t.KeyHash, &t.KeyPrefix, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, key_hash, key_prefix, created_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.KeyHash, &t.KeyPrefix, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

// DeleteTenant removes the tenant together with its credentials and jobs.
func (s *PostgresStore) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := deleteTenantRows(ctx, tx, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete tenant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- Credentials ---

func (s *PostgresStore) InsertCredential(ctx context.Context, cred *models.Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (tenant_id, identifier, secret, state, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		cred.TenantID, cred.Identifier, cred.Secret, models.CredentialAvailable, cred.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCredential(ctx context.Context, tenantID uuid.UUID, identifier string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM credentials WHERE tenant_id = $1 AND identifier = $2`, tenantID, identifier)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListCredentials(ctx context.Context, tenantID uuid.UUID) ([]*models.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, identifier, secret, state, created_at
		 FROM credentials WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.TenantID, &c.Identifier, &c.Secret, &c.State, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, &c)
	}
	return creds, rows.Err()
}

// ClaimCredential atomically moves one available credential of the tenant to
// claimed. Rows locked by a concurrent claim are skipped, so two callers never
// receive the same credential. The least recently claimed row wins.
func (s *PostgresStore) ClaimCredential(ctx context.Context, tenantID uuid.UUID) (*models.Credential, bool, error) {
	var c models.Credential
	err := s.pool.QueryRow(ctx,
		`WITH next AS (
		   SELECT id FROM credentials
		   WHERE tenant_id = $1 AND state = 'available'
		   ORDER BY last_claimed_at NULLS FIRST, id
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 UPDATE credentials c
		 SET state = 'claimed', last_claimed_at = NOW()
		 FROM next
		 WHERE c.id = next.id
		 RETURNING c.tenant_id, c.identifier, c.secret, c.state, c.created_at`, tenantID,
	).Scan(&c.TenantID, &c.Identifier, &c.Secret, &c.State, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim credential: %w", err)
	}
	return &c, true, nil
}

// ReleaseCredential marks the credential available. Releasing an available or
// deleted credential is a no-op.
func (s *PostgresStore) ReleaseCredential(ctx context.Context, tenantID uuid.UUID, identifier string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE credentials SET state = 'available'
		 WHERE tenant_id = $1 AND identifier = $2 AND state = 'claimed'`, tenantID, identifier)
	if err != nil {
		return fmt.Errorf("release credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountAvailableCredentials(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM credentials WHERE tenant_id = $1 AND state = 'available'`, tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available credentials: %w", err)
	}
	return n, nil
}

// ResetCredentials marks every claimed credential available, either for one
// tenant or, with a nil tenantID, globally. It returns the number of rows reset.
func (s *PostgresStore) ResetCredentials(ctx context.Context, tenantID *uuid.UUID) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if tenantID == nil {
		tag, err = s.pool.Exec(ctx, `UPDATE credentials SET state = 'available' WHERE state = 'claimed'`)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE credentials SET state = 'available' WHERE tenant_id = $1 AND state = 'claimed'`, *tenantID)
	}
	if err != nil {
		return 0, fmt.Errorf("reset credentials: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Jobs ---

const jobColumns = `id, tenant_id, kind, status, prompt, correlation_id, auth_token,
	assigned_credential, result_locator, logs, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.TenantID, &j.Kind, &j.Status, &j.Prompt, &j.CorrelationID, &j.AuthToken,
		&j.AssignedCredential, &j.ResultLocator, &j.Logs, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if j.Logs == nil {
		j.Logs = []models.LogEntry{}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()
	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	logs, err := json.Marshal(nonNilLogs(job.Logs))
	if err != nil {
		return fmt.Errorf("encode job logs: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, kind, status, prompt, logs, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.TenantID, job.Kind, job.Status, job.Prompt, logs, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns the tenant's jobs, newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, tenantID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountActiveJobs counts pending and running jobs across all tenants.
func (s *PostgresStore) CountActiveJobs(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'running')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

// releaseJobCredentials makes the credentials recorded on the given jobs
// available. It must run before assigned_credential is cleared.
const releaseJobCredentials = `UPDATE credentials c SET state = 'available'
	 FROM jobs j
	 WHERE j.id = ANY($1) AND c.tenant_id = j.tenant_id
	   AND c.identifier = j.assigned_credential AND c.state = 'claimed'`

// UpdateJobStatus moves the job to status if the state machine allows it.
// A terminal status releases the recorded credential and clears
// assigned_credential in the same transaction.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var currentStatus string
		err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&currentStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job status: %w", err)
		}

		if !CanTransition(currentStatus, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
		}

		query := `UPDATE jobs SET status = $2, updated_at = $3`
		args := []any{id, status, time.Now().UTC()}
		argIdx := 4

		if models.IsTerminalStatus(status) {
			if _, err := tx.Exec(ctx, releaseJobCredentials, []uuid.UUID{id}); err != nil {
				return fmt.Errorf("release job credential: %w", err)
			}
			query += ", assigned_credential = NULL, auth_token = NULL"
		}
		if params.ResultLocator != nil {
			query += fmt.Sprintf(", result_locator = $%d", argIdx)
			args = append(args, *params.ResultLocator)
			argIdx++
		}
		if params.LogMessage != nil {
			entry, err := logEntryJSON(*params.LogMessage)
			if err != nil {
				return err
			}
			query += fmt.Sprintf(", logs = logs || $%d::jsonb", argIdx)
			args = append(args, entry)
		}

		query += " WHERE id = $1"

		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		return nil
	})
}

// AppendJobLog adds one timestamped entry to the job's log trail.
func (s *PostgresStore) AppendJobLog(ctx context.Context, id uuid.UUID, message string) error {
	entry, err := logEntryJSON(message)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET logs = logs || $2::jsonb, updated_at = NOW() WHERE id = $1`, id, entry)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetJobCredential records which credential the job holds. A nil identifier clears it.
func (s *PostgresStore) SetJobCredential(ctx context.Context, id uuid.UUID, identifier *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET assigned_credential = $2, updated_at = NOW() WHERE id = $1`, id, identifier)
	if err != nil {
		return fmt.Errorf("set job credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetJobExternal checkpoints the provider correlation id and the session token
// used to poll it. Once written the job is resumable.
func (s *PostgresStore) SetJobExternal(ctx context.Context, id uuid.UUID, correlationID, authToken string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET correlation_id = $2, auth_token = $3, updated_at = NOW() WHERE id = $1`,
		id, correlationID, authToken)
	if err != nil {
		return fmt.Errorf("set job external: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseJobCredential releases the credential recorded on the job and clears
// the record in one transaction. A job without a recorded credential is left
// unchanged.
func (s *PostgresStore) ReleaseJobCredential(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, releaseJobCredentials, []uuid.UUID{id}); err != nil {
			return fmt.Errorf("release job credential: %w", err)
		}
		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET assigned_credential = NULL, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("clear job credential: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// FailOrphanJobs marks every pending or running job without a correlation id
// as failed and releases the credentials they recorded, in one transaction.
// It returns the affected jobs as they were before the update.
func (s *PostgresStore) FailOrphanJobs(ctx context.Context, message string) ([]*models.Job, error) {
	entry, err := logEntryJSON(message)
	if err != nil {
		return nil, err
	}

	var orphans []*models.Job
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs
			 WHERE status IN ('pending', 'running') AND correlation_id IS NULL
			 ORDER BY created_at
			 FOR UPDATE`)
		if err != nil {
			return fmt.Errorf("select orphan jobs: %w", err)
		}
		orphans, err = collectJobs(rows)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(orphans))
		for i, j := range orphans {
			ids[i] = j.ID
		}
		if _, err := tx.Exec(ctx, releaseJobCredentials, ids); err != nil {
			return fmt.Errorf("release orphan credentials: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE jobs SET status = 'failed', assigned_credential = NULL, auth_token = NULL,
			   logs = logs || $2::jsonb, updated_at = NOW()
			 WHERE id = ANY($1)`, ids, entry)
		if err != nil {
			return fmt.Errorf("fail orphan jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

// ListResumableJobs returns pending or running jobs that carry a correlation id.
func (s *PostgresStore) ListResumableJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ('pending', 'running') AND correlation_id IS NOT NULL
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list resumable jobs: %w", err)
	}
	return collectJobs(rows)
}

// --- Maintenance ---

// DeleteTenantData removes the tenant's jobs and credentials but keeps the tenant.
func (s *PostgresStore) DeleteTenantData(ctx context.Context, tenantID uuid.UUID) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return deleteTenantRows(ctx, tx, tenantID)
	})
}

// DeleteAllData removes every job and credential of every tenant.
func (s *PostgresStore) DeleteAllData(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM jobs`); err != nil {
			return fmt.Errorf("delete jobs: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM credentials`); err != nil {
			return fmt.Errorf("delete credentials: %w", err)
		}
		return nil
	})
}

func deleteTenantRows(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete tenant jobs: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM credentials WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete tenant credentials: %w", err)
	}
	return nil
}

func logEntryJSON(message string) ([]byte, error) {
	b, err := json.Marshal([]models.LogEntry{{Time: time.Now().UTC(), Message: message}})
	if err != nil {
		return nil, fmt.Errorf("encode log entry: %w", err)
	}
	return b, nil
}

func nonNilLogs(logs []models.LogEntry) []models.LogEntry {
	if logs == nil {
		return []models.LogEntry{}
	}
	return logs
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
