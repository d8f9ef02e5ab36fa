package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

// Postgres is the production backend. Versions, trackers, and the
// per-endpoint schedule live in three tables; Claim and Commit each run
// in a single transaction, which is what gives the synchronizer its
// mutual-exclusion and all-or-nothing guarantees.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) GetLive(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, asOf time.Time, key model.Key) (*model.Version, error) {
	query := `SELECT id, account_id, endpoint, key, payload, life_start, life_end
	          FROM entity_versions
	          WHERE account_id = $1 AND endpoint = $2 AND key = $3
	            AND life_start <= $4 AND (life_end IS NULL OR life_end > $4)`

	v, err := scanVersion(p.pool.QueryRow(ctx, query, accountID, ep, key, asOf))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live version: %w", err)
	}
	return v, nil
}

func (p *Postgres) QueryLive(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, asOf time.Time, after model.Key, limit int) ([]*model.Version, error) {
	query := `SELECT id, account_id, endpoint, key, payload, life_start, life_end
	          FROM entity_versions
	          WHERE account_id = $1 AND endpoint = $2 AND key > $3
	            AND life_start <= $4 AND (life_end IS NULL OR life_end > $4)
	          ORDER BY key ASC
	          LIMIT $5`

	rows, err := p.pool.Query(ctx, query, accountID, ep, after, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query live versions: %w", err)
	}
	defer rows.Close()

	var page []*model.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		page = append(page, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return page, nil
}

// Claim atomically performs the pre-check and records a new in-flight
// tracker. Concurrent claims for the same (account, endpoint) serialize
// on a transaction-scoped advisory lock: row locks alone cannot do this,
// since with no prior tracker there is no row to lock, and a blocked
// claim would re-run its read against a statement snapshot that predates
// the winner's insert. The loser enters the critical section after the
// winner commits, sees the in-flight row, and yields. force skips the
// schedule gate but never the mutex.
func (p *Postgres) Claim(ctx context.Context, accountID uuid.UUID, ep model.Endpoint, now time.Time, staleAfter time.Duration, force bool) (*model.Tracker, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	// Held until commit or rollback. A hash collision between two
	// distinct (account, endpoint) pairs only over-serializes.
	_, err = tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1::text), hashtext($2::text))`,
		accountID, ep,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock claim: %w", err)
	}

	var (
		lastID      uuid.UUID
		lastState   model.TrackerState
		lastContext *string
		startedAt   time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT id, state, next_sync_context, started_at FROM sync_trackers
		 WHERE account_id = $1 AND endpoint = $2
		 ORDER BY started_at DESC LIMIT 1`,
		accountID, ep,
	).Scan(&lastID, &lastState, &lastContext, &startedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to load latest tracker: %w", err)
	}
	if err == nil && !lastState.Terminal() {
		if now.Sub(startedAt) <= staleAfter {
			return nil, false, nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE sync_trackers SET state = $1, detail = $2, finished_at = $3 WHERE id = $4`,
			model.TrackerSyncError, "reclaimed: attempt exceeded stale age", now, lastID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to reclaim stale tracker: %w", err)
		}
	}

	if !force {
		var expiresAt time.Time
		err = tx.QueryRow(ctx,
			`SELECT expires_at FROM sync_schedule WHERE account_id = $1 AND endpoint = $2`,
			accountID, ep,
		).Scan(&expiresAt)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("failed to load schedule: %w", err)
		}
		if err == nil && expiresAt.After(now) {
			return nil, false, nil
		}
	}

	t := &model.Tracker{
		ID:        uuid.New(),
		AccountID: accountID,
		Endpoint:  ep,
		State:     model.TrackerNotProcessed,
		StartedAt: now,
	}
	if lastContext != nil {
		t.NextSyncContext = *lastContext
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO sync_trackers (id, account_id, endpoint, state, next_sync_context, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.AccountID, t.Endpoint, t.State, t.NextSyncContext, t.StartedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert tracker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit claim: %w", err)
	}
	return t, true, nil
}

// Commit applies a Finish in one transaction: tracker transition,
// schedule advance, and all entity writes.
func (p *Postgres) Commit(ctx context.Context, fin Finish) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	t := fin.Tracker
	tag, err := tx.Exec(ctx,
		`UPDATE sync_trackers
		 SET state = $1, detail = $2, next_sync_context = $3, finished_at = $4
		 WHERE id = $5`,
		t.State, t.Detail, t.NextSyncContext, t.FinishedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish tracker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish tracker %s: %w", t.ID, ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO sync_schedule (account_id, endpoint, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, endpoint) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		t.AccountID, t.Endpoint, fin.Expiry,
	)
	if err != nil {
		return fmt.Errorf("failed to advance schedule: %w", err)
	}

	for _, cl := range fin.Changes.Closes {
		tag, err := tx.Exec(ctx,
			`UPDATE entity_versions SET life_end = $1 WHERE id = $2 AND life_end IS NULL`,
			cl.At, cl.VersionID,
		)
		if err != nil {
			return fmt.Errorf("failed to close version %s: %w", cl.VersionID, err)
		}
		if tag.RowsAffected() == 0 {
			// Already closed or missing: the reconcile ran against a stale
			// snapshot, which the claim guard is supposed to prevent.
			return fmt.Errorf("close version %s: %w", cl.VersionID, ErrEvolveClosed)
		}
	}
	for _, ins := range fin.Changes.Inserts {
		_, err := tx.Exec(ctx,
			`INSERT INTO entity_versions (id, account_id, endpoint, key, payload, life_start, life_end)
			 VALUES ($1, $2, $3, $4, $5, $6, NULL)`,
			ins.ID, ins.AccountID, ins.Endpoint, ins.Key, ins.Payload, ins.LifeStart,
		)
		if err != nil {
			return fmt.Errorf("failed to insert version key=%s: %w", ins.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit sync result: %w", err)
	}
	return nil
}

func (p *Postgres) Trackers(ctx context.Context, accountID uuid.UUID) ([]*model.Tracker, error) {
	query := `SELECT DISTINCT ON (endpoint)
	            id, account_id, endpoint, state, detail, next_sync_context, started_at, finished_at
	          FROM sync_trackers
	          WHERE account_id = $1
	          ORDER BY endpoint, started_at DESC`

	rows, err := p.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trackers: %w", err)
	}
	defer rows.Close()

	var out []*model.Tracker
	for rows.Next() {
		var (
			t        model.Tracker
			detail   *string
			context  *string
			finished *time.Time
		)
		err := rows.Scan(&t.ID, &t.AccountID, &t.Endpoint, &t.State, &detail, &context, &t.StartedAt, &finished)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracker: %w", err)
		}
		if detail != nil {
			t.Detail = *detail
		}
		if context != nil {
			t.NextSyncContext = *context
		}
		if finished != nil {
			t.FinishedAt = *finished
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trackers: %w", err)
	}
	return out, nil
}

func (p *Postgres) Accounts(ctx context.Context) ([]*model.SyncAccount, error) {
	query := `SELECT id, name, character_id, access_token, created_at
	          FROM sync_accounts
	          ORDER BY created_at ASC`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []*model.SyncAccount
	for rows.Next() {
		var a model.SyncAccount
		if err := rows.Scan(&a.ID, &a.Name, &a.CharacterID, &a.AccessToken, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*model.Version, error) {
	var (
		v       model.Version
		lifeEnd *time.Time
	)
	err := row.Scan(&v.ID, &v.AccountID, &v.Endpoint, &v.Key, &v.Payload, &v.LifeStart, &lifeEnd)
	if err != nil {
		return nil, err
	}
	if lifeEnd != nil {
		v.LifeEnd = *lifeEnd
	}
	return &v, nil
}
