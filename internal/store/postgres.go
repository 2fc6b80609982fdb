package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests inject pgxmock here.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS providers (
	id           UUID PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	merge_unsafe BOOLEAN NOT NULL DEFAULT FALSE,
	place_id     TEXT,
	name         TEXT NOT NULL,
	address      TEXT,
	phone        TEXT,
	website      TEXT,
	rating       DOUBLE PRECISION,
	review_count INTEGER,
	hours        TEXT,
	accept_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	content      JSONB,
	fail_reason  TEXT,
	content_id   TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_providers_fingerprint
	ON providers(fingerprint) WHERE merge_unsafe = FALSE;
CREATE INDEX IF NOT EXISTS idx_providers_status ON providers(status);

CREATE TABLE IF NOT EXISTS runs (
	id         UUID PRIMARY KEY,
	region     TEXT NOT NULL,
	status     TEXT NOT NULL,
	stats      JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cost_ledger (
	id        UUID PRIMARY KEY,
	ts        TIMESTAMPTZ NOT NULL,
	operation TEXT NOT NULL,
	cost_usd  DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cost_ledger_ts ON cost_ledger(ts);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) FindByFingerprint(ctx context.Context, fp string) (*model.Provider, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+providerCols+` FROM providers WHERE fingerprint = $1 AND merge_unsafe = FALSE`,
		fp,
	)
	p, err := scanPgProvider(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find by fingerprint")
	}
	return p, nil
}

func (s *PostgresStore) InsertProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	contentJSON, err := json.Marshal(p.Content)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal content")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO providers (`+providerCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID, p.Fingerprint, p.MergeUnsafe, p.PlaceID, p.Name, p.Address, p.Phone, p.Website,
		p.Rating, p.ReviewCount, p.Hours, p.AcceptScore, string(p.Status), contentJSON,
		p.FailReason, p.ContentID, now, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateFingerprint
		}
		return eris.Wrap(err, "postgres: insert provider")
	}
	return nil
}

func (s *PostgresStore) UpdateContent(ctx context.Context, providerID string, fields model.ContentFields) error {
	contentJSON, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal content")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE providers SET content = $1, status = $2, fail_reason = '', updated_at = $3 WHERE id = $4`,
		contentJSON, string(model.StatusContentGenerated), time.Now().UTC(), providerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update content %s", providerID)
	}
	return checkTag(tag, "provider", providerID)
}

func (s *PostgresStore) UpdateProviderStatus(ctx context.Context, providerID string, status model.ProviderStatus, failReason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE providers SET status = $1, fail_reason = $2, updated_at = $3 WHERE id = $4`,
		string(status), failReason, time.Now().UTC(), providerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", providerID)
	}
	return checkTag(tag, "provider", providerID)
}

func (s *PostgresStore) ListPendingContent(ctx context.Context, limit int) ([]model.Provider, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+providerCols+` FROM providers WHERE status IN ($1, $2) ORDER BY created_at ASC LIMIT $3`,
		string(model.StatusCollected), string(model.StatusContentPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending content")
	}
	return collectPgProviders(rows)
}

func (s *PostgresStore) ListProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error) {
	query := `SELECT ` + providerCols + ` FROM providers WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	return collectPgProviders(rows)
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.ProviderStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM providers GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.ProviderStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[model.ProviderStatus(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count iterate")
}

func (s *PostgresStore) MarkPublished(ctx context.Context, providerID, contentID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE providers SET status = $1, content_id = $2, updated_at = $3 WHERE id = $4`,
		string(model.StatusPublished), contentID, time.Now().UTC(), providerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark published %s", providerID)
	}
	return checkTag(tag, "provider", providerID)
}

func (s *PostgresStore) CreateRun(ctx context.Context, region string) (*model.RunRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, region, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, region, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.RunRecord{
		ID:        id,
		Region:    region,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, stats model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, stats = $2, updated_at = $3 WHERE id = $4`,
		string(status), statsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, region, status, stats, created_at, updated_at FROM runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var statsJSON []byte
		if err := rows.Scan(&r.ID, &r.Region, &r.Status, &statsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if len(statsJSON) > 0 {
			if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stats")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) InsertCostEntry(ctx context.Context, entry model.CostEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_ledger (id, ts, operation, cost_usd) VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.Timestamp.UTC(), entry.Operation, entry.CostUSD,
	)
	return eris.Wrap(err, "postgres: insert cost entry")
}

func (s *PostgresStore) SumCostsSince(ctx context.Context, since time.Time) (float64, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_ledger WHERE ts >= $1`,
		since.UTC(),
	)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, eris.Wrap(err, "postgres: sum costs")
	}
	return sum, nil
}

// helpers

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func scanPgProvider(row pgx.Row) (*model.Provider, error) {
	var p model.Provider
	var placeID, address, phone, website, hours, failReason, contentID *string
	var rating *float64
	var reviewCount *int32
	var contentJSON []byte

	err := row.Scan(&p.ID, &p.Fingerprint, &p.MergeUnsafe, &placeID, &p.Name, &address, &phone, &website,
		&rating, &reviewCount, &hours, &p.AcceptScore, &p.Status, &contentJSON, &failReason, &contentID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.PlaceID = deref(placeID)
	p.Address = deref(address)
	p.Phone = deref(phone)
	p.Website = deref(website)
	p.Hours = deref(hours)
	p.FailReason = deref(failReason)
	p.ContentID = deref(contentID)
	if rating != nil {
		p.Rating = *rating
	}
	if reviewCount != nil {
		p.ReviewCount = int(*reviewCount)
	}
	if len(contentJSON) > 0 {
		if err := json.Unmarshal(contentJSON, &p.Content); err != nil {
			return nil, eris.Wrap(err, "unmarshal content")
		}
	}
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func collectPgProviders(rows pgx.Rows) ([]model.Provider, error) {
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanPgProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan provider")
		}
		providers = append(providers, *p)
	}
	return providers, eris.Wrap(rows.Err(), "providers iterate")
}
