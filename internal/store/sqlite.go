package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/intake-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS providers (
	id           TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	merge_unsafe INTEGER NOT NULL DEFAULT 0,
	place_id     TEXT,
	name         TEXT NOT NULL,
	address      TEXT,
	phone        TEXT,
	website      TEXT,
	rating       REAL,
	review_count INTEGER,
	hours        TEXT,
	accept_score REAL NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	content      TEXT,
	fail_reason  TEXT,
	content_id   TEXT,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

-- Merge-unsafe rows are excluded from the uniqueness invariant: their
-- fingerprints are too weak to assert identity.
CREATE UNIQUE INDEX IF NOT EXISTS idx_providers_fingerprint
	ON providers(fingerprint) WHERE merge_unsafe = 0;
CREATE INDEX IF NOT EXISTS idx_providers_status ON providers(status);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	region     TEXT NOT NULL,
	status     TEXT NOT NULL,
	stats      TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cost_ledger (
	id        TEXT PRIMARY KEY,
	ts        DATETIME NOT NULL,
	operation TEXT NOT NULL,
	cost_usd  REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cost_ledger_ts ON cost_ledger(ts);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const providerCols = `id, fingerprint, merge_unsafe, place_id, name, address, phone, website,
	rating, review_count, hours, accept_score, status, content, fail_reason, content_id,
	created_at, updated_at`

func (s *SQLiteStore) FindByFingerprint(ctx context.Context, fp string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerCols+` FROM providers WHERE fingerprint = ? AND merge_unsafe = 0`,
		fp,
	)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find by fingerprint")
	}
	return p, nil
}

func (s *SQLiteStore) InsertProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	contentJSON, err := json.Marshal(p.Content)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal content")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO providers (`+providerCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Fingerprint, boolToInt(p.MergeUnsafe), p.PlaceID, p.Name, p.Address, p.Phone, p.Website,
		p.Rating, p.ReviewCount, p.Hours, p.AcceptScore, string(p.Status), string(contentJSON),
		p.FailReason, p.ContentID, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateFingerprint
		}
		return eris.Wrap(err, "sqlite: insert provider")
	}
	return nil
}

func (s *SQLiteStore) UpdateContent(ctx context.Context, providerID string, fields model.ContentFields) error {
	contentJSON, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal content")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET content = ?, status = ?, fail_reason = '', updated_at = ? WHERE id = ?`,
		string(contentJSON), string(model.StatusContentGenerated), time.Now().UTC(), providerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update content %s", providerID)
	}
	return checkRowsAffected(res, "provider", providerID)
}

func (s *SQLiteStore) UpdateProviderStatus(ctx context.Context, providerID string, status model.ProviderStatus, failReason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET status = ?, fail_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), failReason, time.Now().UTC(), providerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", providerID)
	}
	return checkRowsAffected(res, "provider", providerID)
}

func (s *SQLiteStore) ListPendingContent(ctx context.Context, limit int) ([]model.Provider, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerCols+` FROM providers WHERE status IN (?, ?) ORDER BY created_at ASC LIMIT ?`,
		string(model.StatusCollected), string(model.StatusContentPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending content")
	}
	return collectProviders(rows)
}

func (s *SQLiteStore) ListProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error) {
	query := `SELECT ` + providerCols + ` FROM providers WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	return collectProviders(rows)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.ProviderStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM providers GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.ProviderStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[model.ProviderStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count iterate")
}

func (s *SQLiteStore) MarkPublished(ctx context.Context, providerID, contentID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET status = ?, content_id = ?, updated_at = ? WHERE id = ?`,
		string(model.StatusPublished), contentID, time.Now().UTC(), providerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark published %s", providerID)
	}
	return checkRowsAffected(res, "provider", providerID)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, region string) (*model.RunRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, region, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, region, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.RunRecord{
		ID:        id,
		Region:    region,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, stats model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stats = ?, updated_at = ? WHERE id = ?`,
		string(status), string(statsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, region, status, stats, created_at, updated_at FROM runs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var statsJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.Region, &r.Status, &statsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if statsJSON.Valid && statsJSON.String != "" {
			if err := json.Unmarshal([]byte(statsJSON.String), &r.Stats); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal stats")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) InsertCostEntry(ctx context.Context, entry model.CostEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_ledger (id, ts, operation, cost_usd) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UTC(), entry.Operation, entry.CostUSD,
	)
	return eris.Wrap(err, "sqlite: insert cost entry")
}

func (s *SQLiteStore) SumCostsSince(ctx context.Context, since time.Time) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_ledger WHERE ts >= ?`,
		since.UTC(),
	)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, eris.Wrap(err, "sqlite: sum costs")
	}
	return sum, nil
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProvider(row scannable) (*model.Provider, error) {
	var p model.Provider
	var mergeUnsafe int
	var placeID, address, phone, website, hours, contentJSON, failReason, contentID sql.NullString
	var rating sql.NullFloat64
	var reviewCount sql.NullInt64

	err := row.Scan(&p.ID, &p.Fingerprint, &mergeUnsafe, &placeID, &p.Name, &address, &phone, &website,
		&rating, &reviewCount, &hours, &p.AcceptScore, &p.Status, &contentJSON, &failReason, &contentID,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.MergeUnsafe = mergeUnsafe != 0
	p.PlaceID = placeID.String
	p.Address = address.String
	p.Phone = phone.String
	p.Website = website.String
	p.Rating = rating.Float64
	p.ReviewCount = int(reviewCount.Int64)
	p.Hours = hours.String
	p.FailReason = failReason.String
	p.ContentID = contentID.String
	if contentJSON.Valid && contentJSON.String != "" {
		if err := json.Unmarshal([]byte(contentJSON.String), &p.Content); err != nil {
			return nil, eris.Wrap(err, "unmarshal content")
		}
	}
	return &p, nil
}

func collectProviders(rows *sql.Rows) ([]model.Provider, error) {
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan provider")
		}
		providers = append(providers, *p)
	}
	return providers, eris.Wrap(rows.Err(), "providers iterate")
}
