// Package store persists providers, intake runs, and the cost ledger behind
// a backend-neutral interface with SQLite and Postgres implementations.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
)

// ErrDuplicateFingerprint is returned by InsertProvider when a merge-safe
// provider with the same fingerprint already exists. First writer wins;
// callers treat this as a cross-run duplicate, not a failure.
var ErrDuplicateFingerprint = eris.New("store: duplicate fingerprint")

// ProviderFilter narrows ListProviders.
type ProviderFilter struct {
	Status model.ProviderStatus
	Limit  int
	Offset int
}

// Store is the persistence boundary for the intake pipeline.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	// Providers.
	FindByFingerprint(ctx context.Context, fp string) (*model.Provider, error)
	InsertProvider(ctx context.Context, p *model.Provider) error
	UpdateContent(ctx context.Context, providerID string, fields model.ContentFields) error
	UpdateProviderStatus(ctx context.Context, providerID string, status model.ProviderStatus, failReason string) error
	ListPendingContent(ctx context.Context, limit int) ([]model.Provider, error)
	ListProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error)
	CountByStatus(ctx context.Context) (map[model.ProviderStatus]int, error)
	MarkPublished(ctx context.Context, providerID, contentID string) error

	// Intake runs.
	CreateRun(ctx context.Context, region string) (*model.RunRecord, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, stats model.RunStats) error
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)

	// Cost ledger (satisfies budget.Ledger).
	InsertCostEntry(ctx context.Context, entry model.CostEntry) error
	SumCostsSince(ctx context.Context, since time.Time) (float64, error)
}
