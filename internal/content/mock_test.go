package content

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/store"
)

// memStore is an in-memory store.Store for orchestrator tests.
type memStore struct {
	mu        sync.Mutex
	providers []*model.Provider
	runs      map[string]*model.RunRecord
	ledger    []model.CostEntry
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[string]*model.RunRecord)}
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func (m *memStore) FindByFingerprint(_ context.Context, fp string) (*model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.Fingerprint == fp && !p.MergeUnsafe {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertProvider(_ context.Context, p *model.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !p.MergeUnsafe {
		for _, existing := range m.providers {
			if existing.Fingerprint == p.Fingerprint && !existing.MergeUnsafe {
				return store.ErrDuplicateFingerprint
			}
		}
	}
	cp := *p
	m.providers = append(m.providers, &cp)
	return nil
}

func (m *memStore) UpdateContent(_ context.Context, id string, fields model.ContentFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.ID == id {
			p.Content = fields
			p.Status = model.StatusContentGenerated
			p.FailReason = ""
			return nil
		}
	}
	return eris.Errorf("provider %s not found", id)
}

func (m *memStore) UpdateProviderStatus(_ context.Context, id string, status model.ProviderStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.ID == id {
			p.Status = status
			p.FailReason = reason
			return nil
		}
	}
	return eris.Errorf("provider %s not found", id)
}

func (m *memStore) ListPendingContent(_ context.Context, limit int) ([]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Provider
	for _, p := range m.providers {
		if p.Status == model.StatusCollected || p.Status == model.StatusContentPending {
			out = append(out, *p)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) ListProviders(_ context.Context, filter store.ProviderFilter) ([]model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Provider
	for _, p := range m.providers {
		if filter.Status == "" || p.Status == filter.Status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) CountByStatus(context.Context) (map[model.ProviderStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.ProviderStatus]int)
	for _, p := range m.providers {
		counts[p.Status]++
	}
	return counts, nil
}

func (m *memStore) MarkPublished(_ context.Context, id, contentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.ID == id {
			p.Status = model.StatusPublished
			p.ContentID = contentID
		}
	}
	return nil
}

func (m *memStore) CreateRun(_ context.Context, region string) (*model.RunRecord, error) {
	return &model.RunRecord{ID: "run-0", Region: region, Status: model.RunStatusRunning}, nil
}

func (m *memStore) CompleteRun(context.Context, string, model.RunStatus, model.RunStats) error {
	return nil
}

func (m *memStore) ListRuns(context.Context, int) ([]model.RunRecord, error) {
	return nil, nil
}

func (m *memStore) InsertCostEntry(_ context.Context, e model.CostEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, e)
	return nil
}

func (m *memStore) SumCostsSince(_ context.Context, since time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, e := range m.ledger {
		if !e.Timestamp.Before(since) {
			sum += e.CostUSD
		}
	}
	return sum, nil
}
