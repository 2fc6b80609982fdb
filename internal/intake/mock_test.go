package intake

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/store"
	"github.com/sells-group/intake-cli/pkg/places"
)

// memStore is an in-memory store.Store for coordinator tests.
type memStore struct {
	mu        sync.Mutex
	providers []*model.Provider
	runs      map[string]*model.RunRecord
	ledger    []model.CostEntry
	nextID    int
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
	m.nextID++
	if p.ID == "" {
		p.ID = "p-" + time.Now().Format("150405") + "-" + string(rune('a'+m.nextID%26))
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
	return store.ErrDuplicateFingerprint
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
	return nil
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
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r := &model.RunRecord{
		ID:        "run-" + string(rune('0'+m.nextID%10)),
		Region:    region,
		Status:    model.RunStatusRunning,
		CreatedAt: time.Now(),
	}
	m.runs[r.ID] = r
	return r, nil
}

func (m *memStore) CompleteRun(_ context.Context, runID string, status model.RunStatus, stats model.RunStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		r.Status = status
		r.Stats = stats
	}
	return nil
}

func (m *memStore) ListRuns(context.Context, int) ([]model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RunRecord
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
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

// mockPlaces returns canned responses per query and details per place id,
// counting calls to each.
type mockPlaces struct {
	mu          sync.Mutex
	responses   map[string][]places.Place
	details     map[string]places.Place
	err         error
	calls       int
	detailCalls int
}

func (m *mockPlaces) TextSearch(_ context.Context, query string) (*places.TextSearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &places.TextSearchResponse{Places: m.responses[query]}, nil
}

func (m *mockPlaces) Details(_ context.Context, placeID string) (*places.Place, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailCalls++
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := m.details[placeID]; ok {
		return &p, nil
	}
	return &places.Place{ID: placeID}, nil
}

func (m *mockPlaces) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockPlaces) detailCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailCalls
}
