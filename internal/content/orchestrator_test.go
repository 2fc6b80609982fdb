package content

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/budget"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/pkg/anthropic"
)

const testModel = "claude-haiku-4-5-20251001"

// mockGen answers CreateMessage from a caller-supplied function and records
// every request it sees.
type mockGen struct {
	mu       sync.Mutex
	respond  func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
	requests []anthropic.MessageRequest
}

func (m *mockGen) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	respond := m.respond
	m.mu.Unlock()
	return respond(req)
}

func (m *mockGen) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// promptIDs extracts the provider ids embedded in a request prompt, in order.
func promptIDs(req anthropic.MessageRequest) []string {
	var ids []string
	for _, m := range markerRe.FindAllStringSubmatch(req.Messages[0].Content, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// wellFormed builds a response with one valid block per id in the prompt.
func wellFormed(req anthropic.MessageRequest) *anthropic.MessageResponse {
	var b strings.Builder
	for _, id := range promptIDs(req) {
		fmt.Fprintf(&b, "[[PROVIDER:%s]]\n", id)
		fmt.Fprintf(&b, "Title: Listing for %s\n", id)
		b.WriteString("Description: A well regarded local provider with years of experience.\n")
		b.WriteString("Highlights: friendly staff, convenient hours, modern facility\n\n")
	}
	return textResponse(b.String())
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 500, OutputTokens: 300},
	}
}

type testEnv struct {
	store *memStore
	gen   *mockGen
	orch  *Orchestrator
}

func newTestEnv(t *testing.T, budgetCfg budget.Config, cfg Config) *testEnv {
	t.Helper()

	st := newMemStore()
	enf, err := budget.NewEnforcer(budgetCfg, st)
	require.NoError(t, err)

	cfg.Model = testModel
	gen := &mockGen{}
	orch := NewOrchestrator(st, gen, enf, budget.NewCalculator(budget.DefaultRates()), cfg)
	orch.retry = resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
	return &testEnv{store: st, gen: gen, orch: orch}
}

func (e *testEnv) seed(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		p := &model.Provider{
			ID:          fmt.Sprintf("prov-%02d", i),
			Fingerprint: fmt.Sprintf("fp-%02d", i),
			Name:        fmt.Sprintf("Clinic %d", i),
			Address:     fmt.Sprintf("%d Main St", 100+i),
			Status:      model.StatusCollected,
		}
		require.NoError(t, e.store.InsertProvider(context.Background(), p))
		ids[i] = p.ID
	}
	return ids
}

func (e *testEnv) provider(t *testing.T, id string) *model.Provider {
	t.Helper()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	for _, p := range e.store.providers {
		if p.ID == id {
			cp := *p
			return &cp
		}
	}
	t.Fatalf("provider %s not found", id)
	return nil
}

func TestProcess_GeneratesWholeBatch(t *testing.T) {
	env := newTestEnv(t, budget.Config{}, Config{BatchSize: 4})
	ids := env.seed(t, 3)
	env.gen.respond = func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return wellFormed(req), nil
	}

	report, err := env.orch.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Batches)
	assert.Equal(t, 3, report.Generated)
	assert.Zero(t, report.Retried)
	assert.Zero(t, report.PermanentlyFailed)
	assert.Equal(t, 1, env.gen.callCount())

	for _, id := range ids {
		p := env.provider(t, id)
		assert.Equal(t, model.StatusContentGenerated, p.Status)
		assert.False(t, p.Content.Empty())
		assert.Contains(t, p.Content.Title, id)
	}

	// Cost reconciles from reported usage: 500 in + 300 out on haiku rates.
	assert.InDelta(t, 0.0016, report.CostUSD, 1e-9)
	sum, err := env.store.SumCostsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, report.CostUSD, sum, 1e-9)
}

func TestProcess_BatchesSplitByConfiguredSize(t *testing.T) {
	env := newTestEnv(t, budget.Config{}, Config{BatchSize: 2})
	env.seed(t, 5)
	env.gen.respond = func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		require.LessOrEqual(t, len(promptIDs(req)), 2)
		return wellFormed(req), nil
	}

	report, err := env.orch.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 5, report.Generated)
}

func TestProcess_WrongBlockCountRetriesEveryMember(t *testing.T) {
	env := newTestEnv(t, budget.Config{}, Config{BatchSize: 2})
	ids := env.seed(t, 2)

	// The batch call echoes only one member; no alignment guessing, so both
	// members must go to individual retry, where they succeed.
	env.gen.respond = func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if len(promptIDs(req)) > 1 {
			return textResponse("[[PROVIDER:" + ids[0] + "]]\nTitle: Only One\nDescription: A lone block.\nHighlights: none\n"), nil
		}
		return wellFormed(req), nil
	}

	report, err := env.orch.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Retried)
	assert.Equal(t, 2, report.Generated)
	assert.Zero(t, report.PermanentlyFailed)
	// One batch call plus one single-member retry per member.
	assert.Equal(t, 3, env.gen.callCount())

	for _, id := range ids {
		assert.Equal(t, model.StatusContentGenerated, env.provider(t, id).Status)
	}
}

func TestProcess_RetryExhaustionIsPermanentAndVisible(t *testing.T) {
	env := newTestEnv(t, budget.Config{}, Config{BatchSize: 1})
	ids := env.seed(t, 1)
	env.gen.respond = func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("I could not produce the requested format."), nil
	}

	report, err := env.orch.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.PermanentlyFailed)
	assert.Zero(t, report.Generated)

	p := env.provider(t, ids[0])
	assert.Equal(t, model.StatusPermanentlyFailed, p.Status)
	assert.Contains(t, p.FailReason, "markers")
	// Never disguised with placeholder content.
	assert.True(t, p.Content.Empty())
}

func TestProcess_PlaceholderResidueRoutesToRetry(t *testing.T) {
	env := newTestEnv(t, budget.Config{}, Config{BatchSize: 1})
	ids := env.seed(t, 1)

	first := true
	env.gen.respond = func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if first {
			first = false
			return textResponse("[[PROVIDER:" + ids[0] + "]]\nTitle: {{provider_name}}\nDescription: Fine text.\nHighlights: ok\n"), nil
		}
		return wellFormed(req), nil
	}

	report, err := env.orch.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, model.StatusContentGenerated, env.provider(t, ids[0]).Status)
}

func TestProcess_ForeignScriptFailsAfterRetry(t *testing.T) {
	env := newTestEnv(t, budget.Config{}, Config{BatchSize: 1})
	ids := env.seed(t, 1)
	env.gen.respond = func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("[[PROVIDER:" + ids[0] + "]]\nTitle: Tokyo Clinic\nDescription: 東京の歯科医院です。\nHighlights: ok\n"), nil
	}

	report, err := env.orch.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.PermanentlyFailed)
	p := env.provider(t, ids[0])
	assert.Equal(t, model.StatusPermanentlyFailed, p.Status)
	assert.Contains(t, p.FailReason, "foreign-script")
	assert.True(t, p.Content.Empty())
}

func TestProcess_BudgetDenialStopsCleanly(t *testing.T) {
	// Ceiling below any call's estimate: nothing is generated, nothing is
	// spent, and the backlog stays pending for the next period.
	env := newTestEnv(t, budget.Config{DailyCeilingUSD: 0.000001}, Config{BatchSize: 2})
	ids := env.seed(t, 4)
	env.gen.respond = func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return wellFormed(req), nil
	}

	report, err := env.orch.Process(context.Background())
	require.NoError(t, err)

	assert.True(t, report.BudgetDenied)
	assert.Zero(t, report.Generated)
	assert.Zero(t, env.gen.callCount())

	for _, id := range ids {
		p := env.provider(t, id)
		assert.NotEqual(t, model.StatusContentGenerated, p.Status)
		assert.NotEqual(t, model.StatusPermanentlyFailed, p.Status)
	}
	sum, err := env.store.SumCostsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestProcess_TransientFailureLeavesMembersPending(t *testing.T) {
	env := newTestEnv(t, budget.Config{}, Config{BatchSize: 2})
	ids := env.seed(t, 2)
	env.gen.respond = func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return nil, resilience.NewTransientError(fmt.Errorf("upstream overloaded"), 529)
	}

	report, err := env.orch.Process(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Generated)
	assert.Zero(t, report.PermanentlyFailed)
	assert.Zero(t, report.Retried)

	// Members were advanced to content_pending and stay there; no spend.
	for _, id := range ids {
		assert.Equal(t, model.StatusContentPending, env.provider(t, id).Status)
	}
	sum, err := env.store.SumCostsSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestProcess_RetryFailureDoesNotBurnBudgetForOthers(t *testing.T) {
	// Two single-member batches; the first drifts into garbage both times,
	// the second is fine. The first member's permanent failure must not
	// disturb the second's success.
	env := newTestEnv(t, budget.Config{}, Config{BatchSize: 1})
	ids := env.seed(t, 2)
	env.gen.respond = func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if promptIDs(req)[0] == ids[0] {
			return textResponse("no markers here"), nil
		}
		return wellFormed(req), nil
	}

	report, err := env.orch.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.PermanentlyFailed)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, model.StatusPermanentlyFailed, env.provider(t, ids[0]).Status)
	assert.Equal(t, model.StatusContentGenerated, env.provider(t, ids[1]).Status)
}
