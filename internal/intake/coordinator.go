// Package intake turns raw search results into canonical, deduplicated,
// accepted provider records, bounding spend on paid lookups through the
// persistent cache and the budget enforcer.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/intake-cli/internal/accept"
	"github.com/sells-group/intake-cli/internal/budget"
	"github.com/sells-group/intake-cli/internal/cache"
	"github.com/sells-group/intake-cli/internal/fingerprint"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/store"
	"github.com/sells-group/intake-cli/pkg/places"
)

// Ledger operation names for paid Places calls.
const (
	OpTextSearch = "places.text_search"
	OpDetails    = "places.details"
)

// Config holds coordinator tuning.
type Config struct {
	RateLimit float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Accept    accept.Config `yaml:"accept" mapstructure:"accept"`
}

// Coordinator orchestrates search, caching, budgeting, deduplication, and
// acceptance filtering for intake runs. Safe for concurrent runs: all
// per-run state lives on the Run object.
type Coordinator struct {
	store    store.Store
	places   places.Client
	cache    *cache.Cache
	enforcer *budget.Enforcer
	calc     *budget.Calculator
	cfg      Config
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

// NewCoordinator creates a Coordinator with the given collaborators.
func NewCoordinator(st store.Store, pc places.Client, ca *cache.Cache, enf *budget.Enforcer, calc *budget.Calculator, cfg Config) *Coordinator {
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}
	return &Coordinator{
		store:    st,
		places:   pc,
		cache:    ca,
		enforcer: enf,
		calc:     calc,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(rateLimit), 1),
		retry:    resilience.DefaultRetryConfig(),
	}
}

// Rejection records why a candidate was not accepted, retrievable for the
// duration of the run.
type Rejection struct {
	Name   string `json:"name"`
	Query  string `json:"query"`
	Reason string `json:"reason"`
}

// Run is the explicit per-run state: in-session fingerprints, stats, and
// the rejection log. Independent runs do not share Run objects.
type Run struct {
	ID     string
	Region string
	Stats  model.RunStats

	// accepted keeps first-seen order for deterministic flushing.
	accepted   map[string]*pendingProvider
	order      []string
	unsafe     []*pendingProvider
	rejections []Rejection
}

type pendingProvider struct {
	candidate model.Candidate
	fp        fingerprint.Fingerprint
	score     float64
}

// Rejections returns the rejection log for this run.
func (r *Run) Rejections() []Rejection {
	return r.rejections
}

// Execute processes one query set. A budget denial pauses paid lookups for
// the rest of the run but still serves cached queries; per-query failures
// are isolated and never abort the run.
func (c *Coordinator) Execute(ctx context.Context, qs model.QuerySet) (*Run, error) {
	record, err := c.store.CreateRun(ctx, qs.Region)
	if err != nil {
		return nil, eris.Wrap(err, "intake: create run")
	}

	run := &Run{
		ID:       record.ID,
		Region:   qs.Region,
		accepted: make(map[string]*pendingProvider),
	}
	run.Stats.QueriesTotal = len(qs.Queries)
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("region", qs.Region))

	for _, query := range qs.Queries {
		if ctx.Err() != nil {
			break
		}
		candidates, err := c.search(ctx, run, query)
		if err != nil {
			log.Warn("query failed", zap.String("query", query), zap.Error(err))
			continue
		}
		for _, cand := range candidates {
			if needsDetails(cand) {
				cand = c.enrich(ctx, run, cand)
			}
			c.fold(ctx, run, cand)
		}
	}

	if err := c.flush(ctx, run, log); err != nil {
		_ = c.store.CompleteRun(ctx, run.ID, model.RunStatusFailed, run.Stats)
		return run, err
	}

	status := model.RunStatusComplete
	if run.Stats.BudgetDenied {
		status = model.RunStatusPaused
	}
	if err := c.store.CompleteRun(ctx, run.ID, status, run.Stats); err != nil {
		log.Error("complete run failed", zap.Error(err))
	}

	log.Info("intake run finished",
		zap.Int("queries_paid", run.Stats.QueriesPaid),
		zap.Int("queries_cached", run.Stats.QueriesCached),
		zap.Int("details_paid", run.Stats.DetailsPaid),
		zap.Int("details_cached", run.Stats.DetailsCached),
		zap.Int("accepted", run.Stats.Accepted),
		zap.Int("duplicates", run.Stats.Duplicates),
		zap.Int("rejected", run.Stats.Rejected),
		zap.Float64("cost_usd", run.Stats.CostUSD),
		zap.Bool("budget_denied", run.Stats.BudgetDenied),
	)
	return run, nil
}

// search returns the candidates for one query, serving from cache when the
// entry is still valid and paying for a fresh lookup otherwise.
func (c *Coordinator) search(ctx context.Context, run *Run, query string) ([]model.Candidate, error) {
	var cached []model.Candidate
	hit, err := c.cache.Get(ctx, cache.ClassSearch, query, &cached)
	if err != nil {
		return nil, eris.Wrap(err, "intake: cache get")
	}
	if hit {
		run.Stats.QueriesCached++
		return cached, nil
	}

	if run.Stats.BudgetDenied {
		run.Stats.QueriesSkipped++
		return nil, nil
	}

	grant, denial := c.enforcer.Authorize(OpTextSearch, c.calc.TextSearch())
	if denial != nil {
		// Not an error: stop paying for the rest of this run.
		run.Stats.BudgetDenied = true
		run.Stats.QueriesSkipped++
		zap.L().Info("budget denied, pausing paid lookups",
			zap.String("run_id", run.ID),
			zap.String("reason", denial.Reason),
		)
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		grant.Release()
		return nil, eris.Wrap(err, "intake: rate limit wait")
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("places", "text_search")
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*places.TextSearchResponse, error) {
		return c.places.TextSearch(ctx, query)
	})
	if err != nil {
		// Failed calls are never recorded as spend and never cached.
		grant.Release()
		return nil, eris.Wrapf(err, "intake: text search %q", query)
	}

	if err := grant.Record(ctx, c.calc.TextSearch()); err != nil {
		return nil, eris.Wrap(err, "intake: record spend")
	}
	run.Stats.QueriesPaid++
	run.Stats.CostUSD += c.calc.TextSearch()

	candidates := make([]model.Candidate, 0, len(resp.Places))
	for _, p := range resp.Places {
		candidates = append(candidates, model.Candidate{
			PlaceID:     p.ID,
			Name:        p.DisplayName.Text,
			Address:     p.FormattedAddress,
			Phone:       p.NationalPhone,
			Website:     p.WebsiteURI,
			Rating:      p.Rating,
			ReviewCount: p.UserRatingCount,
			Hours:       p.HoursText(),
			ReviewText:  p.FirstReviewText(),
			Query:       query,
		})
	}
	if err := c.cache.Put(ctx, cache.ClassSearch, query, candidates); err != nil {
		zap.L().Warn("cache put failed", zap.String("query", query), zap.Error(err))
	}
	return candidates, nil
}

// needsDetails reports whether the candidate is missing identity fields that
// a place-details lookup can supply. Address and phone feed the fingerprint,
// so filling them keeps sparse captures out of the merge-unsafe bucket.
func needsDetails(cand model.Candidate) bool {
	return cand.PlaceID != "" && (cand.Address == "" || cand.Phone == "")
}

// enrich fills missing fields from a place-details lookup, serving from the
// cache when the entry is still valid. Failures and denials leave the
// candidate as it came from search: a sparse candidate is still usable.
func (c *Coordinator) enrich(ctx context.Context, run *Run, cand model.Candidate) model.Candidate {
	var detail places.Place
	hit, err := c.cache.Get(ctx, cache.ClassDetails, cand.PlaceID, &detail)
	if err != nil {
		zap.L().Warn("details cache get failed", zap.String("place_id", cand.PlaceID), zap.Error(err))
		return cand
	}
	if hit {
		run.Stats.DetailsCached++
		return mergeDetail(cand, &detail)
	}

	if run.Stats.BudgetDenied {
		return cand
	}

	grant, denial := c.enforcer.Authorize(OpDetails, c.calc.Details())
	if denial != nil {
		run.Stats.BudgetDenied = true
		zap.L().Info("budget denied, pausing paid lookups",
			zap.String("run_id", run.ID),
			zap.String("reason", denial.Reason),
		)
		return cand
	}

	if err := c.limiter.Wait(ctx); err != nil {
		grant.Release()
		return cand
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("places", "details")
	place, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*places.Place, error) {
		return c.places.Details(ctx, cand.PlaceID)
	})
	if err != nil || place == nil {
		grant.Release()
		zap.L().Warn("details lookup failed", zap.String("place_id", cand.PlaceID), zap.Error(err))
		return cand
	}

	if err := grant.Record(ctx, c.calc.Details()); err != nil {
		zap.L().Warn("record details spend failed", zap.Error(err))
	}
	run.Stats.DetailsPaid++
	run.Stats.CostUSD += c.calc.Details()

	if err := c.cache.Put(ctx, cache.ClassDetails, cand.PlaceID, place); err != nil {
		zap.L().Warn("cache put failed", zap.String("place_id", cand.PlaceID), zap.Error(err))
	}
	return mergeDetail(cand, place)
}

// mergeDetail fills only fields the search capture left empty. Search-sourced
// values are never overwritten.
func mergeDetail(cand model.Candidate, p *places.Place) model.Candidate {
	if cand.Address == "" {
		cand.Address = p.FormattedAddress
	}
	if cand.Phone == "" {
		cand.Phone = p.NationalPhone
	}
	if cand.Website == "" {
		cand.Website = p.WebsiteURI
	}
	if cand.Hours == "" {
		cand.Hours = p.HoursText()
	}
	if cand.ReviewText == "" {
		cand.ReviewText = p.FirstReviewText()
	}
	if cand.Rating == 0 {
		cand.Rating = p.Rating
	}
	if cand.ReviewCount == 0 {
		cand.ReviewCount = p.UserRatingCount
	}
	return cand
}

// fold runs one candidate through fingerprint, dedup, and the acceptance
// filter, updating run state. Duplicates and rejections are normal branches,
// not errors.
func (c *Coordinator) fold(ctx context.Context, run *Run, cand model.Candidate) {
	run.Stats.Candidates++

	fp := fingerprint.Compute(cand.Name, cand.Address, cand.Phone)

	if fp.MergeUnsafe {
		result := accept.Score(cand, c.cfg.Accept)
		if !result.Accepted {
			c.reject(run, cand, result.Reason)
			return
		}
		run.unsafe = append(run.unsafe, &pendingProvider{candidate: cand, fp: fp, score: result.Score})
		run.Stats.Accepted++
		return
	}

	// In-session duplicate: keep the more complete capture, first-seen wins
	// ties. Acceptance was already granted to the incumbent, so replacing
	// the candidate keeps the same slot in insertion order.
	if existing, ok := run.accepted[fp.Hash]; ok {
		run.Stats.Duplicates++
		if cand.Completeness() > existing.candidate.Completeness() {
			result := accept.Score(cand, c.cfg.Accept)
			if result.Accepted {
				existing.candidate = cand
				existing.score = result.Score
			}
		}
		return
	}

	// Cross-run duplicate: a persisted merge-safe provider already owns this
	// fingerprint, and its core identity fields are never overwritten.
	prior, err := c.store.FindByFingerprint(ctx, fp.Hash)
	if err != nil {
		zap.L().Warn("fingerprint lookup failed", zap.String("name", cand.Name), zap.Error(err))
		return
	}
	if prior != nil {
		run.Stats.Duplicates++
		return
	}

	result := accept.Score(cand, c.cfg.Accept)
	if !result.Accepted {
		c.reject(run, cand, result.Reason)
		return
	}

	run.accepted[fp.Hash] = &pendingProvider{candidate: cand, fp: fp, score: result.Score}
	run.order = append(run.order, fp.Hash)
	run.Stats.Accepted++
}

func (c *Coordinator) reject(run *Run, cand model.Candidate, reason string) {
	run.Stats.Rejected++
	run.rejections = append(run.rejections, Rejection{
		Name:   cand.Name,
		Query:  cand.Query,
		Reason: reason,
	})
	zap.L().Debug("candidate rejected",
		zap.String("run_id", run.ID),
		zap.String("name", cand.Name),
		zap.String("reason", reason),
	)
}

// flush persists the run's accepted candidates in first-seen order. The
// store's fingerprint uniqueness resolves races between concurrent runs:
// a duplicate insert is counted, not raised.
func (c *Coordinator) flush(ctx context.Context, run *Run, log *zap.Logger) error {
	insert := func(p *pendingProvider) error {
		provider := newProvider(p)
		err := c.store.InsertProvider(ctx, provider)
		if errors.Is(err, store.ErrDuplicateFingerprint) {
			run.Stats.Duplicates++
			run.Stats.Accepted--
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "intake: insert provider")
		}
		return nil
	}

	for _, hash := range run.order {
		if err := insert(run.accepted[hash]); err != nil {
			return err
		}
	}
	for _, p := range run.unsafe {
		if err := insert(p); err != nil {
			return err
		}
	}

	log.Debug("flushed accepted providers", zap.Int("count", run.Stats.Accepted))
	return nil
}

func newProvider(p *pendingProvider) *model.Provider {
	cand := p.candidate
	return &model.Provider{
		Fingerprint: p.fp.Hash,
		MergeUnsafe: p.fp.MergeUnsafe,
		PlaceID:     cand.PlaceID,
		Name:        cand.Name,
		Address:     cand.Address,
		Phone:       cand.Phone,
		Website:     cand.Website,
		Rating:      cand.Rating,
		ReviewCount: cand.ReviewCount,
		Hours:       cand.Hours,
		AcceptScore: p.score,
		Status:      model.StatusCollected,
	}
}

// Describe returns a short human summary for CLI output.
func (r *Run) Describe() string {
	return fmt.Sprintf("run %s (%s): %d queries (%d paid, %d cached, %d skipped), %d details (%d cached), %d accepted, %d duplicates, %d rejected, $%.4f",
		r.ID, r.Region,
		r.Stats.QueriesTotal, r.Stats.QueriesPaid, r.Stats.QueriesCached, r.Stats.QueriesSkipped,
		r.Stats.DetailsPaid, r.Stats.DetailsCached,
		r.Stats.Accepted, r.Stats.Duplicates, r.Stats.Rejected, r.Stats.CostUSD)
}
