// Package content fills accepted providers with generated listing text in
// small batches, one generator call per batch, retrying failed members
// individually before marking them permanently failed.
package content

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/budget"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/store"
	"github.com/sells-group/intake-cli/pkg/anthropic"
)

// OpGenerate is the ledger operation name for content generation calls.
const OpGenerate = "anthropic.generate"

// Config holds orchestrator tuning. Batches stay deliberately small: a
// longer prompt raises the odds of a malformed response that cannot be
// attributed to a specific member.
type Config struct {
	Model              string  `yaml:"model" mapstructure:"model"`
	BatchSize          int     `yaml:"batch_size" mapstructure:"batch_size"`
	MaxTokensPerMember int64   `yaml:"max_tokens_per_member" mapstructure:"max_tokens_per_member"`
	MaxPerRun          int     `yaml:"max_per_run" mapstructure:"max_per_run"`
	Temperature        float64 `yaml:"temperature" mapstructure:"temperature"`
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.MaxTokensPerMember <= 0 {
		c.MaxTokensPerMember = 400
	}
	if c.MaxPerRun <= 0 {
		c.MaxPerRun = 100
	}
}

// Report summarizes one orchestrator pass over the pending backlog.
type Report struct {
	Batches           int     `json:"batches"`
	Generated         int     `json:"generated"`
	Retried           int     `json:"retried"`
	PermanentlyFailed int     `json:"permanently_failed"`
	CostUSD           float64 `json:"cost_usd"`
	BudgetDenied      bool    `json:"budget_denied"`
}

// Describe returns a short human summary for CLI output.
func (r *Report) Describe() string {
	return fmt.Sprintf("%d batches: %d generated, %d retried, %d permanently failed, $%.4f",
		r.Batches, r.Generated, r.Retried, r.PermanentlyFailed, r.CostUSD)
}

// Orchestrator drives batched content generation for providers awaiting
// content, bounding spend through the budget enforcer.
type Orchestrator struct {
	store    store.Store
	gen      anthropic.Client
	enforcer *budget.Enforcer
	calc     *budget.Calculator
	cfg      Config
	retry    resilience.RetryConfig
}

// NewOrchestrator creates an Orchestrator with the given collaborators.
func NewOrchestrator(st store.Store, gen anthropic.Client, enf *budget.Enforcer, calc *budget.Calculator, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		store:    st,
		gen:      gen,
		enforcer: enf,
		calc:     calc,
		cfg:      cfg,
		retry:    resilience.DefaultRetryConfig(),
	}
}

// Process takes one pass over the pending backlog in batches. A budget
// denial stops further generation cleanly; unprocessed providers keep
// their pending status and the next pass picks them up. A single batch's
// failure never aborts the pass.
func (o *Orchestrator) Process(ctx context.Context) (*Report, error) {
	pending, err := o.store.ListPendingContent(ctx, o.cfg.MaxPerRun)
	if err != nil {
		return nil, eris.Wrap(err, "content: list pending")
	}

	report := &Report{}
	log := zap.L().With(zap.String("model", o.cfg.Model))
	log.Info("content pass starting", zap.Int("pending", len(pending)))

	for start := 0; start < len(pending); start += o.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		if report.BudgetDenied {
			break
		}
		end := start + o.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := o.processBatch(ctx, pending[start:end], report, log); err != nil {
			return report, err
		}
	}

	log.Info("content pass finished",
		zap.Int("batches", report.Batches),
		zap.Int("generated", report.Generated),
		zap.Int("retried", report.Retried),
		zap.Int("permanently_failed", report.PermanentlyFailed),
		zap.Float64("cost_usd", report.CostUSD),
		zap.Bool("budget_denied", report.BudgetDenied),
	)
	return report, nil
}

// processBatch runs one batch through generate, parse, and per-member
// resolution. Only storage failures propagate; generator failures leave
// members pending and parse failures route members to individual retry.
func (o *Orchestrator) processBatch(ctx context.Context, batch []model.Provider, report *Report, log *zap.Logger) error {
	job := model.BatchJob{ID: uuid.New().String()}
	for i := range batch {
		if batch[i].Status == model.StatusCollected {
			if err := o.store.UpdateProviderStatus(ctx, batch[i].ID, model.StatusContentPending, ""); err != nil {
				return eris.Wrap(err, "content: mark pending")
			}
		}
		job.Members = append(job.Members, model.BatchMember{
			ProviderID: batch[i].ID,
			Outcome:    model.OutcomePending,
		})
	}

	prompt := buildBatchPrompt(batch)
	maxTokens := o.cfg.MaxTokensPerMember * int64(len(batch))

	resp, ok, err := o.generate(ctx, "batch", prompt, maxTokens, report)
	if err != nil {
		return err
	}
	if !ok {
		// Denied or transiently failed: members keep their pending status.
		return nil
	}
	report.Batches++
	job.RawResp = resp.Text()

	ids := make([]string, len(batch))
	byID := make(map[string]*model.Provider, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
		byID[batch[i].ID] = &batch[i]
	}

	blocks, parseErr := parseBatch(job.RawResp, ids)
	if parseErr != nil {
		// Batch atomicity: no alignment guessing, every member retries.
		log.Warn("batch parse failed", zap.String("job_id", job.ID), zap.Error(parseErr))
		for i := range job.Members {
			job.Members[i].Outcome = model.OutcomeRetry
			job.Members[i].FailReason = parseErr.Error()
		}
	} else {
		for i := range job.Members {
			m := &job.Members[i]
			fields := blocks[m.ProviderID]
			if err := checkFields(fields); err != nil {
				m.Outcome = model.OutcomeRetry
				m.FailReason = err.Error()
				continue
			}
			if err := o.store.UpdateContent(ctx, m.ProviderID, fields); err != nil {
				return eris.Wrap(err, "content: write fields")
			}
			m.Outcome = model.OutcomeGenerated
			report.Generated++
		}
	}

	for _, m := range job.Unresolved() {
		if report.BudgetDenied {
			break
		}
		if err := o.retryMember(ctx, byID[m.ProviderID], m, report, log); err != nil {
			return err
		}
	}
	return nil
}

// retryMember re-issues a single-member request once. A second failure is
// terminal: the provider is marked permanently failed with the reason
// retained, never papered over with placeholder text.
func (o *Orchestrator) retryMember(ctx context.Context, p *model.Provider, m *model.BatchMember, report *Report, log *zap.Logger) error {
	m.Retries++
	report.Retried++

	prompt := buildBatchPrompt([]model.Provider{*p})
	resp, ok, err := o.generate(ctx, "retry", prompt, o.cfg.MaxTokensPerMember, report)
	if err != nil {
		return err
	}
	if !ok {
		// Denied or transiently failed: the member stays pending for the
		// next pass rather than burning its one retry on our own outage.
		m.Retries--
		report.Retried--
		return nil
	}

	fields, retryErr := parseSingle(resp.Text(), p.ID)
	if retryErr == nil {
		retryErr = checkFields(fields)
	}
	if retryErr != nil {
		m.Outcome = model.OutcomeFailed
		m.FailReason = retryErr.Error()
		report.PermanentlyFailed++
		log.Warn("member permanently failed",
			zap.String("provider_id", p.ID),
			zap.String("reason", m.FailReason),
		)
		return eris.Wrap(
			o.store.UpdateProviderStatus(ctx, p.ID, model.StatusPermanentlyFailed, m.FailReason),
			"content: mark failed",
		)
	}

	if err := o.store.UpdateContent(ctx, p.ID, fields); err != nil {
		return eris.Wrap(err, "content: write fields")
	}
	m.Outcome = model.OutcomeGenerated
	report.Generated++
	return nil
}

func parseSingle(raw, id string) (model.ContentFields, error) {
	blocks, err := parseBatch(raw, []string{id})
	if err != nil {
		return model.ContentFields{}, err
	}
	return blocks[id], nil
}

// generate authorizes, calls the generator with retries, and reconciles the
// actual token cost. ok is false when the call was denied or failed without
// incurring spend; only storage-grade errors return non-nil.
func (o *Orchestrator) generate(ctx context.Context, phase, prompt string, maxTokens int64, report *Report) (*anthropic.MessageResponse, bool, error) {
	est := o.calc.ClaudeEstimate(o.cfg.Model, len(systemPrompt)+len(prompt), maxTokens)
	grant, denial := o.enforcer.Authorize(OpGenerate, est)
	if denial != nil {
		report.BudgetDenied = true
		zap.L().Info("budget denied, stopping content generation",
			zap.String("phase", phase),
			zap.String("reason", denial.Reason),
		)
		return nil, false, nil
	}

	req := anthropic.MessageRequest{
		Model:     o.cfg.Model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	}
	if o.cfg.Temperature > 0 {
		req.Temperature = &o.cfg.Temperature
	}

	cfg := o.retry
	cfg.OnRetry = resilience.RetryLogger("anthropic", phase)
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return o.gen.CreateMessage(ctx, req)
	})
	if err != nil {
		// Failed calls are never recorded as spend.
		grant.Release()
		zap.L().Warn("generator call failed", zap.String("phase", phase), zap.Error(err))
		return nil, false, nil
	}

	actual := o.calc.ClaudeActual(o.cfg.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if err := grant.Record(ctx, actual); err != nil {
		return nil, false, eris.Wrap(err, "content: record spend")
	}
	report.CostUSD += actual
	resp.Usage.LogUsage(o.cfg.Model, phase)
	return resp, true, nil
}
