package model

import "time"

// QuerySet names a group of search phrases covering one region. Intake runs
// iterate query sets; each phrase is one potential paid search call.
type QuerySet struct {
	Region  string   `json:"region" yaml:"region"`
	Queries []string `json:"queries" yaml:"queries"`
}

// RunStatus tracks an intake run record.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusPaused   RunStatus = "paused"
	RunStatusFailed   RunStatus = "failed"
)

// RunStats summarizes one intake run for persistence and the status API.
type RunStats struct {
	QueriesTotal   int     `json:"queries_total"`
	QueriesCached  int     `json:"queries_cached"`
	QueriesPaid    int     `json:"queries_paid"`
	QueriesSkipped int     `json:"queries_skipped"`
	DetailsCached  int     `json:"details_cached"`
	DetailsPaid    int     `json:"details_paid"`
	Candidates     int     `json:"candidates"`
	Duplicates     int     `json:"duplicates"`
	Rejected       int     `json:"rejected"`
	Accepted       int     `json:"accepted"`
	CostUSD        float64 `json:"cost_usd"`
	BudgetDenied   bool    `json:"budget_denied"`
}

// RunRecord is the persisted form of an intake run.
type RunRecord struct {
	ID        string    `json:"id" db:"id"`
	Region    string    `json:"region" db:"region"`
	Status    RunStatus `json:"status" db:"status"`
	Stats     RunStats  `json:"stats" db:"stats"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
