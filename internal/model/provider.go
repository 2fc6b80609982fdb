// Package model defines the core domain types shared across the intake pipeline.
package model

import "time"

// ProviderStatus tracks a provider through the content lifecycle.
type ProviderStatus string

const (
	StatusCollected         ProviderStatus = "collected"
	StatusContentPending    ProviderStatus = "content_pending"
	StatusContentGenerated  ProviderStatus = "content_generated"
	StatusPermanentlyFailed ProviderStatus = "permanently_failed"
	StatusPublished         ProviderStatus = "published"
	StatusInactive          ProviderStatus = "inactive"
)

// Candidate is a raw search result before dedup and acceptance filtering.
// It is ephemeral: either folded into a Provider or discarded.
type Candidate struct {
	PlaceID     string  `json:"place_id,omitempty"`
	Name        string  `json:"name"`
	Address     string  `json:"address,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Website     string  `json:"website,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`
	Hours       string  `json:"hours,omitempty"`
	ReviewText  string  `json:"review_text,omitempty"`
	Query       string  `json:"query,omitempty"`
}

// Completeness counts the identity fields present on the candidate. Used to
// break ties when two candidates in one run share a fingerprint.
func (c Candidate) Completeness() int {
	n := 0
	if c.Address != "" {
		n++
	}
	if c.Phone != "" {
		n++
	}
	return n
}

// Provider is the canonical deduplicated record created from an accepted
// Candidate. Core identity fields are write-once; content fields are filled
// by the batch content orchestrator.
type Provider struct {
	ID          string         `json:"id" db:"id"`
	Fingerprint string         `json:"fingerprint" db:"fingerprint"`
	MergeUnsafe bool           `json:"merge_unsafe" db:"merge_unsafe"`
	PlaceID     string         `json:"place_id,omitempty" db:"place_id"`
	Name        string         `json:"name" db:"name"`
	Address     string         `json:"address,omitempty" db:"address"`
	Phone       string         `json:"phone,omitempty" db:"phone"`
	Website     string         `json:"website,omitempty" db:"website"`
	Rating      float64        `json:"rating,omitempty" db:"rating"`
	ReviewCount int            `json:"review_count,omitempty" db:"review_count"`
	Hours       string         `json:"hours,omitempty" db:"hours"`
	AcceptScore float64        `json:"accept_score" db:"accept_score"`
	Status      ProviderStatus `json:"status" db:"status"`
	Content     ContentFields  `json:"content" db:"content"`
	FailReason  string         `json:"fail_reason,omitempty" db:"fail_reason"`
	ContentID   string         `json:"content_id,omitempty" db:"content_id"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// ContentFields holds the generated textual content for a provider.
type ContentFields struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Highlights  string `json:"highlights,omitempty"`
}

// Empty reports whether no content has been generated yet.
func (f ContentFields) Empty() bool {
	return f.Title == "" && f.Description == "" && f.Highlights == ""
}

// MemberOutcome is the terminal state of one provider's slot in a batch job.
type MemberOutcome string

const (
	OutcomePending   MemberOutcome = "pending"
	OutcomeGenerated MemberOutcome = "generated"
	OutcomeRetry     MemberOutcome = "retry"
	OutcomeFailed    MemberOutcome = "failed"
)

// BatchMember tracks a single provider through one batch content job.
type BatchMember struct {
	ProviderID string        `json:"provider_id"`
	Outcome    MemberOutcome `json:"outcome"`
	Retries    int           `json:"retries"`
	FailReason string        `json:"fail_reason,omitempty"`
}

// BatchJob is one batched call to the content generator and its per-member
// outcomes. Discarded once every member resolves.
type BatchJob struct {
	ID      string        `json:"id"`
	Members []BatchMember `json:"members"`
	RawResp string        `json:"-"`
}

// Unresolved returns the members still pending or awaiting retry.
func (j *BatchJob) Unresolved() []*BatchMember {
	var out []*BatchMember
	for i := range j.Members {
		if j.Members[i].Outcome == OutcomePending || j.Members[i].Outcome == OutcomeRetry {
			out = append(out, &j.Members[i])
		}
	}
	return out
}
