package model

import "time"

// CostEntry is one committed line in the spend ledger. Entries carry the
// reconciled actual cost; estimates used during authorization are never
// persisted.
type CostEntry struct {
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Operation string    `json:"operation" db:"operation"`
	CostUSD   float64   `json:"cost_usd" db:"cost_usd"`
}
