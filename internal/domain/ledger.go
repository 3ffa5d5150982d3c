package domain

import "time"

// LedgerEntry is one immutable, signed credit movement. The unique
// ExternalReference is the idempotency key: a payment confirmation id
// for grants, a workflow id for settlements. Entries are never updated
// or deleted.
type LedgerEntry struct {
	ID                string         `json:"entry_id"`
	AccountID         string         `json:"account_id"`
	AccessKey         string         `json:"access_key,omitempty"`
	Credits           int64          `json:"credits"`
	CostEstimateUSD   float64        `json:"cost_estimate_usd"`
	ExternalReference string         `json:"external_reference"`
	Description       string         `json:"description"`
	Usage             []ServiceUsage `json:"usage,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// LedgerFilter selects ledger entries for queries. Zero values mean
// "no constraint" for that field.
type LedgerFilter struct {
	AccountID string
	AccessKey string
	Since     time.Time
	Until     time.Time
	Limit     int
}
