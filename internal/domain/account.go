package domain

import "time"

// Account represents a tenant of the platform. The balance is a cached
// projection of the account's ledger entries; it is mutated only inside
// the same transaction that commits a ledger entry.
type Account struct {
	ID        string    `json:"account_id"`
	Email     string    `json:"email"`
	Balance   int64     `json:"balance"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessKey is a long-lived credential bound to one account. Revocation
// is terminal; a revoked key is never reactivated.
type AccessKey struct {
	ID        string    `json:"key_id"`
	AccountID string    `json:"account_id"`
	Key       string    `json:"api_key"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// PostResult reports the outcome of a grant or debit posting.
// Applied=false with Duplicate=true means the external reference was
// already committed and the call was an idempotent no-op. Applied=false
// with a positive Deficit means a debit was declined for insufficient
// balance and nothing was written.
type PostResult struct {
	Applied   bool  `json:"applied"`
	Duplicate bool  `json:"duplicate"`
	Balance   int64 `json:"balance"`
	Deficit   int64 `json:"deficit,omitempty"`
}

// KeyEligibility is the result of the access-key issuance gate. The
// first key for an account requires the full payment-verification
// threshold; additional keys only require a positive balance.
type KeyEligibility struct {
	Allowed    bool   `json:"allowed"`
	Current    int64  `json:"current_credits"`
	Required   int64  `json:"required_credits"`
	Deficit    int64  `json:"deficit"`
	IsFirstKey bool   `json:"is_first_key"`
	Reason     string `json:"reason"`
}

// AuditReport compares the live account balance against a full replay
// of the account's ledger entries.
type AuditReport struct {
	AccountID       string `json:"account_id"`
	LiveBalance     int64  `json:"live_balance"`
	ReplayedBalance int64  `json:"replayed_balance"`
	Consistent      bool   `json:"consistent"`
}
