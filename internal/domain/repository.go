package domain

import (
	"context"
	"time"
)

// GrantParams describes a positive (credit) posting, typically a
// confirmed payment. ExternalReference is the payment confirmation id.
type GrantParams struct {
	AccountID         string
	Credits           int64
	ExternalReference string
	CostPaidUSD       float64
	Description       string
}

// DebitParams describes a negative (usage) posting. ExternalReference
// is the workflow id for settlements or a caller-supplied id for
// single-step debits. Usage carries the per-service detail persisted
// alongside the ledger entry.
type DebitParams struct {
	AccountID         string
	AccessKey         string
	Credits           int64
	ExternalReference string
	CostEstimateUSD   float64
	Description       string
	Usage             []ServiceUsage
}

// AccountRepository persists accounts and performs the only two
// operations that mutate shared state. Grant and Debit must each be a
// single atomic unit: the balance check, the ledger append, and the
// balance update either all commit or none do. A duplicate external
// reference collapses to a no-op, enforced by the storage layer's
// uniqueness constraint rather than an application-level pre-check.
type AccountRepository interface {
	Create(ctx context.Context, email string) (*Account, error)
	Get(ctx context.Context, accountID string) (*Account, error)
	Deactivate(ctx context.Context, accountID string) error

	Grant(ctx context.Context, p GrantParams) (PostResult, error)
	Debit(ctx context.Context, p DebitParams) (PostResult, error)
}

// LedgerRepository reads the append-only ledger. All methods are
// read-only aggregations over the same immutable log, never a second
// source of truth.
type LedgerRepository interface {
	Query(ctx context.Context, f LedgerFilter) ([]LedgerEntry, error)

	// Replay recomputes an account balance by summing every committed
	// entry; it must always agree with the live Account.Balance.
	Replay(ctx context.Context, accountID string) (int64, error)

	ProviderBreakdown(ctx context.Context, accountID string, since time.Time) ([]ProviderUsage, error)
	KeyBreakdown(ctx context.Context, accountID string, since time.Time) ([]KeyUsage, error)
	TopAccounts(ctx context.Context, since time.Time, limit int) ([]AccountUsage, error)
}

// WorkflowRepository persists workflow aggregates in the same
// transactional store as the ledger, so record and settle see the same
// state across processes and restarts.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *Workflow) error
	Get(ctx context.Context, workflowID string) (*Workflow, error)

	// AppendUsage adds a priced entry to an open workflow and returns the
	// cumulative credit total. Returns ErrWorkflowNotFound if the
	// workflow is unknown or no longer open.
	AppendUsage(ctx context.Context, workflowID string, usage ServiceUsage) (int64, error)

	// Settle transitions an open workflow to settled, posting one atomic
	// debit (external reference = workflow id) when the workflow has
	// entries. Settling an already settled workflow returns the stored
	// settlement with Duplicate=true.
	Settle(ctx context.Context, workflowID string, statusCode int, errorMessage string) (*Settlement, error)

	// Void transitions an open workflow to void with no charge.
	Void(ctx context.Context, workflowID string) error

	// ReapStale voids every workflow still open past the cutoff and
	// returns how many were voided. Safe to run concurrently with live
	// settlement: both guard on the open->terminal transition.
	ReapStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// KeyRepository persists access keys. Lookup implementations should
// cache to keep the per-request authorization gate off the database.
type KeyRepository interface {
	Insert(ctx context.Context, key *AccessKey) error
	Revoke(ctx context.Context, key string) error
	CountActive(ctx context.Context, accountID string) (int, error)
	Lookup(ctx context.Context, key string) (*AccessKey, error)
}

// BalanceCache is a best-effort read cache for account balances. A
// miss or a cache failure is never an error; the store remains the
// source of truth and mutations invalidate the cached value.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (int64, bool)
	Set(ctx context.Context, accountID string, balance int64)
	Invalidate(ctx context.Context, accountID string)
}
