package domain

// ProviderUsage aggregates ledger usage detail for one (service, provider) pair.
type ProviderUsage struct {
	ServiceKind  ServiceKind `json:"service_kind"`
	Provider     string      `json:"provider"`
	UsageCount   int64       `json:"usage_count"`
	TotalCredits int64       `json:"total_credits"`
	TotalCostUSD float64     `json:"total_cost_usd"`
}

// KeyUsage aggregates debits per access key.
type KeyUsage struct {
	AccessKey    string  `json:"access_key"`
	Postings     int64   `json:"postings"`
	TotalCredits int64   `json:"total_credits"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// AccountUsage aggregates debits per account, used for top-consumer reports.
type AccountUsage struct {
	AccountID    string `json:"account_id"`
	Postings     int64  `json:"postings"`
	TotalCredits int64  `json:"total_credits"`
}
