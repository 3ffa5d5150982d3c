package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nexusai/credit-engine/internal/domain"
)

// MockAccountRepository is an in-memory implementation of
// domain.AccountRepository for testing. Grant and Debit hold a single
// mutex across the reference check, the entry append, and the balance
// update, mirroring the transactional contract of the real store.
type MockAccountRepository struct {
	mu       sync.Mutex
	Accounts map[string]*domain.Account
	Entries  []domain.LedgerEntry
	seenRefs map[string]bool

	GrantErr error
	DebitErr error
}

func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{
		Accounts: make(map[string]*domain.Account),
		seenRefs: make(map[string]bool),
	}
}

// AddAccount seeds an account with a starting balance.
func (m *MockAccountRepository) AddAccount(id string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts[id] = &domain.Account{ID: id, Balance: balance, IsActive: true, CreatedAt: time.Now().UTC()}
}

func (m *MockAccountRepository) Create(ctx context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := &domain.Account{
		ID:        fmt.Sprintf("acct-%d", len(m.Accounts)+1),
		Email:     email,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	m.Accounts[acct.ID] = acct
	cp := *acct
	return &cp, nil
}

func (m *MockAccountRepository) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.Accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MockAccountRepository) Deactivate(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.Accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	acct.IsActive = false
	return nil
}

func (m *MockAccountRepository) Grant(ctx context.Context, p domain.GrantParams) (domain.PostResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GrantErr != nil {
		return domain.PostResult{}, m.GrantErr
	}
	acct, ok := m.Accounts[p.AccountID]
	if !ok {
		return domain.PostResult{}, domain.ErrAccountNotFound
	}
	if m.seenRefs[p.ExternalReference] {
		return domain.PostResult{Applied: false, Duplicate: true, Balance: acct.Balance}, nil
	}
	m.seenRefs[p.ExternalReference] = true
	acct.Balance += p.Credits
	m.Entries = append(m.Entries, domain.LedgerEntry{
		ID:                fmt.Sprintf("entry-%d", len(m.Entries)+1),
		AccountID:         p.AccountID,
		Credits:           p.Credits,
		CostEstimateUSD:   p.CostPaidUSD,
		ExternalReference: p.ExternalReference,
		Description:       p.Description,
		CreatedAt:         time.Now().UTC(),
	})
	return domain.PostResult{Applied: true, Balance: acct.Balance}, nil
}

func (m *MockAccountRepository) Debit(ctx context.Context, p domain.DebitParams) (domain.PostResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DebitErr != nil {
		return domain.PostResult{}, m.DebitErr
	}
	acct, ok := m.Accounts[p.AccountID]
	if !ok {
		return domain.PostResult{}, domain.ErrAccountNotFound
	}
	if m.seenRefs[p.ExternalReference] {
		return domain.PostResult{Applied: false, Duplicate: true, Balance: acct.Balance}, nil
	}
	if acct.Balance < p.Credits {
		return domain.PostResult{Applied: false, Balance: acct.Balance, Deficit: p.Credits - acct.Balance}, nil
	}
	m.seenRefs[p.ExternalReference] = true
	acct.Balance -= p.Credits
	m.Entries = append(m.Entries, domain.LedgerEntry{
		ID:                fmt.Sprintf("entry-%d", len(m.Entries)+1),
		AccountID:         p.AccountID,
		AccessKey:         p.AccessKey,
		Credits:           -p.Credits,
		CostEstimateUSD:   p.CostEstimateUSD,
		ExternalReference: p.ExternalReference,
		Description:       p.Description,
		Usage:             p.Usage,
		CreatedAt:         time.Now().UTC(),
	})
	return domain.PostResult{Applied: true, Balance: acct.Balance}, nil
}

// MockLedgerRepository reads the entries committed through a
// MockAccountRepository, so replay always reflects the same log that
// moved the balances.
type MockLedgerRepository struct {
	Store    *MockAccountRepository
	QueryErr error
}

func (m *MockLedgerRepository) Query(ctx context.Context, f domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(m.Store.Entries) - 1; i >= 0; i-- {
		e := m.Store.Entries[i]
		if f.AccountID != "" && e.AccountID != f.AccountID {
			continue
		}
		if f.AccessKey != "" && e.AccessKey != f.AccessKey {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (m *MockLedgerRepository) Replay(ctx context.Context, accountID string) (int64, error) {
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	var sum int64
	for _, e := range m.Store.Entries {
		if e.AccountID == accountID {
			sum += e.Credits
		}
	}
	return sum, nil
}

func (m *MockLedgerRepository) ProviderBreakdown(ctx context.Context, accountID string, since time.Time) ([]domain.ProviderUsage, error) {
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	agg := make(map[string]*domain.ProviderUsage)
	for _, e := range m.Store.Entries {
		if e.AccountID != accountID || e.CreatedAt.Before(since) {
			continue
		}
		for _, u := range e.Usage {
			k := string(u.ServiceKind) + "/" + u.Provider
			pu, ok := agg[k]
			if !ok {
				pu = &domain.ProviderUsage{ServiceKind: u.ServiceKind, Provider: u.Provider}
				agg[k] = pu
			}
			pu.UsageCount++
			pu.TotalCredits += u.CreditsCharged
			pu.TotalCostUSD += u.CostEstimateUSD
		}
	}
	keys := make([]string, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.ProviderUsage, 0, len(agg))
	for _, k := range keys {
		out = append(out, *agg[k])
	}
	return out, nil
}

func (m *MockLedgerRepository) KeyBreakdown(ctx context.Context, accountID string, since time.Time) ([]domain.KeyUsage, error) {
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	agg := make(map[string]*domain.KeyUsage)
	for _, e := range m.Store.Entries {
		if e.AccountID != accountID || e.AccessKey == "" || e.CreatedAt.Before(since) {
			continue
		}
		ku, ok := agg[e.AccessKey]
		if !ok {
			ku = &domain.KeyUsage{AccessKey: e.AccessKey}
			agg[e.AccessKey] = ku
		}
		ku.Postings++
		ku.TotalCredits += -e.Credits
		ku.TotalCostUSD += e.CostEstimateUSD
	}
	keys := make([]string, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.KeyUsage, 0, len(agg))
	for _, k := range keys {
		out = append(out, *agg[k])
	}
	return out, nil
}

func (m *MockLedgerRepository) TopAccounts(ctx context.Context, since time.Time, limit int) ([]domain.AccountUsage, error) {
	m.Store.mu.Lock()
	defer m.Store.mu.Unlock()
	agg := make(map[string]*domain.AccountUsage)
	for _, e := range m.Store.Entries {
		if e.Credits >= 0 || e.CreatedAt.Before(since) {
			continue
		}
		au, ok := agg[e.AccountID]
		if !ok {
			au = &domain.AccountUsage{AccountID: e.AccountID}
			agg[e.AccountID] = au
		}
		au.Postings++
		au.TotalCredits += -e.Credits
	}
	out := make([]domain.AccountUsage, 0, len(agg))
	for _, au := range agg {
		out = append(out, *au)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalCredits != out[j].TotalCredits {
			return out[i].TotalCredits > out[j].TotalCredits
		}
		return out[i].AccountID < out[j].AccountID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MockWorkflowRepository keeps workflows in memory and settles them
// through a MockAccountRepository, preserving the settle-then-debit
// atomicity the postgres implementation provides in one transaction.
type MockWorkflowRepository struct {
	mu        sync.Mutex
	Workflows map[string]*domain.Workflow
	Accounts  *MockAccountRepository

	CreateErr error
	AppendErr error
}

func NewMockWorkflowRepository(accounts *MockAccountRepository) *MockWorkflowRepository {
	return &MockWorkflowRepository{
		Workflows: make(map[string]*domain.Workflow),
		Accounts:  accounts,
	}
}

func (m *MockWorkflowRepository) Create(ctx context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	cp := *wf
	m.Workflows[wf.ID] = &cp
	return nil
}

func (m *MockWorkflowRepository) Get(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.Workflows[workflowID]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	cp := *wf
	cp.Entries = append([]domain.ServiceUsage(nil), wf.Entries...)
	return &cp, nil
}

func (m *MockWorkflowRepository) AppendUsage(ctx context.Context, workflowID string, usage domain.ServiceUsage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return 0, m.AppendErr
	}
	wf, ok := m.Workflows[workflowID]
	if !ok || wf.Status != domain.WorkflowOpen {
		return 0, domain.ErrWorkflowNotFound
	}
	wf.Entries = append(wf.Entries, usage)
	wf.TotalCredits += usage.CreditsCharged
	wf.TotalCostUSD += usage.CostEstimateUSD
	return wf.TotalCredits, nil
}

func (m *MockWorkflowRepository) Settle(ctx context.Context, workflowID string, statusCode int, errorMessage string) (*domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.Workflows[workflowID]
	if !ok || wf.Status == domain.WorkflowVoid {
		return nil, domain.ErrWorkflowNotFound
	}
	if wf.Status == domain.WorkflowSettled {
		acct, _ := m.Accounts.Get(ctx, wf.AccountID)
		var balance int64
		if acct != nil {
			balance = acct.Balance
		}
		return &domain.Settlement{
			WorkflowID:   wf.ID,
			TotalCredits: wf.TotalCredits,
			TotalCostUSD: wf.TotalCostUSD,
			Entries:      append([]domain.ServiceUsage(nil), wf.Entries...),
			Charged:      wf.TotalCredits > 0,
			Balance:      balance,
			Duplicate:    true,
		}, nil
	}

	settlement := &domain.Settlement{
		WorkflowID:   wf.ID,
		TotalCredits: wf.TotalCredits,
		TotalCostUSD: wf.TotalCostUSD,
		Entries:      append([]domain.ServiceUsage(nil), wf.Entries...),
	}
	if len(wf.Entries) > 0 {
		total := wf.TotalCredits
		if total < 1 {
			total = 1
		}
		settlement.TotalCredits = total
		res, err := m.Accounts.Debit(ctx, domain.DebitParams{
			AccountID:         wf.AccountID,
			AccessKey:         wf.AccessKey,
			Credits:           total,
			ExternalReference: wf.ID,
			CostEstimateUSD:   wf.TotalCostUSD,
			Description:       "workflow settlement: " + wf.Name,
			Usage:             wf.Entries,
		})
		if err != nil {
			return nil, err
		}
		if !res.Applied && !res.Duplicate {
			return nil, &domain.InsufficientCreditsError{
				Current:  res.Balance,
				Required: total,
				Deficit:  res.Deficit,
			}
		}
		settlement.Charged = true
		settlement.Balance = res.Balance
		wf.TotalCredits = total
	} else if acct, _ := m.Accounts.Get(ctx, wf.AccountID); acct != nil {
		settlement.Balance = acct.Balance
	}

	now := time.Now().UTC()
	wf.Status = domain.WorkflowSettled
	wf.StatusCode = statusCode
	wf.ErrorMessage = errorMessage
	wf.ClosedAt = &now
	return settlement, nil
}

func (m *MockWorkflowRepository) Void(ctx context.Context, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.Workflows[workflowID]
	if !ok || wf.Status == domain.WorkflowSettled {
		return domain.ErrWorkflowNotFound
	}
	if wf.Status == domain.WorkflowVoid {
		return nil
	}
	now := time.Now().UTC()
	wf.Status = domain.WorkflowVoid
	wf.ClosedAt = &now
	return nil
}

func (m *MockWorkflowRepository) ReapStale(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reaped int64
	now := time.Now().UTC()
	for _, wf := range m.Workflows {
		if wf.Status == domain.WorkflowOpen && wf.OpenedAt.Before(cutoff) {
			wf.Status = domain.WorkflowVoid
			wf.ClosedAt = &now
			reaped++
		}
	}
	return reaped, nil
}

// MockKeyRepository is an in-memory domain.KeyRepository. Lookup
// returns the key row regardless of revocation; the use case decides
// validity.
type MockKeyRepository struct {
	mu   sync.Mutex
	Keys map[string]*domain.AccessKey

	InsertErr error
}

func NewMockKeyRepository() *MockKeyRepository {
	return &MockKeyRepository{Keys: make(map[string]*domain.AccessKey)}
}

func (m *MockKeyRepository) Insert(ctx context.Context, key *domain.AccessKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	cp := *key
	m.Keys[key.Key] = &cp
	return nil
}

func (m *MockKeyRepository) Revoke(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.Keys[key]
	if !ok {
		return domain.ErrInvalidKey
	}
	k.Revoked = true
	return nil
}

func (m *MockKeyRepository) CountActive(ctx context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, k := range m.Keys {
		if k.AccountID == accountID && !k.Revoked {
			count++
		}
	}
	return count, nil
}

func (m *MockKeyRepository) Lookup(ctx context.Context, key string) (*domain.AccessKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.Keys[key]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

// MockBalanceCache records cache traffic for assertions.
type MockBalanceCache struct {
	mu       sync.Mutex
	Balances map[string]int64
	Hits     int
	Misses   int
}

func NewMockBalanceCache() *MockBalanceCache {
	return &MockBalanceCache{Balances: make(map[string]int64)}
}

func (m *MockBalanceCache) Get(ctx context.Context, accountID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Balances[accountID]
	if ok {
		m.Hits++
	} else {
		m.Misses++
	}
	return b, ok
}

func (m *MockBalanceCache) Set(ctx context.Context, accountID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Balances[accountID] = balance
}

func (m *MockBalanceCache) Invalidate(ctx context.Context, accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Balances, accountID)
}
