package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sidverma/settlecore/internal/domain"
	"github.com/sidverma/settlecore/internal/ledger"
)

// fakeStore is an in-memory stand-in for the Postgres store.
type fakeStore struct {
	mu           sync.Mutex
	accounts     map[string]*domain.Account
	transactions map[string]*domain.Transaction
	syncJobs     map[string]*domain.SyncJob
	audits       []domain.AuditEntry

	createTxErr error
	upsertErr   error

	// beforeSetBalance, when set, runs once before a SetBalanceIf compare,
	// letting tests race a concurrent writer against the update.
	beforeSetBalance func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*domain.Transaction),
		syncJobs:     make(map[string]*domain.SyncJob),
	}
}

func (f *fakeStore) addAccount(id, userID, externalRef, balance string) *domain.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := &domain.Account{
		ID:       id,
		UserID:   userID,
		Balance:  decimal.RequireFromString(balance),
		Currency: "USD",
	}
	if externalRef != "" {
		ref := externalRef
		acc.ExternalRef = &ref
	}
	f.accounts[id] = acc
	return acc
}

func (f *fakeStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (f *fakeStore) ListLinkedAccounts(ctx context.Context) ([]domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Account
	for _, acc := range f.accounts {
		if acc.ExternalRef != nil {
			out = append(out, *acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpsertExternalAccount(ctx context.Context, userID, externalRef, currency string, balance decimal.Decimal) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, acc := range f.accounts {
		if acc.ExternalRef != nil && *acc.ExternalRef == externalRef {
			acc.Balance = balance
			acc.Currency = currency
			return nil
		}
	}
	ref := externalRef
	id := "local-" + externalRef
	f.accounts[id] = &domain.Account{ID: id, UserID: userID, ExternalRef: &ref, Balance: balance, Currency: currency}
	return nil
}

func (f *fakeStore) DebitIfSufficient(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[accountID]
	if !ok || acc.Balance.LessThan(amount) {
		return false, nil
	}
	acc.Balance = acc.Balance.Sub(amount)
	return true, nil
}

func (f *fakeStore) Credit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	acc.Balance = acc.Balance.Add(amount)
	return nil
}

func (f *fakeStore) SetBalanceIf(ctx context.Context, accountID string, expected, next decimal.Decimal) (bool, error) {
	if hook := f.beforeSetBalance; hook != nil {
		f.beforeSetBalance = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[accountID]
	if !ok || !acc.Balance.Equal(expected) {
		return false, nil
	}
	acc.Balance = next
	return true, nil
}

func (f *fakeStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	if f.createTxErr != nil {
		return f.createTxErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.transactions[t.ID] = &cp
	return nil
}

func (f *fakeStore) getTransaction(id string) domain.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.transactions[id]
}

func (f *fakeStore) ClaimDueTransactions(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*domain.Transaction
	for _, t := range f.transactions {
		if t.Status == domain.StatusPostedSent && !t.NextAttemptAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	var out []domain.Transaction
	for _, t := range due {
		t.NextAttemptAt = now.Add(lease)
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeStore) MarkTransactionCompleted(ctx context.Context, id, leg2Ref string, settledAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[id]
	if !ok || t.Status != domain.StatusPostedSent {
		return nil
	}
	t.Status = domain.StatusCompleted
	t.Leg2Ref = leg2Ref
	t.SettledAt = &settledAt
	t.LastError = ""
	return nil
}

func (f *fakeStore) RescheduleTransaction(ctx context.Context, id string, retryCount int, nextAttempt time.Time, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[id]
	if !ok || t.Status != domain.StatusPostedSent {
		return nil
	}
	t.RetryCount = retryCount
	t.NextAttemptAt = nextAttempt
	t.LastError = lastErr
	return nil
}

func (f *fakeStore) MarkTransactionFailed(ctx context.Context, id string, retryCount int, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[id]
	if !ok || t.Status != domain.StatusPostedSent {
		return nil
	}
	t.Status = domain.StatusFailed
	t.RetryCount = retryCount
	t.LastError = lastErr
	return nil
}

func (f *fakeStore) EnqueueSyncJob(ctx context.Context, id, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.syncJobs {
		if j.UserID == userID && (j.Status == domain.SyncPending || j.Status == domain.SyncProcessing) {
			return false, nil
		}
	}
	f.syncJobs[id] = &domain.SyncJob{ID: id, UserID: userID, Status: domain.SyncPending, CreatedAt: time.Now()}
	return true, nil
}

func (f *fakeStore) ClaimPendingSyncJobs(ctx context.Context, limit int) ([]domain.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*domain.SyncJob
	for _, j := range f.syncJobs {
		if j.Status == domain.SyncPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	var out []domain.SyncJob
	for _, j := range pending {
		j.Status = domain.SyncProcessing
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeStore) MarkSyncJobDone(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncJobs[id].Status = domain.SyncDone
	return nil
}

func (f *fakeStore) RequeueSyncJob(ctx context.Context, id string, attempts int, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.syncJobs[id]
	j.Status = domain.SyncPending
	j.Attempts = attempts
	j.LastError = lastErr
	return nil
}

func (f *fakeStore) MarkSyncJobFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.syncJobs[id]
	j.Status = domain.SyncFailed
	j.Attempts = attempts
	j.LastError = lastErr
	return nil
}

func (f *fakeStore) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, *e)
	return nil
}

type transferCall struct {
	from, to string
	amount   decimal.Decimal
}

// fakeLedger simulates the external core-banking system. Transfer errors are
// scripted: each call pops the next entry of transferErrs (nil = success);
// an exhausted script always succeeds.
type fakeLedger struct {
	mu           sync.Mutex
	balances     map[string]decimal.Decimal
	owners       map[string]string
	transferErrs []error
	calls        []transferCall
	seq          int

	getErr  error
	listErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[string]decimal.Decimal),
		owners:   make(map[string]string),
	}
}

func (f *fakeLedger) setBalance(extID, ownerRef, balance string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[extID] = decimal.RequireFromString(balance)
	f.owners[extID] = ownerRef
}

func (f *fakeLedger) balance(extID string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[extID]
}

func (f *fakeLedger) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[id]
	if !ok {
		return nil, &ledger.APIError{Status: 404, Body: "no such account"}
	}
	return &ledger.Account{ID: id, OwnerRef: f.owners[id], Balance: bal, Currency: "USD"}, nil
}

func (f *fakeLedger) ListAccounts(ctx context.Context, ownerRef string) ([]ledger.Account, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.Account
	for id, owner := range f.owners {
		if owner == ownerRef {
			out = append(out, ledger.Account{ID: id, OwnerRef: owner, Balance: f.balances[id], Currency: "USD"})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeLedger) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, date time.Time) (*ledger.TransferConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transferCall{from: fromID, to: toID, amount: amount})
	if len(f.transferErrs) > 0 {
		err := f.transferErrs[0]
		f.transferErrs = f.transferErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.balances[fromID] = f.balances[fromID].Sub(amount)
	f.balances[toID] = f.balances[toID].Add(amount)
	f.seq++
	return &ledger.TransferConfirmation{ID: fmt.Sprintf("ext-tx-%d", f.seq), Status: "settled"}, nil
}

func (f *fakeLedger) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type published struct {
	userID string
	event  domain.Event
}

// fakeNotifier records published events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []published
}

func (f *fakeNotifier) Publish(userID string, evt domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{userID: userID, event: evt})
}

func (f *fakeNotifier) byType(t domain.EventType) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.events {
		if p.event.Type == t {
			out = append(out, p)
		}
	}
	return out
}
