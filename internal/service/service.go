// Package service holds the settlement core: the synchronous transfer path,
// the second-leg settler, the reconciliation job and the sync queue worker.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sidverma/settlecore/internal/domain"
	"github.com/sidverma/settlecore/internal/ledger"
)

// Store is the slice of the local account store the settlement core uses.
// *store.Store satisfies it; tests use in-memory fakes.
type Store interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListLinkedAccounts(ctx context.Context) ([]domain.Account, error)
	UpsertExternalAccount(ctx context.Context, userID, externalRef, currency string, balance decimal.Decimal) error
	DebitIfSufficient(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal) error
	SetBalanceIf(ctx context.Context, accountID string, expected, next decimal.Decimal) (bool, error)

	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	ClaimDueTransactions(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.Transaction, error)
	MarkTransactionCompleted(ctx context.Context, id, leg2Ref string, settledAt time.Time) error
	RescheduleTransaction(ctx context.Context, id string, retryCount int, nextAttempt time.Time, lastErr string) error
	MarkTransactionFailed(ctx context.Context, id string, retryCount int, lastErr string) error

	EnqueueSyncJob(ctx context.Context, id, userID string) (bool, error)
	ClaimPendingSyncJobs(ctx context.Context, limit int) ([]domain.SyncJob, error)
	MarkSyncJobDone(ctx context.Context, id string) error
	RequeueSyncJob(ctx context.Context, id string, attempts int, lastErr string) error
	MarkSyncJobFailed(ctx context.Context, id string, attempts int, lastErr string) error

	AppendAudit(ctx context.Context, e *domain.AuditEntry) error
}

// LedgerAPI is the external core-banking surface the core calls.
type LedgerAPI interface {
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)
	ListAccounts(ctx context.Context, ownerRef string) ([]ledger.Account, error)
	Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, date time.Time) (*ledger.TransferConfirmation, error)
}

// Notifier pushes lifecycle events to a user's live connections.
type Notifier interface {
	Publish(userID string, evt domain.Event)
}
