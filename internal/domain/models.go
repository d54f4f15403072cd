package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the locally-owned record of one holder's balance. ExternalRef
// points at the corresponding account in the core-banking system and is nil
// until the account has been provisioned there.
type Account struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ExternalRef *string         `json:"external_ref,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	Currency    string          `json:"currency"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TransactionStatus is the settlement state of a transfer.
//
// A transaction is only persisted after the first leg (sender -> clearing)
// has committed against the external ledger, so PostedSent is the creation
// state. Completed and Failed are terminal.
type TransactionStatus string

const (
	StatusPostedSent TransactionStatus = "posted_sent"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
)

// Terminal reports whether no further settlement attempts will be made.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction records one money movement attempt. Retry state for the second
// leg (RetryCount, NextAttemptAt) lives on the row so settlement survives a
// process restart.
type Transaction struct {
	ID            string            `json:"id"`
	SenderUserID  string            `json:"sender_user_id"`
	FromAccountID string            `json:"from_account_id"`
	ToAccountID   string            `json:"to_account_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	Leg1Ref       string            `json:"leg1_ref,omitempty"`
	Leg2Ref       string            `json:"leg2_ref,omitempty"`
	Memo          string            `json:"memo,omitempty"`
	RetryCount    int               `json:"retry_count"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	LastError     string            `json:"last_error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	PostedAt      *time.Time        `json:"posted_at,omitempty"`
	SettledAt     *time.Time        `json:"settled_at,omitempty"`
}

// SyncJobStatus is the lifecycle state of an account refresh job.
type SyncJobStatus string

const (
	SyncPending    SyncJobStatus = "pending"
	SyncProcessing SyncJobStatus = "processing"
	SyncDone       SyncJobStatus = "done"
	SyncFailed     SyncJobStatus = "failed"
)

// SyncJob is one pending request to refresh a user's accounts from the
// external system. At most one pending or processing job exists per user;
// the store enforces this at enqueue time.
type SyncJob struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Status    SyncJobStatus `json:"status"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// AuditEntry is an append-only record of a reconciling or privileged action.
type AuditEntry struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	TargetType string    `json:"target_type"`
	TargetID   string    `json:"target_id"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Audit action kinds written by the settlement core.
const (
	AuditActionReconcile        = "reconcile_balance"
	AuditActionSettlementParked = "settlement_parked"
)

// EventType classifies a transaction lifecycle notification.
type EventType string

const (
	EventPosted    EventType = "posted"    // sender: leg 1 committed
	EventPending   EventType = "pending"   // receiver: incoming, awaiting settlement
	EventCompleted EventType = "completed" // receiver: leg 2 committed
	EventSettled   EventType = "settled"   // sender: leg 2 committed
	EventFailed    EventType = "failed"    // receiver: retry budget exhausted
)

// Event is a best-effort notification pushed to a user's live connections.
// Authoritative state is always re-derivable from the transaction store.
type Event struct {
	Type        EventType        `json:"type"`
	Transaction Transaction      `json:"transaction"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
}
