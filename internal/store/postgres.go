// Package store is the local account store: Postgres-backed records of
// accounts, transactions, sync jobs and the audit log. Balance mutations are
// single-row, compare-based updates; no cross-account database transaction
// is assumed anywhere.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sidverma/settlecore/internal/domain"
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

const accountCols = `id, user_id, external_ref, balance::text, currency, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	var balance string
	err := row.Scan(&acc.ID, &acc.UserID, &acc.ExternalRef, &balance, &acc.Currency, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	acc.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("bad balance for account %s: %w", acc.ID, err)
	}
	return &acc, nil
}

// GetAccount retrieves a single account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.Db.QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// ListAccountsByUser returns all accounts owned by a user.
func (s *Store) ListAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error) {
	rows, err := s.Db.Query(ctx, `SELECT `+accountCols+` FROM accounts WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListLinkedAccounts returns every account with an external reference, the
// population the reconciliation job walks.
func (s *Store) ListLinkedAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.Db.Query(ctx, `SELECT `+accountCols+` FROM accounts WHERE external_ref IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	var accs []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accs = append(accs, *acc)
	}
	return accs, rows.Err()
}

// UpsertExternalAccount writes the external system's snapshot of an account
// into the local store, keyed by external reference.
func (s *Store) UpsertExternalAccount(ctx context.Context, userID, externalRef, currency string, balance decimal.Decimal) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO accounts (id, user_id, external_ref, balance, currency, created_at, updated_at)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, now(), now())
		ON CONFLICT (external_ref) DO UPDATE
		SET balance = EXCLUDED.balance, currency = EXCLUDED.currency, updated_at = now()`,
		userID, externalRef, balance.String(), currency)
	return err
}

// DebitIfSufficient subtracts amount from an account's balance only when the
// current balance covers it, and reports whether the update matched.
func (s *Store) DebitIfSufficient(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error) {
	tag, err := s.Db.Exec(ctx,
		`UPDATE accounts SET balance = balance - $1, updated_at = now() WHERE id = $2 AND balance >= $1`,
		amount.String(), accountID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Credit adds amount to an account's balance.
func (s *Store) Credit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	tag, err := s.Db.Exec(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE id = $2`,
		amount.String(), accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// SetBalanceIf overwrites an account's balance only if it still holds the
// value the caller read, and reports whether the update matched.
func (s *Store) SetBalanceIf(ctx context.Context, accountID string, expected, next decimal.Decimal) (bool, error) {
	tag, err := s.Db.Exec(ctx,
		`UPDATE accounts SET balance = $1, updated_at = now() WHERE id = $2 AND balance = $3`,
		next.String(), accountID, expected.String())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const txCols = `id, sender_user_id, from_account_id, to_account_id, amount::text, currency, status,
	coalesce(leg1_ref, ''), coalesce(leg2_ref, ''), coalesce(memo, ''), retry_count, next_attempt_at,
	coalesce(last_error, ''), created_at, posted_at, settled_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var amount string
	err := row.Scan(&t.ID, &t.SenderUserID, &t.FromAccountID, &t.ToAccountID, &amount, &t.Currency,
		&t.Status, &t.Leg1Ref, &t.Leg2Ref, &t.Memo, &t.RetryCount, &t.NextAttemptAt,
		&t.LastError, &t.CreatedAt, &t.PostedAt, &t.SettledAt)
	if err != nil {
		return nil, err
	}
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount for transaction %s: %w", t.ID, err)
	}
	return &t, nil
}

// CreateTransaction persists a transaction. The caller only builds one after
// the first settlement leg has committed, so rows are born in posted_sent.
func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO transactions
			(id, sender_user_id, from_account_id, to_account_id, amount, currency, status,
			 leg1_ref, memo, retry_count, next_attempt_at, created_at, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.SenderUserID, t.FromAccountID, t.ToAccountID, t.Amount.String(), t.Currency,
		t.Status, t.Leg1Ref, t.Memo, t.RetryCount, t.NextAttemptAt, t.CreatedAt, t.PostedAt)
	return err
}

// GetTransaction retrieves one transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.Db.QueryRow(ctx, `SELECT `+txCols+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// ListTransactionsForUser returns transactions the user sent or received,
// newest first.
func (s *Store) ListTransactionsForUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx, `
		SELECT `+txCols+` FROM transactions t
		WHERE t.sender_user_id = $1
		   OR t.to_account_id IN (SELECT id FROM accounts WHERE user_id = $1)
		ORDER BY t.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ClaimDueTransactions picks up to limit posted_sent transactions whose next
// attempt is due, pushing next_attempt_at forward by lease so a crashed
// worker's claims come due again instead of being lost.
func (s *Store) ClaimDueTransactions(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx, `
		UPDATE transactions SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM transactions
			WHERE status = 'posted_sent' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+txCols, now, now.Add(lease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// MarkTransactionCompleted finalizes a settled transaction.
func (s *Store) MarkTransactionCompleted(ctx context.Context, id, leg2Ref string, settledAt time.Time) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE transactions SET status = 'completed', leg2_ref = $2, settled_at = $3, last_error = NULL
		 WHERE id = $1 AND status = 'posted_sent'`,
		id, leg2Ref, settledAt)
	return err
}

// RescheduleTransaction records a failed second-leg attempt and the time of
// the next one.
func (s *Store) RescheduleTransaction(ctx context.Context, id string, retryCount int, nextAttempt time.Time, lastErr string) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE transactions SET retry_count = $2, next_attempt_at = $3, last_error = $4
		 WHERE id = $1 AND status = 'posted_sent'`,
		id, retryCount, nextAttempt, lastErr)
	return err
}

// MarkTransactionFailed parks a transaction whose retry budget is exhausted.
func (s *Store) MarkTransactionFailed(ctx context.Context, id string, retryCount int, lastErr string) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE transactions SET status = 'failed', retry_count = $2, last_error = $3
		 WHERE id = $1 AND status = 'posted_sent'`,
		id, retryCount, lastErr)
	return err
}

// EnqueueSyncJob inserts a pending sync job for the user unless one is
// already pending or processing, and reports whether a row was created.
func (s *Store) EnqueueSyncJob(ctx context.Context, id, userID string) (bool, error) {
	tag, err := s.Db.Exec(ctx, `
		INSERT INTO sync_jobs (id, user_id, status, attempts, created_at, updated_at)
		SELECT $1, $2, 'pending', 0, now(), now()
		WHERE NOT EXISTS (
			SELECT 1 FROM sync_jobs WHERE user_id = $2 AND status IN ('pending', 'processing')
		)`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const syncJobCols = `id, user_id, status, attempts, coalesce(last_error, ''), created_at, updated_at`

// ClaimPendingSyncJobs transitions up to limit pending jobs to processing
// and returns them.
func (s *Store) ClaimPendingSyncJobs(ctx context.Context, limit int) ([]domain.SyncJob, error) {
	rows, err := s.Db.Query(ctx, `
		UPDATE sync_jobs SET status = 'processing', updated_at = now()
		WHERE id IN (
			SELECT id FROM sync_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+syncJobCols, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.SyncJob
	for rows.Next() {
		var j domain.SyncJob
		if err := rows.Scan(&j.ID, &j.UserID, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkSyncJobDone finalizes a successful sync job.
func (s *Store) MarkSyncJobDone(ctx context.Context, id string) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE sync_jobs SET status = 'done', updated_at = now() WHERE id = $1`, id)
	return err
}

// RequeueSyncJob returns a failed job to pending for a later cycle.
func (s *Store) RequeueSyncJob(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE sync_jobs SET status = 'pending', attempts = $2, last_error = $3, updated_at = now() WHERE id = $1`,
		id, attempts, lastErr)
	return err
}

// MarkSyncJobFailed parks a job that exhausted its attempts.
func (s *Store) MarkSyncJobFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE sync_jobs SET status = 'failed', attempts = $2, last_error = $3, updated_at = now() WHERE id = $1`,
		id, attempts, lastErr)
	return err
}

// AppendAudit writes one append-only audit entry. Entries are never updated
// or deleted.
func (s *Store) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO audit_log (id, actor, action, target_type, target_id, before_value, after_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Actor, e.Action, e.TargetType, e.TargetID, e.Before, e.After, e.CreatedAt)
	return err
}
