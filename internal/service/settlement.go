package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sidverma/settlecore/internal/domain"
)

// maxBackoffShift caps the exponent so the delay multiplication cannot
// overflow a time.Duration.
const maxBackoffShift = 20

// Settler completes the second leg (clearing -> receiver) of posted
// transfers. Retry state lives on the transaction row, so a restart resumes
// exactly where the previous process stopped.
type Settler struct {
	store       Store
	ledger      LedgerAPI
	notifier    Notifier
	clearingRef string
	baseDelay   time.Duration
	maxAttempts int
	pollEvery   time.Duration
	batchSize   int
	claimLease  time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func NewSettler(store Store, ledgerAPI LedgerAPI, notifier Notifier, clearingRef string, baseDelay time.Duration, maxAttempts int, pollEvery time.Duration, log zerolog.Logger) *Settler {
	return &Settler{
		store:       store,
		ledger:      ledgerAPI,
		notifier:    notifier,
		clearingRef: clearingRef,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		pollEvery:   pollEvery,
		batchSize:   20,
		claimLease:  time.Minute,
		now:         time.Now,
		log:         log,
	}
}

// Run polls for due transactions until ctx is cancelled. Attempts started
// before cancellation run on a detached context and finish; losing track of
// whether an external call succeeded is worse than a slow shutdown.
func (s *Settler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(context.WithoutCancel(ctx))
		}
	}
}

// RunOnce claims one batch of due transactions and attempts to settle each.
// It returns the number of transactions processed.
func (s *Settler) RunOnce(ctx context.Context) int {
	due, err := s.store.ClaimDueTransactions(ctx, s.now(), s.batchSize, s.claimLease)
	if err != nil {
		s.log.Error().Err(err).Msg("claiming due transactions failed")
		return 0
	}
	for _, txn := range due {
		s.settle(ctx, txn)
	}
	return len(due)
}

func (s *Settler) settle(ctx context.Context, txn domain.Transaction) {
	to, err := s.store.GetAccount(ctx, txn.ToAccountID)
	if err != nil {
		s.recordFailure(ctx, txn, err)
		return
	}
	if to.ExternalRef == nil {
		s.recordFailure(ctx, txn, domain.ErrAccountNotLinked)
		return
	}

	now := s.now()
	conf, err := s.ledger.Transfer(ctx, s.clearingRef, *to.ExternalRef, txn.Amount, now)
	if err != nil {
		s.recordFailure(ctx, txn, err)
		return
	}

	if err := s.store.MarkTransactionCompleted(ctx, txn.ID, conf.ID, now); err != nil {
		// The external credit happened; reconciliation catches the local
		// gap if the status write was lost.
		s.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("completion write failed after leg 2")
	}
	if err := s.store.Credit(ctx, txn.ToAccountID, txn.Amount); err != nil {
		s.log.Error().Err(err).Str("account_id", txn.ToAccountID).Msg("local credit failed after leg 2")
	}

	txn.Status = domain.StatusCompleted
	txn.Leg2Ref = conf.ID
	txn.SettledAt = &now

	var receiverBal *decimal.Decimal
	if fresh, err := s.store.GetAccount(ctx, txn.ToAccountID); err == nil {
		receiverBal = &fresh.Balance
	}
	s.notifier.Publish(to.UserID, domain.Event{Type: domain.EventCompleted, Transaction: txn, Balance: receiverBal})
	s.notifier.Publish(txn.SenderUserID, domain.Event{Type: domain.EventSettled, Transaction: txn})

	settlementAttempts.WithLabelValues("completed").Inc()
	s.log.Info().
		Str("transaction_id", txn.ID).
		Int("retry_count", txn.RetryCount).
		Msg("transfer settled")
}

// recordFailure either reschedules the transaction with exponential backoff
// or, once the attempt budget is spent, parks it as failed. The sender has
// already been debited into the clearing account at this point; a failed
// transaction means funds stay parked there for manual follow-up, never an
// automatic reversal.
func (s *Settler) recordFailure(ctx context.Context, txn domain.Transaction, cause error) {
	failures := txn.RetryCount + 1

	if failures >= s.maxAttempts {
		if err := s.store.MarkTransactionFailed(ctx, txn.ID, failures, cause.Error()); err != nil {
			s.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("failure write failed")
			return
		}
		txn.Status = domain.StatusFailed
		txn.RetryCount = failures
		txn.LastError = cause.Error()

		if to, err := s.store.GetAccount(ctx, txn.ToAccountID); err == nil {
			s.notifier.Publish(to.UserID, domain.Event{Type: domain.EventFailed, Transaction: txn})
		}
		audit := domain.AuditEntry{
			ID:         uuid.NewString(),
			Actor:      "settler",
			Action:     domain.AuditActionSettlementParked,
			TargetType: "transaction",
			TargetID:   txn.ID,
			After:      txn.Amount.String() + " " + txn.Currency + " parked in clearing",
			CreatedAt:  s.now(),
		}
		if err := s.store.AppendAudit(ctx, &audit); err != nil {
			s.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("audit write failed")
		}

		settlementAttempts.WithLabelValues("exhausted").Inc()
		s.log.Error().
			Str("transaction_id", txn.ID).
			Int("attempts", failures).
			Str("last_error", cause.Error()).
			Msg("settlement retry budget exhausted, funds parked in clearing")
		return
	}

	delay := s.backoff(txn.RetryCount)
	next := s.now().Add(delay)
	if err := s.store.RescheduleTransaction(ctx, txn.ID, failures, next, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("transaction_id", txn.ID).Msg("reschedule write failed")
		return
	}

	settlementAttempts.WithLabelValues("retry").Inc()
	s.log.Warn().
		Str("transaction_id", txn.ID).
		Int("attempt", failures).
		Dur("next_in", delay).
		Err(cause).
		Msg("settlement attempt failed, rescheduled")
}

// backoff returns baseDelay * 2^priorFailures.
func (s *Settler) backoff(priorFailures int) time.Duration {
	shift := priorFailures
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return s.baseDelay * time.Duration(1<<uint(shift))
}
