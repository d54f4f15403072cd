package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sidverma/settlecore/internal/domain"
)

// TransferService is the synchronous transfer request path. It validates,
// performs the first settlement leg (sender -> clearing) inline, persists
// the transaction and leaves the second leg to the settler.
type TransferService struct {
	store        Store
	ledger       LedgerAPI
	notifier     Notifier
	clearingRef  string
	initialDelay time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

func NewTransferService(store Store, ledgerAPI LedgerAPI, notifier Notifier, clearingRef string, initialDelay time.Duration, log zerolog.Logger) *TransferService {
	return &TransferService{
		store:        store,
		ledger:       ledgerAPI,
		notifier:     notifier,
		clearingRef:  clearingRef,
		initialDelay: initialDelay,
		now:          time.Now,
		log:          log,
	}
}

// TransferResult is returned to the caller once the first leg has committed.
type TransferResult struct {
	Transaction   domain.Transaction `json:"transaction"`
	SenderBalance decimal.Decimal    `json:"sender_balance"`
}

// Transfer validates and executes the first leg of a transfer. It returns
// only after leg 1 has succeeded against the external ledger, or fails with
// no observable partial state. Leg 2 runs asynchronously.
func (s *TransferService) Transfer(ctx context.Context, callerUserID, fromAccountID, toAccountID string, amount decimal.Decimal, memo string) (*TransferResult, error) {
	if !amount.IsPositive() {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrInvalidAmount
	}
	if fromAccountID == toAccountID {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrSelfTransfer
	}

	from, err := s.store.GetAccount(ctx, fromAccountID)
	if err != nil {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if from.UserID != callerUserID {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrNotAccountOwner
	}

	to, err := s.store.GetAccount(ctx, toAccountID)
	if err != nil {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if s.clearingRef == "" {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrClearingUnconfigured
	}
	if from.ExternalRef == nil {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrAccountNotLinked
	}
	// The owner lookup above read the balance fresh; no cached value is
	// consulted.
	if from.Balance.LessThan(amount) {
		transfersTotal.WithLabelValues("rejected").Inc()
		return nil, domain.ErrInsufficientFunds
	}

	now := s.now()

	// Leg 1: sender -> clearing, inline. If this fails the whole request
	// fails and no transaction row exists.
	conf, err := s.ledger.Transfer(ctx, *from.ExternalRef, s.clearingRef, amount, now)
	if err != nil {
		transfersTotal.WithLabelValues("leg1_failed").Inc()
		return nil, fmt.Errorf("first settlement leg: %w", err)
	}

	// From here on the sender has been debited externally; everything below
	// must leave enough of a trail to recover from.
	if ok, err := s.store.DebitIfSufficient(ctx, fromAccountID, amount); err != nil {
		s.log.Error().Err(err).Str("account_id", fromAccountID).Msg("local debit failed after leg 1")
	} else if !ok {
		// A concurrent transfer won the conditional update. Reconciliation
		// will realign the local balance with the external one.
		s.log.Warn().Str("account_id", fromAccountID).Msg("local debit skipped, balance changed concurrently")
	}

	postedAt := now
	txn := domain.Transaction{
		ID:            uuid.NewString(),
		SenderUserID:  callerUserID,
		FromAccountID: fromAccountID,
		ToAccountID:   toAccountID,
		Amount:        amount,
		Currency:      from.Currency,
		Status:        domain.StatusPostedSent,
		Leg1Ref:       conf.ID,
		Memo:          memo,
		NextAttemptAt: now.Add(s.initialDelay),
		CreatedAt:     now,
		PostedAt:      &postedAt,
	}
	if err := s.store.CreateTransaction(ctx, &txn); err != nil {
		transfersTotal.WithLabelValues("error").Inc()
		s.log.Error().Err(err).
			Str("leg1_ref", conf.ID).
			Str("from_account_id", fromAccountID).
			Msg("transaction insert failed after leg 1 committed, manual recovery required")
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	result := &TransferResult{Transaction: txn}
	if fresh, err := s.store.GetAccount(ctx, fromAccountID); err == nil {
		result.SenderBalance = fresh.Balance
	} else {
		result.SenderBalance = from.Balance.Sub(amount)
	}

	senderBal := result.SenderBalance
	s.notifier.Publish(callerUserID, domain.Event{Type: domain.EventPosted, Transaction: txn, Balance: &senderBal})
	s.notifier.Publish(to.UserID, domain.Event{Type: domain.EventPending, Transaction: txn})

	transfersTotal.WithLabelValues("posted").Inc()
	s.log.Info().
		Str("transaction_id", txn.ID).
		Str("from_account_id", fromAccountID).
		Str("to_account_id", toAccountID).
		Str("amount", amount.String()).
		Msg("transfer posted")

	return result, nil
}
