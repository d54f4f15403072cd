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

// Report summarizes one reconciliation run. Per-account failures accumulate
// here instead of aborting the batch.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Checked    int       `json:"checked"`
	Synced     int       `json:"synced"`
	Errors     []string  `json:"errors,omitempty"`
}

// Reconciler detects and corrects drift between the local account store and
// the external ledger. The external balance is always authoritative.
type Reconciler struct {
	store     Store
	ledger    LedgerAPI
	tolerance decimal.Decimal
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

func NewReconciler(store Store, ledgerAPI LedgerAPI, tolerance decimal.Decimal, interval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		ledger:    ledgerAPI,
		tolerance: tolerance,
		interval:  interval,
		now:       time.Now,
		log:       log,
	}
}

// RunEvery runs reconciliation on the configured interval until ctx is
// cancelled.
func (r *Reconciler) RunEvery(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := r.Run(context.WithoutCancel(ctx))
			r.log.Info().
				Int("checked", report.Checked).
				Int("synced", report.Synced).
				Int("errors", len(report.Errors)).
				Msg("reconciliation run finished")
		}
	}
}

// Run walks every account with an external reference, compares balances
// within the configured tolerance and overwrites local drift from the
// external value. Every correction is recorded in the audit log.
func (r *Reconciler) Run(ctx context.Context) *Report {
	report := &Report{StartedAt: r.now()}
	defer func() {
		report.FinishedAt = r.now()
		reconcileRuns.Inc()
	}()

	accounts, err := r.store.ListLinkedAccounts(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list accounts: %v", err))
		return report
	}

	for _, acc := range accounts {
		report.Checked++
		corrected, err := r.reconcileAccount(ctx, acc)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("account %s: %v", acc.ID, err))
			continue
		}
		if corrected {
			report.Synced++
		}
	}
	return report
}

func (r *Reconciler) reconcileAccount(ctx context.Context, acc domain.Account) (bool, error) {
	ext, err := r.ledger.GetAccount(ctx, *acc.ExternalRef)
	if err != nil {
		return false, fmt.Errorf("external lookup: %w", err)
	}

	diff := acc.Balance.Sub(ext.Balance).Abs()
	if diff.LessThanOrEqual(r.tolerance) {
		return false, nil
	}

	ok, err := r.store.SetBalanceIf(ctx, acc.ID, acc.Balance, ext.Balance)
	if err != nil {
		return false, fmt.Errorf("balance overwrite: %w", err)
	}
	if !ok {
		// Balance moved under us; the next run re-checks from fresh reads.
		return false, fmt.Errorf("balance changed concurrently, skipped")
	}

	audit := domain.AuditEntry{
		ID:         uuid.NewString(),
		Actor:      "reconciler",
		Action:     domain.AuditActionReconcile,
		TargetType: "account",
		TargetID:   acc.ID,
		Before:     acc.Balance.String(),
		After:      ext.Balance.String(),
		CreatedAt:  r.now(),
	}
	if err := r.store.AppendAudit(ctx, &audit); err != nil {
		return true, fmt.Errorf("audit write: %w", err)
	}

	reconcileCorrections.Inc()
	r.log.Warn().
		Str("account_id", acc.ID).
		Str("local", acc.Balance.String()).
		Str("external", ext.Balance.String()).
		Msg("balance drift corrected from external ledger")
	return true, nil
}
