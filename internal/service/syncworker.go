package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sidverma/settlecore/internal/domain"
)

// SyncWorker pulls full account snapshots from the external system on
// demand. Enqueueing is idempotent per user; processing is a polling loop
// that tolerates the external system being down indefinitely.
type SyncWorker struct {
	store       Store
	ledger      LedgerAPI
	pollEvery   time.Duration
	batchSize   int
	maxAttempts int
	log         zerolog.Logger
}

func NewSyncWorker(store Store, ledgerAPI LedgerAPI, pollEvery time.Duration, batchSize, maxAttempts int, log zerolog.Logger) *SyncWorker {
	return &SyncWorker{
		store:       store,
		ledger:      ledgerAPI,
		pollEvery:   pollEvery,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Enqueue requests a refresh of the user's accounts. While a job for the
// user is already pending or processing the call is a no-op and reports
// accepted=false.
func (w *SyncWorker) Enqueue(ctx context.Context, userID string) (bool, error) {
	created, err := w.store.EnqueueSyncJob(ctx, uuid.NewString(), userID)
	if err != nil {
		return false, fmt.Errorf("enqueue sync job: %w", err)
	}
	if created {
		w.log.Debug().Str("user_id", userID).Msg("sync job enqueued")
	}
	return created, nil
}

// Run polls for pending jobs until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(context.WithoutCancel(ctx))
		}
	}
}

// RunOnce claims one bounded batch of pending jobs and processes each. It
// returns the number of jobs processed.
func (w *SyncWorker) RunOnce(ctx context.Context) int {
	jobs, err := w.store.ClaimPendingSyncJobs(ctx, w.batchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("claiming sync jobs failed")
		return 0
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
	return len(jobs)
}

func (w *SyncWorker) process(ctx context.Context, job domain.SyncJob) {
	accounts, err := w.ledger.ListAccounts(ctx, job.UserID)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	for _, ext := range accounts {
		if err := w.store.UpsertExternalAccount(ctx, job.UserID, ext.ID, ext.Currency, ext.Balance); err != nil {
			w.fail(ctx, job, fmt.Errorf("upsert account %s: %w", ext.ID, err))
			return
		}
	}

	if err := w.store.MarkSyncJobDone(ctx, job.ID); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("sync job completion write failed")
		return
	}
	syncJobsProcessed.WithLabelValues("done").Inc()
	w.log.Info().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Int("accounts", len(accounts)).
		Msg("account sync finished")
}

// fail either requeues the job for a later cycle or parks it as failed once
// the attempt budget is spent. Jobs are never silently dropped.
func (w *SyncWorker) fail(ctx context.Context, job domain.SyncJob, cause error) {
	attempts := job.Attempts + 1

	if attempts >= w.maxAttempts {
		if err := w.store.MarkSyncJobFailed(ctx, job.ID, attempts, cause.Error()); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("sync job failure write failed")
			return
		}
		syncJobsProcessed.WithLabelValues("failed").Inc()
		w.log.Error().
			Str("job_id", job.ID).
			Str("user_id", job.UserID).
			Int("attempts", attempts).
			Err(cause).
			Msg("sync job attempts exhausted")
		return
	}

	if err := w.store.RequeueSyncJob(ctx, job.ID, attempts, cause.Error()); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("sync job requeue write failed")
		return
	}
	syncJobsProcessed.WithLabelValues("requeued").Inc()
	w.log.Warn().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Int("attempt", attempts).
		Err(cause).
		Msg("sync job failed, requeued")
}
