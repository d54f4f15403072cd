package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sidverma/settlecore/internal/domain"
)

func newReconciler(fs *fakeStore, fl *fakeLedger) *Reconciler {
	r := NewReconciler(fs, fl, decimal.RequireFromString("0.01"), time.Minute, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestReconciler_WithinToleranceNoUpdate(t *testing.T) {
	fs := newFakeStore()
	fl := newFakeLedger()
	fs.addAccount("acc-1", "alice", "ext-1", "100.00")
	fl.setBalance("ext-1", "alice", "100.009")

	report := newReconciler(fs, fl).Run(context.Background())

	if report.Checked != 1 || report.Synced != 0 {
		t.Errorf("report = checked %d synced %d, want 1/0", report.Checked, report.Synced)
	}
	if len(report.Errors) != 0 {
		t.Errorf("report errors = %v, want none", report.Errors)
	}
	if bal := fs.accounts["acc-1"].Balance; !bal.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("local balance = %s, want unchanged 100.00", bal)
	}
	if len(fs.audits) != 0 {
		t.Errorf("audit entries = %d, want 0", len(fs.audits))
	}
}

func TestReconciler_CorrectsDriftBeyondTolerance(t *testing.T) {
	fs := newFakeStore()
	fl := newFakeLedger()
	fs.addAccount("acc-1", "alice", "ext-1", "100.00")
	fl.setBalance("ext-1", "alice", "100.02")

	report := newReconciler(fs, fl).Run(context.Background())

	if report.Checked != 1 || report.Synced != 1 {
		t.Errorf("report = checked %d synced %d, want 1/1", report.Checked, report.Synced)
	}
	if bal := fs.accounts["acc-1"].Balance; !bal.Equal(decimal.RequireFromString("100.02")) {
		t.Errorf("local balance = %s, want overwritten to 100.02", bal)
	}

	if len(fs.audits) != 1 {
		t.Fatalf("audit entries = %d, want exactly 1", len(fs.audits))
	}
	audit := fs.audits[0]
	if audit.Action != domain.AuditActionReconcile {
		t.Errorf("audit action = %s, want %s", audit.Action, domain.AuditActionReconcile)
	}
	if audit.Before != "100" && audit.Before != "100.00" {
		t.Errorf("audit before = %s, want local value", audit.Before)
	}
	if audit.After != "100.02" {
		t.Errorf("audit after = %s, want 100.02", audit.After)
	}
	if audit.TargetID != "acc-1" {
		t.Errorf("audit target = %s, want acc-1", audit.TargetID)
	}

	// External balance is never written back to.
	if ext := fl.balance("ext-1"); !ext.Equal(decimal.RequireFromString("100.02")) {
		t.Errorf("external balance mutated to %s", ext)
	}
}

func TestReconciler_PerAccountErrorsDoNotAbortRun(t *testing.T) {
	fs := newFakeStore()
	fl := newFakeLedger()
	// acc-1's external counterpart is missing; acc-2 has drifted.
	fs.addAccount("acc-1", "alice", "ext-missing", "100.00")
	fs.addAccount("acc-2", "bob", "ext-2", "40.00")
	fl.setBalance("ext-2", "bob", "55.00")

	report := newReconciler(fs, fl).Run(context.Background())

	if report.Checked != 2 {
		t.Errorf("checked = %d, want 2", report.Checked)
	}
	if report.Synced != 1 {
		t.Errorf("synced = %d, want 1", report.Synced)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly 1", report.Errors)
	}
	if bal := fs.accounts["acc-2"].Balance; !bal.Equal(decimal.RequireFromString("55.00")) {
		t.Errorf("acc-2 balance = %s, want corrected 55.00", bal)
	}
}

func TestReconciler_SkipsConcurrentlyChangedBalance(t *testing.T) {
	fs := newFakeStore()
	fl := newFakeLedger()
	fs.addAccount("acc-1", "alice", "ext-1", "100.00")
	fl.setBalance("ext-1", "alice", "150.00")

	// A concurrent writer lands between the reconciler's read and its
	// compare-based update; the correction is skipped, not forced.
	fs.beforeSetBalance = func() {
		fs.mu.Lock()
		fs.accounts["acc-1"].Balance = decimal.RequireFromString("90.00")
		fs.mu.Unlock()
	}

	report := newReconciler(fs, fl).Run(context.Background())
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v, want the skipped account recorded", report.Errors)
	}
	if len(fs.audits) != 0 {
		t.Error("audit written for a skipped correction")
	}
}
