package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config carries every knob the service reads from the environment.
// The clearing account id is injected here and passed to the transfer and
// settlement components at construction time; nothing reads it at call time.
type Config struct {
	DBSource string
	Port     string
	Env      string

	// Core-banking API.
	CoreBaseURL  string
	CoreUser     string
	CorePassword string
	CoreTenantID string
	CoreTimeout  time.Duration

	// External account reference of the clearing account all transfers
	// route through.
	ClearingAccountRef string

	// Second-leg settlement.
	SettleInitialDelay time.Duration
	SettleBaseDelay    time.Duration
	SettleMaxAttempts  int
	SettlePollEvery    time.Duration

	// Reconciliation.
	ReconcileEvery     time.Duration
	ReconcileTolerance decimal.Decimal

	// Sync queue worker.
	SyncPollEvery   time.Duration
	SyncBatchSize   int
	SyncMaxAttempts int
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	coreURL := os.Getenv("CORE_API_URL")
	if coreURL == "" {
		return nil, fmt.Errorf("CORE_API_URL environment variable is required")
	}

	clearing := os.Getenv("CLEARING_ACCOUNT_REF")
	if clearing == "" {
		return nil, fmt.Errorf("CLEARING_ACCOUNT_REF environment variable is required")
	}

	tolerance, err := decimal.NewFromString(envOr("RECONCILE_TOLERANCE", "0.01"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONCILE_TOLERANCE: %w", err)
	}

	cfg := &Config{
		DBSource: dbSource,
		Port:     envOr("SERVER_PORT", "8080"),
		Env:      envOr("ENVIRONMENT", "development"),

		CoreBaseURL:  coreURL,
		CoreUser:     os.Getenv("CORE_API_USER"),
		CorePassword: os.Getenv("CORE_API_PASSWORD"),
		CoreTenantID: os.Getenv("CORE_TENANT_ID"),
		CoreTimeout:  envDuration("CORE_API_TIMEOUT", 10*time.Second),

		ClearingAccountRef: clearing,

		SettleInitialDelay: envDuration("SETTLE_INITIAL_DELAY", 5*time.Second),
		SettleBaseDelay:    envDuration("SETTLE_BASE_DELAY", 10*time.Second),
		SettleMaxAttempts:  envInt("SETTLE_MAX_ATTEMPTS", 6),
		SettlePollEvery:    envDuration("SETTLE_POLL_EVERY", time.Second),

		ReconcileEvery:     envDuration("RECONCILE_EVERY", 15*time.Minute),
		ReconcileTolerance: tolerance,

		SyncPollEvery:   envDuration("SYNC_POLL_EVERY", 2*time.Second),
		SyncBatchSize:   envInt("SYNC_BATCH_SIZE", 10),
		SyncMaxAttempts: envInt("SYNC_MAX_ATTEMPTS", 5),
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
