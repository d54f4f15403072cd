package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sidverma/settlecore/internal/domain"
	"github.com/sidverma/settlecore/internal/ledger"
	"github.com/sidverma/settlecore/internal/notify"
	"github.com/sidverma/settlecore/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settle_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settle_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Transfers is the synchronous transfer path the handler calls into.
type Transfers interface {
	Transfer(ctx context.Context, callerUserID, fromAccountID, toAccountID string, amount decimal.Decimal, memo string) (*service.TransferResult, error)
}

// Directory reads accounts and transactions for the caller.
type Directory interface {
	ListAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error)
	ListTransactionsForUser(ctx context.Context, userID string) ([]domain.Transaction, error)
}

// Syncer accepts on-demand account refresh requests.
type Syncer interface {
	Enqueue(ctx context.Context, userID string) (bool, error)
}

type Handler struct {
	transfers Transfers
	directory Directory
	syncer    Syncer
	events    *notify.WSHandler
	log       zerolog.Logger
}

func NewHandler(transfers Transfers, directory Directory, syncer Syncer, events *notify.WSHandler, log zerolog.Logger) *Handler {
	return &Handler{
		transfers: transfers,
		directory: directory,
		syncer:    syncer,
		events:    events,
		log:       log,
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateTransferRequest is the payload from the client.
type CreateTransferRequest struct {
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo"`
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	ident, ok := identityFrom(r.Context())
	if !ok {
		h.respond(w, "POST", "/transfers", http.StatusUnauthorized, errorBody("Missing identity"))
		return
	}

	var req CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/transfers", http.StatusBadRequest, errorBody("Malformed JSON body"))
		return
	}

	result, err := h.transfers.Transfer(r.Context(), ident.UserID, req.FromAccountID, req.ToAccountID, req.Amount, req.Memo)
	if err != nil {
		h.respondTransferError(w, err)
		return
	}

	h.respond(w, "POST", "/transfers", http.StatusCreated, map[string]any{
		"transaction_id": result.Transaction.ID,
		"transaction":    result.Transaction,
		"sender_balance": result.SenderBalance,
	})
}

func (h *Handler) respondTransferError(w http.ResponseWriter, err error) {
	var apiErr *ledger.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		h.respond(w, "POST", "/transfers", http.StatusUnprocessableEntity, errorBody("Positive amount required"))
	case errors.Is(err, domain.ErrSelfTransfer):
		h.respond(w, "POST", "/transfers", http.StatusUnprocessableEntity, errorBody("Self-transfer not allowed"))
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.respond(w, "POST", "/transfers", http.StatusUnprocessableEntity, errorBody("Insufficient funds"))
	case errors.Is(err, domain.ErrNotAccountOwner):
		h.respond(w, "POST", "/transfers", http.StatusForbidden, errorBody("Account not owned by caller"))
	case errors.Is(err, domain.ErrAccountNotFound):
		h.respond(w, "POST", "/transfers", http.StatusNotFound, errorBody("Account not found"))
	case errors.Is(err, domain.ErrAccountNotLinked):
		h.respond(w, "POST", "/transfers", http.StatusConflict, errorBody("Account not provisioned externally"))
	case errors.Is(err, domain.ErrClearingUnconfigured):
		h.respond(w, "POST", "/transfers", http.StatusServiceUnavailable, errorBody("Clearing account not configured"))
	case errors.As(err, &apiErr):
		h.log.Error().Err(err).Msg("core-banking rejected first leg")
		h.respond(w, "POST", "/transfers", http.StatusBadGateway, errorBody("Core-banking system rejected the transfer"))
	default:
		h.log.Error().Err(err).Msg("transfer failed")
		h.respond(w, "POST", "/transfers", http.StatusInternalServerError, errorBody("Internal Server Error"))
	}
}

func (h *Handler) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		h.respond(w, "GET", "/accounts", http.StatusUnauthorized, errorBody("Missing identity"))
		return
	}

	accounts, err := h.directory.ListAccountsByUser(r.Context(), ident.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("listing accounts failed")
		h.respond(w, "GET", "/accounts", http.StatusInternalServerError, errorBody("Internal Server Error"))
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	h.respond(w, "GET", "/accounts", http.StatusOK, accounts)
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		h.respond(w, "GET", "/transactions", http.StatusUnauthorized, errorBody("Missing identity"))
		return
	}

	txs, err := h.directory.ListTransactionsForUser(r.Context(), ident.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("listing transactions failed")
		h.respond(w, "GET", "/transactions", http.StatusInternalServerError, errorBody("Internal Server Error"))
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	h.respond(w, "GET", "/transactions", http.StatusOK, txs)
}

func (h *Handler) TriggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		h.respond(w, "POST", "/sync", http.StatusUnauthorized, errorBody("Missing identity"))
		return
	}

	accepted, err := h.syncer.Enqueue(r.Context(), ident.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("sync enqueue failed")
		h.respond(w, "POST", "/sync", http.StatusInternalServerError, errorBody("Internal Server Error"))
		return
	}
	h.respond(w, "POST", "/sync", http.StatusAccepted, map[string]bool{"accepted": accepted})
}

// EventsHandler upgrades the connection and streams the caller's
// transaction lifecycle events.
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		h.respond(w, "GET", "/events", http.StatusUnauthorized, errorBody("Missing identity"))
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/events", "101").Inc()
	h.events.Serve(w, r, ident.UserID)
}

func (h *Handler) respond(w http.ResponseWriter, method, endpoint string, code int, payload any) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
