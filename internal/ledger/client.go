// Package ledger is a typed facade over the external core-banking HTTP API.
// It holds no state beyond connection settings; every call is one HTTP round
// trip authenticated with basic auth plus a tenant header.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the external system's view of an account.
type Account struct {
	ID       string          `json:"id"`
	OwnerRef string          `json:"owner_ref"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// TransferConfirmation is the external system's acknowledgement of a
// completed transfer leg.
type TransferConfirmation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DepositConfirmation acknowledges a direct deposit.
type DepositConfirmation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// APIError is a non-2xx response from the core-banking system. 4xx means the
// request was rejected by business rules and retrying is pointless; 5xx is
// transient.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("core-banking API returned %d: %s", e.Status, e.Body)
}

// Retryable reports whether err is worth retrying: network/timeout failures
// and 5xx responses are; 4xx rejections are not.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	// Anything that never produced an HTTP status is a transport failure.
	return err != nil
}

type Client struct {
	baseURL  string
	user     string
	password string
	tenantID string
	http     *http.Client
}

func New(baseURL, user, password, tenantID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		user:     user,
		password: password,
		tenantID: tenantID,
		http:     &http.Client{Timeout: timeout},
	}
}

// GetAccount fetches one external account, including its current balance.
func (c *Client) GetAccount(ctx context.Context, id string) (*Account, error) {
	var acc Account
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(id), nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// ListAccounts fetches every external account owned by ownerRef.
func (c *Client) ListAccounts(ctx context.Context, ownerRef string) ([]Account, error) {
	var accs []Account
	path := "/accounts?owner=" + url.QueryEscape(ownerRef)
	if err := c.do(ctx, http.MethodGet, path, nil, &accs); err != nil {
		return nil, err
	}
	return accs, nil
}

// Transfer moves amount between two external accounts. The external system
// does not deduplicate by reference, so callers must treat a retried call
// after an unacknowledged success as a possible double-credit; the
// reconciliation job exists partly to catch that.
func (c *Client) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, date time.Time) (*TransferConfirmation, error) {
	body := map[string]any{
		"fromAccountId": fromID,
		"toAccountId":   toID,
		"amount":        amount,
		"date":          date.UTC().Format("2006-01-02"),
	}
	var conf TransferConfirmation
	if err := c.do(ctx, http.MethodPost, "/transfers", body, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Deposit credits amount directly to an external account.
func (c *Client) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, date time.Time) (*DepositConfirmation, error) {
	body := map[string]any{
		"amount": amount,
		"date":   date.UTC().Format("2006-01-02"),
	}
	var conf DepositConfirmation
	path := "/accounts/" + url.PathEscape(accountID) + "/deposits"
	if err := c.do(ctx, http.MethodPost, path, body, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("X-Tenant-ID", c.tenantID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("core-banking request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
