// Package client talks to a ledgerd node over JSON-RPC and its websocket
// event feed.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"token-ledger/internal/api"
	"token-ledger/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrNoKey is returned by write methods on a client without a signing key.
var ErrNoKey = errors.New("client has no signing key")

// HTTPClient calls the ledger JSON-RPC endpoint.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64

	key ed25519.PrivateKey
	now func() time.Time
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithKey sets the key that signs write requests. The caller is its public
// key.
func WithKey(key ed25519.PrivateKey) ClientOption {
	return func(c *HTTPClient) {
		c.key = key
	}
}

// WithClock overrides the clock used to stamp issuedAt.
func WithClock(now func() time.Time) ClientOption {
	return func(c *HTTPClient) {
		c.now = now
	}
}

// NewHTTPClient creates a new ledger RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Caller returns the address writes are signed as.
func (c *HTTPClient) Caller() (domain.Address, error) {
	if c.key == nil {
		return domain.ZeroAddress, ErrNoKey
	}
	return AddressOf(c.key), nil
}

// call performs a JSON-RPC call with retries and exponential backoff. Signed
// calls carry the caller and signature headers. A retried write resends the
// same signed body, so the server applies it at most once.
func (c *HTTPClient) call(ctx context.Context, method string, params any, result any, signed bool) error {
	var rawParams json.RawMessage
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		rawParams = p
	}
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(api.Request{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var caller, signature string
	if signed {
		if c.key == nil {
			return ErrNoKey
		}
		caller, signature = api.Sign(c.key, body)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if signed {
			req.Header.Set(api.HeaderCaller, caller)
			req.Header.Set(api.HeaderSignature, signature)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp api.Response
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *HTTPClient) signed() api.Signed {
	return api.Signed{IssuedAt: c.now().UnixMilli()}
}

// write performs a signed call and decodes the committed events.
func (c *HTTPClient) write(ctx context.Context, method string, params any) ([]*domain.Event, error) {
	var result api.WriteResult
	if err := c.call(ctx, method, params, &result, true); err != nil {
		return nil, err
	}
	return decodeEvents(result.Events)
}

func decodeEvents(wire []*api.Event) ([]*domain.Event, error) {
	out := make([]*domain.Event, 0, len(wire))
	for _, e := range wire {
		d, err := e.Domain()
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", e.Seq, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Balance returns the balance of addr in base units.
func (c *HTTPClient) Balance(ctx context.Context, addr domain.Address) (*domain.Amount, error) {
	var result api.BalanceResult
	if err := c.call(ctx, "getBalance", api.AddressParams{Address: addr.String()}, &result, false); err != nil {
		return nil, err
	}
	return domain.ParseAmount(result.Amount)
}

// Allowance returns what spender may still move from owner.
func (c *HTTPClient) Allowance(ctx context.Context, owner, spender domain.Address) (*domain.Amount, error) {
	var result api.BalanceResult
	params := api.AllowanceParams{Owner: owner.String(), Spender: spender.String()}
	if err := c.call(ctx, "getAllowance", params, &result, false); err != nil {
		return nil, err
	}
	return domain.ParseAmount(result.Amount)
}

// Supply returns supply figures and the current mint window.
func (c *HTTPClient) Supply(ctx context.Context) (*api.SupplyResult, error) {
	var result api.SupplyResult
	if err := c.call(ctx, "getSupply", nil, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// Policy returns the active tax policy and fee recipient.
func (c *HTTPClient) Policy(ctx context.Context) (*api.PolicyResult, error) {
	var result api.PolicyResult
	if err := c.call(ctx, "getPolicy", nil, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// PendingTax returns the pending tax proposal, or nil.
func (c *HTTPClient) PendingTax(ctx context.Context) (*api.PendingTaxResult, error) {
	var result *api.PendingTaxResult
	if err := c.call(ctx, "getPendingTax", nil, &result, false); err != nil {
		return nil, err
	}
	return result, nil
}

// PendingMint returns the pending mint proposal, or nil.
func (c *HTTPClient) PendingMint(ctx context.Context) (*api.PendingMintResult, error) {
	var result *api.PendingMintResult
	if err := c.call(ctx, "getPendingMint", nil, &result, false); err != nil {
		return nil, err
	}
	return result, nil
}

// Governance returns the governance identity.
func (c *HTTPClient) Governance(ctx context.Context) (domain.Address, error) {
	var result api.GovernanceResult
	if err := c.call(ctx, "getGovernance", nil, &result, false); err != nil {
		return domain.ZeroAddress, err
	}
	if result.Governance == "" {
		return domain.ZeroAddress, nil
	}
	return domain.ParseAddress(result.Governance)
}

// Pools returns the registered pools.
func (c *HTTPClient) Pools(ctx context.Context) ([]domain.Address, error) {
	var result []string
	if err := c.call(ctx, "getPools", nil, &result, false); err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(result))
	for _, s := range result {
		a, err := domain.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Events returns committed events with seq in [from, to]. Zero to means the
// latest event.
func (c *HTTPClient) Events(ctx context.Context, from, to uint64, limit int) ([]*domain.Event, error) {
	var result []*api.Event
	params := api.EventsParams{FromSeq: from, ToSeq: to, Limit: limit}
	if err := c.call(ctx, "getEvents", params, &result, false); err != nil {
		return nil, err
	}
	return decodeEvents(result)
}

// AccountEvents returns the most recent events touching addr, oldest first.
func (c *HTTPClient) AccountEvents(ctx context.Context, addr domain.Address, limit int) ([]*domain.Event, error) {
	var result []*api.Event
	params := api.EventsParams{Account: addr.String(), Limit: limit}
	if err := c.call(ctx, "getEvents", params, &result, false); err != nil {
		return nil, err
	}
	return decodeEvents(result)
}

// TaxTotals returns daily tax aggregates for [start, end), unix ms.
func (c *HTTPClient) TaxTotals(ctx context.Context, start, end int64) ([]*domain.TaxTotal, error) {
	var result []*api.TaxTotal
	if err := c.call(ctx, "getTaxTotals", api.TaxTotalsParams{Start: start, End: end}, &result, false); err != nil {
		return nil, err
	}
	out := make([]*domain.TaxTotal, 0, len(result))
	for _, t := range result {
		total := &domain.TaxTotal{Day: t.Day, Transfers: t.Transfers}
		var err error
		if total.Collected, err = domain.ParseAmount(t.Collected); err != nil {
			return nil, err
		}
		if total.Burned, err = domain.ParseAmount(t.Burned); err != nil {
			return nil, err
		}
		if total.Volume, err = domain.ParseAmount(t.Volume); err != nil {
			return nil, err
		}
		out = append(out, total)
	}
	return out, nil
}

// Transfer moves amount from the caller to to.
func (c *HTTPClient) Transfer(ctx context.Context, to domain.Address, amount *domain.Amount) ([]*domain.Event, error) {
	return c.write(ctx, "transfer", api.TransferParams{
		Signed: c.signed(), To: to.String(), Amount: amount.Dec(),
	})
}

// TransferFrom moves amount from from to to using the caller's allowance.
func (c *HTTPClient) TransferFrom(ctx context.Context, from, to domain.Address, amount *domain.Amount) ([]*domain.Event, error) {
	return c.write(ctx, "transferFrom", api.TransferFromParams{
		Signed: c.signed(), From: from.String(), To: to.String(), Amount: amount.Dec(),
	})
}

// Approve sets the allowance of spender over the caller's balance.
func (c *HTTPClient) Approve(ctx context.Context, spender domain.Address, amount *domain.Amount) ([]*domain.Event, error) {
	return c.write(ctx, "approve", api.ApproveParams{
		Signed: c.signed(), Spender: spender.String(), Amount: amount.Dec(),
	})
}

// Burn destroys amount of the caller's balance.
func (c *HTTPClient) Burn(ctx context.Context, amount *domain.Amount) ([]*domain.Event, error) {
	return c.write(ctx, "burn", api.BurnParams{Signed: c.signed(), Amount: amount.Dec()})
}

// ProposeTax queues a new tax policy behind the timelock.
func (c *HTTPClient) ProposeTax(ctx context.Context, policy domain.TaxPolicy) ([]*domain.Event, error) {
	return c.write(ctx, "proposeTax", api.ProposeTaxParams{Signed: c.signed(), Policy: policy})
}

// ApplyTax activates the pending tax policy.
func (c *HTTPClient) ApplyTax(ctx context.Context) ([]*domain.Event, error) {
	return c.write(ctx, "applyTax", c.signed())
}

// CancelTax discards the pending tax policy.
func (c *HTTPClient) CancelTax(ctx context.Context) ([]*domain.Event, error) {
	return c.write(ctx, "cancelTax", c.signed())
}

// ProposeMint queues a mint behind the mint delay.
func (c *HTTPClient) ProposeMint(ctx context.Context, recipient domain.Address, amount *domain.Amount) ([]*domain.Event, error) {
	return c.write(ctx, "proposeMint", api.ProposeMintParams{
		Signed: c.signed(), Recipient: recipient.String(), Amount: amount.Dec(),
	})
}

// ExecuteMint mints the pending proposal.
func (c *HTTPClient) ExecuteMint(ctx context.Context) ([]*domain.Event, error) {
	return c.write(ctx, "executeMint", c.signed())
}

// CancelMint discards the pending mint.
func (c *HTTPClient) CancelMint(ctx context.Context) ([]*domain.Event, error) {
	return c.write(ctx, "cancelMint", c.signed())
}

// AddPool registers pool.
func (c *HTTPClient) AddPool(ctx context.Context, pool domain.Address) ([]*domain.Event, error) {
	return c.write(ctx, "addPool", api.PoolParams{Signed: c.signed(), Pool: pool.String()})
}

// RemovePool unregisters pool.
func (c *HTTPClient) RemovePool(ctx context.Context, pool domain.Address) ([]*domain.Event, error) {
	return c.write(ctx, "removePool", api.PoolParams{Signed: c.signed(), Pool: pool.String()})
}

// SetFeeRecipient changes where collected tax goes. domain.BurnAddress selects
// burn mode.
func (c *HTTPClient) SetFeeRecipient(ctx context.Context, recipient domain.Address) ([]*domain.Event, error) {
	return c.write(ctx, "setFeeRecipient", api.FeeRecipientParams{Signed: c.signed(), Recipient: recipient.String()})
}

// SetGovernance hands governance to next.
func (c *HTTPClient) SetGovernance(ctx context.Context, next domain.Address) ([]*domain.Event, error) {
	return c.write(ctx, "setGovernance", api.GovernanceParams{Signed: c.signed(), Governance: next.String()})
}
