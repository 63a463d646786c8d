package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-ledger/internal/domain"
	"token-ledger/internal/ledger"
	"token-ledger/internal/node"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage/memory"
)

var testNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testKey(seed byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
}

func addressOf(key ed25519.PrivateKey) domain.Address {
	var a domain.Address
	copy(a[:], key.Public().(ed25519.PublicKey))
	return a
}

type testEnv struct {
	server  *httptest.Server
	node    *node.Node
	metrics *observability.Metrics

	govKey, aliceKey, bobKey ed25519.PrivateKey
	gov, alice, bob          domain.Address
	pool, treasury           domain.Address

	issued int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		govKey:   testKey(1),
		aliceKey: testKey(2),
		bobKey:   testKey(3),
	}
	e.gov, e.alice, e.bob = addressOf(e.govKey), addressOf(e.aliceKey), addressOf(e.bobKey)
	e.pool = addressOf(testKey(4))
	e.treasury = addressOf(testKey(6))

	params := ledger.DefaultParams()
	params.InitialSupply = domain.Tokens(1000)
	params.MaxSupply = ledger.MaxSupplyFor(params.InitialSupply)
	params.MintPeriodCap = domain.Tokens(100)
	opts := ledger.Options{Params: params, Clock: func() time.Time { return testNow }}
	g := ledger.Genesis{
		Governance: e.gov,
		Allocations: []ledger.Allocation{
			{Holder: e.alice, Amount: domain.Tokens(600)},
			{Holder: e.bob, Amount: domain.Tokens(400)},
		},
		Policy:       domain.DefaultTaxPolicy(),
		FeeRecipient: e.treasury,
		Pools:        []domain.Address{e.pool},
	}

	ctx := context.Background()
	store := memory.NewLedgerStore()
	l, err := node.Bootstrap(ctx, store, opts, g)
	require.NoError(t, err)

	e.metrics = observability.NewMetrics("test", prometheus.NewRegistry())
	e.node, err = node.New(node.Options{Ledger: l, Store: store, Metrics: e.metrics})
	require.NoError(t, err)

	srv, err := NewServer(Options{
		Node:    e.node,
		Metrics: e.metrics,
		Now:     func() time.Time { return testNow },
	})
	require.NoError(t, err)
	e.server = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		e.server.Close()
		e.node.Close()
	})
	return e
}

func requestBody(t *testing.T, method string, params any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)
	return body
}

func (e *testEnv) post(t *testing.T, body []byte, header http.Header) *Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

// read calls an unsigned method and decodes its result.
func (e *testEnv) read(t *testing.T, method string, params any, result any) *Response {
	t.Helper()
	resp := e.post(t, requestBody(t, method, params), nil)
	if resp.Error == nil && result != nil {
		require.NoError(t, json.Unmarshal(resp.Result, result))
	}
	return resp
}

func signedHeader(key ed25519.PrivateKey, body []byte) http.Header {
	caller, sig := Sign(key, body)
	h := http.Header{}
	h.Set(HeaderCaller, caller)
	h.Set(HeaderSignature, sig)
	return h
}

// write signs params with key. issuedAt follows the server clock and is
// unique per call so identical writes are not rejected as replays.
func (e *testEnv) write(t *testing.T, key ed25519.PrivateKey, method string, params map[string]any) *Response {
	t.Helper()
	if params == nil {
		params = map[string]any{}
	}
	e.issued++
	params["issuedAt"] = testNow.UnixMilli() + e.issued
	body := requestBody(t, method, params)
	return e.post(t, body, signedHeader(key, body))
}

func TestServer_ReadMethods(t *testing.T) {
	e := newTestEnv(t)

	var bal BalanceResult
	resp := e.read(t, "getBalance", map[string]any{"address": e.alice.String()}, &bal)
	require.Nil(t, resp.Error)
	assert.Equal(t, domain.Tokens(600).Dec(), bal.Amount)
	assert.Equal(t, "600", bal.Tokens)

	var supply SupplyResult
	resp = e.read(t, "getSupply", nil, &supply)
	require.Nil(t, resp.Error)
	assert.Equal(t, domain.Tokens(1000).Dec(), supply.TotalSupply)
	assert.Equal(t, domain.Tokens(10000).Dec(), supply.MaxSupply)
	assert.Equal(t, domain.Tokens(100).Dec(), supply.MintPeriodCap)

	var policy PolicyResult
	resp = e.read(t, "getPolicy", nil, &policy)
	require.Nil(t, resp.Error)
	assert.Equal(t, domain.DefaultTaxPolicy(), policy.Policy)
	assert.Equal(t, e.treasury.String(), policy.FeeRecipient)
	assert.False(t, policy.BurnMode)

	var pools []string
	resp = e.read(t, "getPools", nil, &pools)
	require.Nil(t, resp.Error)
	assert.Equal(t, []string{e.pool.String()}, pools)

	var gov GovernanceResult
	resp = e.read(t, "getGovernance", nil, &gov)
	require.Nil(t, resp.Error)
	assert.Equal(t, e.gov.String(), gov.Governance)

	resp = e.read(t, "getPendingTax", nil, nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, "null", string(resp.Result))

	var allowance BalanceResult
	resp = e.read(t, "getAllowance", map[string]any{"owner": e.alice.String(), "spender": e.bob.String()}, &allowance)
	require.Nil(t, resp.Error)
	assert.Equal(t, "0", allowance.Amount)
}

func TestServer_SignedTransfer(t *testing.T) {
	e := newTestEnv(t)

	resp := e.write(t, e.aliceKey, "transfer", map[string]any{
		"to":     e.bob.String(),
		"amount": domain.Tokens(100).Dec(),
	})
	require.Nil(t, resp.Error)

	var result WriteResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Events, 1)
	ev := result.Events[0]
	assert.Equal(t, "TRANSFER", ev.Kind)
	assert.Equal(t, e.alice.String(), ev.Actor)
	assert.Equal(t, domain.Tokens(1).Dec(), ev.Tax)
	assert.Equal(t, "COLLECTED", ev.Disposition)

	back, err := ev.Domain()
	require.NoError(t, err)
	assert.Equal(t, e.bob, back.To)
	assert.True(t, domain.Tokens(99).Eq(back.Net))

	var bal BalanceResult
	e.read(t, "getBalance", map[string]any{"address": e.bob.String()}, &bal)
	assert.Equal(t, "499", bal.Tokens)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.RPCRequests.WithLabelValues("transfer", "ok")))
}

func TestServer_Authentication(t *testing.T) {
	e := newTestEnv(t)
	params := func(issuedAt int64) []byte {
		return requestBody(t, "transfer", map[string]any{
			"to": e.bob.String(), "amount": "1", "issuedAt": issuedAt,
		})
	}
	now := testNow.UnixMilli()

	t.Run("missing headers", func(t *testing.T) {
		resp := e.post(t, params(now), nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeUnauthenticated, resp.Error.Code)
	})

	t.Run("signature from another key", func(t *testing.T) {
		body := params(now + 1)
		h := signedHeader(e.bobKey, body)
		h.Set(HeaderCaller, e.alice.String())
		resp := e.post(t, body, h)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeUnauthenticated, resp.Error.Code)
	})

	t.Run("off-curve caller", func(t *testing.T) {
		body := params(now + 2)
		h := signedHeader(e.aliceKey, body)
		h.Set(HeaderCaller, domain.BurnAddress.String())
		resp := e.post(t, body, h)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeUnauthenticated, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, ErrCallerOffCurve.Error())
	})

	t.Run("stale", func(t *testing.T) {
		body := params(now - (10 * time.Minute).Milliseconds())
		resp := e.post(t, body, signedHeader(e.aliceKey, body))
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeUnauthenticated, resp.Error.Code)
	})

	t.Run("replay", func(t *testing.T) {
		body := params(now + 3)
		h := signedHeader(e.aliceKey, body)
		resp := e.post(t, body, h)
		require.Nil(t, resp.Error)

		resp = e.post(t, body, h)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeUnauthenticated, resp.Error.Code)
	})

	t.Run("tampered body", func(t *testing.T) {
		body := params(now + 4)
		h := signedHeader(e.aliceKey, body)
		resp := e.post(t, params(now+5), h)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeUnauthenticated, resp.Error.Code)
	})
}

func TestServer_LedgerErrorCodes(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name   string
		key    ed25519.PrivateKey
		method string
		params map[string]any
		code   int
		kind   string
	}{
		{
			name:   "non-governance proposal",
			key:    e.aliceKey,
			method: "proposeTax",
			params: map[string]any{"policy": map[string]any{"transfer": 50, "sell": 50, "buy": 0}},
			code:   CodeAuthorization,
			kind:   "authorization",
		},
		{
			name:   "rate above cap",
			key:    e.govKey,
			method: "proposeTax",
			params: map[string]any{"policy": map[string]any{"transfer": 600, "sell": 0, "buy": 0}},
			code:   CodeValidation,
			kind:   "validation",
		},
		{
			name:   "apply without proposal",
			key:    e.govKey,
			method: "applyTax",
			code:   CodeState,
			kind:   "state",
		},
		{
			name:   "insufficient balance",
			key:    e.aliceKey,
			method: "transfer",
			params: map[string]any{"to": e.bob.String(), "amount": domain.Tokens(10_000).Dec()},
			code:   CodeResource,
			kind:   "resource",
		},
		{
			name:   "pool registered twice",
			key:    e.govKey,
			method: "addPool",
			params: map[string]any{"pool": e.pool.String()},
			code:   CodeState,
			kind:   "state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.write(t, tt.key, tt.method, tt.params)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			require.NotNil(t, resp.Error.Data)
			assert.Equal(t, tt.kind, resp.Error.Data.Kind)
		})
	}
}

func TestServer_GovernanceFlow(t *testing.T) {
	e := newTestEnv(t)

	resp := e.write(t, e.govKey, "proposeTax", map[string]any{
		"policy": map[string]any{"transfer": 50, "sell": 200, "buy": 100},
	})
	require.Nil(t, resp.Error)

	var pending PendingTaxResult
	resp = e.read(t, "getPendingTax", nil, &pending)
	require.Nil(t, resp.Error)
	assert.Equal(t, domain.TaxPolicy{Transfer: 50, Sell: 200, Buy: 100}, pending.Policy)
	assert.Equal(t, testNow.Add(ledger.DefaultTaxDelay).UnixMilli(), pending.EffectiveAt)

	resp = e.write(t, e.govKey, "cancelTax", nil)
	require.Nil(t, resp.Error)

	resp = e.write(t, e.govKey, "setFeeRecipient", map[string]any{"recipient": "burn"})
	require.Nil(t, resp.Error)
	var policy PolicyResult
	e.read(t, "getPolicy", nil, &policy)
	assert.True(t, policy.BurnMode)

	resp = e.write(t, e.govKey, "proposeMint", map[string]any{
		"recipient": e.alice.String(),
		"amount":    domain.Tokens(50).Dec(),
	})
	require.Nil(t, resp.Error)
	var mint PendingMintResult
	e.read(t, "getPendingMint", nil, &mint)
	assert.Equal(t, e.alice.String(), mint.Recipient)
	assert.Equal(t, domain.Tokens(50).Dec(), mint.Amount)

	resp = e.write(t, e.govKey, "executeMint", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeState, resp.Error.Code)

	resp = e.write(t, e.govKey, "removePool", map[string]any{"pool": e.pool.String()})
	require.Nil(t, resp.Error)
	var pools []string
	e.read(t, "getPools", nil, &pools)
	assert.Empty(t, pools)

	resp = e.write(t, e.govKey, "setGovernance", map[string]any{"governance": e.bob.String()})
	require.Nil(t, resp.Error)
	var gov GovernanceResult
	e.read(t, "getGovernance", nil, &gov)
	assert.Equal(t, e.bob.String(), gov.Governance)
}

func TestServer_AllowanceFlow(t *testing.T) {
	e := newTestEnv(t)

	resp := e.write(t, e.aliceKey, "approve", map[string]any{
		"spender": e.bob.String(),
		"amount":  domain.Tokens(50).Dec(),
	})
	require.Nil(t, resp.Error)

	resp = e.write(t, e.bobKey, "transferFrom", map[string]any{
		"from":   e.alice.String(),
		"to":     e.bob.String(),
		"amount": domain.Tokens(20).Dec(),
	})
	require.Nil(t, resp.Error)

	var allowance BalanceResult
	e.read(t, "getAllowance", map[string]any{"owner": e.alice.String(), "spender": e.bob.String()}, &allowance)
	assert.Equal(t, "30", allowance.Tokens)

	resp = e.write(t, e.bobKey, "burn", map[string]any{"amount": domain.Tokens(10).Dec()})
	require.Nil(t, resp.Error)
	var supply SupplyResult
	e.read(t, "getSupply", nil, &supply)
	assert.Equal(t, domain.Tokens(990).Dec(), supply.TotalSupply)
}

func TestServer_ProtocolErrors(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.server.URL + "/rpc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	unknown := e.metrics.RPCRequests.WithLabelValues("unknown", "invalid")

	out := e.post(t, []byte("{not json"), nil)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeParseError, out.Error.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(unknown))

	out = e.post(t, []byte(`{"jsonrpc":"1.0","id":1,"method":"getSupply"}`), nil)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeInvalidRequest, out.Error.Code)
	assert.Equal(t, 2.0, testutil.ToFloat64(unknown))

	out = e.read(t, "getNothing", nil, nil)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeMethodNotFound, out.Error.Code)
	assert.Equal(t, 3.0, testutil.ToFloat64(unknown))

	out = e.read(t, "getBalance", map[string]any{"address": "not-base58!"}, nil)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeInvalidParams, out.Error.Code)

	out = e.read(t, "getBalance", map[string]any{"address": e.alice.String(), "extra": 1}, nil)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeInvalidParams, out.Error.Code)

	out = e.read(t, "getTaxTotals", map[string]any{"start": 0, "end": 1}, nil)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeUnavailable, out.Error.Code)

	// Known methods are never folded into the unknown label.
	assert.Equal(t, 3.0, testutil.ToFloat64(unknown))
}

func TestServer_GetEvents(t *testing.T) {
	e := newTestEnv(t)

	for i := 0; i < 3; i++ {
		resp := e.write(t, e.aliceKey, "transfer", map[string]any{
			"to":     e.bob.String(),
			"amount": domain.Tokens(1).Dec(),
		})
		require.Nil(t, resp.Error)
	}

	var all []*Event
	resp := e.read(t, "getEvents", nil, &all)
	require.Nil(t, resp.Error)
	require.NotEmpty(t, all)
	assert.Equal(t, uint64(1), all[0].Seq)
	for i := 1; i < len(all); i++ {
		assert.Equal(t, all[i-1].Seq+1, all[i].Seq)
	}
	last := all[len(all)-1].Seq

	var window []*Event
	resp = e.read(t, "getEvents", map[string]any{"fromSeq": last - 1, "limit": 1}, &window)
	require.Nil(t, resp.Error)
	require.Len(t, window, 1)
	assert.Equal(t, last-1, window[0].Seq)

	var recent []*Event
	resp = e.read(t, "getEvents", map[string]any{"account": e.treasury.String(), "limit": 2}, &recent)
	require.Nil(t, resp.Error)
	require.Len(t, recent, 2)
	assert.Equal(t, last, recent[1].Seq)
}

func TestServer_GetEventsDefaultLimit(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 3; i++ {
		resp := e.write(t, e.aliceKey, "transfer", map[string]any{
			"to":     e.bob.String(),
			"amount": domain.Tokens(1).Dec(),
		})
		require.Nil(t, resp.Error)
	}

	srv, err := NewServer(Options{Node: e.node, Now: func() time.Time { return testNow }, EventsLimit: 2})
	require.NoError(t, err)
	limited := *e
	limited.server = httptest.NewServer(srv.Handler())
	defer limited.server.Close()

	var page []*Event
	resp := limited.read(t, "getEvents", nil, &page)
	require.Nil(t, resp.Error)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(1), page[0].Seq)
	assert.Equal(t, uint64(2), page[1].Seq)

	resp = limited.read(t, "getEvents", map[string]any{"fromSeq": 3}, &page)
	require.Nil(t, resp.Error)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(3), page[0].Seq)

	// An explicit limit overrides the default.
	resp = limited.read(t, "getEvents", map[string]any{"limit": 4}, &page)
	require.Nil(t, resp.Error)
	assert.Len(t, page, 4)

	resp = limited.read(t, "getEvents", map[string]any{"account": e.alice.String()}, &page)
	require.Nil(t, resp.Error)
	assert.Len(t, page, 2)
}

func TestSign_RoundTrip(t *testing.T) {
	key := testKey(9)
	body := []byte(`{"jsonrpc":"2.0"}`)
	caller, sig := Sign(key, body)

	raw, err := base58.Decode(sig)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(key.Public().(ed25519.PublicKey), body, raw))
	assert.Equal(t, addressOf(key).String(), caller)
}
