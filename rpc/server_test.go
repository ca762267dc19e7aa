package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"dealchain/core/events"
	"dealchain/core/state"
	"dealchain/crypto"
	"dealchain/gateway/middleware"
	"dealchain/native/deal"
	"dealchain/native/entity"
	"dealchain/native/fees"
	"dealchain/native/offer"
	"dealchain/observability/audit"
	"dealchain/storage"
)

const (
	testToken = "secret-token"
	day       = int64(24 * 60 * 60)
	genesis   = int64(1_700_000_000)
)

type testEnv struct {
	t        *testing.T
	server   *Server
	manager  *state.Manager
	ledger   *state.Ledger
	registry *entity.Registry
	engine   *deal.Engine
	hasher   *offer.Hasher
	store    *audit.Store
	now      int64
	asset    [20]byte
	escrow   [20]byte
	vault    [20]byte
	treasury [20]byte
}

func mustKey(t *testing.T, seed byte) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.PrivateKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	return key, key.PubKey().Address().Array()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, storage.NewMemDB())
}

func newTestEnvWithDB(t *testing.T, db storage.Database) *testEnv {
	t.Helper()
	env := &testEnv{
		t:        t,
		now:      genesis,
		asset:    [20]byte{0xa1},
		escrow:   [20]byte{0xee},
		vault:    [20]byte{0xdd},
		treasury: [20]byte{0xfe},
	}
	clock := func() int64 { return env.now }

	env.manager = state.NewManager(db)
	verifier := crypto.NewVerifier()
	env.hasher = offer.NewHasher(1, env.escrow)
	env.ledger = state.NewLedger(env.manager, verifier, env.hasher)
	env.ledger.SetNowFunc(clock)

	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	env.store = store

	env.registry = entity.NewRegistry()
	env.registry.SetState(env.manager)
	env.registry.SetLedger(env.ledger)
	env.registry.SetDepositAsset(env.asset)
	env.registry.SetVault(env.vault)
	env.registry.SetMinDeposit(entity.KindSupplier, big.NewInt(1000))
	env.registry.SetMinDeposit(entity.KindRetailer, big.NewInt(500))
	env.registry.SetNowFunc(clock)

	env.engine = deal.NewEngine()
	env.engine.SetState(env.manager)
	env.engine.SetEntities(env.registry)
	env.engine.SetLedger(env.ledger)
	env.engine.SetVerifier(verifier)
	env.engine.SetHasher(env.hasher)
	env.engine.SetEscrowAccount(env.escrow)
	env.engine.SetClaimPeriod(3600)
	env.engine.SetNowFunc(clock)
	require.NoError(t, env.engine.SetFees(fees.Config{ProtocolFee: 1, RetailerFee: 1, Recipient: env.treasury}))

	registry := prometheus.NewRegistry()
	server, err := NewServer(Deps{
		State:    env.manager,
		Ledger:   env.ledger,
		Registry: env.registry,
		Engine:   env.engine,
		Hasher:   env.hasher,
		Audit:    store,
	}, Config{
		AuthToken:  testToken,
		AllowMint:  true,
		RateLimit:  middleware.RateLimit{RequestsPerMinute: 6000, Burst: 1000},
		Registerer: registry,
		Gatherer:   registry,
	})
	require.NoError(t, err)
	env.server = server

	sink := audit.Emitter{Store: store, RequestID: server.CurrentRequestID}
	server.SetEmitter(sink)
	env.engine.SetEmitter(server.Emitter())
	env.registry.SetEmitter(events.MultiEmitter{server.Emitter()})
	return env
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }

func marshalParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func (env *testEnv) post(body []byte, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return resp.Result, resp.Error
}

// call issues an authorized request with one parameter object.
func (env *testEnv) call(method string, params interface{}) (json.RawMessage, *RPCError, int) {
	env.t.Helper()
	body := marshalParam(env.t, RPCRequest{
		JSONRPC: jsonRPCVersion,
		ID:      1,
		Method:  method,
		Params:  []json.RawMessage{marshalParam(env.t, params)},
	})
	recorder := env.post(body, true)
	result, rpcErr := decodeRPCResponse(env.t, recorder)
	return result, rpcErr, recorder.Code
}

func (env *testEnv) mustCall(method string, params interface{}, out interface{}) {
	env.t.Helper()
	result, rpcErr, _ := env.call(method, params)
	require.Nil(env.t, rpcErr, "%s failed: %+v", method, rpcErr)
	if out != nil {
		require.NoError(env.t, json.Unmarshal(result, out))
	}
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.post(nil, true)
	_, rpcErr := decodeRPCResponse(t, recorder)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, codeInvalidRequest, rpcErr.Code)

	recorder = env.post([]byte("{not json"), true)
	_, rpcErr = decodeRPCResponse(t, recorder)
	require.Equal(t, codeParseError, rpcErr.Code)

	recorder = env.post([]byte(`{"jsonrpc":"1.0","method":"deal_get","id":1}`), true)
	_, rpcErr = decodeRPCResponse(t, recorder)
	require.Equal(t, codeInvalidRequest, rpcErr.Code)

	recorder = env.post([]byte(`{"jsonrpc":"2.0","method":"nope","id":1}`), true)
	_, rpcErr = decodeRPCResponse(t, recorder)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, codeMethodNotFound, rpcErr.Code)

	oversized := []byte(`{"jsonrpc":"2.0","method":"deal_get","params":["` + strings.Repeat("a", maxRequestBytes) + `"]}`)
	recorder = env.post(oversized, true)
	require.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
}

func TestMutatingMethodsRequireBearerToken(t *testing.T) {
	env := newTestEnv(t)
	_, caller := mustKey(t, 0x31)
	body := marshalParam(t, RPCRequest{
		JSONRPC: jsonRPCVersion,
		ID:      7,
		Method:  "entity_register",
		Params: []json.RawMessage{marshalParam(t, map[string]string{
			"caller": formatAccount(caller),
			"kind":   "supplier",
			"salt":   formatID([32]byte{0x01}),
			"signer": formatAccount(caller),
		})},
	})
	recorder := env.post(body, false)
	_, rpcErr := decodeRPCResponse(t, recorder)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, codeUnauthorized, rpcErr.Code)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer wrong")
	recorder = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	readBody := marshalParam(t, RPCRequest{
		JSONRPC: jsonRPCVersion,
		ID:      8,
		Method:  "entity_get",
		Params:  []json.RawMessage{marshalParam(t, map[string]string{"id": formatID([32]byte{0x09})})},
	})
	recorder = env.post(readBody, false)
	_, rpcErr = decodeRPCResponse(t, recorder)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, codeDealNotFound, rpcErr.Code)
}

func TestInvalidParamsAreReported(t *testing.T) {
	env := newTestEnv(t)
	_, rpcErr, status := env.call("deal_claim", map[string]string{"caller": "invalid", "id": formatID([32]byte{1})})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, rpcErr.Code)
	require.Equal(t, "invalid_params", rpcErr.Message)

	_, buyer := mustKey(t, 0x22)
	_, rpcErr, _ = env.call("deal_claim", map[string]string{"caller": formatAccount(buyer), "id": "0x1234"})
	require.Equal(t, codeInvalidParams, rpcErr.Code)

	asset := formatAsset(env.asset)
	_, rpcErr, _ = env.call("ledger_balanceOf", map[string]string{"asset": formatAccount(buyer), "address": asset})
	require.Equal(t, codeInvalidParams, rpcErr.Code, "prefixes must match the parameter role")
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())

	// Record one request so the HTTP collectors have a sample.
	env.call("deal_get", map[string]string{"id": formatID([32]byte{0x01})})
	recorder = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "dealchain_http_requests_total")
}

func TestRateLimitRejectsBursts(t *testing.T) {
	env := newTestEnv(t)
	server, err := NewServer(env.server.deps, Config{
		AuthToken:  testToken,
		RateLimit:  middleware.RateLimit{RequestsPerMinute: 1, Burst: 1},
		Registerer: prometheus.NewRegistry(),
		Gatherer:   prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	body := []byte(`{"jsonrpc":"2.0","method":"deal_get","params":[{"id":"` + formatID([32]byte{1}) + `"}],"id":1}`)
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		recorder := httptest.NewRecorder()
		server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
		codes = append(codes, recorder.Code)
	}
	require.Equal(t, []int{http.StatusNotFound, http.StatusTooManyRequests}, codes)
}

func TestMintDisabledIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.server.cfg.AllowMint = false
	_, buyer := mustKey(t, 0x22)
	_, rpcErr, status := env.call("ledger_mint", map[string]string{
		"asset":  formatAsset(env.asset),
		"to":     formatAccount(buyer),
		"amount": "10",
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeDealForbidden, rpcErr.Code)
}

func TestDescribeErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
	}{
		{deal.ErrDealNotFound, http.StatusNotFound, codeDealNotFound},
		{entity.ErrNotEntityOwner, http.StatusForbidden, codeDealForbidden},
		{deal.ErrNotAllowedStatus, http.StatusConflict, codeDealConflict},
		{deal.ErrInvalidCancelOptions, http.StatusBadRequest, codeDealInvalidParams},
		{deal.ErrDealFundsTransferFailed, http.StatusConflict, codeDealFunds},
		{state.ErrInsufficientAllowance, http.StatusConflict, codeDealFunds},
		{invalidParams("x"), http.StatusBadRequest, codeInvalidParams},
		{audit.ErrChainBroken, http.StatusInternalServerError, codeDealInternal},
	}
	for _, tc := range cases {
		status, code, _, _ := describeError(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestJWTBearerRequiresWriteScope(t *testing.T) {
	env := newTestEnv(t)
	const secret = "jwt-test-secret"
	registry := prometheus.NewRegistry()
	server, err := NewServer(Deps{
		State:    env.manager,
		Ledger:   env.ledger,
		Registry: env.registry,
		Engine:   env.engine,
		Hasher:   env.hasher,
	}, Config{
		JWT:        middleware.JWTConfig{HMACSecret: secret, Issuer: "deal-ops"},
		AllowMint:  true,
		RateLimit:  middleware.RateLimit{RequestsPerMinute: 6000, Burst: 1000},
		Registerer: registry,
		Gatherer:   registry,
	})
	require.NoError(t, err)

	mint := func(scope string) (*httptest.ResponseRecorder, *RPCError) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss":   "deal-ops",
			"exp":   time.Now().Add(time.Hour).Unix(),
			"scope": scope,
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		body := marshalParam(t, RPCRequest{
			JSONRPC: jsonRPCVersion,
			ID:      1,
			Method:  "ledger_mint",
			Params: []json.RawMessage{marshalParam(t, ledgerMintParams{
				Asset:  formatAsset(env.asset),
				To:     formatAccount(env.treasury),
				Amount: "10",
			})},
		})
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		recorder := httptest.NewRecorder()
		server.Handler().ServeHTTP(recorder, req)
		_, rpcErr := decodeRPCResponse(t, recorder)
		return recorder, rpcErr
	}

	recorder, rpcErr := mint("deals:read")
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, codeUnauthorized, rpcErr.Code)

	recorder, rpcErr = mint("deals:read " + WriteScope)
	require.Nil(t, rpcErr)
	require.Equal(t, http.StatusOK, recorder.Code)
	balance, err := env.ledger.BalanceOf(env.asset, env.treasury)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance.Int64())
}

type failingBatch struct {
	storage.Batch
	fail *bool
}

func (b failingBatch) Write() error {
	if *b.fail {
		return errors.New("disk full")
	}
	return b.Batch.Write()
}

// failingDB rejects batch writes while fail is set.
type failingDB struct {
	*storage.MemDB
	fail bool
}

func (db *failingDB) NewBatch() storage.Batch {
	return failingBatch{Batch: db.MemDB.NewBatch(), fail: &db.fail}
}

func TestFailedCommitDropsEvents(t *testing.T) {
	db := &failingDB{MemDB: storage.NewMemDB()}
	env := newTestEnvWithDB(t, db)
	_, holder := mustKey(t, 0x42)
	mint := ledgerMintParams{Asset: formatAsset(env.asset), To: formatAccount(holder), Amount: "50"}

	db.fail = true
	_, rpcErr, status := env.call("ledger_mint", mint)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, codeDealInternal, rpcErr.Code)
	records, err := env.store.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Empty(t, records)

	db.fail = false
	env.mustCall("ledger_mint", mint, nil)
	records, err = env.store.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, events.TypeTokenSupply, records[0].Type)
	supply, err := env.ledger.TotalSupply(env.asset)
	require.NoError(t, err)
	require.Equal(t, int64(50), supply.Int64())
}
