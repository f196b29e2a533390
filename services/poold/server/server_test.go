package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"marginpool/native/bank"
	"marginpool/native/orderbook"
	"marginpool/native/pool"
	"marginpool/storage"
	"marginpool/tokens"
)

type serverFixture struct {
	t       *testing.T
	handler http.Handler
	assets  *bank.Ledger
	engine  *pool.Engine
	oracle  *pool.StaticOracle

	assetA common.Address
	assetB common.Address
	cents  common.Address
	user   common.Address
}

func fixtureAddress(suffix byte) common.Address {
	var a common.Address
	a[0] = 0xFA
	a[common.AddressLength-1] = suffix
	return a
}

func newServerFixture(t *testing.T) *serverFixture {
	sf := &serverFixture{
		t:      t,
		assets: bank.New(),
		assetA: fixtureAddress(0x10),
		assetB: fixtureAddress(0x20),
		cents:  fixtureAddress(0x30),
		user:   fixtureAddress(0x01),
	}
	store := storage.NewStateStore()
	bookAddr := fixtureAddress(0xB0)
	custody := fixtureAddress(0xCC)
	sf.engine = pool.NewEngine(store, sf.assets, custody, pool.Identities{
		Configurator: fixtureAddress(0xC0),
		OrderBook:    bookAddr,
		Treasury:     fixtureAddress(0xF0),
	})
	sf.oracle = pool.NewStaticOracle()
	sf.engine.SetOracle(sf.oracle)
	router := pool.NewOracleRouter(fixtureAddress(0xD0), sf.assets, sf.oracle, 0)
	sf.engine.SetRouters(router, nil)

	list := func(asset common.Address, decimals uint8, price int64, depositSuffix, debtSuffix byte) {
		cfg := pool.ReserveConfig{
			Active:               true,
			BorrowingEnabled:     true,
			CollateralEnabled:    true,
			Decimals:             decimals,
			LTV:                  8_000,
			LiquidationThreshold: 8_500,
			LiquidationBonus:     500,
		}
		depositAddr := fixtureAddress(depositSuffix)
		deposit := tokens.NewDeposit(depositAddr, asset, sf.assets, custody)
		debtAddr := fixtureAddress(debtSuffix)
		debt := tokens.NewDebt(debtAddr)
		err := sf.engine.InitReserve(pool.AuthContext{Caller: fixtureAddress(0xC0)}, asset, cfg,
			depositAddr, deposit, debtAddr, debt)
		require.NoError(t, err)
		sf.oracle.SetPrice(asset, big.NewInt(price))
		router.RegisterAsset(asset, decimals)
	}
	list(sf.assetA, 0, 100, 0x31, 0x41)
	list(sf.assetB, 0, 2, 0x32, 0x42)
	list(sf.cents, 2, 1, 0x33, 0x43)

	require.NoError(t, sf.assets.Credit(sf.assetA, sf.user, big.NewInt(2_000)))
	require.NoError(t, sf.assets.Credit(sf.assetB, router.Address(), big.NewInt(200_000)))

	book := orderbook.NewBook(bookAddr, sf.assetA, sf.assets, sf.engine, router)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sf.handler = New(sf.engine, book, sf.assets, store, nil, log).Handler()
	return sf
}

func (sf *serverFixture) post(path string, body map[string]any) *httptest.ResponseRecorder {
	sf.t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(sf.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	sf.handler.ServeHTTP(rec, req)
	return rec
}

func (sf *serverFixture) get(path string) *httptest.ResponseRecorder {
	sf.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	sf.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := make(map[string]any)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	sf := newServerFixture(t)
	rec := sf.get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestDepositAndWithdrawFlow(t *testing.T) {
	sf := newServerFixture(t)
	rec := sf.post("/v1/pool/deposit", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.assetA.Hex(),
		"amount": "600",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = sf.get("/v1/pool/users/" + sf.user.Hex() + "/reserves/" + sf.assetA.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody(t, rec)
	require.Equal(t, "600", view["depositBalance"])
	require.Equal(t, true, view["usingAsCollateral"])

	rec = sf.post("/v1/pool/withdraw", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.assetA.Hex(),
		"amount": "all",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "600", decodeBody(t, rec)["withdrawn"])

	rec = sf.get("/v1/bank/balances/" + sf.assetA.Hex() + "/" + sf.user.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2000", decodeBody(t, rec)["balance"])
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	sf := newServerFixture(t)
	rec := sf.post("/v1/pool/deposit", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.assetA.Hex(),
		"amount": "600",
		"extra":  true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOperationRejectionsMapTo422(t *testing.T) {
	sf := newServerFixture(t)
	// Borrowing with no collateral is a domain rejection, not a bad request.
	rec := sf.post("/v1/pool/borrow", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.assetA.Hex(),
		"amount": "100",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "collateral")
}

func TestAmountPrecisionEnforced(t *testing.T) {
	sf := newServerFixture(t)
	require.NoError(t, sf.assets.Credit(sf.cents, sf.user, big.NewInt(1_000)))

	// Two decimals: "1.25" lands as 125 base units, "1.234" does not fit.
	rec := sf.post("/v1/pool/deposit", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.cents.Hex(),
		"amount": "1.25",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = sf.get("/v1/pool/users/" + sf.user.Hex() + "/reserves/" + sf.cents.Hex())
	require.Equal(t, "125", decodeBody(t, rec)["depositBalance"])

	rec = sf.post("/v1/pool/deposit", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.cents.Hex(),
		"amount": "1.234",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "precision")
}

func TestSwapEndpointOpensPosition(t *testing.T) {
	sf := newServerFixture(t)
	rec := sf.post("/v1/pool/deposit", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.assetA.Hex(),
		"amount": "2000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = sf.post("/v1/pool/swap", map[string]any{
		"caller":   sf.user.Hex(),
		"kind":     "open",
		"assetIn":  sf.assetA.Hex(),
		"assetOut": sf.assetB.Hex(),
		"amountIn": "1000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "50000", decodeBody(t, rec)["amountOut"])

	rec = sf.get("/v1/pool/users/" + sf.user.Hex() + "/reserves/" + sf.assetB.Hex())
	require.Equal(t, "50000", decodeBody(t, rec)["depositBalance"])
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	sf := newServerFixture(t)
	rec := sf.post("/v1/pool/deposit", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.assetA.Hex(),
		"amount": "2000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = sf.post("/v1/orders/", map[string]any{
		"caller":      sf.user.Hex(),
		"kind":        "limit-to-open",
		"assetIn":     sf.assetA.Hex(),
		"assetOut":    sf.assetB.Hex(),
		"targetPrice": "50",
		"amountIn":    "1000",
		"amountOut":   "50000",
		"executorFee": "0",
		"paid":        "0",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	hash, ok := decodeBody(t, rec)["hash"].(string)
	require.True(t, ok)

	rec = sf.get("/v1/orders/" + hash)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeBody(t, rec)
	require.Equal(t, float64(orderbook.StatusApproved), payload["status"])
	require.Equal(t, true, payload["tradeable"])

	executor := fixtureAddress(0x02)
	rec = sf.post("/v1/orders/"+hash+"/execute", map[string]any{
		"caller": executor.Hex(),
		"venue":  "router",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "50000", decodeBody(t, rec)["amountOut"])

	// Executed orders are terminal.
	rec = sf.post("/v1/orders/"+hash+"/execute", map[string]any{
		"caller": executor.Hex(),
		"venue":  "router",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListReservesPublishesGauges(t *testing.T) {
	sf := newServerFixture(t)
	rec := sf.post("/v1/pool/deposit", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.assetA.Hex(),
		"amount": "600",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = sf.post("/v1/pool/borrow", map[string]any{
		"caller": sf.user.Hex(),
		"asset":  sf.assetA.Hex(),
		"amount": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = sf.get("/v1/pool/reserves")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = sf.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	label := strings.ToLower(sf.assetA.Hex())
	require.Contains(t, rec.Body.String(), `pool_reserve_liquidity{asset="`+label+`"} 500`)
	require.Contains(t, rec.Body.String(), `pool_reserve_debt{asset="`+label+`"} 100`)
}

func TestUnknownReserveIs404(t *testing.T) {
	sf := newServerFixture(t)
	rec := sf.get("/v1/pool/reserves/" + fixtureAddress(0x99).Hex())
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteOrderRejectsUnknownVenue(t *testing.T) {
	sf := newServerFixture(t)
	rec := sf.post("/v1/orders/"+common.Hash{}.Hex()+"/execute", map[string]any{
		"caller": sf.user.Hex(),
		"venue":  "carrier-pigeon",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
