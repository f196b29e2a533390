package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"marginpool/native/bank"
	"marginpool/native/orderbook"
	"marginpool/native/pool"
	"marginpool/observability/metrics"
	"marginpool/storage"
)

const requestLimit = 1 << 20 // 1 MiB

// Server exposes the pool and order book over HTTP with JSON payloads.
type Server struct {
	engine  *pool.Engine
	book    *orderbook.Book
	assets  *bank.Ledger
	store   *storage.StateStore
	db      storage.Database
	log     *slog.Logger
	metrics *metrics.PoolMetrics
}

// New constructs the HTTP facade over the wired engine.
func New(engine *pool.Engine, book *orderbook.Book, assets *bank.Ledger,
	store *storage.StateStore, db storage.Database, log *slog.Logger) *Server {
	return &Server{
		engine:  engine,
		book:    book,
		assets:  assets,
		store:   store,
		db:      db,
		log:     log,
		metrics: metrics.Pool(),
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/pool", func(pr chi.Router) {
		pr.Get("/reserves", s.listReserves)
		pr.Get("/reserves/{asset}", s.getReserve)
		pr.Get("/users/{addr}", s.getAccount)
		pr.Get("/users/{addr}/reserves/{asset}", s.getUserReserve)
		pr.Post("/deposit", s.deposit)
		pr.Post("/withdraw", s.withdraw)
		pr.Post("/borrow", s.borrow)
		pr.Post("/repay", s.repay)
		pr.Post("/collateral", s.setCollateral)
		pr.Post("/swap", s.swap)
		pr.Post("/swap/aggregation", s.swapAggregation)
		pr.Post("/liquidate", s.liquidate)
	})

	r.Route("/v1/orders", func(or chi.Router) {
		or.Post("/", s.placeOrder)
		or.Get("/{hash}", s.getOrder)
		or.Post("/{hash}/cancel", s.cancelOrder)
		or.Post("/{hash}/execute", s.executeOrder)
	})

	r.Route("/v1/bank", func(br chi.Router) {
		br.Get("/balances/{asset}/{addr}", s.getBalance)
	})
	return r
}

type depositRequest struct {
	Caller      string `json:"caller"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Beneficiary string `json:"beneficiary"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, asset, err := s.callerAndAsset(req.Caller, req.Asset)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	amount, err := s.parseAmount(asset, req.Amount, false)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	beneficiary := caller
	if strings.TrimSpace(req.Beneficiary) != "" {
		if beneficiary, err = parseAddress(req.Beneficiary); err != nil {
			s.writeBadRequest(w, err)
			return
		}
	}
	if err := s.engine.Deposit(pool.AuthContext{Caller: caller}, asset, amount, beneficiary); err != nil {
		s.writeOperationError(w, "deposit", err)
		return
	}
	s.commit(w, "deposit", map[string]any{"status": "ok"})
}

type withdrawRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	// Amount accepts a decimal amount or "all" for the full balance.
	Amount string `json:"amount"`
	To     string `json:"to"`
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, asset, err := s.callerAndAsset(req.Caller, req.Asset)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	amount, err := s.parseAmount(asset, req.Amount, true)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	to := caller
	if strings.TrimSpace(req.To) != "" {
		if to, err = parseAddress(req.To); err != nil {
			s.writeBadRequest(w, err)
			return
		}
	}
	net, err := s.engine.Withdraw(pool.AuthContext{Caller: caller}, asset, amount, to)
	if err != nil {
		s.writeOperationError(w, "withdraw", err)
		return
	}
	s.commit(w, "withdraw", map[string]any{"withdrawn": net.String()})
}

type borrowRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, asset, err := s.callerAndAsset(req.Caller, req.Asset)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	amount, err := s.parseAmount(asset, req.Amount, false)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	fee, err := s.engine.Borrow(pool.AuthContext{Caller: caller}, asset, amount)
	if err != nil {
		s.writeOperationError(w, "borrow", err)
		return
	}
	s.commit(w, "borrow", map[string]any{"fee": fee.String()})
}

type repayRequest struct {
	Caller     string `json:"caller"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf"`
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, asset, err := s.callerAndAsset(req.Caller, req.Asset)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	amount, err := s.parseAmount(asset, req.Amount, false)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	beneficiary := caller
	if strings.TrimSpace(req.OnBehalfOf) != "" {
		if beneficiary, err = parseAddress(req.OnBehalfOf); err != nil {
			s.writeBadRequest(w, err)
			return
		}
	}
	repaid, err := s.engine.Repay(pool.AuthContext{Caller: caller}, asset, amount, beneficiary)
	if err != nil {
		s.writeOperationError(w, "repay", err)
		return
	}
	s.commit(w, "repay", map[string]any{"repaid": repaid.String()})
}

type collateralRequest struct {
	Caller          string `json:"caller"`
	Asset           string `json:"asset"`
	UseAsCollateral bool   `json:"useAsCollateral"`
}

func (s *Server) setCollateral(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, asset, err := s.callerAndAsset(req.Caller, req.Asset)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if err := s.engine.SetUserUseReserveAsCollateral(pool.AuthContext{Caller: caller}, asset, req.UseAsCollateral); err != nil {
		s.writeOperationError(w, "collateral", err)
		return
	}
	s.commit(w, "collateral", map[string]any{"status": "ok"})
}

type swapRequest struct {
	Caller       string `json:"caller"`
	Kind         string `json:"kind"`
	AssetIn      string `json:"assetIn"`
	AssetOut     string `json:"assetOut"`
	AmountIn     string `json:"amountIn"`
	MinAmountOut string `json:"minAmountOut"`
	AmountOut    string `json:"amountOut"`
	UseSecondary bool   `json:"useSecondaryRouter"`
	// DeadlineSeconds bounds execution relative to now; zero means no bound.
	DeadlineSeconds int64 `json:"deadlineSeconds"`
}

func (s *Server) swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	params, caller, err := s.swapParams(req)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	out, err := s.engine.SwapTokensForTokens(pool.AuthContext{Caller: caller}, params)
	if err != nil {
		s.writeOperationError(w, "swap", err)
		return
	}
	s.commit(w, "swap", map[string]any{"amountOut": out.String()})
}

type swapAggregationRequest struct {
	Caller       string `json:"caller"`
	Kind         string `json:"kind"`
	AssetIn      string `json:"assetIn"`
	AssetOut     string `json:"assetOut"`
	AmountIn     string `json:"amountIn"`
	MinAmountOut string `json:"minAmountOut"`
	Executor     string `json:"executor"`
}

func (s *Server) swapAggregation(w http.ResponseWriter, r *http.Request) {
	var req swapAggregationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, assetIn, err := s.callerAndAsset(req.Caller, req.AssetIn)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	assetOut, err := parseAddress(req.AssetOut)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	kind, err := parsePositionKind(req.Kind)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	amountIn, err := s.parseAmount(assetIn, req.AmountIn, kind == pool.ClosePosition)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	var minOut *big.Int
	if strings.TrimSpace(req.MinAmountOut) != "" {
		if minOut, err = s.parseAmount(assetOut, req.MinAmountOut, false); err != nil {
			s.writeBadRequest(w, err)
			return
		}
	}
	out, err := s.engine.SwapWithAggregation(pool.AuthContext{Caller: caller}, pool.AggregationParams{
		Kind:         kind,
		AssetIn:      assetIn,
		AssetOut:     assetOut,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Executor:     strings.TrimSpace(req.Executor),
	})
	if err != nil {
		s.writeOperationError(w, "swap_aggregation", err)
		return
	}
	s.commit(w, "swap_aggregation", map[string]any{"amountOut": out.String()})
}

type liquidateRequest struct {
	Caller          string `json:"caller"`
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	User            string `json:"user"`
	DebtToCover     string `json:"debtToCover"`
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, collateral, err := s.callerAndAsset(req.Caller, req.CollateralAsset)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	debtAsset, err := parseAddress(req.DebtAsset)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	var cover *big.Int
	if strings.TrimSpace(req.DebtToCover) != "" {
		if cover, err = s.parseAmount(debtAsset, req.DebtToCover, false); err != nil {
			s.writeBadRequest(w, err)
			return
		}
	}
	result, err := s.engine.LiquidationCall(pool.AuthContext{Caller: caller}, collateral, debtAsset, user, cover)
	if err != nil {
		s.writeOperationError(w, "liquidate", err)
		return
	}
	s.metrics.ObserveLiquidation()
	s.commit(w, "liquidate", map[string]any{
		"debtCovered":      result.DebtCovered.String(),
		"collateralSeized": result.CollateralSeized.String(),
		"proceeds":         result.Proceeds.String(),
	})
}

type placeOrderRequest struct {
	Caller      string `json:"caller"`
	Kind        string `json:"kind"`
	AssetIn     string `json:"assetIn"`
	AssetOut    string `json:"assetOut"`
	TargetPrice string `json:"targetPrice"`
	AmountIn    string `json:"amountIn"`
	AmountOut   string `json:"amountOut"`
	ExecutorFee string `json:"executorFee"`
	// Paid must equal the executor fee; the mismatch is rejected.
	Paid string `json:"paid"`
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, assetIn, err := s.callerAndAsset(req.Caller, req.AssetIn)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	assetOut, err := parseAddress(req.AssetOut)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	kind, err := parseOrderKind(req.Kind)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	amountIn, err := s.parseAmount(assetIn, req.AmountIn, false)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	amountOut, err := s.parseAmount(assetOut, req.AmountOut, false)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	target, err := s.parseAmount(assetOut, req.TargetPrice, false)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	fee, err := parseRaw(req.ExecutorFee)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	paid, err := parseRaw(req.Paid)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	hash, err := s.book.PlaceOrder(pool.AuthContext{Caller: caller}, &orderbook.Order{
		Kind:        kind,
		AssetIn:     assetIn,
		AssetOut:    assetOut,
		TargetPrice: target,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		ExecutorFee: fee,
	}, paid)
	if err != nil {
		s.writeOperationError(w, "place_order", err)
		return
	}
	s.metrics.ObserveOrderPlaced()
	s.commit(w, "place_order", map[string]any{"hash": hash.Hex()})
}

type cancelOrderRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	hash := common.HexToHash(chi.URLParam(r, "hash"))
	if err := s.book.CancelOrder(pool.AuthContext{Caller: caller}, hash); err != nil {
		s.writeOperationError(w, "cancel_order", err)
		return
	}
	s.commit(w, "cancel_order", map[string]any{"status": "ok"})
}

type executeOrderRequest struct {
	Caller       string `json:"caller"`
	Venue        string `json:"venue"`
	UseSecondary bool   `json:"useSecondaryRouter"`
	Executor     string `json:"executor"`
	// DeadlineSeconds bounds the router leg relative to now.
	DeadlineSeconds int64 `json:"deadlineSeconds"`
}

func (s *Server) executeOrder(w http.ResponseWriter, r *http.Request) {
	var req executeOrderRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	hash := common.HexToHash(chi.URLParam(r, "hash"))
	auth := pool.AuthContext{Caller: caller}
	var out *big.Int
	venue := strings.ToLower(strings.TrimSpace(req.Venue))
	switch venue {
	case "", "router":
		venue = "router"
		var deadline time.Time
		if req.DeadlineSeconds > 0 {
			deadline = time.Now().Add(time.Duration(req.DeadlineSeconds) * time.Second)
		}
		out, err = s.book.ExecuteOrderWithRouter(auth, hash, req.UseSecondary, deadline)
	case "aggregation":
		out, err = s.book.ExecuteOrderWithAggregation(auth, hash, strings.TrimSpace(req.Executor))
	default:
		s.writeBadRequest(w, fmt.Errorf("unknown venue %q", req.Venue))
		return
	}
	if err != nil {
		s.writeOperationError(w, "execute_order", err)
		return
	}
	s.metrics.ObserveOrderExecuted(venue)
	s.commit(w, "execute_order", map[string]any{"amountOut": out.String()})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(chi.URLParam(r, "hash"))
	order, err := s.book.GetOrder(hash)
	if err != nil {
		s.writeNotFound(w, err)
		return
	}
	tradeable, _ := s.book.IsTradeable(hash)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"order":     order,
		"status":    s.book.OrderStatus(hash),
		"tradeable": tradeable,
	})
}

func (s *Server) listReserves(w http.ResponseWriter, r *http.Request) {
	assets, err := s.engine.Reserves()
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	reserves := make([]*pool.Reserve, 0, len(assets))
	for _, asset := range assets {
		reserve, err := s.engine.ReserveData(asset)
		if err != nil {
			s.writeInternal(w, err)
			return
		}
		liquidity, debt, err := s.engine.ReserveTotals(asset)
		if err != nil {
			s.writeInternal(w, err)
			return
		}
		label := strings.ToLower(asset.Hex())
		s.metrics.SetReserveLiquidity(label, bigGauge(liquidity))
		s.metrics.SetReserveDebt(label, bigGauge(debt))
		reserves = append(reserves, reserve)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reserves": reserves})
}

func (s *Server) getReserve(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	reserve, err := s.engine.ReserveData(asset)
	if err != nil {
		s.writeNotFound(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reserve)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	data, err := s.engine.UserAccountData(addr)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	payload := map[string]any{
		"totalCollateral":  data.TotalCollateral.String(),
		"totalDebt":        data.TotalDebt.String(),
		"availableBorrows": data.AvailableBorrows.String(),
	}
	if data.HealthFactor != nil {
		payload["healthFactor"] = data.HealthFactor.String()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) getUserReserve(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	view, err := s.engine.UserReserveView(asset, addr)
	if err != nil {
		s.writeNotFound(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"depositBalance":    view.DepositBalance.String(),
		"debtBalance":       view.DebtBalance.String(),
		"usingAsCollateral": view.UsingAsCollateral,
		"borrowing":         view.Borrowing,
	})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"balance": s.assets.Balance(asset, addr).String(),
	})
}

func (s *Server) swapParams(req swapRequest) (pool.SwapParams, common.Address, error) {
	var params pool.SwapParams
	caller, assetIn, err := s.callerAndAsset(req.Caller, req.AssetIn)
	if err != nil {
		return params, common.Address{}, err
	}
	assetOut, err := parseAddress(req.AssetOut)
	if err != nil {
		return params, common.Address{}, err
	}
	kind, err := parsePositionKind(req.Kind)
	if err != nil {
		return params, common.Address{}, err
	}
	amountIn, err := s.parseAmount(assetIn, req.AmountIn, kind == pool.ClosePosition)
	if err != nil {
		return params, common.Address{}, err
	}
	params = pool.SwapParams{
		Kind:               kind,
		AssetIn:            assetIn,
		AssetOut:           assetOut,
		AmountIn:           amountIn,
		UseSecondaryRouter: req.UseSecondary,
	}
	if strings.TrimSpace(req.MinAmountOut) != "" {
		if params.MinAmountOut, err = s.parseAmount(assetOut, req.MinAmountOut, false); err != nil {
			return params, common.Address{}, err
		}
	}
	if strings.TrimSpace(req.AmountOut) != "" {
		if params.AmountOut, err = s.parseAmount(assetOut, req.AmountOut, false); err != nil {
			return params, common.Address{}, err
		}
	}
	if req.DeadlineSeconds > 0 {
		params.Deadline = time.Now().Add(time.Duration(req.DeadlineSeconds) * time.Second)
	}
	return params, caller, nil
}

// commit persists the store after a successful mutation and writes the reply.
func (s *Server) commit(w http.ResponseWriter, op string, payload any) {
	if s.db != nil {
		if err := s.store.Persist(s.db); err != nil {
			s.log.Error("persist state", "op", op, "error", err)
			s.writeInternal(w, err)
			return
		}
	}
	s.metrics.ObserveOperation(op)
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) decode(r *http.Request, into any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	return decoder.Decode(into)
}

func (s *Server) callerAndAsset(caller, asset string) (common.Address, common.Address, error) {
	callerAddr, err := parseAddress(caller)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("caller: %w", err)
	}
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("asset: %w", err)
	}
	return callerAddr, assetAddr, nil
}

// parseAmount converts a human decimal amount into base units using the
// reserve's configured precision. "all" (or a negative amount) maps to the
// full-balance sentinel when allowed.
func (s *Server) parseAmount(asset common.Address, value string, allowAll bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if allowAll && strings.EqualFold(trimmed, "all") {
		return pool.WithdrawEverything, nil
	}
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if parsed.Sign() < 0 {
		if allowAll {
			return pool.WithdrawEverything, nil
		}
		return nil, fmt.Errorf("amount %q must be positive", value)
	}
	reserve, err := s.engine.ReserveData(asset)
	if err != nil {
		return nil, err
	}
	shifted := parsed.Shift(int32(reserve.Config.Decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q exceeds asset precision", value)
	}
	return shifted.BigInt(), nil
}

// bigGauge folds an exact ledger amount into the float precision prometheus
// gauges carry.
func bigGauge(value *big.Int) float64 {
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}

func parseRaw(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid value %q", value)
	}
	return parsed, nil
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parsePositionKind(value string) (pool.PositionKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "open":
		return pool.OpenPosition, nil
	case "close":
		return pool.ClosePosition, nil
	default:
		return 0, fmt.Errorf("unknown position kind %q", value)
	}
}

func parseOrderKind(value string) (orderbook.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "limit-to-open":
		return orderbook.LimitToOpen, nil
	case "stop-profit-to-open":
		return orderbook.StopProfitToOpen, nil
	case "stop-loss-to-open":
		return orderbook.StopLossToOpen, nil
	case "limit-to-close":
		return orderbook.LimitToClose, nil
	case "stop-profit-to-close":
		return orderbook.StopProfitToClose, nil
	case "stop-loss-to-close":
		return orderbook.StopLossToClose, nil
	default:
		return 0, fmt.Errorf("unknown order kind %q", value)
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
}

func (s *Server) writeNotFound(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
}

func (s *Server) writeInternal(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

// writeOperationError maps engine rejections onto 422 so clients can tell
// validation failures apart from malformed requests.
func (s *Server) writeOperationError(w http.ResponseWriter, op string, err error) {
	s.metrics.ObserveOperationError(op)
	s.log.Warn("operation rejected", "op", op, "error", err)
	s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "error", err)
	}
}
