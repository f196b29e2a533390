package pool

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionKind selects whether a leveraged swap opens or closes exposure.
type PositionKind uint8

const (
	// OpenPosition borrows the input asset before swapping.
	OpenPosition PositionKind = iota + 1
	// ClosePosition burns existing deposit balance before swapping.
	ClosePosition
)

// SwapParams describes one leveraged swap routed through a DEX venue.
type SwapParams struct {
	User     common.Address
	Kind     PositionKind
	AssetIn  common.Address
	AssetOut common.Address
	// AmountIn is the input to stage. For close positions the withdraw
	// sentinel stages the full balance.
	AmountIn *big.Int
	// MinAmountOut bounds exact-input execution.
	MinAmountOut *big.Int
	// AmountOut, when set, switches to exact-output execution spending at
	// most AmountIn.
	AmountOut          *big.Int
	UseSecondaryRouter bool
	Deadline           time.Time
}

// AggregationParams describes one leveraged swap delegated to a registered
// aggregation executor.
type AggregationParams struct {
	User         common.Address
	Kind         PositionKind
	AssetIn      common.Address
	AssetOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	// Executor names the registered AggregationExecutor adapter.
	Executor string
}

// SwapTokensForTokens opens or closes a leveraged position for the caller
// through one of the two fixed routers. Returns the realized output.
func (e *Engine) SwapTokensForTokens(auth AuthContext, params SwapParams) (*big.Int, error) {
	params.User = auth.Caller
	return e.swapWithRouterAtomic(params)
}

// SwapOrderWithRouter is the order-book-restricted router swap entry point.
func (e *Engine) SwapOrderWithRouter(auth AuthContext, params SwapParams) (*big.Int, error) {
	e.mu.Lock()
	if err := e.requireOrderBook(auth); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()
	return e.swapWithRouterAtomic(params)
}

// SwapWithAggregation opens or closes a leveraged position for the caller via
// a registered aggregation executor. Returns the realized output.
func (e *Engine) SwapWithAggregation(auth AuthContext, params AggregationParams) (*big.Int, error) {
	params.User = auth.Caller
	return e.swapWithExecutorAtomic(params)
}

// SwapOrderWithAggregation is the order-book-restricted aggregation entry
// point.
func (e *Engine) SwapOrderWithAggregation(auth AuthContext, params AggregationParams) (*big.Int, error) {
	e.mu.Lock()
	if err := e.requireOrderBook(auth); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()
	return e.swapWithExecutorAtomic(params)
}

func (e *Engine) swapWithRouterAtomic(params SwapParams) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out *big.Int
	err := e.runLocked(func() error {
		var err error
		out, err = e.swapWithRouter(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) swapWithRouter(params SwapParams) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !params.Deadline.IsZero() && e.now().After(params.Deadline) {
		return nil, errDeadlineExpired
	}
	router := e.primary
	if params.UseSecondaryRouter {
		router = e.secondary
	}
	if router == nil {
		return nil, errRouterMissing
	}
	reserveIn, err := e.reserve(params.AssetIn)
	if err != nil {
		return nil, err
	}
	reserveOut, err := e.reserve(params.AssetOut)
	if err != nil {
		return nil, err
	}
	staged, err := e.stageFunds(params.Kind, params.User, params.AssetIn, params.AmountIn)
	if err != nil {
		return nil, err
	}
	if err := e.validateSwap(reserveIn, reserveOut, staged); err != nil {
		return nil, err
	}
	// Zero-then-exact approval: some venues refuse to raise a non-zero
	// allowance, so reset before granting the staged amount.
	e.assets.Approve(params.AssetIn, e.custody, router.Address(), nil)
	e.assets.Approve(params.AssetIn, e.custody, router.Address(), staged)

	var out *big.Int
	if params.AmountOut != nil && params.AmountOut.Sign() > 0 {
		spent, err := router.SwapExactOut(params.AssetIn, params.AssetOut, params.AmountOut, staged, e.custody, e.custody, params.Deadline)
		if err != nil {
			return nil, err
		}
		if unspent := new(big.Int).Sub(staged, spent); unspent.Sign() > 0 {
			if err := e.redeposit(params.User, params.AssetIn, unspent); err != nil {
				return nil, err
			}
		}
		out = new(big.Int).Set(params.AmountOut)
	} else {
		out, err = router.SwapExactIn(params.AssetIn, params.AssetOut, staged, params.MinAmountOut, e.custody, e.custody, params.Deadline)
		if err != nil {
			return nil, err
		}
	}
	e.assets.Approve(params.AssetIn, e.custody, router.Address(), nil)

	if err := e.redeposit(params.User, params.AssetOut, out); err != nil {
		return nil, err
	}
	if err := e.validateHealth(params.User); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) swapWithExecutorAtomic(params AggregationParams) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out *big.Int
	err := e.runLocked(func() error {
		var err error
		out, err = e.swapWithExecutor(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) swapWithExecutor(params AggregationParams) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	executor, ok := e.executors[params.Executor]
	if !ok || executor == nil {
		return nil, errExecutorUnknown
	}
	reserveIn, err := e.reserve(params.AssetIn)
	if err != nil {
		return nil, err
	}
	reserveOut, err := e.reserve(params.AssetOut)
	if err != nil {
		return nil, err
	}
	staged, err := e.stageFunds(params.Kind, params.User, params.AssetIn, params.AmountIn)
	if err != nil {
		return nil, err
	}
	if err := e.validateSwap(reserveIn, reserveOut, staged); err != nil {
		return nil, err
	}
	e.assets.Approve(params.AssetIn, e.custody, executor.Address(), nil)
	e.assets.Approve(params.AssetIn, e.custody, executor.Address(), staged)

	inputBefore := e.assets.Balance(params.AssetIn, e.custody)
	out, err := executor.Execute(params.AssetIn, params.AssetOut, staged, e.custody, e.custody)
	if err != nil {
		return nil, err
	}
	// The executor payload is opaque; the post-condition on realized output
	// is the only guarantee enforced.
	if params.MinAmountOut != nil && out.Cmp(params.MinAmountOut) < 0 {
		return nil, errSlippageExceeded
	}
	e.assets.Approve(params.AssetIn, e.custody, executor.Address(), nil)

	spent := new(big.Int).Sub(inputBefore, e.assets.Balance(params.AssetIn, e.custody))
	if unspent := new(big.Int).Sub(staged, spent); unspent.Sign() > 0 {
		if err := e.redeposit(params.User, params.AssetIn, unspent); err != nil {
			return nil, err
		}
	}
	if err := e.redeposit(params.User, params.AssetOut, out); err != nil {
		return nil, err
	}
	if err := e.validateHealth(params.User); err != nil {
		return nil, err
	}
	return out, nil
}

// stageFunds places the swap input under pool custody: open positions borrow
// it, close positions burn existing deposit balance.
func (e *Engine) stageFunds(kind PositionKind, user common.Address, asset common.Address, amount *big.Int) (*big.Int, error) {
	switch kind {
	case OpenPosition:
		if amount == nil || amount.Sign() <= 0 {
			return nil, errInvalidAmount
		}
		if err := e.beforeSwap(user, asset, amount); err != nil {
			return nil, err
		}
		return new(big.Int).Set(amount), nil
	case ClosePosition:
		return e.beforeClose(user, asset, amount)
	default:
		return nil, errInvalidAmount
	}
}

// redeposit returns swap proceeds (or unspent input) to the user's position
// through the deposit-with-auto-repay path. Funds are already in custody.
func (e *Engine) redeposit(user common.Address, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	reserve, err := e.reserve(asset)
	if err != nil {
		return err
	}
	e.updateState(reserve)
	if err := e.depositWithAutoRepay(reserve, user, amount); err != nil {
		return err
	}
	if err := e.updateInterestRates(reserve); err != nil {
		return err
	}
	return e.state.PutReserve(reserve)
}
