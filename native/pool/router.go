package pool

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marginpool/native/bank"
)

// SwapRouter is a decentralized exchange venue the pool trades through.
// Routers pull input funds from the owner's bank allowance and deliver output
// to the recipient within the deadline.
type SwapRouter interface {
	// Address identifies the router for allowance bookkeeping.
	Address() common.Address
	// SwapExactIn spends exactly amountIn and returns the realized output,
	// which must be at least minOut.
	SwapExactIn(assetIn, assetOut common.Address, amountIn, minOut *big.Int, owner, to common.Address, deadline time.Time) (*big.Int, error)
	// SwapExactOut delivers exactly amountOut and returns the input spent,
	// which must not exceed maxIn.
	SwapExactOut(assetIn, assetOut common.Address, amountOut, maxIn *big.Int, owner, to common.Address, deadline time.Time) (*big.Int, error)
	// Quote prices amountIn of assetIn in assetOut terms without trading.
	Quote(assetIn, assetOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// AggregationExecutor is the capability interface wrapping an external swap
// aggregator integration. Execute spends the input staged under the owner's
// allowance and returns the realized output credited to the recipient; the
// orchestrator enforces the minimum-output post-condition, nothing else about
// the integration is constrained.
type AggregationExecutor interface {
	Address() common.Address
	Execute(assetIn, assetOut common.Address, amountIn *big.Int, owner, to common.Address) (*big.Int, error)
}

var (
	errRouterDeadline  = errors.New("router: deadline expired")
	errRouterSlippage  = errors.New("router: output below minimum")
	errRouterMaxInput  = errors.New("router: input above maximum")
	errRouterInventory = errors.New("router: insufficient venue inventory")
	errRouterNoPrice   = errors.New("router: no price for pair")
)

// OracleRouter is a reference venue that fills orders at oracle prices less a
// fee, trading against its own pre-funded inventory account. It backs the
// daemon's default deployment and the integration tests.
type OracleRouter struct {
	mu       sync.RWMutex
	addr     common.Address
	ledger   *bank.Ledger
	oracle   PriceOracle
	feeBps   uint64
	decimals map[common.Address]uint8
	now      func() time.Time
}

// NewOracleRouter constructs a router trading from the inventory held under
// addr in the ledger.
func NewOracleRouter(addr common.Address, ledger *bank.Ledger, oracle PriceOracle, feeBps uint64) *OracleRouter {
	return &OracleRouter{
		addr:     addr,
		ledger:   ledger,
		oracle:   oracle,
		feeBps:   feeBps,
		decimals: make(map[common.Address]uint8),
		now:      time.Now,
	}
}

// RegisterAsset declares the decimal precision used when pricing the asset.
func (r *OracleRouter) RegisterAsset(asset common.Address, decimals uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decimals[asset] = decimals
}

// SetClock overrides the router clock for deterministic deadline tests.
func (r *OracleRouter) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now != nil {
		r.now = now
	}
}

func (r *OracleRouter) Address() common.Address { return r.addr }

// Quote prices amountIn of assetIn in assetOut terms at oracle rates less the
// venue fee.
func (r *OracleRouter) Quote(assetIn, assetOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	out, err := r.convert(assetIn, assetOut, amountIn)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(out, new(big.Int).SetUint64(r.feeBps))
	fee.Quo(fee, big.NewInt(10_000))
	return out.Sub(out, fee), nil
}

// SwapExactIn fills the order at the quoted rate.
func (r *OracleRouter) SwapExactIn(assetIn, assetOut common.Address, amountIn, minOut *big.Int, owner, to common.Address, deadline time.Time) (*big.Int, error) {
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	out, err := r.Quote(assetIn, assetOut, amountIn)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, errRouterSlippage
	}
	if err := r.settle(assetIn, assetOut, amountIn, out, owner, to); err != nil {
		return nil, err
	}
	return out, nil
}

// SwapExactOut computes the input needed for amountOut and fills at that rate.
func (r *OracleRouter) SwapExactOut(assetIn, assetOut common.Address, amountOut, maxIn *big.Int, owner, to common.Address, deadline time.Time) (*big.Int, error) {
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	// Gross the requested output back up by the venue fee, then invert the
	// oracle rate to find the input.
	gross := new(big.Int).Mul(amountOut, big.NewInt(10_000))
	gross.Quo(gross, big.NewInt(int64(10_000-r.feeBps)))
	needed, err := r.convert(assetOut, assetIn, gross)
	if err != nil {
		return nil, err
	}
	if needed.Sign() == 0 {
		needed = big.NewInt(1)
	}
	if maxIn != nil && needed.Cmp(maxIn) > 0 {
		return nil, errRouterMaxInput
	}
	if err := r.settle(assetIn, assetOut, needed, amountOut, owner, to); err != nil {
		return nil, err
	}
	return needed, nil
}

func (r *OracleRouter) settle(assetIn, assetOut common.Address, amountIn, amountOut *big.Int, owner, to common.Address) error {
	if r.ledger.Balance(assetOut, r.addr).Cmp(amountOut) < 0 {
		return errRouterInventory
	}
	if err := r.ledger.TransferFrom(assetIn, r.addr, owner, r.addr, amountIn); err != nil {
		return err
	}
	return r.ledger.Transfer(assetOut, r.addr, to, amountOut)
}

func (r *OracleRouter) convert(from, to common.Address, amount *big.Int) (*big.Int, error) {
	r.mu.RLock()
	fromDec, okFrom := r.decimals[from]
	toDec, okTo := r.decimals[to]
	r.mu.RUnlock()
	if !okFrom || !okTo {
		return nil, errRouterNoPrice
	}
	priceFrom, err := r.oracle.AssetPrice(from)
	if err != nil {
		return nil, err
	}
	priceTo, err := r.oracle.AssetPrice(to)
	if err != nil {
		return nil, err
	}
	if priceTo.Sign() == 0 {
		return nil, errRouterNoPrice
	}
	// amount * priceFrom / 10^fromDec * 10^toDec / priceTo
	value := new(big.Int).Mul(amount, priceFrom)
	value.Mul(value, pow10(toDec))
	value.Quo(value, pow10(fromDec))
	value.Quo(value, priceTo)
	return value, nil
}

func (r *OracleRouter) checkDeadline(deadline time.Time) error {
	if deadline.IsZero() {
		return nil
	}
	r.mu.RLock()
	now := r.now()
	r.mu.RUnlock()
	if now.After(deadline) {
		return errRouterDeadline
	}
	return nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
