package pool

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceOracle resolves the unit price of an asset denominated in the
// reference unit. Prices quote one whole token (10^decimals underlying units)
// in reference-unit wei.
type PriceOracle interface {
	AssetPrice(asset common.Address) (*big.Int, error)
}

// ErrNoFreshPrice indicates no registered oracle produced a price within the
// configured freshness window.
var ErrNoFreshPrice = errors.New("pool: no fresh oracle price available")

// StaticOracle serves fixed prices, primarily for deterministic tests and
// single-operator deployments.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[common.Address]*big.Int
}

// NewStaticOracle constructs an empty static oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[common.Address]*big.Int)}
}

// SetPrice registers or replaces the price for the asset.
func (o *StaticOracle) SetPrice(asset common.Address, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil || price.Sign() <= 0 {
		delete(o.prices, asset)
		return
	}
	o.prices[asset] = new(big.Int).Set(price)
}

// AssetPrice returns the registered price for the asset.
func (o *StaticOracle) AssetPrice(asset common.Address) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if price, ok := o.prices[asset]; ok {
		return new(big.Int).Set(price), nil
	}
	return nil, ErrNoFreshPrice
}

type observedPrice struct {
	price *big.Int
	at    time.Time
}

// OracleAggregator consults registered oracles in priority order until one
// produces a price, caching the last observation per asset so transient
// upstream failures do not stall the pool within the freshness window.
type OracleAggregator struct {
	mu       sync.RWMutex
	priority []string
	oracles  map[string]PriceOracle
	maxAge   time.Duration
	lastSeen map[common.Address]observedPrice
	now      func() time.Time
}

// NewOracleAggregator constructs an aggregator with the supplied cache
// freshness window.
func NewOracleAggregator(maxAge time.Duration) *OracleAggregator {
	return &OracleAggregator{
		oracles:  make(map[string]PriceOracle),
		maxAge:   maxAge,
		lastSeen: make(map[common.Address]observedPrice),
		now:      time.Now,
	}
}

// Register adds an oracle under the given name at the end of the priority
// list. Re-registering a name replaces the oracle but keeps its priority.
func (a *OracleAggregator) Register(name string, oracle PriceOracle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.oracles[name]; !ok {
		a.priority = append(a.priority, name)
	}
	a.oracles[name] = oracle
}

// SetClock overrides the aggregator clock, primarily for deterministic tests.
func (a *OracleAggregator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if now != nil {
		a.now = now
	}
}

// AssetPrice consults the oracles in priority order, falling back to the most
// recent cached observation when every upstream fails.
func (a *OracleAggregator) AssetPrice(asset common.Address) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, name := range a.priority {
		oracle := a.oracles[name]
		if oracle == nil {
			continue
		}
		price, err := oracle.AssetPrice(asset)
		if err != nil || price == nil || price.Sign() <= 0 {
			continue
		}
		a.lastSeen[asset] = observedPrice{price: new(big.Int).Set(price), at: a.now()}
		return new(big.Int).Set(price), nil
	}
	if cached, ok := a.lastSeen[asset]; ok {
		if a.maxAge <= 0 || a.now().Sub(cached.at) <= a.maxAge {
			return new(big.Int).Set(cached.price), nil
		}
	}
	return nil, ErrNoFreshPrice
}
