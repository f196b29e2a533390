package pool

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marginpool/native/bank"
)

// ledger bundles the state handle and external collaborators into the shared
// data-access abstraction both the pool engine and the liquidation engine
// operate on. There is exactly one ledger per deployment; the two engines hold
// the same pointer rather than aliasing storage.
type ledger struct {
	state        State
	assets       *bank.Ledger
	oracle       PriceOracle
	deposits     map[common.Address]DepositToken
	debts        map[common.Address]DebtToken
	models       map[common.Address]*InterestModel
	defaultModel *InterestModel
	// custody is the pool's own account in the asset ledger; deposited
	// liquidity and staged leverage funds live here.
	custody  common.Address
	treasury common.Address
	clock    func() time.Time
}

func newLedger(state State, assets *bank.Ledger, custody, treasury common.Address) *ledger {
	return &ledger{
		state:        state,
		assets:       assets,
		deposits:     make(map[common.Address]DepositToken),
		debts:        make(map[common.Address]DebtToken),
		models:       make(map[common.Address]*InterestModel),
		defaultModel: DefaultInterestModel.Clone(),
		custody:      custody,
		treasury:     treasury,
		clock:        time.Now,
	}
}

func (l *ledger) now() time.Time { return l.clock() }

// reserve loads the reserve record for the asset, normalising nil big fields
// the way freshly decoded state may carry them.
func (l *ledger) reserve(asset common.Address) (*Reserve, error) {
	if l.state == nil {
		return nil, errNilState
	}
	reserve, err := l.state.GetReserve(asset)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, errReserveNotListed
	}
	if reserve.LiquidityIndex == nil || reserve.LiquidityIndex.Sign() == 0 {
		reserve.LiquidityIndex = new(big.Int).Set(ray)
	}
	if reserve.BorrowIndex == nil || reserve.BorrowIndex.Sign() == 0 {
		reserve.BorrowIndex = new(big.Int).Set(ray)
	}
	if reserve.LiquidityRate == nil {
		reserve.LiquidityRate = big.NewInt(0)
	}
	if reserve.BorrowRate == nil {
		reserve.BorrowRate = big.NewInt(0)
	}
	return reserve, nil
}

func (l *ledger) depositToken(reserve *Reserve) (DepositToken, error) {
	token, ok := l.deposits[reserve.Asset]
	if !ok || token == nil {
		return nil, errTokenMissing
	}
	return token, nil
}

func (l *ledger) debtToken(reserve *Reserve) (DebtToken, error) {
	token, ok := l.debts[reserve.Asset]
	if !ok || token == nil {
		return nil, errTokenMissing
	}
	return token, nil
}

func (l *ledger) model(asset common.Address) *InterestModel {
	if m, ok := l.models[asset]; ok && m != nil {
		return m
	}
	return l.defaultModel
}

// updateState accrues interest into both indices since the last accrual. The
// growth factors are at least one, so indices never decrease. Every public
// ledger operation must call this before mutating balances on the reserve.
func (l *ledger) updateState(reserve *Reserve) {
	now := l.now().Unix()
	elapsed := now - reserve.LastUpdate
	if elapsed <= 0 {
		return
	}
	reserve.LiquidityIndex = rayMul(reserve.LiquidityIndex, linearFactor(reserve.LiquidityRate, elapsed))
	reserve.BorrowIndex = rayMul(reserve.BorrowIndex, linearFactor(reserve.BorrowRate, elapsed))
	reserve.LastUpdate = now
}

// updateInterestRates recomputes the current rates from the reserve totals.
// Callers invoke it after balances moved, so the custody balance and the debt
// supply already carry the operation's liquidity delta; this closes the
// accrue-then-re-rate protocol.
func (l *ledger) updateInterestRates(reserve *Reserve) error {
	debtToken, err := l.debtToken(reserve)
	if err != nil {
		return err
	}
	totalDebt, err := debtToken.TotalSupply(reserve.BorrowIndex)
	if err != nil {
		return err
	}
	available := l.assets.Balance(reserve.Asset, l.custody)
	borrowRay, liquidityRay := l.model(reserve.Asset).Rates(totalDebt, available)
	reserve.BorrowRate = borrowRay
	reserve.LiquidityRate = liquidityRay
	return nil
}

// normalizedIncome projects the liquidity index to now without mutating state.
func (l *ledger) normalizedIncome(reserve *Reserve) *big.Int {
	elapsed := l.now().Unix() - reserve.LastUpdate
	return rayMul(reserve.LiquidityIndex, linearFactor(reserve.LiquidityRate, elapsed))
}

// normalizedDebt projects the borrow index to now without mutating state.
func (l *ledger) normalizedDebt(reserve *Reserve) *big.Int {
	elapsed := l.now().Unix() - reserve.LastUpdate
	return rayMul(reserve.BorrowIndex, linearFactor(reserve.BorrowRate, elapsed))
}

// userConfig loads the user's flag set, creating an empty one on first touch.
func (l *ledger) userConfig(addr common.Address) (*UserConfig, error) {
	if l.state == nil {
		return nil, errNilState
	}
	cfg, err := l.state.GetUserConfig(addr)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &UserConfig{User: addr}
	}
	return cfg, nil
}
