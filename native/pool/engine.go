package pool

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marginpool/native/bank"
)

// Identities names the privileged external callers resolved at deployment
// time. Restricted entry points compare the AuthContext against these instead
// of any ambient caller notion.
type Identities struct {
	Configurator common.Address
	OrderBook    common.Address
	Treasury     common.Address
}

// Engine orchestrates the pool's state transitions: the deposit, withdraw,
// borrow and repay lifecycle plus the leveraged swap pipeline. Every public
// operation executes atomically; on failure all participating ledgers are
// restored and no partial effect survives.
type Engine struct {
	mu sync.Mutex
	*ledger

	identities Identities

	borrowFeeBps   uint64
	withdrawFeeBps uint64
	paused         bool

	primary   SwapRouter
	secondary SwapRouter
	executors map[string]AggregationExecutor

	manager *LiquidationEngine

	participants []Participant
}

// NewEngine constructs a pool engine over the supplied state handle and asset
// ledger. The custody address is the pool's own account holding deposited
// liquidity.
func NewEngine(state State, assets *bank.Ledger, custody common.Address, identities Identities) *Engine {
	e := &Engine{
		ledger:     newLedger(state, assets, custody, identities.Treasury),
		identities: identities,
		executors:  make(map[string]AggregationExecutor),
	}
	e.addParticipant(assets)
	if p, ok := state.(Participant); ok {
		e.addParticipant(p)
	}
	return e
}

// SetOracle wires the price oracle consulted for collateral valuation.
func (e *Engine) SetOracle(oracle PriceOracle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oracle = oracle
}

// SetRouters wires the two fixed DEX venues the orchestrator chooses between.
func (e *Engine) SetRouters(primary, secondary SwapRouter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.primary = primary
	e.secondary = secondary
}

// RegisterExecutor installs a named aggregation executor adapter.
func (e *Engine) RegisterExecutor(name string, executor AggregationExecutor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if executor == nil {
		delete(e.executors, name)
		return
	}
	e.executors[name] = executor
}

// SetClock overrides the accrual clock, primarily for deterministic tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now != nil {
		e.clock = now
	}
}

// SetCollateralManager wires the liquidation engine. Configurator-restricted.
func (e *Engine) SetCollateralManager(auth AuthContext, manager *LiquidationEngine) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireConfigurator(auth); err != nil {
		return err
	}
	e.manager = manager
	return nil
}

// SetPause halts or resumes every balance-changing entry point.
// Configurator-restricted.
func (e *Engine) SetPause(auth AuthContext, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireConfigurator(auth); err != nil {
		return err
	}
	e.paused = paused
	return nil
}

// SetBorrowFee updates the borrow fee, capped at 100 bps.
func (e *Engine) SetBorrowFee(auth AuthContext, bps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireConfigurator(auth); err != nil {
		return err
	}
	if bps > MaxFeeBps {
		return errFeeTooHigh
	}
	e.borrowFeeBps = bps
	return nil
}

// SetWithdrawFee updates the withdraw fee, capped at 100 bps.
func (e *Engine) SetWithdrawFee(auth AuthContext, bps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireConfigurator(auth); err != nil {
		return err
	}
	if bps > MaxFeeBps {
		return errFeeTooHigh
	}
	e.withdrawFeeBps = bps
	return nil
}

// InitReserve lists a new asset with its receipt tokens and configuration.
// The assigned id is immutable for the life of the deployment.
func (e *Engine) InitReserve(auth AuthContext, asset common.Address, config ReserveConfig,
	depositAddr common.Address, deposit DepositToken, debtAddr common.Address, debt DebtToken) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireConfigurator(auth); err != nil {
		return err
	}
	if deposit == nil || debt == nil {
		return errTokenMissing
	}
	return e.runLocked(func() error {
		existing, err := e.state.GetReserve(asset)
		if err != nil {
			return err
		}
		if existing != nil {
			return errReserveExists
		}
		listed, err := e.state.ReserveList()
		if err != nil {
			return err
		}
		if len(listed) >= MaxReserves {
			return errReserveListFull
		}
		reserve := &Reserve{
			Asset:            asset,
			ID:               uint8(len(listed)),
			Config:           config,
			LiquidityIndex:   new(big.Int).Set(ray),
			BorrowIndex:      new(big.Int).Set(ray),
			LiquidityRate:    big.NewInt(0),
			BorrowRate:       big.NewInt(0),
			LastUpdate:       e.now().Unix(),
			DepositTokenAddr: depositAddr,
			DebtTokenAddr:    debtAddr,
		}
		if err := e.state.PutReserve(reserve); err != nil {
			return err
		}
		e.deposits[asset] = deposit
		e.debts[asset] = debt
		if p, ok := deposit.(Participant); ok {
			e.addParticipant(p)
		}
		if p, ok := debt.(Participant); ok {
			e.addParticipant(p)
		}
		return nil
	})
}

// AttachReserveTokens rebinds the receipt token implementations for a reserve
// already present in reloaded state. Configurator-restricted.
func (e *Engine) AttachReserveTokens(auth AuthContext, asset common.Address, deposit DepositToken, debt DebtToken) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireConfigurator(auth); err != nil {
		return err
	}
	if deposit == nil || debt == nil {
		return errTokenMissing
	}
	if _, err := e.reserve(asset); err != nil {
		return err
	}
	e.deposits[asset] = deposit
	e.debts[asset] = debt
	if p, ok := deposit.(Participant); ok {
		e.addParticipant(p)
	}
	if p, ok := debt.(Participant); ok {
		e.addParticipant(p)
	}
	return nil
}

// SetConfiguration replaces the reserve configuration, keeping the id.
func (e *Engine) SetConfiguration(auth AuthContext, asset common.Address, config ReserveConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireConfigurator(auth); err != nil {
		return err
	}
	return e.runLocked(func() error {
		reserve, err := e.reserve(asset)
		if err != nil {
			return err
		}
		reserve.Config = config
		return e.state.PutReserve(reserve)
	})
}

// SetReserveInterestRateStrategy swaps the interest model used when re-rating
// the reserve.
func (e *Engine) SetReserveInterestRateStrategy(auth AuthContext, asset common.Address, model *InterestModel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireConfigurator(auth); err != nil {
		return err
	}
	if _, err := e.reserve(asset); err != nil {
		return err
	}
	e.models[asset] = model.Clone()
	return nil
}

// Deposit moves amount of the asset from the caller into the pool. If the
// beneficiary carries debt on the same asset the deposit pays it down first
// and only the remainder is minted as interest-bearing balance.
func (e *Engine) Deposit(auth AuthContext, asset common.Address, amount *big.Int, beneficiary common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runLocked(func() error {
		if err := e.guard(); err != nil {
			return err
		}
		reserve, err := e.reserve(asset)
		if err != nil {
			return err
		}
		if err := e.validateDeposit(reserve, amount); err != nil {
			return err
		}
		e.updateState(reserve)
		if err := e.assets.Transfer(asset, auth.Caller, e.custody, amount); err != nil {
			return errInsufficientFunds
		}
		if err := e.depositWithAutoRepay(reserve, beneficiary, amount); err != nil {
			return err
		}
		if err := e.updateInterestRates(reserve); err != nil {
			return err
		}
		return e.state.PutReserve(reserve)
	})
}

// depositWithAutoRepay applies an incoming amount to the beneficiary's
// outstanding debt on the reserve before minting the remainder as deposit
// balance. Flags follow the balances they mirror.
func (e *Engine) depositWithAutoRepay(reserve *Reserve, beneficiary common.Address, amount *big.Int) error {
	depositTok, err := e.depositToken(reserve)
	if err != nil {
		return err
	}
	debtTok, err := e.debtToken(reserve)
	if err != nil {
		return err
	}
	cfg, err := e.userConfig(beneficiary)
	if err != nil {
		return err
	}
	remainder := new(big.Int).Set(amount)
	debt, err := debtTok.BalanceOf(beneficiary, reserve.BorrowIndex)
	if err != nil {
		return err
	}
	if debt.Sign() > 0 {
		repay := minBig(remainder, debt)
		zeroed, err := debtTok.Burn(beneficiary, repay, reserve.BorrowIndex)
		if err != nil {
			return err
		}
		if zeroed {
			cfg.SetBorrowing(reserve.ID, false)
		}
		remainder = new(big.Int).Sub(remainder, repay)
	}
	if remainder.Sign() > 0 {
		first, err := depositTok.Mint(beneficiary, remainder, reserve.LiquidityIndex)
		if err != nil {
			return err
		}
		if first {
			cfg.SetUsingAsCollateral(reserve.ID, true)
		}
	}
	return e.state.PutUserConfig(cfg)
}

// Withdraw burns deposit balance and releases the underlying to the
// destination, skimming the withdraw fee to the treasury. A negative amount
// requests the entire balance. The net amount released is returned.
func (e *Engine) Withdraw(auth AuthContext, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var net *big.Int
	err := e.runLocked(func() error {
		if err := e.guard(); err != nil {
			return err
		}
		reserve, err := e.reserve(asset)
		if err != nil {
			return err
		}
		e.updateState(reserve)
		depositTok, err := e.depositToken(reserve)
		if err != nil {
			return err
		}
		balance, err := depositTok.BalanceOf(auth.Caller, reserve.LiquidityIndex)
		if err != nil {
			return err
		}
		withdrawn := amount
		if withdrawn != nil && withdrawn.Sign() < 0 {
			withdrawn = balance
		}
		if err := e.validateWithdraw(reserve, auth.Caller, withdrawn, balance); err != nil {
			return err
		}
		fee := bpsShare(withdrawn, e.withdrawFeeBps)
		net = new(big.Int).Sub(withdrawn, fee)
		zeroed, err := depositTok.Burn(auth.Caller, to, net, reserve.LiquidityIndex)
		if err != nil {
			return err
		}
		if fee.Sign() > 0 {
			zeroed, err = depositTok.Burn(auth.Caller, e.treasury, fee, reserve.LiquidityIndex)
			if err != nil {
				return err
			}
		}
		if zeroed {
			cfg, err := e.userConfig(auth.Caller)
			if err != nil {
				return err
			}
			cfg.SetUsingAsCollateral(reserve.ID, false)
			if err := e.state.PutUserConfig(cfg); err != nil {
				return err
			}
		}
		if err := e.updateInterestRates(reserve); err != nil {
			return err
		}
		return e.state.PutReserve(reserve)
	})
	if err != nil {
		return nil, err
	}
	return net, nil
}

// Borrow mints debt against the caller's collateral and releases the funds
// less the borrow fee. The fee paid is returned.
func (e *Engine) Borrow(auth AuthContext, asset common.Address, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var fee *big.Int
	err := e.runLocked(func() error {
		if err := e.guard(); err != nil {
			return err
		}
		var err error
		fee, err = e.executeBorrow(auth.Caller, asset, amount, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fee, nil
}

// executeBorrow is the shared borrow primitive: it prices the request,
// validates it against the borrower's collateral, accrues, mints debt and —
// when releasing underlying — pays amount*(1-borrowFee) to the borrower and
// the fee to the treasury. When releaseFunds is false the borrowed amount
// stays in pool custody for the swap orchestrator.
func (e *Engine) executeBorrow(user common.Address, asset common.Address, amount *big.Int, releaseFunds bool) (*big.Int, error) {
	reserve, err := e.reserve(asset)
	if err != nil {
		return nil, err
	}
	if e.oracle == nil {
		return nil, errOracleMissing
	}
	price, err := e.oracle.AssetPrice(asset)
	if err != nil {
		return nil, err
	}
	amountValue := referenceValue(amount, price, reserve.Config.Decimals)
	if err := e.validateBorrow(reserve, user, amount, amountValue); err != nil {
		return nil, err
	}
	e.updateState(reserve)
	debtTok, err := e.debtToken(reserve)
	if err != nil {
		return nil, err
	}
	first, err := debtTok.Mint(user, amount, reserve.BorrowIndex)
	if err != nil {
		return nil, err
	}
	if first {
		cfg, err := e.userConfig(user)
		if err != nil {
			return nil, err
		}
		cfg.SetBorrowing(reserve.ID, true)
		if err := e.state.PutUserConfig(cfg); err != nil {
			return nil, err
		}
	}
	fee := big.NewInt(0)
	if releaseFunds {
		depositTok, err := e.depositToken(reserve)
		if err != nil {
			return nil, err
		}
		fee = bpsShare(amount, e.borrowFeeBps)
		net := new(big.Int).Sub(amount, fee)
		if err := depositTok.TransferUnderlyingTo(user, net); err != nil {
			return nil, err
		}
		if fee.Sign() > 0 {
			if err := depositTok.TransferUnderlyingTo(e.treasury, fee); err != nil {
				return nil, err
			}
		}
	}
	if err := e.updateInterestRates(reserve); err != nil {
		return nil, err
	}
	return fee, e.state.PutReserve(reserve)
}

// Repay retires up to min(amount, debt) of the beneficiary's debt by burning
// the caller's interest-bearing balance on the same reserve. The amount
// actually repaid is returned.
func (e *Engine) Repay(auth AuthContext, asset common.Address, amount *big.Int, onBehalfOf common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var repaid *big.Int
	err := e.runLocked(func() error {
		if err := e.guard(); err != nil {
			return err
		}
		reserve, err := e.reserve(asset)
		if err != nil {
			return err
		}
		e.updateState(reserve)
		debtTok, err := e.debtToken(reserve)
		if err != nil {
			return err
		}
		depositTok, err := e.depositToken(reserve)
		if err != nil {
			return err
		}
		debt, err := debtTok.BalanceOf(onBehalfOf, reserve.BorrowIndex)
		if err != nil {
			return err
		}
		if err := e.validateRepay(reserve, amount, debt); err != nil {
			return err
		}
		repaid = minBig(new(big.Int).Set(amount), debt)
		payerBalance, err := depositTok.BalanceOf(auth.Caller, reserve.LiquidityIndex)
		if err != nil {
			return err
		}
		if payerBalance.Cmp(repaid) < 0 {
			return errInsufficientFunds
		}
		zeroedDebt, err := debtTok.Burn(onBehalfOf, repaid, reserve.BorrowIndex)
		if err != nil {
			return err
		}
		if zeroedDebt {
			cfg, err := e.userConfig(onBehalfOf)
			if err != nil {
				return err
			}
			cfg.SetBorrowing(reserve.ID, false)
			if err := e.state.PutUserConfig(cfg); err != nil {
				return err
			}
		}
		// The repaid liquidity stays in custody, so the burn receiver is
		// the pool itself.
		drained, err := depositTok.Burn(auth.Caller, e.custody, repaid, reserve.LiquidityIndex)
		if err != nil {
			return err
		}
		if drained {
			cfg, err := e.userConfig(auth.Caller)
			if err != nil {
				return err
			}
			cfg.SetUsingAsCollateral(reserve.ID, false)
			if err := e.state.PutUserConfig(cfg); err != nil {
				return err
			}
		}
		if err := e.updateInterestRates(reserve); err != nil {
			return err
		}
		return e.state.PutReserve(reserve)
	})
	if err != nil {
		return nil, err
	}
	return repaid, nil
}

// beforeSwap stages borrowed funds in pool custody for the orchestrator: it
// borrows amount*(1+borrowFee), routes the fee to the treasury and leaves
// amount ready to trade. The open-leverage primitive.
func (e *Engine) beforeSwap(user common.Address, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fee := bpsShare(amount, e.borrowFeeBps)
	gross := new(big.Int).Add(amount, fee)
	if _, err := e.executeBorrow(user, asset, gross, false); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := e.assets.Transfer(asset, e.custody, e.treasury, fee); err != nil {
			return err
		}
	}
	return nil
}

// beforeClose stages existing deposit balance in pool custody by burning it:
// the close-leverage primitive. Returns the staged amount (the full balance
// when the sentinel is supplied).
func (e *Engine) beforeClose(user common.Address, asset common.Address, amount *big.Int) (*big.Int, error) {
	reserve, err := e.reserve(asset)
	if err != nil {
		return nil, err
	}
	e.updateState(reserve)
	depositTok, err := e.depositToken(reserve)
	if err != nil {
		return nil, err
	}
	balance, err := depositTok.BalanceOf(user, reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	staged := amount
	if staged != nil && staged.Sign() < 0 {
		staged = balance
	}
	if staged == nil || staged.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if balance.Cmp(staged) < 0 {
		return nil, errInsufficientFunds
	}
	// Burning to custody keeps the underlying in the pool, staged for the
	// swap leg.
	drained, err := depositTok.Burn(user, e.custody, staged, reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	if drained {
		cfg, err := e.userConfig(user)
		if err != nil {
			return nil, err
		}
		cfg.SetUsingAsCollateral(reserve.ID, false)
		if err := e.state.PutUserConfig(cfg); err != nil {
			return nil, err
		}
	}
	if err := e.updateInterestRates(reserve); err != nil {
		return nil, err
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	return staged, nil
}

// SetUserUseReserveAsCollateral toggles whether the caller's balance on the
// reserve backs their borrows. Requires a non-zero balance; disabling must
// leave the position healthy.
func (e *Engine) SetUserUseReserveAsCollateral(auth AuthContext, asset common.Address, useAsCollateral bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runLocked(func() error {
		if err := e.guard(); err != nil {
			return err
		}
		reserve, err := e.reserve(asset)
		if err != nil {
			return err
		}
		depositTok, err := e.depositToken(reserve)
		if err != nil {
			return err
		}
		balance, err := depositTok.BalanceOf(auth.Caller, e.normalizedIncome(reserve))
		if err != nil {
			return err
		}
		if balance.Sign() == 0 {
			return errCollateralBalance
		}
		if !useAsCollateral {
			if err := e.validateBalanceDecrease(reserve, auth.Caller, balance); err != nil {
				return err
			}
		} else if !reserve.Config.CollateralEnabled {
			return errCollateralDisabled
		}
		cfg, err := e.userConfig(auth.Caller)
		if err != nil {
			return err
		}
		cfg.SetUsingAsCollateral(reserve.ID, useAsCollateral)
		return e.state.PutUserConfig(cfg)
	})
}

// FinalizeTransfer keeps collateral flags consistent across receipt token
// transfers that bypass deposit and withdraw. Restricted to the reserve's own
// deposit token identity.
func (e *Engine) FinalizeTransfer(auth AuthContext, asset common.Address, from, to common.Address,
	amount, balanceFromBefore, balanceToBefore *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runLocked(func() error {
		reserve, err := e.reserve(asset)
		if err != nil {
			return err
		}
		if auth.Caller != reserve.DepositTokenAddr {
			return errUnauthorized
		}
		if amount == nil || amount.Sign() <= 0 {
			return errInvalidAmount
		}
		changed := false
		fromCfg, err := e.userConfig(from)
		if err != nil {
			return err
		}
		if balanceFromBefore != nil && balanceFromBefore.Cmp(amount) == 0 && fromCfg.UsingAsCollateral(reserve.ID) {
			fromCfg.SetUsingAsCollateral(reserve.ID, false)
			changed = true
		}
		if changed {
			if err := e.state.PutUserConfig(fromCfg); err != nil {
				return err
			}
		}
		if balanceToBefore != nil && balanceToBefore.Sign() == 0 {
			toCfg, err := e.userConfig(to)
			if err != nil {
				return err
			}
			toCfg.SetUsingAsCollateral(reserve.ID, true)
			if err := e.state.PutUserConfig(toCfg); err != nil {
				return err
			}
		}
		return e.validateHealth(from)
	})
}

// LiquidationCall forwards to the configured liquidation engine inside the
// pool's atomic scope.
func (e *Engine) LiquidationCall(auth AuthContext, collateralAsset, debtAsset common.Address,
	user common.Address, debtToCover *big.Int) (*LiquidationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.manager == nil {
		return nil, errManagerMissing
	}
	var result *LiquidationResult
	err := e.runLocked(func() error {
		if err := e.guard(); err != nil {
			return err
		}
		var err error
		result, err = e.manager.liquidationCall(auth.Caller, collateralAsset, debtAsset, user, debtToCover)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReserveData returns a copy of the reserve record.
func (e *Engine) ReserveData(asset common.Address) (*Reserve, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reserve, err := e.reserve(asset)
	if err != nil {
		return nil, err
	}
	return reserve.Clone(), nil
}

// Reserves returns the listed assets ordered by id.
func (e *Engine) Reserves() ([]common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ReserveList()
}

// ReserveNormalizedIncome projects the liquidity index to now.
func (e *Engine) ReserveNormalizedIncome(asset common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reserve, err := e.reserve(asset)
	if err != nil {
		return nil, err
	}
	return e.normalizedIncome(reserve), nil
}

// ReserveNormalizedDebt projects the borrow index to now.
func (e *Engine) ReserveNormalizedDebt(asset common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reserve, err := e.reserve(asset)
	if err != nil {
		return nil, err
	}
	return e.normalizedDebt(reserve), nil
}

// ReserveTotals reports the underlying liquidity held by the pool and the
// outstanding variable debt for the asset.
func (e *Engine) ReserveTotals(asset common.Address) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reserve, err := e.reserve(asset)
	if err != nil {
		return nil, nil, err
	}
	token, err := e.debtToken(reserve)
	if err != nil {
		return nil, nil, err
	}
	debt, err := token.TotalSupply(e.normalizedDebt(reserve))
	if err != nil {
		return nil, nil, err
	}
	return e.assets.Balance(asset, e.custody), debt, nil
}

// UserAccountData aggregates the user's position across all reserves.
func (e *Engine) UserAccountData(user common.Address) (AccountData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calculateUserAccountData(user)
}

// UserReserveData summarizes one user's standing on one reserve.
type UserReserveData struct {
	DepositBalance    *big.Int
	DebtBalance       *big.Int
	UsingAsCollateral bool
	Borrowing         bool
}

// UserReserveView returns the user's balances and flags on the reserve.
func (e *Engine) UserReserveView(asset common.Address, user common.Address) (UserReserveData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var view UserReserveData
	reserve, err := e.reserve(asset)
	if err != nil {
		return view, err
	}
	depositTok, err := e.depositToken(reserve)
	if err != nil {
		return view, err
	}
	debtTok, err := e.debtToken(reserve)
	if err != nil {
		return view, err
	}
	if view.DepositBalance, err = depositTok.BalanceOf(user, e.normalizedIncome(reserve)); err != nil {
		return view, err
	}
	if view.DebtBalance, err = debtTok.BalanceOf(user, e.normalizedDebt(reserve)); err != nil {
		return view, err
	}
	cfg, err := e.userConfig(user)
	if err != nil {
		return view, err
	}
	view.UsingAsCollateral = cfg.UsingAsCollateral(reserve.ID)
	view.Borrowing = cfg.Borrowing(reserve.ID)
	return view, nil
}

func (e *Engine) guard() error {
	if e.paused {
		return errPaused
	}
	return nil
}

func (e *Engine) requireConfigurator(auth AuthContext) error {
	if auth.Caller != e.identities.Configurator {
		return errUnauthorized
	}
	return nil
}

func (e *Engine) requireOrderBook(auth AuthContext) error {
	if auth.Caller != e.identities.OrderBook {
		return errUnauthorized
	}
	return nil
}

func (e *Engine) addParticipant(p Participant) {
	for _, existing := range e.participants {
		if existing == p {
			return
		}
	}
	e.participants = append(e.participants, p)
}

// runLocked executes fn with every participating ledger checkpointed; on
// failure the checkpoints are restored in reverse order so the operation
// leaves no trace. Callers must hold e.mu.
func (e *Engine) runLocked(fn func() error) error {
	reverts := make([]func(), 0, len(e.participants))
	for _, p := range e.participants {
		reverts = append(reverts, p.Checkpoint())
	}
	if err := fn(); err != nil {
		for i := len(reverts) - 1; i >= 0; i-- {
			reverts[i]()
		}
		return err
	}
	return nil
}
