package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccountData aggregates a user's position across every reserve, valued in the
// oracle's reference unit.
type AccountData struct {
	// TotalCollateral is the reference-unit value of all pledged deposits.
	TotalCollateral *big.Int
	// TotalDebt is the reference-unit value of all outstanding debt.
	TotalDebt *big.Int
	// WeightedLTV and WeightedLiquidationThreshold are collateral-value
	// weighted sums in basis points, used to derive the averages.
	WeightedLTV                  *big.Int
	WeightedLiquidationThreshold *big.Int
	// HealthFactor is expressed in wad. Nil means the user carries no debt.
	HealthFactor *big.Int
	// AvailableBorrows is the reference-unit headroom under the average LTV.
	AvailableBorrows *big.Int
}

// Liquidatable reports whether the position sits below the liquidation
// threshold.
func (d AccountData) Liquidatable() bool {
	return d.HealthFactor != nil && d.HealthFactor.Cmp(wad) < 0
}

// Healthy reports whether the position may take on the action that produced
// this snapshot.
func (d AccountData) Healthy() bool {
	return d.HealthFactor == nil || d.HealthFactor.Cmp(wad) >= 0
}

// referenceValue prices an underlying amount into the reference unit.
func referenceValue(amount, unitPrice *big.Int, decimals uint8) *big.Int {
	if amount == nil || amount.Sign() <= 0 || unitPrice == nil {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, unitPrice)
	return value.Quo(value, pow10(decimals))
}

// calculateUserAccountData walks every reserve the user touches and folds the
// balances into reference-unit totals. Pure over reserve and user state; it
// never mutates the ledger.
func (l *ledger) calculateUserAccountData(user common.Address) (AccountData, error) {
	data := AccountData{
		TotalCollateral:              big.NewInt(0),
		TotalDebt:                    big.NewInt(0),
		WeightedLTV:                  big.NewInt(0),
		WeightedLiquidationThreshold: big.NewInt(0),
		AvailableBorrows:             big.NewInt(0),
	}
	cfg, err := l.userConfig(user)
	if err != nil {
		return data, err
	}
	if cfg.IsEmpty() {
		return data, nil
	}
	assets, err := l.state.ReserveList()
	if err != nil {
		return data, err
	}
	for _, asset := range assets {
		reserve, err := l.reserve(asset)
		if err != nil {
			return data, err
		}
		usingCollateral := cfg.UsingAsCollateral(reserve.ID)
		borrowing := cfg.Borrowing(reserve.ID)
		if !usingCollateral && !borrowing {
			continue
		}
		if l.oracle == nil {
			return data, errOracleMissing
		}
		price, err := l.oracle.AssetPrice(asset)
		if err != nil {
			return data, err
		}
		if usingCollateral && reserve.Config.CollateralEnabled {
			token, err := l.depositToken(reserve)
			if err != nil {
				return data, err
			}
			balance, err := token.BalanceOf(user, l.normalizedIncome(reserve))
			if err != nil {
				return data, err
			}
			value := referenceValue(balance, price, reserve.Config.Decimals)
			data.TotalCollateral.Add(data.TotalCollateral, value)
			data.WeightedLTV.Add(data.WeightedLTV, new(big.Int).Mul(value, new(big.Int).SetUint64(reserve.Config.LTV)))
			data.WeightedLiquidationThreshold.Add(data.WeightedLiquidationThreshold,
				new(big.Int).Mul(value, new(big.Int).SetUint64(reserve.Config.LiquidationThreshold)))
		}
		if borrowing {
			token, err := l.debtToken(reserve)
			if err != nil {
				return data, err
			}
			debt, err := token.BalanceOf(user, l.normalizedDebt(reserve))
			if err != nil {
				return data, err
			}
			data.TotalDebt.Add(data.TotalDebt, referenceValue(debt, price, reserve.Config.Decimals))
		}
	}
	finishAccountData(&data)
	return data, nil
}

func finishAccountData(data *AccountData) {
	if data.TotalDebt.Sign() > 0 {
		adjusted := new(big.Int).Quo(data.WeightedLiquidationThreshold, basisPoints)
		data.HealthFactor = wadDiv(adjusted, data.TotalDebt)
	}
	borrowCapacity := new(big.Int).Quo(data.WeightedLTV, basisPoints)
	available := new(big.Int).Sub(borrowCapacity, data.TotalDebt)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	data.AvailableBorrows = available
}

func validateReserveUsable(reserve *Reserve) error {
	if !reserve.Config.Active {
		return errReserveInactive
	}
	if reserve.Config.Frozen {
		return errReserveFrozen
	}
	return nil
}

func (l *ledger) validateDeposit(reserve *Reserve, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	return validateReserveUsable(reserve)
}

// validateWithdraw checks balance sufficiency and, when the reserve backs the
// user's debt, that the position stays healthy after the balance decrease.
func (l *ledger) validateWithdraw(reserve *Reserve, user common.Address, amount, balance *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !reserve.Config.Active {
		return errReserveInactive
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	available := l.assets.Balance(reserve.Asset, l.custody)
	if available.Cmp(amount) < 0 {
		return errNotEnoughLiquidity
	}
	return l.validateBalanceDecrease(reserve, user, amount)
}

// validateBalanceDecrease simulates removing amount of the reserve from the
// user's collateral and rejects the action if the remaining position would be
// liquidatable.
func (l *ledger) validateBalanceDecrease(reserve *Reserve, user common.Address, amount *big.Int) error {
	cfg, err := l.userConfig(user)
	if err != nil {
		return err
	}
	if !cfg.UsingAsCollateral(reserve.ID) || !reserve.Config.CollateralEnabled {
		return nil
	}
	data, err := l.calculateUserAccountData(user)
	if err != nil {
		return err
	}
	if data.TotalDebt.Sign() == 0 {
		return nil
	}
	if l.oracle == nil {
		return errOracleMissing
	}
	price, err := l.oracle.AssetPrice(reserve.Asset)
	if err != nil {
		return err
	}
	removed := referenceValue(amount, price, reserve.Config.Decimals)
	collateralAfter := new(big.Int).Sub(data.TotalCollateral, removed)
	if collateralAfter.Sign() <= 0 {
		return errHealthAfterAction
	}
	weightedAfter := new(big.Int).Sub(data.WeightedLiquidationThreshold,
		new(big.Int).Mul(removed, new(big.Int).SetUint64(reserve.Config.LiquidationThreshold)))
	adjusted := new(big.Int).Quo(weightedAfter, basisPoints)
	if wadDiv(adjusted, data.TotalDebt).Cmp(wad) < 0 {
		return errHealthAfterAction
	}
	return nil
}

// validateBorrow enforces reserve gates, pool liquidity and the borrower's
// LTV headroom for the reference-unit value of the request.
func (l *ledger) validateBorrow(reserve *Reserve, user common.Address, amount, amountValue *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := validateReserveUsable(reserve); err != nil {
		return err
	}
	if !reserve.Config.BorrowingEnabled {
		return errBorrowingDisabled
	}
	available := l.assets.Balance(reserve.Asset, l.custody)
	if available.Cmp(amount) < 0 {
		return errNotEnoughLiquidity
	}
	data, err := l.calculateUserAccountData(user)
	if err != nil {
		return err
	}
	if !data.Healthy() {
		return errHealthFactorLow
	}
	if data.TotalCollateral.Sign() == 0 {
		return errCollateralCoverage
	}
	if data.AvailableBorrows.Cmp(amountValue) < 0 {
		return errCollateralCoverage
	}
	return nil
}

func (l *ledger) validateRepay(reserve *Reserve, amount, debt *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !reserve.Config.Active {
		return errReserveInactive
	}
	if debt == nil || debt.Sign() == 0 {
		return errNoDebt
	}
	return nil
}

func (l *ledger) validateSwap(reserveIn, reserveOut *Reserve, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := validateReserveUsable(reserveIn); err != nil {
		return err
	}
	return validateReserveUsable(reserveOut)
}

// validateHealth re-checks the account after a swap or redeposit; an unsafe
// result fails the entire enclosing operation.
func (l *ledger) validateHealth(user common.Address) error {
	data, err := l.calculateUserAccountData(user)
	if err != nil {
		return err
	}
	if !data.Healthy() {
		return errHealthAfterAction
	}
	return nil
}
