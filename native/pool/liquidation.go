package pool

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LiquidationEngine seizes under-collateralized positions and realizes the
// covered debt on the open market. It is a distinct engine holding the same
// ledger handle as the pool; the pool invokes it inside its own atomic scope,
// so a failing liquidation leaves no trace.
type LiquidationEngine struct {
	ledger *ledger
	router SwapRouter
	// bridge is the reference asset inserted into swap paths when neither
	// leg already is it.
	bridge common.Address
	// custody is the engine's own account where seized collateral is staged
	// before the market leg.
	custody common.Address
}

// LiquidationResult reports the outcome of a liquidation, emitted regardless
// of which path was taken.
type LiquidationResult struct {
	User             common.Address
	Liquidator       common.Address
	CollateralAsset  common.Address
	DebtAsset        common.Address
	DebtCovered      *big.Int
	CollateralSeized *big.Int
	// Proceeds is the amount realized by the market leg; equals the seized
	// collateral when debt and collateral are the same asset.
	Proceeds *big.Int
}

// NewLiquidationEngine constructs a liquidation engine over the pool's ledger.
func NewLiquidationEngine(pool *Engine, router SwapRouter, bridge, custody common.Address) *LiquidationEngine {
	return &LiquidationEngine{
		ledger:  pool.ledger,
		router:  router,
		bridge:  bridge,
		custody: custody,
	}
}

// liquidationCall runs the liquidation protocol. Invoked by the pool engine
// with its mutex held and its participants checkpointed.
func (le *LiquidationEngine) liquidationCall(liquidator common.Address, collateralAsset, debtAsset common.Address,
	user common.Address, debtToCover *big.Int) (*LiquidationResult, error) {
	l := le.ledger
	collateralReserve, err := l.reserve(collateralAsset)
	if err != nil {
		return nil, err
	}
	debtReserve, err := l.reserve(debtAsset)
	if err != nil {
		return nil, err
	}
	l.updateState(collateralReserve)
	if collateralAsset != debtAsset {
		l.updateState(debtReserve)
	}

	data, err := l.calculateUserAccountData(user)
	if err != nil {
		return nil, err
	}
	if !data.Liquidatable() {
		return nil, errNotLiquidatable
	}
	cfg, err := l.userConfig(user)
	if err != nil {
		return nil, err
	}
	if !cfg.UsingAsCollateral(collateralReserve.ID) || !collateralReserve.Config.CollateralEnabled {
		return nil, errNoCollateralFlag
	}

	debtTok, err := l.debtToken(debtReserve)
	if err != nil {
		return nil, err
	}
	collateralTok, err := l.depositToken(collateralReserve)
	if err != nil {
		return nil, err
	}
	debt, err := debtTok.BalanceOf(user, debtReserve.BorrowIndex)
	if err != nil {
		return nil, err
	}
	if debt.Sign() == 0 {
		return nil, errNoDebt
	}

	// The close factor caps a single call at half the outstanding debt.
	cover := bpsShare(debt, CloseFactorBps)
	if debtToCover != nil && debtToCover.Sign() > 0 && debtToCover.Cmp(cover) < 0 {
		cover = new(big.Int).Set(debtToCover)
	}
	if cover.Sign() == 0 {
		return nil, errInvalidAmount
	}

	if l.oracle == nil {
		return nil, errOracleMissing
	}
	debtPrice, err := l.oracle.AssetPrice(debtAsset)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := l.oracle.AssetPrice(collateralAsset)
	if err != nil {
		return nil, err
	}

	bonus := new(big.Int).SetUint64(10_000 + collateralReserve.Config.LiquidationBonus)
	seize := seizableCollateral(cover, debtPrice, collateralPrice, bonus,
		debtReserve.Config.Decimals, collateralReserve.Config.Decimals)

	userCollateral, err := collateralTok.BalanceOf(user, collateralReserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	if userCollateral.Sign() == 0 {
		return nil, errNoCollateralFlag
	}
	if seize.Cmp(userCollateral) > 0 {
		seize = new(big.Int).Set(userCollateral)
		cover = coverableDebt(seize, debtPrice, collateralPrice, bonus,
			debtReserve.Config.Decimals, collateralReserve.Config.Decimals)
		if cover.Sign() == 0 {
			return nil, errInvalidAmount
		}
	}

	result := &LiquidationResult{
		User:             user,
		Liquidator:       liquidator,
		CollateralAsset:  collateralAsset,
		DebtAsset:        debtAsset,
		DebtCovered:      cover,
		CollateralSeized: seize,
	}

	var drained bool
	if collateralAsset == debtAsset {
		// Same asset: no market leg. The seized underlying already backs
		// the debt reserve, so burn both sides in place.
		zeroedDebt, err := debtTok.Burn(user, cover, debtReserve.BorrowIndex)
		if err != nil {
			return nil, err
		}
		if zeroedDebt {
			cfg.SetBorrowing(debtReserve.ID, false)
		}
		drained, err = collateralTok.Burn(user, l.custody, seize, collateralReserve.LiquidityIndex)
		if err != nil {
			return nil, err
		}
		result.Proceeds = new(big.Int).Set(seize)
	} else {
		// Burn the collateral into engine custody before any external
		// interaction so a re-entering venue observes consistent state.
		drained, err = collateralTok.Burn(user, le.custody, seize, collateralReserve.LiquidityIndex)
		if err != nil {
			return nil, err
		}
		proceeds, err := le.sellCollateral(collateralAsset, debtAsset, seize)
		if err != nil {
			return nil, err
		}
		floor := bpsShare(cover, LiquidationProceedsFloorBps)
		if proceeds.Cmp(floor) < 0 {
			return nil, errLiquidationShort
		}
		if err := l.assets.Transfer(debtAsset, le.custody, l.custody, proceeds); err != nil {
			return nil, err
		}
		burn := minBig(cover, debt)
		zeroedDebt, err := debtTok.Burn(user, burn, debtReserve.BorrowIndex)
		if err != nil {
			return nil, err
		}
		if zeroedDebt {
			cfg.SetBorrowing(debtReserve.ID, false)
		}
		result.Proceeds = proceeds
	}
	if drained {
		cfg.SetUsingAsCollateral(collateralReserve.ID, false)
	}
	if err := l.state.PutUserConfig(cfg); err != nil {
		return nil, err
	}
	if err := l.updateInterestRates(collateralReserve); err != nil {
		return nil, err
	}
	if err := l.state.PutReserve(collateralReserve); err != nil {
		return nil, err
	}
	if collateralAsset != debtAsset {
		if err := l.updateInterestRates(debtReserve); err != nil {
			return nil, err
		}
		if err := l.state.PutReserve(debtReserve); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// sellCollateral routes the seized amount through the DEX, bridging through
// the reference asset unless either leg already is it.
func (le *LiquidationEngine) sellCollateral(collateralAsset, debtAsset common.Address, amount *big.Int) (*big.Int, error) {
	if le.router == nil {
		return nil, errRouterMissing
	}
	hops := [][2]common.Address{{collateralAsset, debtAsset}}
	if collateralAsset != le.bridge && debtAsset != le.bridge {
		hops = [][2]common.Address{{collateralAsset, le.bridge}, {le.bridge, debtAsset}}
	}
	in := new(big.Int).Set(amount)
	for _, hop := range hops {
		le.ledger.assets.Approve(hop[0], le.custody, le.router.Address(), nil)
		le.ledger.assets.Approve(hop[0], le.custody, le.router.Address(), in)
		out, err := le.router.SwapExactIn(hop[0], hop[1], in, nil, le.custody, le.custody, time.Time{})
		if err != nil {
			return nil, err
		}
		le.ledger.assets.Approve(hop[0], le.custody, le.router.Address(), nil)
		in = out
	}
	return in, nil
}

// seizableCollateral converts a debt amount into collateral units including
// the liquidation bonus.
func seizableCollateral(cover, debtPrice, collateralPrice, bonus *big.Int, debtDecimals, collateralDecimals uint8) *big.Int {
	if collateralPrice == nil || collateralPrice.Sign() == 0 {
		return big.NewInt(0)
	}
	seize := new(big.Int).Mul(cover, debtPrice)
	seize.Mul(seize, bonus)
	seize.Mul(seize, pow10(collateralDecimals))
	den := new(big.Int).Mul(collateralPrice, basisPoints)
	den.Mul(den, pow10(debtDecimals))
	return seize.Quo(seize, den)
}

// coverableDebt inverts seizableCollateral when the seizure is clamped to the
// borrower's full collateral balance.
func coverableDebt(seize, debtPrice, collateralPrice, bonus *big.Int, debtDecimals, collateralDecimals uint8) *big.Int {
	if debtPrice == nil || debtPrice.Sign() == 0 || bonus == nil || bonus.Sign() == 0 {
		return big.NewInt(0)
	}
	cover := new(big.Int).Mul(seize, collateralPrice)
	cover.Mul(cover, basisPoints)
	cover.Mul(cover, pow10(debtDecimals))
	den := new(big.Int).Mul(debtPrice, bonus)
	den.Mul(den, pow10(collateralDecimals))
	return cover.Quo(cover, den)
}
