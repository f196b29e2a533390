package pool

import "errors"

var (
	errNilState           = errors.New("pool engine: state not configured")
	errReserveNotListed   = errors.New("pool engine: reserve not listed")
	errReserveInactive    = errors.New("pool engine: reserve not active")
	errReserveFrozen      = errors.New("pool engine: reserve frozen")
	errReserveListFull    = errors.New("pool engine: reserve list full")
	errReserveExists      = errors.New("pool engine: reserve already listed")
	errPaused             = errors.New("pool engine: paused")
	errInvalidAmount      = errors.New("pool engine: amount must be positive")
	errInsufficientFunds  = errors.New("pool engine: insufficient balance")
	errNotEnoughLiquidity = errors.New("pool engine: insufficient available liquidity")
	errBorrowingDisabled  = errors.New("pool engine: borrowing not enabled on reserve")
	errCollateralDisabled = errors.New("pool engine: reserve cannot be used as collateral")
	errCollateralBalance  = errors.New("pool engine: no collateral balance to enable")
	errNoDebt             = errors.New("pool engine: no outstanding debt to repay")
	errCollateralCoverage = errors.New("pool engine: collateral cannot cover new borrow")
	errHealthFactorLow    = errors.New("pool engine: health factor below liquidation threshold")
	errHealthAfterAction  = errors.New("pool engine: position would become unhealthy")
	errFeeTooHigh         = errors.New("pool engine: fee exceeds 100 bps cap")
	errUnauthorized       = errors.New("pool engine: caller not authorized")
	errOracleMissing      = errors.New("pool engine: price oracle not configured")
	errRouterMissing      = errors.New("pool engine: swap router not configured")
	errExecutorUnknown    = errors.New("pool engine: aggregation executor not registered")
	errSlippageExceeded   = errors.New("pool engine: realized output below minimum")
	errDeadlineExpired    = errors.New("pool engine: swap deadline expired")
	errNotLiquidatable    = errors.New("pool engine: borrower health factor above threshold")
	errLiquidationShort   = errors.New("pool engine: liquidation proceeds below tolerance")
	errNoCollateralFlag   = errors.New("pool engine: collateral not enabled for borrower")
	errTokenMissing       = errors.New("pool engine: reserve tokens not configured")
	errManagerMissing     = errors.New("pool engine: collateral manager not configured")
)
