package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxReserves bounds the reserve list; ids fit in 0..127.
	MaxReserves = 128
	// MaxFeeBps caps the owner-settable borrow and withdraw fees at 1%.
	MaxFeeBps = 100
	// CloseFactorBps limits how much of a borrower's debt a single
	// liquidation may cover.
	CloseFactorBps = 5_000
	// LiquidationProceedsFloorBps is the minimum share of the target debt a
	// liquidation swap must realize before the call is rejected.
	LiquidationProceedsFloorBps = 9_000
)

// WithdrawEverything is the sentinel amount requesting a full-balance
// withdrawal.
var WithdrawEverything = big.NewInt(-1)

// ReserveConfig carries the governance-controlled settings for a reserve.
// Flags are stored as explicit fields indexed by the reserve id rather than a
// packed bitmap.
type ReserveConfig struct {
	Active bool `json:"active"`
	Frozen bool `json:"frozen"`
	// BorrowingEnabled gates variable-rate borrowing on the reserve.
	BorrowingEnabled bool `json:"borrowingEnabled"`
	// CollateralEnabled gates use of the reserve as loan collateral.
	CollateralEnabled bool `json:"collateralEnabled"`
	// Decimals is the underlying asset precision.
	Decimals uint8 `json:"decimals"`
	// LTV is the maximum loan-to-value ratio in basis points.
	LTV uint64 `json:"ltv"`
	// LiquidationThreshold is the LTV where positions become liquidatable,
	// in basis points.
	LiquidationThreshold uint64 `json:"liquidationThreshold"`
	// LiquidationBonus is the premium granted over seized collateral during
	// liquidation, in basis points above par.
	LiquidationBonus uint64 `json:"liquidationBonus"`
}

// Reserve captures the ledger state for one listed asset. Indices are rays and
// grow monotonically; the id is immutable once assigned.
type Reserve struct {
	Asset common.Address `json:"asset"`
	ID    uint8          `json:"id"`
	Config ReserveConfig `json:"config"`
	// LiquidityIndex is the cumulative interest index applied to depositor
	// balances.
	LiquidityIndex *big.Int `json:"liquidityIndex"`
	// BorrowIndex is the cumulative interest index applied to variable debt.
	BorrowIndex *big.Int `json:"borrowIndex"`
	// LiquidityRate and BorrowRate are the current annualised rates in ray.
	LiquidityRate *big.Int `json:"liquidityRate"`
	BorrowRate    *big.Int `json:"borrowRate"`
	// LastUpdate is the unix time the indices were last accrued.
	LastUpdate int64 `json:"lastUpdate"`
	// DepositTokenAddr and DebtTokenAddr identify the receipt token
	// contracts bound to this reserve.
	DepositTokenAddr common.Address `json:"depositToken"`
	DebtTokenAddr    common.Address `json:"debtToken"`
}

// ReserveFlags records a user's relationship with a single reserve.
type ReserveFlags struct {
	UsingAsCollateral bool `json:"usingAsCollateral"`
	Borrowing         bool `json:"borrowing"`
}

// UserConfig tracks which reserves a user has pledged as collateral or is
// borrowing from. Flags must mirror the corresponding token balances: a flag
// may only be set while the balance is non-zero.
type UserConfig struct {
	User  common.Address         `json:"user"`
	Flags map[uint8]ReserveFlags `json:"flags"`
}

// UsingAsCollateral reports whether the reserve id is pledged as collateral.
func (c *UserConfig) UsingAsCollateral(id uint8) bool {
	if c == nil || c.Flags == nil {
		return false
	}
	return c.Flags[id].UsingAsCollateral
}

// Borrowing reports whether the user carries debt on the reserve id.
func (c *UserConfig) Borrowing(id uint8) bool {
	if c == nil || c.Flags == nil {
		return false
	}
	return c.Flags[id].Borrowing
}

// IsEmpty reports whether the user has no collateral or debt flags at all.
func (c *UserConfig) IsEmpty() bool {
	if c == nil {
		return true
	}
	for _, flags := range c.Flags {
		if flags.UsingAsCollateral || flags.Borrowing {
			return false
		}
	}
	return true
}

// SetUsingAsCollateral flips the collateral flag for the reserve id.
func (c *UserConfig) SetUsingAsCollateral(id uint8, value bool) {
	c.set(id, func(f *ReserveFlags) { f.UsingAsCollateral = value })
}

// SetBorrowing flips the borrowing flag for the reserve id.
func (c *UserConfig) SetBorrowing(id uint8, value bool) {
	c.set(id, func(f *ReserveFlags) { f.Borrowing = value })
}

func (c *UserConfig) set(id uint8, mutate func(*ReserveFlags)) {
	if c == nil {
		return
	}
	if c.Flags == nil {
		c.Flags = make(map[uint8]ReserveFlags)
	}
	flags := c.Flags[id]
	mutate(&flags)
	if !flags.UsingAsCollateral && !flags.Borrowing {
		delete(c.Flags, id)
		return
	}
	c.Flags[id] = flags
}

// Clone returns a deep copy of the user configuration.
func (c *UserConfig) Clone() *UserConfig {
	if c == nil {
		return nil
	}
	clone := &UserConfig{User: c.User}
	if c.Flags != nil {
		clone.Flags = make(map[uint8]ReserveFlags, len(c.Flags))
		for id, flags := range c.Flags {
			clone.Flags[id] = flags
		}
	}
	return clone
}

// AuthContext identifies the external caller of a privileged operation.
// Restricted entry points compare it against the configured identities instead
// of relying on ambient caller state.
type AuthContext struct {
	Caller common.Address
}

// Clone returns a deep copy of the reserve so callers can mutate snapshots
// without aliasing persisted state.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.LiquidityIndex = cloneBig(r.LiquidityIndex)
	clone.BorrowIndex = cloneBig(r.BorrowIndex)
	clone.LiquidityRate = cloneBig(r.LiquidityRate)
	clone.BorrowRate = cloneBig(r.BorrowRate)
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
