package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DepositToken is the receipt token representing a depositor's claim on a
// reserve. Balances are stored scaled; the pool supplies the current liquidity
// index on every call so the token stays a pure scaled ledger.
type DepositToken interface {
	// Mint credits the user and reports whether this created their first
	// non-zero balance.
	Mint(user common.Address, amount, index *big.Int) (bool, error)
	// Burn debits the user, releases the matching underlying to the
	// receiver, and reports whether the balance reached zero.
	Burn(user, receiver common.Address, amount, index *big.Int) (bool, error)
	BalanceOf(user common.Address, index *big.Int) (*big.Int, error)
	TotalSupply(index *big.Int) (*big.Int, error)
	// TransferUnderlyingTo releases pool-held underlying without touching
	// receipt balances, used when borrowed funds leave the pool.
	TransferUnderlyingTo(to common.Address, amount *big.Int) error
}

// DebtToken is the receipt token representing a borrower's variable-rate
// obligation.
type DebtToken interface {
	// Mint records new debt and reports whether this is the borrower's
	// first non-zero debt.
	Mint(user common.Address, amount, index *big.Int) (bool, error)
	// Burn retires debt and reports whether it reached zero.
	Burn(user common.Address, amount, index *big.Int) (bool, error)
	BalanceOf(user common.Address, index *big.Int) (*big.Int, error)
	TotalSupply(index *big.Int) (*big.Int, error)
}
