package tokens

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"marginpool/native/pool"
)

// Debt is the variable-rate debt receipt for one reserve. Balances are stored
// scaled by the borrow index the pool supplies on every call, so outstanding
// obligations grow as interest accrues.
type Debt struct {
	mu   sync.RWMutex
	addr common.Address

	scaled      map[common.Address]*big.Int
	totalScaled *big.Int
}

// NewDebt constructs an empty debt token.
func NewDebt(addr common.Address) *Debt {
	return &Debt{
		addr:        addr,
		scaled:      make(map[common.Address]*big.Int),
		totalScaled: big.NewInt(0),
	}
}

// Address returns the token identity.
func (t *Debt) Address() common.Address { return t.addr }

// Mint records new debt for the user and reports whether this is their first
// non-zero debt.
func (t *Debt) Mint(user common.Address, amount, index *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, errInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	increment := pool.ScaledFromAmount(amount, index)
	current, had := t.scaled[user]
	if had {
		t.scaled[user] = new(big.Int).Add(current, increment)
	} else {
		t.scaled[user] = increment
	}
	t.totalScaled = new(big.Int).Add(t.totalScaled, increment)
	return !had, nil
}

// Burn retires debt and reports whether it reached zero.
func (t *Debt) Burn(user common.Address, amount, index *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, errInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	decrement := pool.ScaledFromAmount(amount, index)
	current, ok := t.scaled[user]
	if !ok {
		return false, errInsufficientBalance
	}
	if decrement.Cmp(current) > 0 {
		remainder := pool.AmountFromScaled(new(big.Int).Sub(decrement, current), index)
		if remainder.Sign() > 0 {
			return false, errInsufficientBalance
		}
		decrement = new(big.Int).Set(current)
	}
	remaining := new(big.Int).Sub(current, decrement)
	t.totalScaled = new(big.Int).Sub(t.totalScaled, decrement)
	if remaining.Sign() == 0 {
		delete(t.scaled, user)
		return true, nil
	}
	t.scaled[user] = remaining
	return false, nil
}

// BalanceOf projects the user's scaled debt through the index.
func (t *Debt) BalanceOf(user common.Address, index *big.Int) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return pool.AmountFromScaled(t.scaled[user], index), nil
}

// TotalSupply projects the total scaled debt through the index.
func (t *Debt) TotalSupply(index *big.Int) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return pool.AmountFromScaled(t.totalScaled, index), nil
}

// Checkpoint lets the token join an atomic pool operation.
func (t *Debt) Checkpoint() func() {
	t.mu.RLock()
	scaled := make(map[common.Address]*big.Int, len(t.scaled))
	for k, v := range t.scaled {
		scaled[k] = new(big.Int).Set(v)
	}
	total := new(big.Int).Set(t.totalScaled)
	t.mu.RUnlock()
	return func() {
		t.mu.Lock()
		t.scaled = scaled
		t.totalScaled = total
		t.mu.Unlock()
	}
}
