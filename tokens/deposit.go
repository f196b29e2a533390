package tokens

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"marginpool/native/bank"
	"marginpool/native/pool"
)

var (
	errInvalidAmount       = errors.New("tokens: amount must be positive")
	errInsufficientBalance = errors.New("tokens: insufficient balance")
)

// Finalizer is the pool hook notified after a receipt transfer so collateral
// flags stay consistent with balances.
type Finalizer interface {
	FinalizeTransfer(auth pool.AuthContext, asset common.Address, from, to common.Address,
		amount, balanceFromBefore, balanceToBefore *big.Int) error
}

// Deposit is the interest-bearing receipt token for one reserve. Balances are
// stored scaled by the liquidity index the pool supplies on every call, so a
// holder's claim grows as the index accrues.
type Deposit struct {
	mu     sync.RWMutex
	addr   common.Address
	asset  common.Address
	assets *bank.Ledger
	// custody is the pool account holding the deposited underlying.
	custody common.Address

	scaled      map[common.Address]*big.Int
	totalScaled *big.Int

	finalizer Finalizer
}

// NewDeposit constructs the deposit token for asset, releasing underlying
// from the pool custody account in the supplied ledger.
func NewDeposit(addr, asset common.Address, assets *bank.Ledger, custody common.Address) *Deposit {
	return &Deposit{
		addr:        addr,
		asset:       asset,
		assets:      assets,
		custody:     custody,
		scaled:      make(map[common.Address]*big.Int),
		totalScaled: big.NewInt(0),
	}
}

// SetFinalizer wires the pool hook invoked after Transfer.
func (t *Deposit) SetFinalizer(f Finalizer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalizer = f
}

// Address returns the token identity used for restricted pool calls.
func (t *Deposit) Address() common.Address { return t.addr }

// Mint credits the user with amount at the given index and reports whether
// this created their first non-zero balance.
func (t *Deposit) Mint(user common.Address, amount, index *big.Int) (bool, error) {
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

// Burn debits the user at the given index and releases the matching
// underlying from pool custody to the receiver. Reports whether the balance
// reached zero.
func (t *Deposit) Burn(user, receiver common.Address, amount, index *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, errInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	zeroed, err := t.debit(user, amount, index)
	if err != nil {
		return false, err
	}
	if receiver != t.custody {
		if err := t.assets.Transfer(t.asset, t.custody, receiver, amount); err != nil {
			return false, err
		}
	}
	return zeroed, nil
}

// TransferUnderlyingTo releases pool-held underlying without touching receipt
// balances.
func (t *Deposit) TransferUnderlyingTo(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	return t.assets.Transfer(t.asset, t.custody, to, amount)
}

// Transfer moves receipt balance between holders and notifies the pool so
// collateral flags follow the balances.
func (t *Deposit) Transfer(from, to common.Address, amount, index *big.Int) error {
	t.mu.Lock()
	balanceFrom := pool.AmountFromScaled(t.scaled[from], index)
	balanceTo := pool.AmountFromScaled(t.scaled[to], index)
	_, err := t.move(from, to, amount, index)
	finalizer := t.finalizer
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if finalizer == nil {
		return nil
	}
	return finalizer.FinalizeTransfer(pool.AuthContext{Caller: t.addr}, t.asset, from, to, amount, balanceFrom, balanceTo)
}

// BalanceOf projects the user's scaled balance through the index.
func (t *Deposit) BalanceOf(user common.Address, index *big.Int) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return pool.AmountFromScaled(t.scaled[user], index), nil
}

// TotalSupply projects the total scaled supply through the index.
func (t *Deposit) TotalSupply(index *big.Int) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return pool.AmountFromScaled(t.totalScaled, index), nil
}

// Checkpoint lets the token join an atomic pool operation.
func (t *Deposit) Checkpoint() func() {
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

func (t *Deposit) debit(user common.Address, amount, index *big.Int) (bool, error) {
	decrement := pool.ScaledFromAmount(amount, index)
	current, ok := t.scaled[user]
	if !ok {
		return false, errInsufficientBalance
	}
	// Rounding may overshoot by a unit when draining the full balance.
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

func (t *Deposit) move(from, to common.Address, amount, index *big.Int) (bool, error) {
	decrement := pool.ScaledFromAmount(amount, index)
	current, ok := t.scaled[from]
	if !ok || current.Cmp(decrement) < 0 {
		return false, errInsufficientBalance
	}
	remaining := new(big.Int).Sub(current, decrement)
	drained := remaining.Sign() == 0
	if drained {
		delete(t.scaled, from)
	} else {
		t.scaled[from] = remaining
	}
	if existing, ok := t.scaled[to]; ok {
		t.scaled[to] = new(big.Int).Add(existing, decrement)
	} else {
		t.scaled[to] = decrement
	}
	return drained, nil
}
