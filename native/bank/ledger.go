package bank

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errInvalidAmount       = errors.New("bank: amount must be positive")
	errInsufficientBalance = errors.New("bank: insufficient balance")
	errAllowanceExceeded   = errors.New("bank: allowance exceeded")
)

type balanceKey struct {
	asset  common.Address
	holder common.Address
}

type allowanceKey struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger tracks underlying asset balances and spending allowances for every
// participant, including the pool's own custody account. It stands in for the
// external asset contracts the pool composes with.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
}

// Revision is an opaque snapshot of the ledger used to undo every mutation
// made after it was taken.
type Revision struct {
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
}

// New constructs an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// Balance returns the holder's balance for the asset. The result is a copy.
func (l *Ledger) Balance(asset, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.balances[balanceKey{asset, holder}]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// Credit mints amount of the asset to the holder. Used for genesis funding and
// by swap venues delivering proceeds.
func (l *Ledger) Credit(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(asset, holder, amount)
	return nil
}

// Debit burns amount of the asset from the holder.
func (l *Ledger) Debit(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sub(asset, holder, amount)
}

// Transfer moves amount of the asset between two holders.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.sub(asset, from, amount); err != nil {
		return err
	}
	l.add(asset, to, amount)
	return nil
}

// Approve sets the spender's allowance over the owner's asset balance. Setting
// zero revokes it; callers performing the zero-then-exact protocol reset the
// allowance before granting the exact spend amount.
func (l *Ledger) Approve(asset, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{asset, owner, spender}
	if amount == nil || amount.Sign() <= 0 {
		delete(l.allowances, key)
		return
	}
	l.allowances[key] = new(big.Int).Set(amount)
}

// Allowance returns the spender's remaining allowance over the owner's asset.
func (l *Ledger) Allowance(asset, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.allowances[allowanceKey{asset, owner, spender}]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// TransferFrom moves amount of the owner's asset to the destination, consuming
// the spender's allowance.
func (l *Ledger) TransferFrom(asset, spender, owner, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{asset, owner, spender}
	allowance, ok := l.allowances[key]
	if !ok || allowance.Cmp(amount) < 0 {
		return errAllowanceExceeded
	}
	if err := l.sub(asset, owner, amount); err != nil {
		return err
	}
	l.add(asset, to, amount)
	remaining := new(big.Int).Sub(allowance, amount)
	if remaining.Sign() == 0 {
		delete(l.allowances, key)
	} else {
		l.allowances[key] = remaining
	}
	return nil
}

// Snapshot captures the full ledger state.
func (l *Ledger) Snapshot() Revision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rev := Revision{
		balances:   make(map[balanceKey]*big.Int, len(l.balances)),
		allowances: make(map[allowanceKey]*big.Int, len(l.allowances)),
	}
	for k, v := range l.balances {
		rev.balances[k] = new(big.Int).Set(v)
	}
	for k, v := range l.allowances {
		rev.allowances[k] = new(big.Int).Set(v)
	}
	return rev
}

// Checkpoint captures the ledger state and returns the function restoring it,
// letting the ledger join an atomic pool operation.
func (l *Ledger) Checkpoint() func() {
	rev := l.Snapshot()
	return func() { l.Revert(rev) }
}

// Revert restores the ledger to a previously captured revision.
func (l *Ledger) Revert(rev Revision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[balanceKey]*big.Int, len(rev.balances))
	l.allowances = make(map[allowanceKey]*big.Int, len(rev.allowances))
	for k, v := range rev.balances {
		l.balances[k] = new(big.Int).Set(v)
	}
	for k, v := range rev.allowances {
		l.allowances[k] = new(big.Int).Set(v)
	}
}

func (l *Ledger) add(asset, holder common.Address, amount *big.Int) {
	key := balanceKey{asset, holder}
	if current, ok := l.balances[key]; ok {
		l.balances[key] = new(big.Int).Add(current, amount)
		return
	}
	l.balances[key] = new(big.Int).Set(amount)
}

func (l *Ledger) sub(asset, holder common.Address, amount *big.Int) error {
	key := balanceKey{asset, holder}
	current, ok := l.balances[key]
	if !ok || current.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	remaining := new(big.Int).Sub(current, amount)
	if remaining.Sign() == 0 {
		delete(l.balances, key)
	} else {
		l.balances[key] = remaining
	}
	return nil
}
