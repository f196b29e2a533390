package orderbook

import (
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marginpool/native/bank"
	"marginpool/native/pool"
)

var (
	errNilOrder       = errors.New("order book: nil order")
	errInvalidKind    = errors.New("order book: unknown order kind")
	errInvalidAmounts = errors.New("order book: amounts must be positive")
	errFeeMismatch    = errors.New("order book: paid value must equal executor fee")
	errOrderExists    = errors.New("order book: order already placed")
	errOrderNotFound  = errors.New("order book: unknown order")
	errOrderNotOpen   = errors.New("order book: order is not approved")
	errNotMaker       = errors.New("order book: caller is not the maker")
	errConditionUnmet = errors.New("order book: price condition not met")
	errQuoterMissing  = errors.New("order book: no quote venue configured")
)

// Store persists serialized order records keyed by hash. The pool state store
// satisfies it.
type Store interface {
	GetOrderRecord(hash common.Hash) ([]byte, error)
	PutOrderRecord(hash common.Hash, record []byte) error
	OrderHashes() ([]common.Hash, error)
}

// Record pairs an order with its lifecycle status.
type Record struct {
	Order  Order  `json:"order"`
	Status Status `json:"status"`
}

// Book registers conditional orders and lets any executor trigger them once
// their price condition holds, against a prepaid fee. It drives the pool's
// order-restricted swap entry points under its own identity.
type Book struct {
	mu sync.Mutex
	// addr is the identity the pool recognizes for order-restricted swaps.
	addr common.Address
	// feeAsset denominates the prepaid executor fee.
	feeAsset common.Address
	ledger   *bank.Ledger
	pool     *pool.Engine
	quoter   pool.SwapRouter
	store    Store
	orders   map[common.Hash]*Record
	clock    func() time.Time
}

// NewBook constructs an order book operating the pool under addr. Fees are
// escrowed under the same address in the ledger.
func NewBook(addr common.Address, feeAsset common.Address, ledger *bank.Ledger, engine *pool.Engine, quoter pool.SwapRouter) *Book {
	return &Book{
		addr:     addr,
		feeAsset: feeAsset,
		ledger:   ledger,
		pool:     engine,
		quoter:   quoter,
		orders:   make(map[common.Hash]*Record),
		clock:    time.Now,
	}
}

// SetStore wires write-through persistence and loads any existing records.
func (b *Book) SetStore(store Store) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store = store
	if store == nil {
		return nil
	}
	hashes, err := store.OrderHashes()
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		payload, err := store.GetOrderRecord(hash)
		if err != nil {
			return err
		}
		if payload == nil {
			continue
		}
		record := new(Record)
		if err := json.Unmarshal(payload, record); err != nil {
			return err
		}
		b.orders[hash] = record
	}
	return nil
}

// SetClock overrides the registration clock for deterministic tests.
func (b *Book) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.clock = now
	}
}

// Address returns the book identity.
func (b *Book) Address() common.Address { return b.addr }

// PlaceOrder registers the caller's order, escrowing the executor fee. The
// paid value must equal the order's fee exactly. Returns the order hash.
func (b *Book) PlaceOrder(auth pool.AuthContext, order *Order, paid *big.Int) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if order == nil {
		return common.Hash{}, errNilOrder
	}
	if !order.Kind.valid() {
		return common.Hash{}, errInvalidKind
	}
	if order.AmountIn == nil || order.AmountIn.Sign() <= 0 ||
		order.AmountOut == nil || order.AmountOut.Sign() <= 0 {
		return common.Hash{}, errInvalidAmounts
	}
	fee := order.ExecutorFee
	if fee == nil {
		fee = big.NewInt(0)
	}
	if paid == nil || paid.Cmp(fee) != 0 {
		return common.Hash{}, errFeeMismatch
	}
	placed := *order
	placed.Maker = auth.Caller
	placed.CreatedAt = b.clock().Unix()
	hash := placed.Hash()
	if record, ok := b.orders[hash]; ok && record.Status != StatusNull {
		return common.Hash{}, errOrderExists
	}
	if fee.Sign() > 0 {
		if err := b.ledger.Transfer(b.feeAsset, auth.Caller, b.addr, fee); err != nil {
			return common.Hash{}, err
		}
	}
	record := &Record{Order: placed, Status: StatusApproved}
	b.orders[hash] = record
	if err := b.persist(hash, record); err != nil {
		if fee.Sign() > 0 {
			b.ledger.Transfer(b.feeAsset, b.addr, auth.Caller, fee)
		}
		delete(b.orders, hash)
		return common.Hash{}, err
	}
	return hash, nil
}

// CancelOrder withdraws an approved order and refunds the escrowed fee. Only
// the maker may cancel.
func (b *Book) CancelOrder(auth pool.AuthContext, hash common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.orders[hash]
	if !ok {
		return errOrderNotFound
	}
	if record.Status != StatusApproved {
		return errOrderNotOpen
	}
	if record.Order.Maker != auth.Caller {
		return errNotMaker
	}
	fee := record.Order.ExecutorFee
	if fee != nil && fee.Sign() > 0 {
		if err := b.ledger.Transfer(b.feeAsset, b.addr, auth.Caller, fee); err != nil {
			return err
		}
	}
	record.Status = StatusCanceled
	if err := b.persist(hash, record); err != nil {
		record.Status = StatusApproved
		if fee != nil && fee.Sign() > 0 {
			b.ledger.Transfer(b.feeAsset, auth.Caller, b.addr, fee)
		}
		return err
	}
	return nil
}

// ExecuteOrderWithRouter triggers an approved order through one of the pool's
// fixed routers, paying the escrowed fee to the caller. Returns the realized
// output.
func (b *Book) ExecuteOrderWithRouter(auth pool.AuthContext, hash common.Hash, useSecondary bool, deadline time.Time) (*big.Int, error) {
	return b.execute(auth, hash, func(order *Order) (*big.Int, error) {
		return b.pool.SwapOrderWithRouter(pool.AuthContext{Caller: b.addr}, pool.SwapParams{
			User:               order.Maker,
			Kind:               positionKind(order.Kind),
			AssetIn:            order.AssetIn,
			AssetOut:           order.AssetOut,
			AmountIn:           order.AmountIn,
			MinAmountOut:       order.AmountOut,
			UseSecondaryRouter: useSecondary,
			Deadline:           deadline,
		})
	})
}

// ExecuteOrderWithAggregation triggers an approved order through a registered
// aggregation executor, paying the escrowed fee to the caller.
func (b *Book) ExecuteOrderWithAggregation(auth pool.AuthContext, hash common.Hash, executor string) (*big.Int, error) {
	return b.execute(auth, hash, func(order *Order) (*big.Int, error) {
		return b.pool.SwapOrderWithAggregation(pool.AuthContext{Caller: b.addr}, pool.AggregationParams{
			User:         order.Maker,
			Kind:         positionKind(order.Kind),
			AssetIn:      order.AssetIn,
			AssetOut:     order.AssetOut,
			AmountIn:     order.AmountIn,
			MinAmountOut: order.AmountOut,
			Executor:     executor,
		})
	})
}

// IsTradeable reports whether the order's price condition currently holds.
func (b *Book) IsTradeable(hash common.Hash) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.orders[hash]
	if !ok {
		return false, errOrderNotFound
	}
	if record.Status != StatusApproved {
		return false, nil
	}
	return b.tradeable(&record.Order)
}

// OrderStatus returns the lifecycle state for the hash; unknown hashes are
// Null.
func (b *Book) OrderStatus(hash common.Hash) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.orders[hash]
	if !ok {
		return StatusNull
	}
	return record.Status
}

// GetOrder returns a copy of the stored order.
func (b *Book) GetOrder(hash common.Hash) (*Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.orders[hash]
	if !ok {
		return nil, errOrderNotFound
	}
	order := record.Order
	return &order, nil
}

// execute runs the shared trigger protocol: verify the order is approved and
// tradeable, flip it to Canceled and pay the fee before any swap funds move,
// then drive the pool. Everything unwinds on failure.
func (b *Book) execute(auth pool.AuthContext, hash common.Hash, swap func(*Order) (*big.Int, error)) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.orders[hash]
	if !ok {
		return nil, errOrderNotFound
	}
	if record.Status != StatusApproved {
		return nil, errOrderNotOpen
	}
	tradeable, err := b.tradeable(&record.Order)
	if err != nil {
		return nil, err
	}
	if !tradeable {
		return nil, errConditionUnmet
	}
	// The irreversible flip happens before funds move so the order can never
	// execute twice, even if the swap leg re-enters the book. The terminal
	// record is persisted up front for the same reason: a storage rejection
	// aborts before the pool is touched, never after the swap committed.
	record.Status = StatusCanceled
	if err := b.persist(hash, record); err != nil {
		record.Status = StatusApproved
		return nil, err
	}
	revertBank := b.ledger.Checkpoint()
	fee := record.Order.ExecutorFee
	if fee != nil && fee.Sign() > 0 {
		if err := b.ledger.Transfer(b.feeAsset, b.addr, auth.Caller, fee); err != nil {
			revertBank()
			b.reopen(hash, record)
			return nil, err
		}
	}
	out, err := swap(&record.Order)
	if err != nil {
		revertBank()
		b.reopen(hash, record)
		return nil, err
	}
	return out, nil
}

// reopen restores an order to Approved after a failed execution attempt.
func (b *Book) reopen(hash common.Hash, record *Record) {
	record.Status = StatusApproved
	_ = b.persist(hash, record)
}

// tradeable evaluates the price condition against a live quote for one whole
// unit of the input asset. Limit kinds always qualify; the min-output bound on
// the swap leg is their only constraint.
func (b *Book) tradeable(order *Order) (bool, error) {
	switch order.Kind {
	case LimitToOpen, LimitToClose:
		return true, nil
	}
	if b.quoter == nil {
		return false, errQuoterMissing
	}
	reserve, err := b.pool.ReserveData(order.AssetIn)
	if err != nil {
		return false, err
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(reserve.Config.Decimals)), nil)
	quote, err := b.quoter.Quote(order.AssetIn, order.AssetOut, unit)
	if err != nil {
		return false, err
	}
	switch order.Kind {
	case StopProfitToOpen, StopProfitToClose:
		return quote.Cmp(order.TargetPrice) >= 0, nil
	case StopLossToOpen, StopLossToClose:
		return quote.Cmp(order.TargetPrice) <= 0, nil
	default:
		return false, errInvalidKind
	}
}

func (b *Book) persist(hash common.Hash, record *Record) error {
	if b.store == nil {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return b.store.PutOrderRecord(hash, payload)
}

func positionKind(kind Kind) pool.PositionKind {
	if kind.Opens() {
		return pool.OpenPosition
	}
	return pool.ClosePosition
}
