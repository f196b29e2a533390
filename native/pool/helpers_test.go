package pool

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marginpool/native/bank"
)

type memState struct {
	reserves map[common.Address]*Reserve
	list     []common.Address
	users    map[common.Address]*UserConfig
}

func newMemState() *memState {
	return &memState{
		reserves: make(map[common.Address]*Reserve),
		users:    make(map[common.Address]*UserConfig),
	}
}

func (m *memState) GetReserve(asset common.Address) (*Reserve, error) {
	return m.reserves[asset].Clone(), nil
}

func (m *memState) PutReserve(reserve *Reserve) error {
	if _, ok := m.reserves[reserve.Asset]; !ok {
		m.list = append(m.list, reserve.Asset)
	}
	m.reserves[reserve.Asset] = reserve.Clone()
	return nil
}

func (m *memState) ReserveList() ([]common.Address, error) {
	list := make([]common.Address, len(m.list))
	copy(list, m.list)
	return list, nil
}

func (m *memState) GetUserConfig(addr common.Address) (*UserConfig, error) {
	return m.users[addr].Clone(), nil
}

func (m *memState) PutUserConfig(cfg *UserConfig) error {
	if cfg.IsEmpty() {
		delete(m.users, cfg.User)
		return nil
	}
	m.users[cfg.User] = cfg.Clone()
	return nil
}

func (m *memState) Checkpoint() func() {
	reserves := make(map[common.Address]*Reserve, len(m.reserves))
	for asset, reserve := range m.reserves {
		reserves[asset] = reserve.Clone()
	}
	list := make([]common.Address, len(m.list))
	copy(list, m.list)
	users := make(map[common.Address]*UserConfig, len(m.users))
	for addr, cfg := range m.users {
		users[addr] = cfg.Clone()
	}
	return func() {
		m.reserves = reserves
		m.list = list
		m.users = users
	}
}

type fakeDepositToken struct {
	asset   common.Address
	assets  *bank.Ledger
	custody common.Address
	scaled  map[common.Address]*big.Int
	total   *big.Int
}

func newFakeDepositToken(asset common.Address, assets *bank.Ledger, custody common.Address) *fakeDepositToken {
	return &fakeDepositToken{
		asset:   asset,
		assets:  assets,
		custody: custody,
		scaled:  make(map[common.Address]*big.Int),
		total:   big.NewInt(0),
	}
}

func (t *fakeDepositToken) Mint(user common.Address, amount, index *big.Int) (bool, error) {
	increment := ScaledFromAmount(amount, index)
	current, had := t.scaled[user]
	if had {
		t.scaled[user] = new(big.Int).Add(current, increment)
	} else {
		t.scaled[user] = increment
	}
	t.total = new(big.Int).Add(t.total, increment)
	return !had, nil
}

func (t *fakeDepositToken) Burn(user, receiver common.Address, amount, index *big.Int) (bool, error) {
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

func (t *fakeDepositToken) BalanceOf(user common.Address, index *big.Int) (*big.Int, error) {
	return AmountFromScaled(t.scaled[user], index), nil
}

func (t *fakeDepositToken) TotalSupply(index *big.Int) (*big.Int, error) {
	return AmountFromScaled(t.total, index), nil
}

func (t *fakeDepositToken) TransferUnderlyingTo(to common.Address, amount *big.Int) error {
	return t.assets.Transfer(t.asset, t.custody, to, amount)
}

// moveReceipts shifts receipt balance between holders without touching the
// underlying, standing in for a token-contract transfer.
func (t *fakeDepositToken) moveReceipts(from, to common.Address, amount, index *big.Int) (bool, error) {
	zeroed, err := t.debit(from, amount, index)
	if err != nil {
		return false, err
	}
	increment := ScaledFromAmount(amount, index)
	if existing, ok := t.scaled[to]; ok {
		t.scaled[to] = new(big.Int).Add(existing, increment)
	} else {
		t.scaled[to] = increment
	}
	t.total = new(big.Int).Add(t.total, increment)
	return zeroed, nil
}

func (t *fakeDepositToken) debit(user common.Address, amount, index *big.Int) (bool, error) {
	decrement := ScaledFromAmount(amount, index)
	current, ok := t.scaled[user]
	if !ok {
		return false, errInsufficientFunds
	}
	if decrement.Cmp(current) > 0 {
		if AmountFromScaled(new(big.Int).Sub(decrement, current), index).Sign() > 0 {
			return false, errInsufficientFunds
		}
		decrement = new(big.Int).Set(current)
	}
	remaining := new(big.Int).Sub(current, decrement)
	t.total = new(big.Int).Sub(t.total, decrement)
	if remaining.Sign() == 0 {
		delete(t.scaled, user)
		return true, nil
	}
	t.scaled[user] = remaining
	return false, nil
}

func (t *fakeDepositToken) Checkpoint() func() {
	scaled := make(map[common.Address]*big.Int, len(t.scaled))
	for k, v := range t.scaled {
		scaled[k] = new(big.Int).Set(v)
	}
	total := new(big.Int).Set(t.total)
	return func() {
		t.scaled = scaled
		t.total = total
	}
}

type fakeDebtToken struct {
	scaled map[common.Address]*big.Int
	total  *big.Int
}

func newFakeDebtToken() *fakeDebtToken {
	return &fakeDebtToken{scaled: make(map[common.Address]*big.Int), total: big.NewInt(0)}
}

func (t *fakeDebtToken) Mint(user common.Address, amount, index *big.Int) (bool, error) {
	increment := ScaledFromAmount(amount, index)
	current, had := t.scaled[user]
	if had {
		t.scaled[user] = new(big.Int).Add(current, increment)
	} else {
		t.scaled[user] = increment
	}
	t.total = new(big.Int).Add(t.total, increment)
	return !had, nil
}

func (t *fakeDebtToken) Burn(user common.Address, amount, index *big.Int) (bool, error) {
	decrement := ScaledFromAmount(amount, index)
	current, ok := t.scaled[user]
	if !ok {
		return false, errInsufficientFunds
	}
	if decrement.Cmp(current) > 0 {
		if AmountFromScaled(new(big.Int).Sub(decrement, current), index).Sign() > 0 {
			return false, errInsufficientFunds
		}
		decrement = new(big.Int).Set(current)
	}
	remaining := new(big.Int).Sub(current, decrement)
	t.total = new(big.Int).Sub(t.total, decrement)
	if remaining.Sign() == 0 {
		delete(t.scaled, user)
		return true, nil
	}
	t.scaled[user] = remaining
	return false, nil
}

func (t *fakeDebtToken) BalanceOf(user common.Address, index *big.Int) (*big.Int, error) {
	return AmountFromScaled(t.scaled[user], index), nil
}

func (t *fakeDebtToken) TotalSupply(index *big.Int) (*big.Int, error) {
	return AmountFromScaled(t.total, index), nil
}

func (t *fakeDebtToken) Checkpoint() func() {
	scaled := make(map[common.Address]*big.Int, len(t.scaled))
	for k, v := range t.scaled {
		scaled[k] = new(big.Int).Set(v)
	}
	total := new(big.Int).Set(t.total)
	return func() {
		t.scaled = scaled
		t.total = total
	}
}

func makeAddress(suffix byte) common.Address {
	var raw [20]byte
	raw[19] = suffix
	return common.BytesToAddress(raw[:])
}

type fixture struct {
	t            *testing.T
	state        *memState
	assets       *bank.Ledger
	engine       *Engine
	oracle       *StaticOracle
	now          time.Time
	configurator common.Address
	orderBook    common.Address
	treasury     common.Address
	custody      common.Address
	deposits     map[common.Address]*fakeDepositToken
	debts        map[common.Address]*fakeDebtToken
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		t:            t,
		state:        newMemState(),
		assets:       bank.New(),
		oracle:       NewStaticOracle(),
		now:          time.Unix(1_700_000_000, 0),
		configurator: makeAddress(0xC0),
		orderBook:    makeAddress(0xB0),
		treasury:     makeAddress(0xF0),
		custody:      makeAddress(0xCC),
		deposits:     make(map[common.Address]*fakeDepositToken),
		debts:        make(map[common.Address]*fakeDebtToken),
	}
	fx.engine = NewEngine(fx.state, fx.assets, fx.custody, Identities{
		Configurator: fx.configurator,
		OrderBook:    fx.orderBook,
		Treasury:     fx.treasury,
	})
	fx.engine.SetOracle(fx.oracle)
	fx.engine.SetClock(func() time.Time { return fx.now })
	return fx
}

func (fx *fixture) auth(addr common.Address) AuthContext {
	return AuthContext{Caller: addr}
}

func (fx *fixture) configuratorAuth() AuthContext {
	return AuthContext{Caller: fx.configurator}
}

func (fx *fixture) advance(d time.Duration) {
	fx.now = fx.now.Add(d)
}

// listReserve lists an asset with zero decimals and a unit oracle price so
// reference values equal raw amounts unless a test overrides them.
func (fx *fixture) listReserve(asset common.Address, cfg ReserveConfig) {
	fx.t.Helper()
	deposit := newFakeDepositToken(asset, fx.assets, fx.custody)
	debt := newFakeDebtToken()
	depositAddr := makeAddress(asset[19] + 1)
	debtAddr := makeAddress(asset[19] + 2)
	if err := fx.engine.InitReserve(fx.configuratorAuth(), asset, cfg, depositAddr, deposit, debtAddr, debt); err != nil {
		fx.t.Fatalf("init reserve: %v", err)
	}
	fx.deposits[asset] = deposit
	fx.debts[asset] = debt
	fx.oracle.SetPrice(asset, big.NewInt(1))
}

func defaultConfig() ReserveConfig {
	return ReserveConfig{
		Active:               true,
		BorrowingEnabled:     true,
		CollateralEnabled:    true,
		Decimals:             0,
		LTV:                  8_000,
		LiquidationThreshold: 8_500,
		LiquidationBonus:     500,
	}
}

func (fx *fixture) fund(asset, holder common.Address, amount int64) {
	fx.t.Helper()
	if err := fx.assets.Credit(asset, holder, big.NewInt(amount)); err != nil {
		fx.t.Fatalf("fund %s: %v", holder.Hex(), err)
	}
}

func (fx *fixture) deposit(caller, asset common.Address, amount int64) {
	fx.t.Helper()
	if err := fx.engine.Deposit(fx.auth(caller), asset, big.NewInt(amount), caller); err != nil {
		fx.t.Fatalf("deposit: %v", err)
	}
}

func (fx *fixture) balance(asset, holder common.Address) *big.Int {
	return fx.assets.Balance(asset, holder)
}

func (fx *fixture) depositBalance(asset, user common.Address) *big.Int {
	fx.t.Helper()
	reserve, err := fx.engine.ReserveData(asset)
	if err != nil {
		fx.t.Fatalf("reserve data: %v", err)
	}
	balance, err := fx.deposits[asset].BalanceOf(user, reserve.LiquidityIndex)
	if err != nil {
		fx.t.Fatalf("deposit balance: %v", err)
	}
	return balance
}

func (fx *fixture) debtBalance(asset, user common.Address) *big.Int {
	fx.t.Helper()
	reserve, err := fx.engine.ReserveData(asset)
	if err != nil {
		fx.t.Fatalf("reserve data: %v", err)
	}
	balance, err := fx.debts[asset].BalanceOf(user, reserve.BorrowIndex)
	if err != nil {
		fx.t.Fatalf("debt balance: %v", err)
	}
	return balance
}

func (fx *fixture) flags(asset, user common.Address) ReserveFlags {
	fx.t.Helper()
	reserve, err := fx.engine.ReserveData(asset)
	if err != nil {
		fx.t.Fatalf("reserve data: %v", err)
	}
	cfg, err := fx.state.GetUserConfig(user)
	if err != nil {
		fx.t.Fatalf("user config: %v", err)
	}
	if cfg == nil {
		return ReserveFlags{}
	}
	return ReserveFlags{
		UsingAsCollateral: cfg.UsingAsCollateral(reserve.ID),
		Borrowing:         cfg.Borrowing(reserve.ID),
	}
}

func mustEqual(t *testing.T, got *big.Int, want int64, label string) {
	t.Helper()
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("unexpected %s: got %s want %d", label, got, want)
	}
}
