package storage

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"marginpool/native/pool"
)

func testAddr(suffix byte) common.Address {
	var a common.Address
	a[common.AddressLength-1] = suffix
	return a
}

func testReserve(asset common.Address, id uint8) *pool.Reserve {
	index, _ := new(big.Int).SetString("1000000000000000000000000000", 10)
	return &pool.Reserve{
		Asset:          asset,
		ID:             id,
		Config:         pool.ReserveConfig{Active: true, Decimals: 18, LTV: 8_000, LiquidationThreshold: 8_500},
		LiquidityIndex: new(big.Int).Set(index),
		BorrowIndex:    new(big.Int).Set(index),
		LiquidityRate:  big.NewInt(0),
		BorrowRate:     big.NewInt(0),
		LastUpdate:     1_700_000_000,
	}
}

func TestPutReserveAppendsListOnce(t *testing.T) {
	store := NewStateStore()
	asset := testAddr(0x10)

	if err := store.PutReserve(testReserve(asset, 0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutReserve(testReserve(asset, 0)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	list, err := store.ReserveList()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0] != asset {
		t.Fatalf("unexpected list: %v", list)
	}
	missing, err := store.GetReserve(testAddr(0x99))
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unlisted asset, got %v %v", missing, err)
	}
}

func TestGetReserveReturnsCopy(t *testing.T) {
	store := NewStateStore()
	asset := testAddr(0x10)
	if err := store.PutReserve(testReserve(asset, 0)); err != nil {
		t.Fatalf("put: %v", err)
	}

	first, err := store.GetReserve(asset)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.LiquidityIndex.SetInt64(1)
	first.Config.Active = false

	second, err := store.GetReserve(asset)
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if second.LiquidityIndex.Cmp(big.NewInt(1)) == 0 || !second.Config.Active {
		t.Fatalf("stored reserve mutated through a returned copy")
	}
}

func TestUserConfigDroppedWhenEmpty(t *testing.T) {
	store := NewStateStore()
	user := testAddr(0x01)

	cfg := &pool.UserConfig{User: user}
	cfg.SetBorrowing(0, true)
	if err := store.PutUserConfig(cfg); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, err := store.GetUserConfig(user)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded == nil || !loaded.Borrowing(0) {
		t.Fatalf("expected stored borrowing flag")
	}

	cfg.SetBorrowing(0, false)
	if err := store.PutUserConfig(cfg); err != nil {
		t.Fatalf("put empty: %v", err)
	}
	loaded, err = store.GetUserConfig(user)
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected empty config to be dropped, got %+v", loaded)
	}
}

func TestCheckpointRestoresEverything(t *testing.T) {
	store := NewStateStore()
	asset := testAddr(0x10)
	user := testAddr(0x01)
	hash := common.HexToHash("0xdead")
	if err := store.PutReserve(testReserve(asset, 0)); err != nil {
		t.Fatalf("put reserve: %v", err)
	}
	cfg := &pool.UserConfig{User: user}
	cfg.SetUsingAsCollateral(0, true)
	if err := store.PutUserConfig(cfg); err != nil {
		t.Fatalf("put user: %v", err)
	}
	if err := store.PutOrderRecord(hash, []byte(`{"status":1}`)); err != nil {
		t.Fatalf("put order: %v", err)
	}

	revert := store.Checkpoint()
	mutated, _ := store.GetReserve(asset)
	mutated.Config.Frozen = true
	if err := store.PutReserve(mutated); err != nil {
		t.Fatalf("mutate reserve: %v", err)
	}
	if err := store.PutReserve(testReserve(testAddr(0x20), 1)); err != nil {
		t.Fatalf("list second: %v", err)
	}
	cfg.SetUsingAsCollateral(0, false)
	if err := store.PutUserConfig(cfg); err != nil {
		t.Fatalf("drop user: %v", err)
	}
	if err := store.PutOrderRecord(hash, []byte(`{"status":2}`)); err != nil {
		t.Fatalf("mutate order: %v", err)
	}

	revert()
	reserve, _ := store.GetReserve(asset)
	if reserve.Config.Frozen {
		t.Fatalf("reserve mutation survived revert")
	}
	list, _ := store.ReserveList()
	if len(list) != 1 {
		t.Fatalf("listing survived revert: %v", list)
	}
	loaded, _ := store.GetUserConfig(user)
	if loaded == nil || !loaded.UsingAsCollateral(0) {
		t.Fatalf("user flags not restored")
	}
	record, _ := store.GetOrderRecord(hash)
	if string(record) != `{"status":1}` {
		t.Fatalf("order record not restored: %s", record)
	}
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	store := NewStateStore()
	db := NewMemDB()
	assetA, assetB := testAddr(0x10), testAddr(0x20)
	user := testAddr(0x01)
	hash := common.HexToHash("0xbeef")

	reserve := testReserve(assetA, 0)
	reserve.LiquidityIndex, _ = new(big.Int).SetString("1050000000000000000000000000", 10)
	if err := store.PutReserve(reserve); err != nil {
		t.Fatalf("put reserve: %v", err)
	}
	if err := store.PutReserve(testReserve(assetB, 1)); err != nil {
		t.Fatalf("put second: %v", err)
	}
	cfg := &pool.UserConfig{User: user}
	cfg.SetBorrowing(1, true)
	cfg.SetUsingAsCollateral(0, true)
	if err := store.PutUserConfig(cfg); err != nil {
		t.Fatalf("put user: %v", err)
	}
	if err := store.PutOrderRecord(hash, []byte(`{"status":1}`)); err != nil {
		t.Fatalf("put order: %v", err)
	}
	if err := store.Persist(db); err != nil {
		t.Fatalf("persist: %v", err)
	}

	restored := NewStateStore()
	if err := restored.Load(db); err != nil {
		t.Fatalf("load: %v", err)
	}
	list, err := restored.ReserveList()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0] != assetA || list[1] != assetB {
		t.Fatalf("reserve order lost across reload: %v", list)
	}
	loadedReserve, err := restored.GetReserve(assetA)
	if err != nil {
		t.Fatalf("get reserve: %v", err)
	}
	if loadedReserve.LiquidityIndex.Cmp(reserve.LiquidityIndex) != 0 {
		t.Fatalf("index lost precision: %s", loadedReserve.LiquidityIndex)
	}
	loadedCfg, err := restored.GetUserConfig(user)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if loadedCfg == nil || !loadedCfg.Borrowing(1) || !loadedCfg.UsingAsCollateral(0) {
		t.Fatalf("user flags lost across reload: %+v", loadedCfg)
	}
	record, err := restored.GetOrderRecord(hash)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if string(record) != `{"status":1}` {
		t.Fatalf("order record lost: %s", record)
	}
}

func TestLoadFreshBackendLeavesStoreEmpty(t *testing.T) {
	store := NewStateStore()
	if err := store.Load(NewMemDB()); err != nil {
		t.Fatalf("load fresh: %v", err)
	}
	list, err := store.ReserveList()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty store, got %v", list)
	}
}

func TestMemDBSemantics(t *testing.T) {
	db := NewMemDB()
	key := []byte("k")

	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	value := []byte("v1")
	if err := db.Put(key, value); err != nil {
		t.Fatalf("put: %v", err)
	}
	// The stored value must not alias the caller's slice.
	value[0] = 'x'
	got, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("stored value aliased caller buffer: %s", got)
	}
	if err := db.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
