package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"marginpool/native/pool"
)

const (
	reserveKeyPrefix = "pool/reserve/"
	reserveListKey   = "pool/reserve-list"
	userKeyPrefix    = "pool/user/"
	userIndexKey     = "pool/user-index"
	orderKeyPrefix   = "book/order/"
	orderIndexKey    = "book/order-index"
)

// StateStore holds the pool's persistent records: the per-reserve ledger
// entries, the id-ordered asset list and the per-user configuration flags. It
// keeps everything in memory and serializes to a Database on Persist, so a
// failed operation can be rolled back without touching the backend.
type StateStore struct {
	mu       sync.RWMutex
	reserves map[common.Address]*pool.Reserve
	list     []common.Address
	users    map[common.Address]*pool.UserConfig
	orders   map[common.Hash][]byte
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	return &StateStore{
		reserves: make(map[common.Address]*pool.Reserve),
		users:    make(map[common.Address]*pool.UserConfig),
		orders:   make(map[common.Hash][]byte),
	}
}

// GetReserve returns a copy of the reserve record, or nil when unlisted.
func (s *StateStore) GetReserve(asset common.Address) (*pool.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserves[asset].Clone(), nil
}

// PutReserve stores a copy of the reserve record, appending the asset to the
// id-ordered list on first sight.
func (s *StateStore) PutReserve(reserve *pool.Reserve) error {
	if reserve == nil {
		return errors.New("storage: nil reserve")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, listed := s.reserves[reserve.Asset]; !listed {
		s.list = append(s.list, reserve.Asset)
	}
	s.reserves[reserve.Asset] = reserve.Clone()
	return nil
}

// ReserveList returns the listed assets ordered by reserve id.
func (s *StateStore) ReserveList() ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]common.Address, len(s.list))
	copy(list, s.list)
	return list, nil
}

// GetUserConfig returns a copy of the user's flags, or nil when untracked.
func (s *StateStore) GetUserConfig(addr common.Address) (*pool.UserConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[addr].Clone(), nil
}

// PutUserConfig stores a copy of the user's flags, dropping the record once it
// carries no flags at all.
func (s *StateStore) PutUserConfig(cfg *pool.UserConfig) error {
	if cfg == nil {
		return errors.New("storage: nil user config")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.IsEmpty() {
		delete(s.users, cfg.User)
		return nil
	}
	s.users[cfg.User] = cfg.Clone()
	return nil
}

// GetOrderRecord returns the serialized order stored under hash, or nil.
func (s *StateStore) GetOrderRecord(hash common.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.orders[hash]
	if !ok {
		return nil, nil
	}
	copied := make([]byte, len(record))
	copy(copied, record)
	return copied, nil
}

// PutOrderRecord stores a serialized order under its hash.
func (s *StateStore) PutOrderRecord(hash common.Hash, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(record))
	copy(copied, record)
	s.orders[hash] = copied
	return nil
}

// OrderHashes returns every stored order hash, unordered.
func (s *StateStore) OrderHashes() ([]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := make([]common.Hash, 0, len(s.orders))
	for hash := range s.orders {
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// Checkpoint lets the store join an atomic pool operation.
func (s *StateStore) Checkpoint() func() {
	s.mu.RLock()
	reserves := make(map[common.Address]*pool.Reserve, len(s.reserves))
	for asset, reserve := range s.reserves {
		reserves[asset] = reserve.Clone()
	}
	list := make([]common.Address, len(s.list))
	copy(list, s.list)
	users := make(map[common.Address]*pool.UserConfig, len(s.users))
	for addr, cfg := range s.users {
		users[addr] = cfg.Clone()
	}
	orders := make(map[common.Hash][]byte, len(s.orders))
	for hash, record := range s.orders {
		copied := make([]byte, len(record))
		copy(copied, record)
		orders[hash] = copied
	}
	s.mu.RUnlock()
	return func() {
		s.mu.Lock()
		s.reserves = reserves
		s.list = list
		s.users = users
		s.orders = orders
		s.mu.Unlock()
	}
}

// Persist serializes the full store into db. The daemon calls it after each
// successful operation so the backend never observes a half-applied call.
func (s *StateStore) Persist(db Database) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	listPayload, err := json.Marshal(s.list)
	if err != nil {
		return fmt.Errorf("storage: encode reserve list: %w", err)
	}
	if err := db.Put([]byte(reserveListKey), listPayload); err != nil {
		return err
	}
	for asset, reserve := range s.reserves {
		payload, err := json.Marshal(reserve)
		if err != nil {
			return fmt.Errorf("storage: encode reserve %s: %w", asset.Hex(), err)
		}
		if err := db.Put(reserveKey(asset), payload); err != nil {
			return err
		}
	}
	userIndex := make([]common.Address, 0, len(s.users))
	for addr, cfg := range s.users {
		payload, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("storage: encode user %s: %w", addr.Hex(), err)
		}
		if err := db.Put(userKey(addr), payload); err != nil {
			return err
		}
		userIndex = append(userIndex, addr)
	}
	indexPayload, err := json.Marshal(userIndex)
	if err != nil {
		return fmt.Errorf("storage: encode user index: %w", err)
	}
	if err := db.Put([]byte(userIndexKey), indexPayload); err != nil {
		return err
	}
	orderIndex := make([]common.Hash, 0, len(s.orders))
	for hash, record := range s.orders {
		if err := db.Put(orderKey(hash), record); err != nil {
			return err
		}
		orderIndex = append(orderIndex, hash)
	}
	orderPayload, err := json.Marshal(orderIndex)
	if err != nil {
		return fmt.Errorf("storage: encode order index: %w", err)
	}
	return db.Put([]byte(orderIndexKey), orderPayload)
}

// Load replaces the store contents with what db holds. A missing reserve list
// means a fresh backend and leaves the store empty.
func (s *StateStore) Load(db Database) error {
	listPayload, err := db.Get([]byte(reserveListKey))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var list []common.Address
	if err := json.Unmarshal(listPayload, &list); err != nil {
		return fmt.Errorf("storage: decode reserve list: %w", err)
	}
	reserves := make(map[common.Address]*pool.Reserve, len(list))
	for _, asset := range list {
		payload, err := db.Get(reserveKey(asset))
		if err != nil {
			return fmt.Errorf("storage: load reserve %s: %w", asset.Hex(), err)
		}
		reserve := new(pool.Reserve)
		if err := json.Unmarshal(payload, reserve); err != nil {
			return fmt.Errorf("storage: decode reserve %s: %w", asset.Hex(), err)
		}
		reserves[asset] = reserve
	}
	users := make(map[common.Address]*pool.UserConfig)
	if indexPayload, err := db.Get([]byte(userIndexKey)); err == nil {
		var index []common.Address
		if err := json.Unmarshal(indexPayload, &index); err != nil {
			return fmt.Errorf("storage: decode user index: %w", err)
		}
		for _, addr := range index {
			payload, err := db.Get(userKey(addr))
			if err != nil {
				return fmt.Errorf("storage: load user %s: %w", addr.Hex(), err)
			}
			cfg := new(pool.UserConfig)
			if err := json.Unmarshal(payload, cfg); err != nil {
				return fmt.Errorf("storage: decode user %s: %w", addr.Hex(), err)
			}
			users[addr] = cfg
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	orders := make(map[common.Hash][]byte)
	if orderPayload, err := db.Get([]byte(orderIndexKey)); err == nil {
		var index []common.Hash
		if err := json.Unmarshal(orderPayload, &index); err != nil {
			return fmt.Errorf("storage: decode order index: %w", err)
		}
		for _, hash := range index {
			record, err := db.Get(orderKey(hash))
			if err != nil {
				return fmt.Errorf("storage: load order %s: %w", hash.Hex(), err)
			}
			orders[hash] = record
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	s.mu.Lock()
	s.reserves = reserves
	s.list = list
	s.users = users
	s.orders = orders
	s.mu.Unlock()
	return nil
}

func reserveKey(asset common.Address) []byte {
	return []byte(reserveKeyPrefix + asset.Hex())
}

func userKey(addr common.Address) []byte {
	return []byte(userKeyPrefix + addr.Hex())
}

func orderKey(hash common.Hash) []byte {
	return []byte(orderKeyPrefix + hash.Hex())
}
