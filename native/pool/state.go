package pool

import (
	"github.com/ethereum/go-ethereum/common"
)

// State exposes the persistence layer the pool mutates. Implementations hold
// the per-reserve ledger records and per-user configuration flags.
type State interface {
	GetReserve(asset common.Address) (*Reserve, error)
	PutReserve(reserve *Reserve) error
	// ReserveList returns the listed assets ordered by reserve id.
	ReserveList() ([]common.Address, error)
	GetUserConfig(addr common.Address) (*UserConfig, error)
	PutUserConfig(cfg *UserConfig) error
}

// Participant is implemented by every ledger taking part in an atomic pool
// operation. Checkpoint captures the current state and returns the function
// that restores it; the engine invokes the revert functions in reverse order
// when an operation fails so no partial effect survives.
type Participant interface {
	Checkpoint() (revert func())
}
