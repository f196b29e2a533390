package orderbook

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Kind enumerates the six conditional order types. Open kinds borrow the input
// before swapping; close kinds burn existing deposit balance.
type Kind uint8

const (
	LimitToOpen Kind = iota + 1
	StopProfitToOpen
	StopLossToOpen
	LimitToClose
	StopProfitToClose
	StopLossToClose
)

// Opens reports whether executing the order opens leverage.
func (k Kind) Opens() bool {
	return k == LimitToOpen || k == StopProfitToOpen || k == StopLossToOpen
}

func (k Kind) valid() bool {
	return k >= LimitToOpen && k <= StopLossToClose
}

// Status is the per-hash lifecycle state. Orders move Null to Approved on
// placement and Approved to Canceled on cancellation or execution; Canceled is
// terminal.
type Status uint8

const (
	StatusNull Status = iota
	StatusApproved
	StatusCanceled
)

// Order is the immutable conditional order value object. Identity is the hash
// of every field including the registration timestamp, so economically
// identical orders placed at different moments remain distinct.
type Order struct {
	Maker    common.Address `json:"maker"`
	Kind     Kind           `json:"kind"`
	AssetIn  common.Address `json:"assetIn"`
	AssetOut common.Address `json:"assetOut"`
	// TargetPrice is the trigger: the quoted output for one whole unit of the
	// input asset, in output-asset base units.
	TargetPrice *big.Int `json:"targetPrice"`
	AmountIn    *big.Int `json:"amountIn"`
	// AmountOut is the minimum output the maker accepts on execution.
	AmountOut *big.Int `json:"amountOut"`
	// ExecutorFee is prepaid at placement and released to whoever executes.
	ExecutorFee *big.Int `json:"executorFee"`
	// CreatedAt is the unix registration time stamped by the book.
	CreatedAt int64 `json:"createdAt"`
}

// Hash derives the order identity from every field. The encoding is fixed
// width so the hash is stable under re-serialization of identical fields.
func (o *Order) Hash() common.Hash {
	payload := make([]byte, 0, 3*common.AddressLength+1+4*32+8)
	payload = append(payload, o.Maker.Bytes()...)
	payload = append(payload, byte(o.Kind))
	payload = append(payload, o.AssetIn.Bytes()...)
	payload = append(payload, o.AssetOut.Bytes()...)
	payload = append(payload, pad32(o.TargetPrice)...)
	payload = append(payload, pad32(o.AmountIn)...)
	payload = append(payload, pad32(o.AmountOut)...)
	payload = append(payload, pad32(o.ExecutorFee)...)
	payload = append(payload, pad8(o.CreatedAt)...)
	return crypto.Keccak256Hash(payload)
}

func pad32(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}

func pad8(v int64) []byte {
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
