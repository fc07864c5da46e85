package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BlockHeader is the canonical header shape delivered to handlers.
// Optional fields are nil when the active field selection does not include them.
type BlockHeader struct {
	Height     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64

	Nonce           *big.Int
	Difficulty      *big.Int
	TotalDifficulty *big.Int
	Size            *big.Int
	GasUsed         *big.Int
	GasLimit        *big.Int
	BaseFeePerGas   *big.Int
}

// ID returns the stable handler-facing identifier of the block.
func (h *BlockHeader) ID() string {
	return FormatBlockID(h.Height, h.Hash)
}

// Transaction is the canonical transaction shape delivered to handlers.
// Numeric u256 fields are arbitrary precision; nil means the field was not selected.
type Transaction struct {
	Index uint
	Hash  common.Hash
	From  common.Address
	To    *common.Address
	Input hexutil.Bytes

	Value                *big.Int
	Gas                  *big.Int
	GasPrice             *big.Int
	Nonce                uint64
	V                    *big.Int
	R                    *big.Int
	S                    *big.Int
	ChainID              *big.Int
	YParity              *uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Log is the canonical log shape delivered to handlers.
type Log struct {
	Index            uint
	Address          common.Address
	Topics           []common.Hash
	Data             hexutil.Bytes
	TransactionIndex uint
	TransactionHash  common.Hash
}

// BlockItem is a tagged union of the entities belonging to a block.
// Exactly one of Transaction or Log is set. For log items, Tx points to the
// transaction with the matching index when that transaction is part of the
// same block's items; it is nil otherwise.
type BlockItem struct {
	Transaction *Transaction
	Log         *Log
	Tx          *Transaction
}

// ItemKind discriminates BlockItem variants.
type ItemKind int

const (
	ItemTransaction ItemKind = iota
	ItemLog
)

// Kind returns the variant tag of the item.
func (it *BlockItem) Kind() ItemKind {
	if it.Transaction != nil {
		return ItemTransaction
	}
	return ItemLog
}

// txIndex returns the transaction index the item sorts under.
func (it *BlockItem) txIndex() uint {
	if it.Transaction != nil {
		return it.Transaction.Index
	}
	return it.Log.TransactionIndex
}

// BlockItemOrder compares two items by (transaction index, kind, log index):
// items of a transaction sort together, the transaction itself before its
// logs, logs by ascending log index. Usable with slices.SortFunc.
func BlockItemOrder(a, b *BlockItem) int {
	ai, bi := a.txIndex(), b.txIndex()
	if ai != bi {
		if ai < bi {
			return -1
		}
		return 1
	}
	ak, bk := a.Kind(), b.Kind()
	if ak != bk {
		if ak == ItemTransaction {
			return -1
		}
		return 1
	}
	if ak == ItemLog && a.Log.Index != b.Log.Index {
		if a.Log.Index < b.Log.Index {
			return -1
		}
		return 1
	}
	return 0
}

// FullBlockData is one block as observed by the handler: the mapped header
// plus the requested items in BlockItemOrder.
type FullBlockData struct {
	Header BlockHeader
	Items  []*BlockItem
}

// BatchResponse is a contiguous run of blocks returned by a data source.
// Blocks are ordered by ascending height and the last block's height always
// equals Range.To.
type BatchResponse struct {
	Range       Range
	Blocks      []FullBlockData
	ChainHeight uint64
}
