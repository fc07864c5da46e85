package mapping

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/evmproc-dev/evmproc/pkg/evm"
)

// MapBlock translates one wire BlockData into the canonical handler-visible
// shape: header numerics parsed into big integers, transactions indexed by
// their position, logs joined to their transaction when it is part of the
// same block, and items sorted in block item order.
//
// A failure to map any entity is fatal for the whole batch; the returned
// error carries the block height and hash for context.
func MapBlock(bd *BlockData) (*evm.FullBlockData, error) {
	full, err := mapBlock(bd)
	if err != nil {
		return nil, fmt.Errorf("mapping block {blockHeight=%d, blockHash=%s}: %w",
			uint64(bd.Block.Number), bd.Block.Hash, err)
	}
	return full, nil
}

func mapBlock(bd *BlockData) (*evm.FullBlockData, error) {
	header, err := mapHeader(&bd.Block)
	if err != nil {
		return nil, err
	}

	items := make([]*evm.BlockItem, 0, len(bd.Transactions)+len(bd.Logs))
	txByIndex := make(map[uint]*evm.Transaction, len(bd.Transactions))

	for i := range bd.Transactions {
		tx, err := mapTransaction(&bd.Transactions[i])
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", bd.Transactions[i].TransactionIndex, err)
		}
		txByIndex[tx.Index] = tx
		items = append(items, &evm.BlockItem{Transaction: tx})
	}

	for i := range bd.Logs {
		log, err := mapLog(&bd.Logs[i])
		if err != nil {
			return nil, fmt.Errorf("log %d: %w", bd.Logs[i].LogIndex, err)
		}
		items = append(items, &evm.BlockItem{
			Log: log,
			Tx:  txByIndex[log.TransactionIndex],
		})
	}

	slices.SortFunc(items, evm.BlockItemOrder)

	return &evm.FullBlockData{Header: *header, Items: items}, nil
}

func mapHeader(h *Header) (*evm.BlockHeader, error) {
	hash, err := parseHash(h.Hash)
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}

	header := &evm.BlockHeader{
		Height:          uint64(h.Number),
		Hash:            hash,
		Nonce:           h.Nonce.Int(),
		Difficulty:      h.Difficulty.Int(),
		TotalDifficulty: h.TotalDifficulty.Int(),
		Size:            h.Size.Int(),
		GasUsed:         h.GasUsed.Int(),
		GasLimit:        h.GasLimit.Int(),
		BaseFeePerGas:   h.BaseFeePerGas.Int(),
	}

	if h.ParentHash != "" {
		if header.ParentHash, err = parseHash(h.ParentHash); err != nil {
			return nil, fmt.Errorf("parentHash: %w", err)
		}
	}
	if h.Timestamp != nil {
		header.Timestamp = uint64(*h.Timestamp)
	}

	return header, nil
}

func mapTransaction(t *Transaction) (*evm.Transaction, error) {
	var err error

	tx := &evm.Transaction{
		Index:                uint(t.TransactionIndex),
		Value:                t.Value.Int(),
		Gas:                  t.Gas.Int(),
		GasPrice:             t.GasPrice.Int(),
		V:                    t.V.Int(),
		R:                    t.R.Int(),
		S:                    t.S.Int(),
		ChainID:              t.ChainID.Int(),
		MaxFeePerGas:         t.MaxFeePerGas.Int(),
		MaxPriorityFeePerGas: t.MaxPriorityFeePerGas.Int(),
	}

	if t.Hash != "" {
		if tx.Hash, err = parseHash(t.Hash); err != nil {
			return nil, fmt.Errorf("hash: %w", err)
		}
	}
	if t.From != "" {
		if tx.From, err = parseAddress(t.From); err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
	}
	if t.To != nil {
		to, err := parseAddress(*t.To)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		tx.To = &to
	}
	if t.Input != "" {
		if tx.Input, err = hexutil.Decode(t.Input); err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
	}
	if t.Nonce != nil {
		tx.Nonce = uint64(*t.Nonce)
	}
	if t.YParity != nil {
		v := uint64(*t.YParity)
		tx.YParity = &v
	}

	return tx, nil
}

func mapLog(l *Log) (*evm.Log, error) {
	log := &evm.Log{
		Index:            uint(l.LogIndex),
		TransactionIndex: uint(l.TransactionIndex),
	}

	var err error
	if l.Address != "" {
		if log.Address, err = parseAddress(l.Address); err != nil {
			return nil, fmt.Errorf("address: %w", err)
		}
	}
	if l.TransactionHash != "" {
		if log.TransactionHash, err = parseHash(l.TransactionHash); err != nil {
			return nil, fmt.Errorf("transactionHash: %w", err)
		}
	}
	if l.Data != "" {
		if log.Data, err = hexutil.Decode(l.Data); err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
	}

	log.Topics = make([]common.Hash, len(l.Topics))
	for i, topic := range l.Topics {
		if log.Topics[i], err = parseHash(topic); err != nil {
			return nil, fmt.Errorf("topic %d: %w", i, err)
		}
	}

	return log, nil
}

func parseHash(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("hash %q has %d bytes, want %d", s, len(raw), common.HashLength)
	}
	return common.BytesToHash(raw), nil
}

func parseAddress(s string) (common.Address, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return common.Address{}, err
	}
	if len(raw) != common.AddressLength {
		return common.Address{}, fmt.Errorf("address %q has %d bytes, want %d", s, len(raw), common.AddressLength)
	}
	return common.BytesToAddress(raw), nil
}
