package hotsource

import (
	"github.com/evmproc-dev/evmproc/internal/mapping"
	"github.com/evmproc-dev/evmproc/internal/plan"
)

// applyFieldMasks prunes wire fields the projection does not include, so hot
// blocks carry the same shape the archive produces server-side.
func applyFieldMasks(bd *mapping.BlockData, masks plan.FieldMasks) {
	pruneHeader(&bd.Block, masks.Block)
	for i := range bd.Transactions {
		pruneTransaction(&bd.Transactions[i], masks.Transaction)
	}
	for i := range bd.Logs {
		pruneLog(&bd.Logs[i], masks.Log)
	}
}

func pruneHeader(h *mapping.Header, mask map[string]bool) {
	if !mask["parentHash"] {
		h.ParentHash = ""
	}
	if !mask["timestamp"] {
		h.Timestamp = nil
	}
	if !mask["nonce"] {
		h.Nonce = nil
	}
	if !mask["difficulty"] {
		h.Difficulty = nil
	}
	if !mask["totalDifficulty"] {
		h.TotalDifficulty = nil
	}
	if !mask["size"] {
		h.Size = nil
	}
	if !mask["gasUsed"] {
		h.GasUsed = nil
	}
	if !mask["gasLimit"] {
		h.GasLimit = nil
	}
	if !mask["baseFeePerGas"] {
		h.BaseFeePerGas = nil
	}
}

func pruneTransaction(t *mapping.Transaction, mask map[string]bool) {
	if !mask["hash"] {
		t.Hash = ""
	}
	if !mask["from"] {
		t.From = ""
	}
	if !mask["to"] {
		t.To = nil
	}
	if !mask["input"] {
		t.Input = ""
	}
	if !mask["value"] {
		t.Value = nil
	}
	if !mask["gas"] {
		t.Gas = nil
	}
	if !mask["gasPrice"] {
		t.GasPrice = nil
	}
	if !mask["nonce"] {
		t.Nonce = nil
	}
	if !mask["v"] {
		t.V = nil
	}
	if !mask["r"] {
		t.R = nil
	}
	if !mask["s"] {
		t.S = nil
	}
	if !mask["chainId"] {
		t.ChainID = nil
	}
	if !mask["yParity"] {
		t.YParity = nil
	}
	if !mask["maxFeePerGas"] {
		t.MaxFeePerGas = nil
	}
	if !mask["maxPriorityFeePerGas"] {
		t.MaxPriorityFeePerGas = nil
	}
}

func pruneLog(l *mapping.Log, mask map[string]bool) {
	if !mask["address"] {
		l.Address = ""
	}
	if !mask["topics"] {
		l.Topics = nil
	}
	if !mask["data"] {
		l.Data = ""
	}
	if !mask["transactionHash"] {
		l.TransactionHash = ""
	}
}
