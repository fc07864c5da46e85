package mapping

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/evmproc-dev/evmproc/internal/common"
)

// Wire shapes shared by the archive payloads and the node JSON-RPC payloads.
// Field names follow the eth JSON conventions; numeric values arrive either
// as JSON numbers or as decimal / 0x-prefixed hex strings depending on the
// upstream, so the scalar types below accept both.

// Uint64 is a u64 that unmarshals from a JSON number or a numeric string.
type Uint64 uint64

func (u *Uint64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		return nil
	}
	v, err := common.ParseUint64orHex(&s)
	if err != nil {
		return fmt.Errorf("invalid uint64 %q: %w", s, err)
	}
	*u = Uint64(v)
	return nil
}

func (u Uint64) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint64(u))
}

// BigInt is an arbitrary-precision integer that unmarshals from a JSON
// number or a decimal / 0x-prefixed hex string.
type BigInt big.Int

func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		return nil
	}
	v := new(big.Int)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if _, ok := v.SetString(s[2:], 16); !ok {
			return fmt.Errorf("invalid hex quantity %q", s)
		}
	} else if _, ok := v.SetString(s, 10); !ok {
		return fmt.Errorf("invalid quantity %q", s)
	}
	*b = BigInt(*v)
	return nil
}

func (b *BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + (*big.Int)(b).Text(16))
}

// Int returns the underlying big.Int, nil-safe.
func (b *BigInt) Int() *big.Int {
	if b == nil {
		return nil
	}
	return (*big.Int)(b)
}

// Header is the wire form of a block header.
type Header struct {
	Number     Uint64  `json:"number"`
	Hash       string  `json:"hash"`
	ParentHash string  `json:"parentHash"`
	Timestamp  *Uint64 `json:"timestamp,omitempty"`

	Nonce           *BigInt `json:"nonce,omitempty"`
	Difficulty      *BigInt `json:"difficulty,omitempty"`
	TotalDifficulty *BigInt `json:"totalDifficulty,omitempty"`
	Size            *BigInt `json:"size,omitempty"`
	GasUsed         *BigInt `json:"gasUsed,omitempty"`
	GasLimit        *BigInt `json:"gasLimit,omitempty"`
	BaseFeePerGas   *BigInt `json:"baseFeePerGas,omitempty"`
}

// Transaction is the wire form of a transaction body.
type Transaction struct {
	TransactionIndex Uint64  `json:"transactionIndex"`
	Hash             string  `json:"hash"`
	From             string  `json:"from,omitempty"`
	To               *string `json:"to,omitempty"`
	Input            string  `json:"input,omitempty"`

	Value                *BigInt `json:"value,omitempty"`
	Gas                  *BigInt `json:"gas,omitempty"`
	GasPrice             *BigInt `json:"gasPrice,omitempty"`
	Nonce                *Uint64 `json:"nonce,omitempty"`
	V                    *BigInt `json:"v,omitempty"`
	R                    *BigInt `json:"r,omitempty"`
	S                    *BigInt `json:"s,omitempty"`
	ChainID              *BigInt `json:"chainId,omitempty"`
	YParity              *Uint64 `json:"yParity,omitempty"`
	MaxFeePerGas         *BigInt `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *BigInt `json:"maxPriorityFeePerGas,omitempty"`
}

// Log is the wire form of an event log.
type Log struct {
	LogIndex         Uint64   `json:"logIndex"`
	Address          string   `json:"address"`
	Topics           []string `json:"topics,omitempty"`
	Data             string   `json:"data,omitempty"`
	TransactionIndex Uint64   `json:"transactionIndex"`
	TransactionHash  string   `json:"transactionHash,omitempty"`
}

// BlockData bundles one block's wire entities.
type BlockData struct {
	Block        Header        `json:"block"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Logs         []Log         `json:"logs,omitempty"`
}
