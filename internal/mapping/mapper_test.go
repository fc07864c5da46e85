package mapping

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/evmproc-dev/evmproc/pkg/evm"
	"github.com/stretchr/testify/require"
)

const (
	blockHash  = "0x00000000000000000000000000000000000000000000000000000000000000aa"
	parentHash = "0x00000000000000000000000000000000000000000000000000000000000000a9"
	txHash     = "0x00000000000000000000000000000000000000000000000000000000000000f1"
	address    = "0x1111111111111111111111111111111111111111"
	topic0     = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

func uintPtr(v Uint64) *Uint64 { return &v }

func bigPtr(v int64) *BigInt {
	b := BigInt(*big.NewInt(v))
	return &b
}

func TestMapBlock_HeaderNumerics(t *testing.T) {
	var header Header
	require.NoError(t, json.Unmarshal([]byte(`{
		"number": "0x10",
		"hash": "`+blockHash+`",
		"parentHash": "`+parentHash+`",
		"timestamp": "0x65000000",
		"gasUsed": "0x5208",
		"baseFeePerGas": "0x3b9aca00",
		"difficulty": "0x0"
	}`), &header))

	full, err := MapBlock(&BlockData{Block: header})
	require.NoError(t, err)

	require.Equal(t, uint64(16), full.Header.Height)
	require.Equal(t, blockHash, full.Header.Hash.Hex())
	require.Equal(t, parentHash, full.Header.ParentHash.Hex())
	require.Equal(t, uint64(0x65000000), full.Header.Timestamp)
	require.Equal(t, big.NewInt(21000), full.Header.GasUsed)
	require.Equal(t, big.NewInt(1000000000), full.Header.BaseFeePerGas)
	require.Equal(t, big.NewInt(0), full.Header.Difficulty)
	require.Nil(t, full.Header.GasLimit, "unselected field stays nil")
	require.Empty(t, full.Items)
}

func TestMapBlock_FlexibleNumbers(t *testing.T) {
	// Archive payloads use plain numbers, node payloads hex strings; both
	// must decode identically.
	var fromNumber, fromHex Header
	require.NoError(t, json.Unmarshal([]byte(`{"number": 16, "hash": "`+blockHash+`"}`), &fromNumber))
	require.NoError(t, json.Unmarshal([]byte(`{"number": "0x10", "hash": "`+blockHash+`"}`), &fromHex))
	require.Equal(t, fromNumber.Number, fromHex.Number)

	var decimal BigInt
	require.NoError(t, json.Unmarshal([]byte(`"1000000"`), &decimal))
	require.Equal(t, big.NewInt(1000000), decimal.Int())

	var hex BigInt
	require.NoError(t, json.Unmarshal([]byte(`"0xf4240"`), &hex))
	require.Equal(t, big.NewInt(1000000), hex.Int())
}

func TestMapBlock_LogTransactionJoin(t *testing.T) {
	bd := &BlockData{
		Block: Header{Number: 5, Hash: blockHash},
		Transactions: []Transaction{
			{TransactionIndex: 2, Hash: txHash, Value: bigPtr(42)},
		},
		Logs: []Log{
			{LogIndex: 7, TransactionIndex: 2, Address: address, Topics: []string{topic0}},
			{LogIndex: 9, TransactionIndex: 3, Address: address},
		},
	}

	full, err := MapBlock(bd)
	require.NoError(t, err)
	require.Len(t, full.Items, 3)

	// Transaction before its logs, in transaction index order.
	require.Equal(t, evm.ItemTransaction, full.Items[0].Kind())
	require.Equal(t, uint(2), full.Items[0].Transaction.Index)

	require.Equal(t, evm.ItemLog, full.Items[1].Kind())
	require.Equal(t, uint(7), full.Items[1].Log.Index)
	require.NotNil(t, full.Items[1].Tx, "log with matching tx index gets the back-reference")
	require.Equal(t, big.NewInt(42), full.Items[1].Tx.Value)

	require.Equal(t, evm.ItemLog, full.Items[2].Kind())
	require.Nil(t, full.Items[2].Tx, "log without matching tx stays unjoined")
}

func TestMapBlock_ItemOrdering(t *testing.T) {
	bd := &BlockData{
		Block: Header{Number: 5, Hash: blockHash},
		Transactions: []Transaction{
			{TransactionIndex: 3, Hash: txHash},
			{TransactionIndex: 0, Hash: txHash},
		},
		Logs: []Log{
			{LogIndex: 11, TransactionIndex: 3, Address: address},
			{LogIndex: 2, TransactionIndex: 0, Address: address},
			{LogIndex: 1, TransactionIndex: 0, Address: address},
		},
	}

	full, err := MapBlock(bd)
	require.NoError(t, err)

	for i := 1; i < len(full.Items); i++ {
		require.LessOrEqual(t, evm.BlockItemOrder(full.Items[i-1], full.Items[i]), 0,
			"items must be in block item order")
	}
	require.Equal(t, uint(1), full.Items[1].Log.Index)
	require.Equal(t, uint(2), full.Items[2].Log.Index)
}

func TestMapBlock_TransactionFields(t *testing.T) {
	to := address
	bd := &BlockData{
		Block: Header{Number: 5, Hash: blockHash},
		Transactions: []Transaction{{
			TransactionIndex: 0,
			Hash:             txHash,
			From:             "0x2222222222222222222222222222222222222222",
			To:               &to,
			Input:            "0xa9059cbb0001",
			Value:            bigPtr(1),
			Nonce:            uintPtr(12),
			YParity:          uintPtr(1),
		}},
	}

	full, err := MapBlock(bd)
	require.NoError(t, err)

	tx := full.Items[0].Transaction
	require.Equal(t, txHash, tx.Hash.Hex())
	require.NotNil(t, tx.To)
	require.Equal(t, address, tx.To.Hex())
	require.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb, 0x00, 0x01}, []byte(tx.Input))
	require.Equal(t, uint64(12), tx.Nonce)
	require.NotNil(t, tx.YParity)
	require.Equal(t, uint64(1), *tx.YParity)
}

func TestMapBlock_ErrorsCarryBlockContext(t *testing.T) {
	bd := &BlockData{
		Block: Header{Number: 77, Hash: blockHash},
		Logs:  []Log{{LogIndex: 0, Address: "0xnothex"}},
	}

	_, err := MapBlock(bd)
	require.Error(t, err)
	require.ErrorContains(t, err, "blockHeight=77")
	require.ErrorContains(t, err, blockHash)
}

func TestMapBlock_MalformedHashIsFatal(t *testing.T) {
	_, err := MapBlock(&BlockData{Block: Header{Number: 1, Hash: "0x1234"}})
	require.Error(t, err)
	require.ErrorContains(t, err, "hash")
}
