package plan

import (
	"testing"

	"github.com/evmproc-dev/evmproc/pkg/evm"
	"github.com/stretchr/testify/require"
)

func TestEffectiveFields_Defaults(t *testing.T) {
	masks := EffectiveFields(evm.FieldSelection{})

	require.Equal(t, map[string]bool{
		"number": true, "hash": true, "parentHash": true, "timestamp": true,
	}, masks.Block)
	require.Equal(t, map[string]bool{
		"hash": true, "from": true, "to": true, "input": true, "index": true,
	}, masks.Transaction)
	require.Equal(t, map[string]bool{
		"address": true, "topics": true, "data": true, "transactionHash": true,
		"index": true, "transactionIndex": true,
	}, masks.Log)
	require.False(t, masks.LogWantsTransaction())
}

func TestEffectiveFields_UserEnableAndDisable(t *testing.T) {
	masks := EffectiveFields(evm.FieldSelection{
		Block:       map[string]bool{"gasUsed": true, "timestamp": false},
		Transaction: map[string]bool{"value": true, "input": false},
		Log:         map[string]bool{"transaction": true, "data": false},
	})

	require.True(t, masks.Block["gasUsed"])
	require.False(t, masks.Block["timestamp"])
	require.True(t, masks.Transaction["value"])
	require.False(t, masks.Transaction["input"])
	require.False(t, masks.Log["data"])
	require.True(t, masks.LogWantsTransaction())
}

func TestEffectiveFields_AlwaysOnWinOverDisable(t *testing.T) {
	masks := EffectiveFields(evm.FieldSelection{
		Block:       map[string]bool{"hash": false, "number": false},
		Transaction: map[string]bool{"index": false},
		Log:         map[string]bool{"index": false, "transactionIndex": false},
	})

	require.True(t, masks.Block["hash"])
	require.True(t, masks.Block["number"])
	require.True(t, masks.Transaction["index"])
	require.True(t, masks.Log["index"])
	require.True(t, masks.Log["transactionIndex"])
}

func TestEffectiveFields_Idempotent(t *testing.T) {
	selections := []evm.FieldSelection{
		{},
		{Block: map[string]bool{"gasUsed": true, "timestamp": false}},
		{Log: map[string]bool{"transaction": true}},
		{
			Block:       map[string]bool{"hash": false},
			Transaction: map[string]bool{"value": true, "v": true, "input": false},
			Log:         map[string]bool{"data": false},
		},
	}

	for _, sel := range selections {
		once := EffectiveFields(sel)
		twice := EffectiveFields(once.AsSelection())
		require.Equal(t, once, twice)
	}
}
