package plan

import (
	"github.com/evmproc-dev/evmproc/pkg/evm"
)

// Default projections delivered when the user does not select fields explicitly.
var (
	defaultBlockFields = []string{"number", "hash", "parentHash", "timestamp"}
	defaultTxFields    = []string{"hash", "from", "to", "input"}
	defaultLogFields   = []string{"address", "topics", "data", "transactionHash"}
)

// Fields forced on regardless of user choice. The pipeline needs them to
// key blocks and order items.
var (
	forcedBlockFields = []string{"hash", "number"}
	forcedTxFields    = []string{"index"}
	forcedLogFields   = []string{"index", "transactionIndex"}
)

// FieldMasks is the effective per-entity projection sent upstream: defaults
// merged with the user selection, with the always-on fields forced back in.
type FieldMasks struct {
	Block       map[string]bool
	Transaction map[string]bool
	Log         map[string]bool
}

// EffectiveFields normalizes a user field selection into upstream masks.
// User-enabled fields are added, user-disabled fields removed from the
// defaults, and the always-on set wins over both. The operation is
// idempotent: normalizing an already-normalized selection is a no-op.
func EffectiveFields(sel evm.FieldSelection) FieldMasks {
	return FieldMasks{
		Block:       mergeEntity(sel.Block, defaultBlockFields, forcedBlockFields),
		Transaction: mergeEntity(sel.Transaction, defaultTxFields, forcedTxFields),
		Log:         mergeEntity(sel.Log, defaultLogFields, forcedLogFields),
	}
}

// LogWantsTransaction reports whether the per-log upstream sub-query should
// carry the full transaction projection.
func (m FieldMasks) LogWantsTransaction() bool {
	return m.Log["transaction"]
}

// AsSelection converts the masks back into a FieldSelection. Default fields
// the masks dropped are encoded as explicit false entries, which makes
// EffectiveFields idempotent: normalizing the result reproduces the masks.
func (m FieldMasks) AsSelection() evm.FieldSelection {
	return evm.FieldSelection{
		Block:       entitySelection(m.Block, defaultBlockFields),
		Transaction: entitySelection(m.Transaction, defaultTxFields),
		Log:         entitySelection(m.Log, defaultLogFields),
	}
}

func mergeEntity(user map[string]bool, defaults, forced []string) map[string]bool {
	out := make(map[string]bool, len(defaults)+len(user))
	for _, f := range defaults {
		out[f] = true
	}
	for f, enabled := range user {
		if enabled {
			out[f] = true
		} else {
			delete(out, f)
		}
	}
	for _, f := range forced {
		out[f] = true
	}
	return out
}

func entitySelection(mask map[string]bool, defaults []string) map[string]bool {
	out := make(map[string]bool, len(mask)+len(defaults))
	for f, enabled := range mask {
		if enabled {
			out[f] = true
		}
	}
	for _, f := range defaults {
		if !mask[f] {
			out[f] = false
		}
	}
	return out
}
