package evm

// Range is a block height interval. To is nil for open-ended ranges.
type Range struct {
	From uint64
	To   *uint64
}

// NewRange builds a closed range.
func NewRange(from, to uint64) Range {
	return Range{From: from, To: &to}
}

// OpenRange builds a range with no upper bound.
func OpenRange(from uint64) Range {
	return Range{From: from}
}

// Contains reports whether the height falls inside the range.
func (r Range) Contains(height uint64) bool {
	return height >= r.From && (r.To == nil || height <= *r.To)
}

// IsEmpty reports whether the range covers no heights.
func (r Range) IsEmpty() bool {
	return r.To != nil && *r.To < r.From
}

// LogCriterion selects logs by emitting address and per-position topic sets.
// Empty lists match any value. Addresses and topics are lowercase hex.
type LogCriterion struct {
	Address []string   `json:"address,omitempty"`
	Topics  [][]string `json:"topics,omitempty"`
}

// TxCriterion selects transactions by sender, recipient and function selector.
// Empty lists match any value. All entries are lowercase hex.
type TxCriterion struct {
	To      []string `json:"to,omitempty"`
	From    []string `json:"from,omitempty"`
	Sighash []string `json:"sighash,omitempty"`
}

// FieldSelection maps entity attribute names to their inclusion flag.
// Absent attributes fall back to the default projection.
type FieldSelection struct {
	Block       map[string]bool `json:"block,omitempty"`
	Transaction map[string]bool `json:"transaction,omitempty"`
	Log         map[string]bool `json:"log,omitempty"`
}

// IsEmpty reports whether no entity has an explicit selection.
func (f FieldSelection) IsEmpty() bool {
	return len(f.Block) == 0 && len(f.Transaction) == 0 && len(f.Log) == 0
}

// DataRequest describes what to fetch for a block range.
type DataRequest struct {
	IncludeAllBlocks bool
	Logs             []LogCriterion
	Transactions     []TxCriterion
	Fields           FieldSelection
}

// WantsTransactions reports whether any criterion may require transaction
// bodies, either directly or through the log.transaction projection.
func (r *DataRequest) WantsTransactions() bool {
	return len(r.Transactions) > 0 || (len(r.Logs) > 0 && r.Fields.Log["transaction"])
}

// BatchRequest binds a DataRequest to the block range it applies to.
type BatchRequest struct {
	Range   Range
	Request DataRequest
}
