package processor

import (
	"github.com/evmproc-dev/evmproc/internal/common"
	"github.com/evmproc-dev/evmproc/pkg/evm"
)

// DataSource names the upstreams to ingest from. At least one must be set:
// Archive is the base URL of the archive HTTP endpoint, Chain the node
// JSON-RPC endpoint.
type DataSource struct {
	Archive string
	Chain   string
}

// LogOptions selects logs to deliver.
type LogOptions struct {
	// Address restricts to logs emitted by these contracts.
	Address []string

	// Filter is the per-position topic filter; an empty set at a position
	// matches any topic.
	Filter [][]string

	// Range bounds the request; nil means the whole processed range.
	Range *evm.Range
}

// TxOptions selects transactions to deliver.
type TxOptions struct {
	To      []string
	From    []string
	Sighash []string

	// Range bounds the request; nil means the whole processed range.
	Range *evm.Range
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = common.ToLowerWithTrim(v)
	}
	return out
}

func normalizeTopics(topics [][]string) [][]string {
	if len(topics) == 0 {
		return nil
	}
	out := make([][]string, len(topics))
	for i, set := range topics {
		out[i] = normalizeList(set)
	}
	return out
}

func requestRange(r *evm.Range) evm.Range {
	if r == nil {
		return evm.OpenRange(0)
	}
	return *r
}
