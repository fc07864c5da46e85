package rpc

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/evmproc-dev/evmproc/internal/common"
)

// Nodes refuse eth_getLogs queries whose result set is too large; the hot
// source reacts by splitting the polled range. The refusal is not part of
// the JSON-RPC error message itself, it travels in the error's data field:
//
//	"Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc]."
var (
	tooManyResultsPattern = regexp.MustCompile(`Query returned more than \d+ results`)
	suggestedRangePattern = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
)

// IsTooManyResultsError reports whether the error is a node's "too many
// results" refusal. The error data string is returned for any DataError so
// the caller can mine it for the suggested range.
func IsTooManyResultsError(err error) (bool, string) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return false, ""
	}

	errData := fmt.Sprintf("%v", dataErr.ErrorData())
	return tooManyResultsPattern.MatchString(errData), errData
}

// ParseSuggestedBlockRange extracts the block range a node suggests in its
// refusal, when present. Only the first bracketed range is considered.
func ParseSuggestedBlockRange(errData string) (fromBlock, toBlock uint64, ok bool) {
	matches := suggestedRangePattern.FindStringSubmatch(errData)
	if matches == nil {
		return 0, 0, false
	}

	from, err := common.ParseUint64orHex(&matches[1])
	if err != nil {
		return 0, 0, false
	}
	to, err := common.ParseUint64orHex(&matches[2])
	if err != nil {
		return 0, 0, false
	}

	return from, to, true
}
