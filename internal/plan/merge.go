package plan

import (
	"slices"

	"github.com/evmproc-dev/evmproc/pkg/evm"
)

// MergeRequests rewrites a list of batch requests into an equivalent list
// covering the same heights with no overlapping ranges. Requests active on
// the same segment are unioned: log and transaction criteria concatenate and
// includeAllBlocks is ORed. Field selections of the inputs are discarded;
// the processor-wide selection is applied after merging.
//
// The global range clamps the result: sub-requests wholly outside it are
// dropped, partially overlapping ones truncated.
func MergeRequests(requests []evm.BatchRequest, global evm.Range) []evm.BatchRequest {
	clamped := make([]evm.BatchRequest, 0, len(requests))
	for _, req := range requests {
		r, ok := clampRange(req.Range, global)
		if !ok {
			continue
		}
		clamped = append(clamped, evm.BatchRequest{Range: r, Request: req.Request})
	}
	if len(clamped) == 0 {
		return nil
	}

	// Collect segment boundaries: every range start, and the height right
	// after every closed range end.
	points := make([]uint64, 0, len(clamped)*2)
	open := false
	for _, req := range clamped {
		points = append(points, req.Range.From)
		if req.Range.To != nil {
			if *req.Range.To != ^uint64(0) {
				points = append(points, *req.Range.To+1)
			}
		} else {
			open = true
		}
	}
	slices.Sort(points)
	points = slices.Compact(points)

	var merged []evm.BatchRequest
	for i, from := range points {
		var segment evm.Range
		if i+1 < len(points) {
			segment = evm.NewRange(from, points[i+1]-1)
		} else if open {
			segment = evm.OpenRange(from)
		} else {
			// The last point is one past the highest closed range.
			break
		}

		var active []evm.DataRequest
		for _, req := range clamped {
			if covers(req.Range, segment) {
				active = append(active, req.Request)
			}
		}
		if len(active) == 0 {
			continue
		}

		merged = append(merged, evm.BatchRequest{
			Range:   segment,
			Request: unionRequests(active),
		})
	}

	return coalesce(merged)
}

func clampRange(r, global evm.Range) (evm.Range, bool) {
	from := max(r.From, global.From)
	to := r.To
	if global.To != nil && (to == nil || *to > *global.To) {
		to = global.To
	}
	if to != nil && *to < from {
		return evm.Range{}, false
	}
	clamped := evm.Range{From: from}
	if to != nil {
		v := *to
		clamped.To = &v
	}
	return clamped, true
}

// covers reports whether r contains the whole segment. Segments are built
// from the boundary points of all ranges, so partial overlap cannot occur.
func covers(r, segment evm.Range) bool {
	if segment.From < r.From {
		return false
	}
	if r.To == nil {
		return true
	}
	return segment.To != nil && *segment.To <= *r.To
}

func unionRequests(requests []evm.DataRequest) evm.DataRequest {
	var out evm.DataRequest
	for _, req := range requests {
		out.IncludeAllBlocks = out.IncludeAllBlocks || req.IncludeAllBlocks
		out.Logs = append(out.Logs, req.Logs...)
		out.Transactions = append(out.Transactions, req.Transactions...)
	}
	return out
}

// coalesce joins adjacent segments that ended up with identical requests,
// so a single user request survives merging unchanged.
func coalesce(requests []evm.BatchRequest) []evm.BatchRequest {
	if len(requests) == 0 {
		return nil
	}
	out := requests[:1]
	for _, req := range requests[1:] {
		last := &out[len(out)-1]
		if last.Range.To != nil && *last.Range.To+1 == req.Range.From &&
			sameRequest(last.Request, req.Request) {
			last.Range.To = req.Range.To
			continue
		}
		out = append(out, req)
	}
	return out
}

func sameRequest(a, b evm.DataRequest) bool {
	if a.IncludeAllBlocks != b.IncludeAllBlocks ||
		len(a.Logs) != len(b.Logs) || len(a.Transactions) != len(b.Transactions) {
		return false
	}
	for i := range a.Logs {
		if !slices.Equal(a.Logs[i].Address, b.Logs[i].Address) ||
			!slices.EqualFunc(a.Logs[i].Topics, b.Logs[i].Topics, slices.Equal) {
			return false
		}
	}
	for i := range a.Transactions {
		if !slices.Equal(a.Transactions[i].To, b.Transactions[i].To) ||
			!slices.Equal(a.Transactions[i].From, b.Transactions[i].From) ||
			!slices.Equal(a.Transactions[i].Sighash, b.Transactions[i].Sighash) {
			return false
		}
	}
	return true
}
