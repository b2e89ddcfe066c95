package vanstock

import "github.com/vanroute/vanroute/internal/unit"

// Combine folds persisted lines and session drafts into the single view
// used for display and aggregation. Persisted lines enter first; a draft
// is kept only when no persisted line exists for its product, so the
// source of truth always wins over a stale draft while loaded-but-unsaved
// lines (a carry-forward candidate, typically) still show.
func Combine(persisted []StockLine, draft *EditSet) []StockLine {
	seen := make(map[int64]struct{}, len(persisted))
	combined := make([]StockLine, 0, len(persisted)+draft.Len())
	for _, line := range persisted {
		if _, dup := seen[line.ProductID]; dup {
			continue
		}
		seen[line.ProductID] = struct{}{}
		combined = append(combined, line)
	}
	for _, line := range draft.Lines() {
		if _, dup := seen[line.ProductID]; dup {
			continue
		}
		seen[line.ProductID] = struct{}{}
		combined = append(combined, line)
	}
	return combined
}

// SumTotals aggregates the combined view into canonical-unit totals.
// Summing anything other than the combined view under- or double-counts,
// so callers always go Combine then SumTotals.
func SumTotals(lines []StockLine) Totals {
	var t Totals
	for _, line := range lines {
		t.Start += unit.ToCanonical(line.StartQty, line.Unit)
		t.Ordered += unit.ToCanonical(line.OrderedQty, line.Unit)
		t.Returned += unit.ToCanonical(line.ReturnedQty, line.Unit)
		t.Left += unit.ToCanonical(line.Left(), line.Unit)
	}
	return t
}
