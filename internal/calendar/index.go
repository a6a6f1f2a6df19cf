package calendar

import (
	"time"

	"tileworks/internal/model"
)

// Index maps ISO days to their blocked-date record. Later duplicates win.
type Index map[string]model.BlockedDate

// NewIndex builds an index from scratch.
func NewIndex(records []model.BlockedDate) Index {
	idx := make(Index, len(records))
	for _, r := range records {
		k := dayKey(r.Date)
		if k == "" {
			continue
		}
		idx[k] = r
	}
	return idx
}

// For returns the record for t's calendar day.
func (idx Index) For(t time.Time) (model.BlockedDate, bool) {
	r, ok := idx[t.Format(model.DateLayout)]
	return r, ok
}

// dayKey trims timestamps like 2024-03-15T00:00:00Z to the ISO day.
func dayKey(s string) string {
	if len(s) < len(model.DateLayout) {
		return ""
	}
	k := s[:len(model.DateLayout)]
	if _, err := time.Parse(model.DateLayout, k); err != nil {
		return ""
	}
	return k
}
