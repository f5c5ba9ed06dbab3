package library

import "context"

// MaxTopN caps the ranking length a caller may ask for.
const MaxTopN = 100

// Stats aggregates counts and top-N rankings at read time. Overdue counts are
// evaluated against the clock, not the stored flag.
func (lm *LibraryManager) Stats(ctx context.Context, topN int) (*Stats, error) {
	if topN < 0 || topN > MaxTopN {
		return nil, invalid("top must be between 0 and %d", MaxTopN)
	}
	return lm.store.Stats(ctx, lm.clock(), topN)
}
