package models

import "fmt"

// SortOrder controls pagination direction.
type SortOrder string

const (
	// SortNewest pages from the most recent post backwards.
	SortNewest SortOrder = "newest"
	// SortOldest pages from the earliest post forwards.
	SortOldest SortOrder = "oldest"
)

// Default fetch limits.
const (
	DefaultLimit = 25
	MaxLimit     = 1000
)

// FetchOptions selects what the aggregator retrieves for one request.
type FetchOptions struct {
	// Limit is the number of accepted posts to return. Ignored when All is set.
	Limit int

	// All fetches the entire post history. Per-item enrichment is
	// force-disabled in this mode to bound total upstream calls.
	All bool

	// IncludeReplies keeps reply posts; otherwise only top-level posts count
	// toward the limit.
	IncludeReplies bool

	// IncludeReactions fetches like/recast tallies per post.
	IncludeReactions bool

	// IncludeParents resolves parent posts for replies.
	IncludeParents bool

	// SortOrder is the pagination direction. Defaults to SortNewest.
	SortOrder SortOrder

	// NoCache bypasses the shared cache for this request.
	NoCache bool
}

// Normalize applies defaults and validates option values.
func (o *FetchOptions) Normalize() error {
	if o.SortOrder == "" {
		o.SortOrder = SortNewest
	}
	if o.SortOrder != SortNewest && o.SortOrder != SortOldest {
		return fmt.Errorf("%w: sort order %q", ErrValidation, o.SortOrder)
	}
	if o.Limit == 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit < 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrValidation, o.Limit)
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.All {
		// Bounding rule: full-history fetches never fan out per post.
		o.IncludeReactions = false
		o.IncludeParents = false
	}
	return nil
}
