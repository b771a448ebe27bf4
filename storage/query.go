package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/substratehq/substrate/internal/vpath"
)

// DefaultQueryLimit bounds result sets when no explicit limit is given.
const DefaultQueryLimit = 1000

// AccessFilter is evaluated per item before the result limit applies.
// Items it rejects are silently omitted.
type AccessFilter func(ctx context.Context, md *Metadata) bool

// Query is a lazy, filterable traversal over a store subtree. Filters
// compose conjunctively. The zero query over an index returns every
// descendant object up to the default limit; index entries appear only
// when requested with Category(CategoryIndex).
type Query struct {
	store    *Store
	base     vpath.Path
	depth    int
	depthSet bool
	fileType string
	mimeType string
	category Category
	limit    int
	limitSet bool
	access   AccessFilter
}

// Query starts a traversal rooted at the given path. The base must be
// an index path; querying an object path fails at Run.
func (s *Store) Query(base vpath.Path) *Query {
	return &Query{store: s, base: base}
}

// Depth bounds traversal depth: 0 returns direct children only,
// negative is unbounded.
func (q *Query) Depth(d int) *Query {
	q.depth = d
	q.depthSet = true
	return q
}

// FileType keeps items whose name ends with the given suffix.
func (q *Query) FileType(suffix string) *Query {
	q.fileType = suffix
	return q
}

// MIMEType keeps items whose media type starts with the given prefix.
func (q *Query) MIMEType(prefix string) *Query {
	q.mimeType = prefix
	return q
}

// Category keeps items of one category.
func (q *Query) Category(c Category) *Query {
	q.category = c
	return q
}

// Limit bounds the result count; zero or negative means unbounded.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	q.limitSet = true
	return q
}

// Access installs a per-item permission filter, evaluated before the
// limit is applied.
func (q *Query) Access(f AccessFilter) *Query {
	q.access = f
	return q
}

// Run executes the traversal and returns matching metadata. A missing
// base index yields an empty result, not an error.
func (q *Query) Run(ctx context.Context) ([]*Metadata, error) {
	if !q.base.IsIndex() {
		return nil, fmt.Errorf("%w: query base must be an index path: %s", ErrInvalidArgument, q.base)
	}

	limit := DefaultQueryLimit
	if q.limitSet {
		limit = q.limit
		if limit <= 0 {
			limit = -1
		}
	}
	maxDepth := -1
	if q.depthSet && q.depth >= 0 {
		maxDepth = q.depth
	}

	mounts := q.store.snapshot()
	var results []*Metadata
	err := q.walk(ctx, mounts, q.base, 0, maxDepth, limit, &results)
	return results, err
}

// walk traverses one index level, collecting matches depth-first in
// name order.
func (q *Query) walk(ctx context.Context, mounts []*Mount, index vpath.Path, depth, maxDepth, limit int, results *[]*Metadata) error {
	if limit >= 0 && len(*results) >= limit {
		return nil
	}
	children, _, err := q.store.list(ctx, mounts, index)
	if err != nil {
		return err
	}

	for _, c := range children {
		if limit >= 0 && len(*results) >= limit {
			return nil
		}
		if c.index {
			sub := index.ChildIndex(c.name).AsIndex()
			md := &Metadata{
				Path:     sub,
				Category: CategoryIndex,
				MIME:     IndexMIME,
				Modified: time.Now(),
			}
			if c.meta != nil {
				md.Modified = c.meta.Modified
			}
			// Indexes are traversal structure, not items; they are
			// listed only when asked for by category.
			if q.category == CategoryIndex && q.matches(md) && q.allowed(ctx, md) {
				*results = append(*results, md)
			}
			if maxDepth < 0 || depth < maxDepth {
				if err := q.walk(ctx, mounts, sub, depth+1, maxDepth, limit, results); err != nil {
					return err
				}
			}
			continue
		}

		md := c.meta
		if md == nil {
			looked, err := q.store.Lookup(ctx, index.Child(c.name))
			if err != nil {
				continue
			}
			md = looked
		}
		if q.matches(md) && q.allowed(ctx, md) {
			*results = append(*results, md)
		}
	}
	return nil
}

func (q *Query) matches(md *Metadata) bool {
	if q.fileType != "" && !strings.HasSuffix(md.Path.Name(), q.fileType) {
		return false
	}
	if q.mimeType != "" && !strings.HasPrefix(md.MIME, q.mimeType) {
		return false
	}
	if q.category != "" && md.Category != q.category {
		return false
	}
	return true
}

func (q *Query) allowed(ctx context.Context, md *Metadata) bool {
	if q.access == nil {
		return true
	}
	return q.access(ctx, md)
}
