package auditchain

import (
	"context"
	"fmt"
)

// QueryService is the read side of the chain. It never touches the writer.
type QueryService struct {
	store Store
}

// NewQueryService creates a QueryService.
func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store}
}

// Search returns entries matching f, oldest first unless f.Sort says otherwise.
func (q *QueryService) Search(ctx context.Context, f Filter) ([]*Entry, error) {
	if f.Sort == "" {
		f.Sort = SortAsc
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, fmt.Errorf("%w: range start is after its end", ErrInvalidQuery)
	}
	entries, err := q.store.Find(ctx, f)
	if err != nil {
		return nil, storageErr("search", err)
	}
	return entries, nil
}

// Trail returns every entry that references resourceID, newest first by default.
func (q *QueryService) Trail(ctx context.Context, resourceID string, order SortOrder) ([]*Entry, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id is required", ErrInvalidQuery)
	}
	if order == "" {
		order = SortDesc
	}
	return q.Search(ctx, Filter{ResourceID: resourceID, Sort: order})
}

// Get returns the entry with the given id.
func (q *QueryService) Get(ctx context.Context, id int64) (*Entry, error) {
	var found *Entry
	err := q.store.Scan(ctx, id, id, func(e *Entry) error {
		found = e
		return nil
	})
	if err != nil {
		return nil, storageErr("get", err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Head returns the current tail of the chain, or ErrNotFound on an empty chain.
func (q *QueryService) Head(ctx context.Context) (*Entry, error) {
	e, err := q.store.Last(ctx)
	if err != nil {
		return nil, storageErr("head", err)
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// Count returns the chain length.
func (q *QueryService) Count(ctx context.Context) (int64, error) {
	n, err := q.store.Count(ctx)
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}
