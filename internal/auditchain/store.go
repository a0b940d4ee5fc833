package auditchain

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// Store persists audit entries. Implementations are append-only: Update and Delete
// exist only so that attempts to rewrite history fail loudly with ErrImmutable.
type Store interface {
	// Insert persists e and assigns its ID. It must fail with ErrForkDetected when
	// e.PreviousHash is not the hash of the current tail, with ErrNotInitialized
	// when a non-genesis entry reaches an empty store, and with ErrGenesisExists
	// when a CHAIN_GENESIS entry reaches a non-empty one.
	Insert(ctx context.Context, e *Entry) error

	// Last returns the tail of the chain, or nil on an empty store.
	Last(ctx context.Context) (*Entry, error)

	// Count returns the number of persisted entries.
	Count(ctx context.Context) (int64, error)

	// Scan calls fn for every entry with from <= ID <= to in ascending ID order.
	// to <= 0 means no upper bound. A non-nil error from fn stops the scan.
	Scan(ctx context.Context, from, to int64, fn func(*Entry) error) error

	// Find returns entries matching f.
	Find(ctx context.Context, f Filter) ([]*Entry, error)

	Update(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, id int64) error

	Close() error
}

// Filter selects entries. Zero-valued fields do not constrain the result.
type Filter struct {
	ResourceID    string         `json:"resourceId,omitempty"`
	ResourceType  ResourceType   `json:"resourceType,omitempty"`
	Action        Action         `json:"action,omitempty"`
	UserPrincipal string         `json:"userPrincipal,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"` // containment match
	From          *time.Time     `json:"from,omitempty"`
	To            *time.Time     `json:"to,omitempty"`
	Sort          SortOrder      `json:"sort,omitempty"`
	Limit         int            `json:"limit,omitempty"`
}

// Matches evaluates f against e in memory.
func (f Filter) Matches(e *Entry) bool {
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.UserPrincipal != "" && e.UserPrincipal != f.UserPrincipal {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if len(f.Metadata) > 0 && !metadataContains(e.Metadata, f.Metadata) {
		return false
	}
	return true
}

// sortAndLimit orders entries by ID and applies the filter's limit.
func (f Filter) sortAndLimit(entries []*Entry) []*Entry {
	if f.Sort == SortDesc {
		sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	} else {
		sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	}
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}
	return entries
}

// metadataContains reports whether have contains want with the semantics of the
// PostgreSQL jsonb @> operator. Both sides are normalized through JSON first so
// that numbers compare by value regardless of their Go type.
func metadataContains(have, want map[string]any) bool {
	h, err1 := jsonNormalize(have)
	w, err2 := jsonNormalize(want)
	if err1 != nil || err2 != nil {
		return false
	}
	return jsonContains(h, w)
}

func jsonNormalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonContains(have, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		h, ok := have.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			hv, ok := h[k]
			if !ok || !jsonContains(hv, wv) {
				return false
			}
		}
		return true
	case []any:
		h, ok := have.([]any)
		if !ok {
			return false
		}
		for _, wv := range w {
			found := false
			for _, hv := range h {
				if jsonContains(hv, wv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return have == want
	}
}
