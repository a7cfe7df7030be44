package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Store.Get for an unknown item id.
var ErrNotFound = errors.New("catalog: item not found")

// Store is the read-only item lookup. It is built once from the ingestion
// output and is safe for concurrent use because nothing mutates it.
type Store struct {
	// byID indexes items by their catalog key.
	byID map[string]Item
	// items keeps insertion order, which is also the vector index order.
	items []Item
}

// NewStore builds a Store from items, rejecting empty and duplicate ids.
// Codes are re-sorted so every Item in the store satisfies the canonical
// ordering regardless of how it was produced.
func NewStore(items []Item) (*Store, error) {
	s := &Store{
		byID:  make(map[string]Item, len(items)),
		items: make([]Item, 0, len(items)),
	}
	for i, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("catalog: item %d has an empty id", i)
		}
		if _, dup := s.byID[it.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate item id %q", it.ID)
		}
		it.Codes = SortCodes(it.Codes)
		s.byID[it.ID] = it
		s.items = append(s.items, it)
	}
	return s, nil
}

// Get returns the item for id or ErrNotFound.
func (s *Store) Get(id string) (Item, error) {
	it, ok := s.byID[id]
	if !ok {
		return Item{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return it, nil
}

// Items returns the catalog in insertion order. Callers must not modify the
// returned slice.
func (s *Store) Items() []Item {
	return s.items
}

// Len returns the number of items.
func (s *Store) Len() int {
	return len(s.items)
}
