package library

import (
	"fmt"

	"github.com/google/uuid"
)

// CopyStore owns the physical copies. Scans run in insertion order, so when
// several copies match a query the oldest one wins.
type CopyStore struct {
	copies []*Copy
}

// Add appends a new AVAILABLE copy of entry.
func (s *CopyStore) Add(entry CatalogEntry) *Copy {
	c := &Copy{ID: uuid.New(), Entry: entry, State: StateAvailable}
	s.copies = append(s.copies, c)
	return c
}

// Find returns the first copy of entry in the given state. When holder is
// non-empty the copy must also be held by that user.
func (s *CopyStore) Find(entry CatalogEntry, state CopyState, holder string) (*Copy, error) {
	for _, c := range s.copies {
		if c.Entry != entry || c.State != state {
			continue
		}
		if holder != "" && c.Holder != holder {
			continue
		}
		return c, nil
	}
	if holder != "" {
		return nil, fmt.Errorf("%w: %w: %s %s for %s", ErrNoSuchBook, ErrNotHolder, state, entry, holder)
	}
	return nil, fmt.Errorf("%w: %w: %s %s", ErrNoSuchBook, ErrNoCopyInState, state, entry)
}

// FirstOf returns the first copy of entry regardless of state, or nil.
func (s *CopyStore) FirstOf(entry CatalogEntry) *Copy {
	for _, c := range s.copies {
		if c.Entry == entry {
			return c
		}
	}
	return nil
}

// Of returns every copy of entry in insertion order.
func (s *CopyStore) Of(entry CatalogEntry) []*Copy {
	var out []*Copy
	for _, c := range s.copies {
		if c.Entry == entry {
			out = append(out, c)
		}
	}
	return out
}

// CountOf returns the number of copies of entry.
func (s *CopyStore) CountOf(entry CatalogEntry) int {
	return len(s.Of(entry))
}

// ByID returns the copy with the given id, or nil.
func (s *CopyStore) ByID(id uuid.UUID) *Copy {
	for _, c := range s.copies {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Remove deletes the copy with the given id and reports whether it existed.
func (s *CopyStore) Remove(id uuid.UUID) bool {
	for i, c := range s.copies {
		if c.ID == id {
			s.copies = append(s.copies[:i], s.copies[i+1:]...)
			return true
		}
	}
	return false
}

// Copies returns detached clones of every copy in insertion order.
func (s *CopyStore) Copies() []*Copy {
	out := make([]*Copy, 0, len(s.copies))
	for _, c := range s.copies {
		out = append(out, c.clone())
	}
	return out
}

// Len returns the number of copies.
func (s *CopyStore) Len() int { return len(s.copies) }
