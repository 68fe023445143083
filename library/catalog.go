package library

import "fmt"

// Catalog holds the set of known catalog entries in insertion order.
type Catalog struct {
	entries []CatalogEntry
}

// AddEntry registers an entry. The catalog is a set: adding an identity that
// already exists is a no-op and reports false.
func (c *Catalog) AddEntry(title, author string, hardback bool) bool {
	if c.CheckIfEntryExists(title, author, hardback) {
		return false
	}
	c.entries = append(c.entries, CatalogEntry{Title: title, Author: author, Hardback: hardback})
	return true
}

// CheckIfEntryExists reports whether an entry matches all three fields.
func (c *Catalog) CheckIfEntryExists(title, author string, hardback bool) bool {
	_, ok := c.find(title, author, hardback)
	return ok
}

// Entry returns the stored entry with the given identity.
func (c *Catalog) Entry(title, author string, hardback bool) (CatalogEntry, error) {
	i, ok := c.find(title, author, hardback)
	if !ok {
		return CatalogEntry{}, fmt.Errorf("%w: %s", ErrNoSuchEntry, CatalogEntry{title, author, hardback})
	}
	return c.entries[i], nil
}

// RemoveEntry deletes the matching entry.
func (c *Catalog) RemoveEntry(title, author string, hardback bool) error {
	i, ok := c.find(title, author, hardback)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchEntry, CatalogEntry{title, author, hardback})
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return nil
}

// Entries returns a copy of all entries in insertion order.
func (c *Catalog) Entries() []CatalogEntry {
	return append([]CatalogEntry(nil), c.entries...)
}

func (c *Catalog) find(title, author string, hardback bool) (int, bool) {
	for i, e := range c.entries {
		if e.Matches(title, author, hardback) {
			return i, true
		}
	}
	return -1, false
}
