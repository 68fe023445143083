package library

import (
	"errors"
	"fmt"
)

// Snapshot is a detached copy of the whole service state.
type Snapshot struct {
	Entries []CatalogEntry
	Users   []User
	Copies  []*Copy
	Events  []Event
}

// Snapshot captures the current state.
func (s *LendingService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Entries: s.catalog.Entries(),
		Users:   s.users.Users(),
		Copies:  s.copies.Copies(),
		Events:  s.history.Events(),
	}
}

// Restore replaces the service state with snap after validating it. Loan
// counts are recomputed from the BORROWED copies and events are renumbered
// in the order given. On error the current state is kept.
func (s *LendingService) Restore(snap Snapshot) error {
	var (
		catalog Catalog
		copies  CopyStore
		users   UserDirectory
		history EventLog
	)

	for _, e := range snap.Entries {
		catalog.AddEntry(e.Title, e.Author, e.Hardback)
	}
	for _, u := range snap.Users {
		if _, err := users.AddUser(u.Username, u.Role); err != nil {
			return err
		}
	}

	var errs []error
	for _, c := range snap.Copies {
		if err := validateCopy(&catalog, &users, c); err != nil {
			errs = append(errs, fmt.Errorf("copy %s: %w", c.ID, err))
			continue
		}
		if copies.ByID(c.ID) != nil {
			errs = append(errs, fmt.Errorf("copy %s: duplicate id", c.ID))
			continue
		}
		nc := c.clone()
		if nc.State == StateAvailable {
			nc.Queue = nil
		}
		copies.copies = append(copies.copies, nc)
		if nc.State == StateBorrowed {
			u, _ := users.FindUser(nc.Holder)
			u.ActiveLoans++
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	for _, e := range snap.Events {
		history.Append(e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog, s.copies, s.users, s.history = catalog, copies, users, history
	return nil
}

func validateCopy(catalog *Catalog, users *UserDirectory, c *Copy) error {
	if !c.State.Valid() {
		return fmt.Errorf("unknown state %q", c.State)
	}
	if !catalog.CheckIfEntryExists(c.Entry.Title, c.Entry.Author, c.Entry.Hardback) {
		return fmt.Errorf("%w: %s", ErrNoSuchEntry, c.Entry)
	}
	if c.State == StateAvailable {
		if c.Holder != "" || len(c.Queue) > 0 {
			return errors.New("available copy has a holder or queue")
		}
		return nil
	}
	if c.Holder == "" {
		return fmt.Errorf("%s copy has no holder", c.State)
	}
	if _, err := users.FindUser(c.Holder); err != nil {
		return err
	}
	for _, q := range c.Queue {
		if _, err := users.FindUser(q); err != nil {
			return fmt.Errorf("queue: %w", err)
		}
	}
	return nil
}
