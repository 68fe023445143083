package library

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

//go:embed fixtures.toml
var defaultFixture string

// Fixture is seed data for an empty library.
type Fixture struct {
	Entries []FixtureEntry `toml:"entries"`
	Users   []FixtureUser  `toml:"users"`
}

// FixtureEntry is a catalog entry plus the number of copies to create.
type FixtureEntry struct {
	Title    string `toml:"title"`
	Author   string `toml:"author"`
	Hardback bool   `toml:"hardback"`
	Copies   int    `toml:"copies"`
}

// FixtureUser is a user with a role and a clear-text initial password.
type FixtureUser struct {
	Username string `toml:"username"`
	Role     Role   `toml:"role"`
	Password string `toml:"password"`
}

// DefaultFixture returns the embedded seed data.
func DefaultFixture() (*Fixture, error) {
	return LoadFixture(strings.NewReader(defaultFixture))
}

// LoadFixtureFile reads a TOML fixture from path.
func LoadFixtureFile(path string) (*Fixture, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fx, err := LoadFixture(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fx, nil
}

// LoadFixture decodes and validates a TOML fixture.
func LoadFixture(r io.Reader) (*Fixture, error) {
	var fx Fixture
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate checks names, roles and copy counts.
func (f *Fixture) Validate() error {
	var errs []error
	for i, e := range f.Entries {
		if strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.Author) == "" {
			errs = append(errs, fmt.Errorf("entry %d: title and author are required", i))
		}
		if e.Copies < 0 {
			errs = append(errs, fmt.Errorf("entry %q: negative copy count", e.Title))
		}
	}
	seen := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		if strings.TrimSpace(u.Username) == "" {
			errs = append(errs, fmt.Errorf("user %d: username is required", i))
			continue
		}
		if seen[u.Username] {
			errs = append(errs, fmt.Errorf("user %q: duplicate", u.Username))
		}
		seen[u.Username] = true
		if !u.Role.Valid() {
			errs = append(errs, fmt.Errorf("user %q: unknown role %q", u.Username, u.Role))
		}
	}
	return errors.Join(errs...)
}

// Snapshot builds the initial state: every copy AVAILABLE, no events.
func (f *Fixture) Snapshot() Snapshot {
	var snap Snapshot
	for _, e := range f.Entries {
		entry := CatalogEntry{Title: e.Title, Author: e.Author, Hardback: e.Hardback}
		snap.Entries = append(snap.Entries, entry)
		for i := 0; i < e.Copies; i++ {
			snap.Copies = append(snap.Copies, &Copy{ID: uuid.New(), Entry: entry, State: StateAvailable})
		}
	}
	for _, u := range f.Users {
		snap.Users = append(snap.Users, User{Username: u.Username, Role: u.Role})
	}
	return snap
}

// NewFixtureService returns a service seeded from f.
func NewFixtureService(f *Fixture, opts ...Option) (*LendingService, error) {
	svc := NewLendingService(opts...)
	if err := svc.Restore(f.Snapshot()); err != nil {
		return nil, err
	}
	return svc, nil
}
