package library

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ManagerConfig configures NewLibraryManager.
type ManagerConfig struct {
	DBPath    string
	Fixture   *Fixture // seeds an empty database; nil means DefaultFixture
	LoanLimit int
	Logger    *zap.Logger
}

// LibraryManager is a thin façade over the lending service and the
// Database, keeping CLI code simple. Every committed operation is saved
// before the call returns.
type LibraryManager struct {
	db     *Database
	svc    *LendingService
	logger *zap.Logger
}

// NewLibraryManager opens (or creates) the SQLite database at cfg.DBPath and
// loads its state, seeding it from the fixture on first use.
func NewLibraryManager(cfg ManagerConfig) (*LibraryManager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := NewDatabase(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	lm := &LibraryManager{
		db:     db,
		svc:    NewLendingService(WithLoanLimit(cfg.LoanLimit), WithLogger(logger)),
		logger: logger,
	}
	if err := lm.load(cfg.Fixture); err != nil {
		db.Close()
		return nil, err
	}
	return lm, nil
}

func (lm *LibraryManager) load(fx *Fixture) error {
	empty, err := lm.db.IsEmpty()
	if err != nil {
		return fmt.Errorf("inspect database: %w", err)
	}
	if !empty {
		snap, err := lm.db.LoadSnapshot()
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if err := lm.svc.Restore(snap); err != nil {
			return err
		}
		lm.logger.Info("library loaded",
			zap.Int("entries", len(snap.Entries)),
			zap.Int("copies", len(snap.Copies)),
			zap.Int("events", len(snap.Events)))
		return nil
	}

	if fx == nil {
		if fx, err = DefaultFixture(); err != nil {
			return err
		}
	}
	if err := lm.svc.Restore(fx.Snapshot()); err != nil {
		return fmt.Errorf("seed fixture: %w", err)
	}
	if err := lm.db.SaveSnapshot(lm.svc.Snapshot()); err != nil {
		return fmt.Errorf("save seed: %w", err)
	}
	for _, u := range fx.Users {
		if u.Password == "" {
			continue
		}
		if err := lm.db.SetPassword(u.Username, u.Password); err != nil {
			return fmt.Errorf("seed password for %s: %w", u.Username, err)
		}
	}
	lm.logger.Info("library seeded",
		zap.Int("entries", len(fx.Entries)),
		zap.Int("users", len(fx.Users)))
	return nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Service exposes the underlying lending service for read access.
func (lm *LibraryManager) Service() *LendingService { return lm.svc }

// ------------------ Users ------------------

// Login authenticates username and returns the user.
func (lm *LibraryManager) Login(username, password string) (User, error) {
	if err := lm.db.AuthenticateUser(username, password); err != nil {
		lm.logger.Info("authentication failed", zap.String("actor", username), zap.Error(err))
		return User{}, err
	}
	return lm.svc.Login(username)
}

// AddUser registers a user with a role and password.
func (lm *LibraryManager) AddUser(username string, role Role, password string) (User, error) {
	u, err := lm.svc.AddUser(username, role)
	if err != nil {
		return User{}, err
	}
	if err := lm.persist(); err != nil {
		return User{}, err
	}
	if err := lm.db.SetPassword(username, password); err != nil {
		return User{}, err
	}
	return u, nil
}

// ResetPassword replaces username's password.
func (lm *LibraryManager) ResetPassword(username, password string) error {
	return lm.db.SetPassword(username, password)
}

func (lm *LibraryManager) Users() []User { return lm.svc.Users() }

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddCatalogEntry(actor, title, author string, hardback bool) (bool, error) {
	added, err := lm.svc.AddCatalogEntry(actor, title, author, hardback)
	if err != nil {
		return false, err
	}
	return added, lm.persist()
}

func (lm *LibraryManager) RemoveCatalogEntry(actor, title, author string, hardback bool) ([]*Copy, error) {
	removed, err := lm.svc.RemoveCatalogEntry(actor, title, author, hardback)
	if err != nil {
		return nil, err
	}
	return removed, lm.persist()
}

func (lm *LibraryManager) Entries() []CatalogEntry { return lm.svc.Entries() }

func (lm *LibraryManager) SearchEntries(q string) ([]CatalogEntry, error) {
	return lm.db.SearchEntries(q)
}

// ------------------ Copies and circulation ------------------

func (lm *LibraryManager) AddBook(actor, title, author string, hardback bool) (*Copy, error) {
	return lm.commit(lm.svc.AddBook(actor, title, author, hardback))
}

func (lm *LibraryManager) RemoveBook(actor, title, author string, hardback bool) (*Copy, error) {
	return lm.commit(lm.svc.RemoveBook(actor, title, author, hardback))
}

func (lm *LibraryManager) RentBook(actor, title, author string, hardback bool) (*Copy, error) {
	return lm.commit(lm.svc.RentBook(actor, title, author, hardback))
}

func (lm *LibraryManager) ReturnBook(actor, title, author string, hardback bool) (*Copy, error) {
	return lm.commit(lm.svc.ReturnBook(actor, title, author, hardback))
}

func (lm *LibraryManager) ReserveBook(actor, title, author string, hardback bool) (*Copy, error) {
	return lm.commit(lm.svc.ReserveBook(actor, title, author, hardback))
}

func (lm *LibraryManager) RentReservedBook(actor, title, author string, hardback bool) (*Copy, error) {
	return lm.commit(lm.svc.RentReservedBook(actor, title, author, hardback))
}

func (lm *LibraryManager) CancelReservation(actor, title, author string, hardback bool) (*Copy, error) {
	return lm.commit(lm.svc.CancelReservation(actor, title, author, hardback))
}

func (lm *LibraryManager) Copies() []*Copy { return lm.svc.Copies() }
func (lm *LibraryManager) Events() []Event { return lm.svc.Events() }

// ExportEvents writes the event history to w as JSON lines.
func (lm *LibraryManager) ExportEvents(w io.Writer) error {
	return WriteJSONLines(w, lm.svc.Events())
}

func (lm *LibraryManager) commit(c *Copy, err error) (*Copy, error) {
	if err != nil {
		return nil, err
	}
	if err := lm.persist(); err != nil {
		return nil, err
	}
	return c, nil
}

func (lm *LibraryManager) persist() error {
	if err := lm.db.SaveSnapshot(lm.svc.Snapshot()); err != nil {
		lm.logger.Error("persist library", zap.Error(err))
		return fmt.Errorf("persist library: %w", err)
	}
	return nil
}

// ------------------ Utilities ------------------

// PrettyCopy formats a copy for lists.
func PrettyCopy(c *Copy) string {
	holder := c.Holder
	if holder == "" {
		holder = "-"
	}
	queue := "-"
	if len(c.Queue) > 0 {
		queue = fmt.Sprintf("%v", c.Queue)
	}
	return fmt.Sprintf("%-8s %-30s %-20s %-9t %-10s %-10s %s",
		c.ID.String()[:8], truncate(c.Entry.Title, 30), truncate(c.Entry.Author, 20),
		c.Entry.Hardback, c.State, holder, queue)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
