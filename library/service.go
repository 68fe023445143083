package library

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultLoanLimit is the number of copies a user may borrow at once.
const DefaultLoanLimit = 6

// LendingService is the only component that mutates copies and the event
// log. Every operation either commits one transition plus its event, or
// fails and leaves all state untouched.
//
// Operations take the acting username explicitly; there is no logged-in
// state kept between calls. A single mutex serialises every operation.
type LendingService struct {
	mu sync.Mutex

	catalog Catalog
	copies  CopyStore
	users   UserDirectory
	history EventLog

	loanLimit int
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a LendingService.
type Option func(*LendingService)

// WithLoanLimit overrides DefaultLoanLimit. Non-positive values are ignored.
func WithLoanLimit(n int) Option {
	return func(s *LendingService) {
		if n > 0 {
			s.loanLimit = n
		}
	}
}

// WithLogger sets the logger used for committed and refused operations.
func WithLogger(l *zap.Logger) Option {
	return func(s *LendingService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(s *LendingService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewLendingService returns an empty service.
func NewLendingService(opts ...Option) *LendingService {
	s := &LendingService{
		loanLimit: DefaultLoanLimit,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoanLimit returns the configured per-user borrowing limit.
func (s *LendingService) LoanLimit() int { return s.loanLimit }

// Login checks that username exists and returns a snapshot of the user.
func (s *LendingService) Login(username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.users.FindUser(username)
	if err != nil {
		s.logger.Info("login refused", zap.String("actor", username), zap.Error(err))
		return User{}, err
	}
	return *u, nil
}

// AddUser registers a user, or changes the role of an existing one.
func (s *LendingService) AddUser(username string, role Role) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.users.AddUser(username, role)
	if err != nil {
		return User{}, err
	}
	s.logger.Debug("user registered", zap.String("user", username), zap.String("role", string(role)))
	return *u, nil
}

// ------------------ Catalog management ------------------

// AddCatalogEntry registers a catalog entry. It reports false when the
// entry already existed.
func (s *LendingService) AddCatalogEntry(actor, title, author string, hardback bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.authorize(actor, PermManage, "add catalog entries")
	if err != nil {
		s.refused("add entry", actor, title, err)
		return false, err
	}
	added := s.catalog.AddEntry(title, author, hardback)
	s.logger.Debug("catalog entry added",
		zap.String("actor", u.Username), zap.String("title", title), zap.Bool("new", added))
	return added, nil
}

// RemoveCatalogEntry removes an entry together with all of its copies,
// whatever their state. One REMOVE_A_BOOK event is recorded per copy.
func (s *LendingService) RemoveCatalogEntry(actor, title, author string, hardback bool) ([]*Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.removeEntry(actor, title, author, hardback)
	if err != nil {
		s.refused("remove entry", actor, title, err)
		return nil, err
	}
	return removed, nil
}

func (s *LendingService) removeEntry(actor, title, author string, hardback bool) ([]*Copy, error) {
	u, err := s.authorize(actor, PermManage, "remove catalog entries")
	if err != nil {
		return nil, err
	}
	entry, err := s.catalog.Entry(title, author, hardback)
	if err != nil {
		return nil, err
	}

	victims := s.copies.Of(entry)
	borrowers := make([]*User, len(victims))
	for i, c := range victims {
		if c.State != StateBorrowed {
			continue
		}
		if borrowers[i], err = s.users.FindUser(c.Holder); err != nil {
			return nil, fmt.Errorf("borrower of copy %s: %w", c.ID, err)
		}
	}

	removed := make([]*Copy, 0, len(victims))
	for i, c := range victims {
		if b := borrowers[i]; b != nil {
			b.ActiveLoans--
		}
		s.copies.Remove(c.ID)
		s.record(EventRemoveBook, u, c)
		removed = append(removed, c.clone())
	}
	if err := s.catalog.RemoveEntry(title, author, hardback); err != nil {
		return nil, err
	}
	return removed, nil
}

// AddBook creates one AVAILABLE copy of an existing entry.
func (s *LendingService) AddBook(actor, title, author string, hardback bool) (*Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.addBook(actor, title, author, hardback)
	return s.done("add book", actor, title, c, err)
}

func (s *LendingService) addBook(actor, title, author string, hardback bool) (*Copy, error) {
	u, err := s.authorize(actor, PermManage, "add books")
	if err != nil {
		return nil, err
	}
	entry, err := s.catalog.Entry(title, author, hardback)
	if err != nil {
		return nil, err
	}
	c := s.copies.Add(entry)
	s.record(EventAddBook, u, c)
	return c, nil
}

// RemoveBook deletes one copy of the entry, preferring an AVAILABLE one.
// Removing a BORROWED copy releases the borrower's loan.
func (s *LendingService) RemoveBook(actor, title, author string, hardback bool) (*Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.removeBook(actor, title, author, hardback)
	return s.done("remove book", actor, title, c, err)
}

func (s *LendingService) removeBook(actor, title, author string, hardback bool) (*Copy, error) {
	u, err := s.authorize(actor, PermManage, "remove books")
	if err != nil {
		return nil, err
	}
	entry, err := s.bookEntry(title, author, hardback)
	if err != nil {
		return nil, err
	}

	c, err := s.copies.Find(entry, StateAvailable, "")
	if err != nil {
		if c = s.copies.FirstOf(entry); c == nil {
			return nil, err
		}
	}

	var borrower *User
	if c.State == StateBorrowed {
		if borrower, err = s.users.FindUser(c.Holder); err != nil {
			return nil, fmt.Errorf("borrower of copy %s: %w", c.ID, err)
		}
	}
	if borrower != nil {
		borrower.ActiveLoans--
	}
	s.copies.Remove(c.ID)
	s.record(EventRemoveBook, u, c)
	return c, nil
}

// ------------------ Circulation ------------------

// RentBook lends the first AVAILABLE copy of the entry to actor.
func (s *LendingService) RentBook(actor, title, author string, hardback bool) (*Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.rentBook(actor, title, author, hardback)
	return s.done("rent", actor, title, c, err)
}

func (s *LendingService) rentBook(actor, title, author string, hardback bool) (*Copy, error) {
	u, err := s.authorize(actor, PermRent, "rent books")
	if err != nil {
		return nil, err
	}
	if err := s.checkLoanLimit(u); err != nil {
		return nil, err
	}
	entry, err := s.bookEntry(title, author, hardback)
	if err != nil {
		return nil, err
	}
	c, err := s.copies.Find(entry, StateAvailable, "")
	if err != nil {
		return nil, err
	}

	c.State = StateBorrowed
	c.Holder = u.Username
	u.ActiveLoans++
	s.record(EventRentBook, u, c)
	return c, nil
}

// ReturnBook takes back a copy borrowed by actor. The copy passes to the
// head of its reservation queue when one is waiting, otherwise it becomes
// AVAILABLE.
func (s *LendingService) ReturnBook(actor, title, author string, hardback bool) (*Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.returnBook(actor, title, author, hardback)
	return s.done("return", actor, title, c, err)
}

func (s *LendingService) returnBook(actor, title, author string, hardback bool) (*Copy, error) {
	u, err := s.users.FindUser(actor)
	if err != nil {
		return nil, err
	}
	entry, err := s.bookEntry(title, author, hardback)
	if err != nil {
		return nil, err
	}
	c, err := s.copies.Find(entry, StateBorrowed, u.Username)
	if err != nil {
		return nil, err
	}

	s.passOn(c)
	u.ActiveLoans--
	s.record(EventReturnBook, u, c)
	return c, nil
}

// ReserveBook reserves a copy of the entry for actor. An AVAILABLE copy is
// reserved directly. Otherwise actor joins the queue of the first RESERVED
// copy, or failing that of the first BORROWED copy, that actor is not
// already attached to.
func (s *LendingService) ReserveBook(actor, title, author string, hardback bool) (*Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.reserveBook(actor, title, author, hardback)
	return s.done("reserve", actor, title, c, err)
}

func (s *LendingService) reserveBook(actor, title, author string, hardback bool) (*Copy, error) {
	u, err := s.authorize(actor, PermReserve, "reserve books")
	if err != nil {
		return nil, err
	}
	entry, err := s.bookEntry(title, author, hardback)
	if err != nil {
		return nil, err
	}

	if c, err := s.copies.Find(entry, StateAvailable, ""); err == nil {
		c.State = StateReserved
		c.Holder = u.Username
		s.record(EventReservation, u, c)
		return c, nil
	}

	candidates := s.copies.Of(entry)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %w: %s has no copies", ErrNoSuchBook, ErrNoCopyInState, entry)
	}
	for _, state := range []CopyState{StateReserved, StateBorrowed} {
		for _, c := range candidates {
			if c.State != state || c.Holder == u.Username || c.queued(u.Username) {
				continue
			}
			c.Queue = append(c.Queue, u.Username)
			s.record(EventReservation, u, c)
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s for %s", ErrAlreadyQueued, entry, u.Username)
}

// RentReservedBook converts actor's reservation into a loan.
func (s *LendingService) RentReservedBook(actor, title, author string, hardback bool) (*Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.rentReserved(actor, title, author, hardback)
	return s.done("rent reserved", actor, title, c, err)
}

func (s *LendingService) rentReserved(actor, title, author string, hardback bool) (*Copy, error) {
	u, err := s.users.FindUser(actor)
	if err != nil {
		return nil, err
	}
	entry, err := s.bookEntry(title, author, hardback)
	if err != nil {
		return nil, err
	}
	c, err := s.copies.Find(entry, StateReserved, u.Username)
	if err != nil {
		return nil, err
	}
	if err := s.checkLoanLimit(u); err != nil {
		return nil, err
	}

	c.State = StateBorrowed
	u.ActiveLoans++
	s.record(EventRentBook, u, c)
	return c, nil
}

// CancelReservation withdraws actor from a copy's queue, or gives up the
// reservation actor holds, passing the copy to the next waiting user.
func (s *LendingService) CancelReservation(actor, title, author string, hardback bool) (*Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.cancelReservation(actor, title, author, hardback)
	return s.done("cancel reservation", actor, title, c, err)
}

func (s *LendingService) cancelReservation(actor, title, author string, hardback bool) (*Copy, error) {
	u, err := s.users.FindUser(actor)
	if err != nil {
		return nil, err
	}
	entry, err := s.bookEntry(title, author, hardback)
	if err != nil {
		return nil, err
	}

	c, err := s.copies.Find(entry, StateReserved, u.Username)
	if err == nil {
		s.passOn(c)
		s.record(EventReservationCanceled, u, c)
		return c, nil
	}
	for _, c := range s.copies.Of(entry) {
		if !c.queued(u.Username) {
			continue
		}
		c.Queue = without(c.Queue, u.Username)
		s.record(EventReservationCanceled, u, c)
		return c, nil
	}
	return nil, err
}

// ------------------ Read accessors ------------------

// Copies returns detached copies of every book copy in insertion order.
func (s *LendingService) Copies() []*Copy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copies.Copies()
}

// FindCopy returns the first copy matching the identity and state, and the
// holder when one is given.
func (s *LendingService) FindCopy(title, author string, hardback bool, state CopyState, holder string) (*Copy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.bookEntry(title, author, hardback)
	if err != nil {
		return nil, err
	}
	c, err := s.copies.Find(entry, state, holder)
	if err != nil {
		return nil, err
	}
	return c.clone(), nil
}

// Events returns the event history in insertion order.
func (s *LendingService) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Events()
}

// Entries returns the catalog entries in insertion order.
func (s *LendingService) Entries() []CatalogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.Entries()
}

// CheckIfEntryExists reports whether the catalog holds the entry.
func (s *LendingService) CheckIfEntryExists(title, author string, hardback bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.CheckIfEntryExists(title, author, hardback)
}

// Users returns every user.
func (s *LendingService) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users.Users()
}

// ------------------ Internals ------------------

func (s *LendingService) authorize(actor string, p Permission, what string) (*User, error) {
	u, err := s.users.FindUser(actor)
	if err != nil {
		return nil, err
	}
	if !u.Can(p) {
		return nil, fmt.Errorf("%w: %w: %s (%s) may not %s",
			ErrNotAppropriatePermits, ErrMissingPermission, u.Username, u.Role, what)
	}
	return u, nil
}

func (s *LendingService) checkLoanLimit(u *User) error {
	if u.ActiveLoans >= s.loanLimit {
		return fmt.Errorf("%w: %w: %s already borrows %d books",
			ErrNotAppropriatePermits, ErrLoanLimit, u.Username, u.ActiveLoans)
	}
	return nil
}

// bookEntry resolves an entry for copy-level operations, where an unknown
// entry is reported as a missing book.
func (s *LendingService) bookEntry(title, author string, hardback bool) (CatalogEntry, error) {
	entry, err := s.catalog.Entry(title, author, hardback)
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("%w: %w", ErrNoSuchBook, err)
	}
	return entry, nil
}

// passOn hands c to the head of its queue as a reservation, or frees it.
func (s *LendingService) passOn(c *Copy) {
	if len(c.Queue) > 0 {
		c.State = StateReserved
		c.Holder = c.Queue[0]
		c.Queue = append([]string(nil), c.Queue[1:]...)
		if len(c.Queue) == 0 {
			c.Queue = nil
		}
		return
	}
	c.State = StateAvailable
	c.Holder = ""
	c.Queue = nil
}

func (s *LendingService) record(t EventType, actor *User, c *Copy) {
	e := s.history.Append(Event{
		Type:         t,
		Actor:        actor.Username,
		BookAffected: c.Entry,
		CopyID:       c.ID,
		OccurredAt:   s.now(),
	})
	s.logger.Debug("event recorded",
		zap.Int("seq", e.Seq),
		zap.String("type", string(t)),
		zap.String("actor", actor.Username),
		zap.String("title", c.Entry.Title),
		zap.Stringer("copy", c.ID),
		zap.String("state", string(c.State)),
	)
}

func (s *LendingService) done(op, actor, title string, c *Copy, err error) (*Copy, error) {
	if err != nil {
		s.refused(op, actor, title, err)
		return nil, err
	}
	return c.clone(), nil
}

func (s *LendingService) refused(op, actor, title string, err error) {
	s.logger.Info("operation refused",
		zap.String("op", op),
		zap.String("actor", actor),
		zap.String("title", title),
		zap.Error(err),
	)
}

func without(queue []string, username string) []string {
	out := make([]string, 0, len(queue))
	for _, u := range queue {
		if u != username {
			out = append(out, u)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
