package library

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bright  = "On the Bright Side"
	groen   = "Hendrik Groen"
	pride   = "Pride and Prejudice"
	austin  = "Jane Austin"
	potter  = "Harry Potter and the Philosopher's Stone"
	rowling = "J. K. Rowling"
	master  = "The Master and Margarita"
	bulgak  = "Mikhail Bulgakov"
)

func newFixtureService(t *testing.T, opts ...Option) *LendingService {
	t.Helper()
	fx, err := DefaultFixture()
	require.NoError(t, err)
	svc, err := NewFixtureService(fx, opts...)
	require.NoError(t, err)
	return svc
}

func login(t *testing.T, svc *LendingService, username string) string {
	t.Helper()
	u, err := svc.Login(username)
	require.NoError(t, err)
	return u.Username
}

func loans(t *testing.T, svc *LendingService, username string) int {
	t.Helper()
	for _, u := range svc.Users() {
		if u.Username == username {
			return u.ActiveLoans
		}
	}
	t.Fatalf("user %s not found", username)
	return 0
}

// assertInvariants checks the holder/queue rule for every copy and that each
// user's loan count matches the copies they borrow.
func assertInvariants(t *testing.T, svc *LendingService) {
	t.Helper()
	borrowed := map[string]int{}
	for _, c := range svc.Copies() {
		available := c.State == StateAvailable
		assert.Equal(t, available, c.Holder == "" && len(c.Queue) == 0,
			"copy %s in state %s has holder %q and queue %v", c.ID, c.State, c.Holder, c.Queue)
		if !available {
			assert.NotEmpty(t, c.Holder, "copy %s in state %s has no holder", c.ID, c.State)
		}
		if c.State == StateBorrowed {
			borrowed[c.Holder]++
		}
	}
	for _, u := range svc.Users() {
		assert.Equal(t, borrowed[u.Username], u.ActiveLoans, "loans of %s", u.Username)
		assert.LessOrEqual(t, u.ActiveLoans, svc.LoanLimit(), "loans of %s", u.Username)
	}
}

func assertEvent(t *testing.T, e Event, typ EventType, actor, title string) {
	t.Helper()
	assert.Equal(t, typ, e.Type)
	assert.Equal(t, actor, e.Actor)
	assert.Equal(t, title, e.BookAffected.Title)
}

func TestLogin(t *testing.T) {
	svc := newFixtureService(t)

	u, err := svc.Login("Gold")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)

	_, err = svc.Login("Purple")
	assert.ErrorIs(t, err, ErrNoSuchUser)
}

func TestRentBook(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")

	_, err := svc.RentBook(white, bright, groen, true)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNoSuchEntry)

	c, err := svc.RentBook(white, bright, groen, false)
	require.NoError(t, err)
	assert.Equal(t, StateBorrowed, c.State)
	assert.Equal(t, white, c.Holder)

	_, err = svc.FindCopy(bright, groen, false, StateBorrowed, white)
	require.NoError(t, err)

	events := svc.Events()
	require.Len(t, events, 1)
	assertEvent(t, events[0], EventRentBook, white, bright)
	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, c.ID, events[0].CopyID)

	_, err = svc.RentBook(white, bright, groen, false)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNoCopyInState)
	assert.Len(t, svc.Events(), 1)
	assertInvariants(t, svc)
}

func TestRentBook_UserNotAllowedToBorrow(t *testing.T) {
	svc := newFixtureService(t)
	red := login(t, svc, "Red")

	_, err := svc.RentBook(red, bright, groen, false)
	assert.ErrorIs(t, err, ErrNotAppropriatePermits)
	assert.ErrorIs(t, err, ErrMissingPermission)
	assert.Empty(t, svc.Events())
}

func TestRentBook_UserTriesToExceedTheirLimit(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")

	for i := 1; i <= DefaultLoanLimit; i++ {
		_, err := svc.RentBook(white, pride, austin, false)
		require.NoError(t, err, "rent #%d", i)
		events := svc.Events()
		assertEvent(t, events[i-1], EventRentBook, white, pride)
	}

	// A seventh copy is still on the shelf, so only the limit can refuse this.
	_, err := svc.FindCopy(pride, austin, false, StateAvailable, "")
	require.NoError(t, err)

	_, err = svc.RentBook(white, pride, austin, false)
	assert.ErrorIs(t, err, ErrNotAppropriatePermits)
	assert.ErrorIs(t, err, ErrLoanLimit)
	assert.Len(t, svc.Events(), DefaultLoanLimit)
	assert.Equal(t, DefaultLoanLimit, loans(t, svc, white))
	assertInvariants(t, svc)
}

func TestRentBook_ConfiguredLimit(t *testing.T) {
	svc := newFixtureService(t, WithLoanLimit(2))
	black := login(t, svc, "Black")

	_, err := svc.RentBook(black, pride, austin, false)
	require.NoError(t, err)
	_, err = svc.RentBook(black, bright, groen, false)
	require.NoError(t, err)

	_, err = svc.RentBook(black, master, bulgak, true)
	assert.ErrorIs(t, err, ErrLoanLimit)
	assert.Equal(t, 2, svc.LoanLimit())
}

func TestRentBook_NonExistingBook(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")

	_, err := svc.RentBook(white, potter, rowling, true)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNoCopyInState)
	assert.Empty(t, svc.Events())
}

func TestReturnBook(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")

	_, err := svc.RentBook(white, pride, austin, false)
	require.NoError(t, err)
	_, err = svc.FindCopy(pride, austin, false, StateBorrowed, white)
	require.NoError(t, err)

	c, err := svc.ReturnBook(white, pride, austin, false)
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, c.State)
	assert.Empty(t, c.Holder)

	events := svc.Events()
	require.Len(t, events, 2)
	assertEvent(t, events[1], EventReturnBook, white, pride)

	_, err = svc.FindCopy(pride, austin, false, StateBorrowed, white)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNotHolder)
	assert.Zero(t, loans(t, svc, white))
}

func TestReturnBook_UserNotOwningTheBook(t *testing.T) {
	svc := newFixtureService(t)
	black := login(t, svc, "Black")

	_, err := svc.ReturnBook(black, pride, austin, false)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNotHolder)
	assert.Empty(t, svc.Events())

	_, err = svc.ReturnBook(black, "Unwritten", "Nobody", false)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNoSuchEntry)
}

func TestReturnBook_MultipleInstances(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")
	black := login(t, svc, "Black")

	whiteCopy, err := svc.RentBook(white, pride, austin, false)
	require.NoError(t, err)
	blackCopy, err := svc.RentBook(black, pride, austin, false)
	require.NoError(t, err)
	assert.NotEqual(t, whiteCopy.ID, blackCopy.ID)

	returned, err := svc.ReturnBook(black, pride, austin, false)
	require.NoError(t, err)
	assert.Equal(t, blackCopy.ID, returned.ID)

	events := svc.Events()
	require.Len(t, events, 3)
	assertEvent(t, events[2], EventReturnBook, black, pride)

	still, err := svc.FindCopy(pride, austin, false, StateBorrowed, white)
	require.NoError(t, err)
	assert.Equal(t, whiteCopy.ID, still.ID)

	_, err = svc.FindCopy(pride, austin, false, StateBorrowed, black)
	assert.ErrorIs(t, err, ErrNotHolder)
	assertInvariants(t, svc)
}

func TestReserveBook(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")

	c, err := svc.ReserveBook(white, pride, austin, false)
	require.NoError(t, err)
	assert.Equal(t, StateReserved, c.State)
	assert.Equal(t, white, c.Holder)

	events := svc.Events()
	require.Len(t, events, 1)
	assertEvent(t, events[0], EventReservation, white, pride)

	_, err = svc.FindCopy(pride, austin, false, StateReserved, white)
	require.NoError(t, err)
	assert.Zero(t, loans(t, svc, white), "a reservation is not a loan")
}

func TestReserveBook_UserNotAllowedToReserve(t *testing.T) {
	svc := newFixtureService(t)
	blue := login(t, svc, "Blue")

	_, err := svc.ReserveBook(blue, pride, austin, false)
	assert.ErrorIs(t, err, ErrNotAppropriatePermits)
	assert.ErrorIs(t, err, ErrMissingPermission)

	_, err = svc.ReturnBook(blue, pride, austin, false)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.Empty(t, svc.Events())
}

func TestReserveBook_QueuePromotesNextReserver(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")
	black := login(t, svc, "Black")

	_, err := svc.ReserveBook(white, bright, groen, false)
	require.NoError(t, err)

	queued, err := svc.ReserveBook(black, bright, groen, false)
	require.NoError(t, err)
	assert.Equal(t, white, queued.Holder)
	assert.Equal(t, []string{black}, queued.Queue)
	assert.Len(t, svc.Copies(), len(newFixtureService(t).Copies()), "queueing must not create copies")

	_, err = svc.RentReservedBook(white, bright, groen, false)
	require.NoError(t, err)
	events := svc.Events()
	require.Len(t, events, 3)
	assertEvent(t, events[2], EventRentBook, white, bright)

	c, err := svc.ReturnBook(white, bright, groen, false)
	require.NoError(t, err)
	assert.Equal(t, StateReserved, c.State)
	assert.Equal(t, black, c.Holder)
	assert.Empty(t, c.Queue)

	_, err = svc.FindCopy(bright, groen, false, StateReserved, black)
	require.NoError(t, err)
	assertInvariants(t, svc)
}

func TestReserveBook_ReservedCopyIsNotRentable(t *testing.T) {
	svc := newFixtureService(t)
	black := login(t, svc, "Black")
	blue := login(t, svc, "Blue")

	_, err := svc.ReserveBook(black, bright, groen, false)
	require.NoError(t, err)

	_, err = svc.RentBook(blue, bright, groen, false)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.Len(t, svc.Events(), 1)
}

func TestReserveBook_QueueOnBorrowedCopy(t *testing.T) {
	svc := newFixtureService(t)
	black := login(t, svc, "Black")
	white := login(t, svc, "White")

	_, err := svc.ReserveBook(black, bright, groen, false)
	require.NoError(t, err)
	_, err = svc.RentReservedBook(black, bright, groen, false)
	require.NoError(t, err)

	_, err = svc.FindCopy(bright, groen, false, StateBorrowed, black)
	require.NoError(t, err)
	c, err := svc.ReserveBook(white, bright, groen, false)
	require.NoError(t, err)
	assert.Equal(t, StateBorrowed, c.State)
	assert.Equal(t, []string{white}, c.Queue)

	_, err = svc.ReturnBook(black, bright, groen, false)
	require.NoError(t, err)
	_, err = svc.FindCopy(bright, groen, false, StateReserved, white)
	require.NoError(t, err)

	events := svc.Events()
	require.Len(t, events, 4)
	assertEvent(t, events[3], EventReturnBook, black, bright)
	assertInvariants(t, svc)
}

func TestReserveBook_FIFOAcrossSeveralReturns(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")
	black := login(t, svc, "Black")
	red := login(t, svc, "Red")

	for _, u := range []string{white, black, red} {
		_, err := svc.ReserveBook(u, bright, groen, false)
		require.NoError(t, err, u)
	}
	c, err := svc.FindCopy(bright, groen, false, StateReserved, white)
	require.NoError(t, err)
	assert.Equal(t, []string{black, red}, c.Queue)

	_, err = svc.RentReservedBook(white, bright, groen, false)
	require.NoError(t, err)
	c, err = svc.ReturnBook(white, bright, groen, false)
	require.NoError(t, err)
	assert.Equal(t, black, c.Holder)
	assert.Equal(t, []string{red}, c.Queue)

	_, err = svc.RentReservedBook(black, bright, groen, false)
	require.NoError(t, err)
	c, err = svc.ReturnBook(black, bright, groen, false)
	require.NoError(t, err)
	assert.Equal(t, StateReserved, c.State)
	assert.Equal(t, red, c.Holder)
	assert.Empty(t, c.Queue)
	assertInvariants(t, svc)
}

func TestReserveBook_Duplicate(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")

	_, err := svc.ReserveBook(white, bright, groen, false)
	require.NoError(t, err)

	_, err = svc.ReserveBook(white, bright, groen, false)
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Len(t, svc.Events(), 1)
}

func TestReserveBook_NonExistingBook(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")

	_, err := svc.ReserveBook(white, potter, rowling, true)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNoCopyInState)

	_, err = svc.ReserveBook(white, potter, rowling, false)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNoSuchEntry)
	assert.Empty(t, svc.Events())
}

func TestRentReservedBook_RequiresOwnReservation(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")
	black := login(t, svc, "Black")

	_, err := svc.ReserveBook(white, bright, groen, false)
	require.NoError(t, err)

	_, err = svc.RentReservedBook(black, bright, groen, false)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNotHolder)
	assert.Len(t, svc.Events(), 1)
}

func TestCancelReservation(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")
	black := login(t, svc, "Black")
	red := login(t, svc, "Red")

	for _, u := range []string{white, black, red} {
		_, err := svc.ReserveBook(u, bright, groen, false)
		require.NoError(t, err, u)
	}

	c, err := svc.CancelReservation(black, bright, groen, false)
	require.NoError(t, err)
	assert.Equal(t, white, c.Holder)
	assert.Equal(t, []string{red}, c.Queue)

	c, err = svc.CancelReservation(white, bright, groen, false)
	require.NoError(t, err)
	assert.Equal(t, StateReserved, c.State)
	assert.Equal(t, red, c.Holder)

	c, err = svc.CancelReservation(red, bright, groen, false)
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, c.State)

	events := svc.Events()
	require.Len(t, events, 6)
	assertEvent(t, events[5], EventReservationCanceled, red, bright)

	_, err = svc.CancelReservation(red, bright, groen, false)
	assert.ErrorIs(t, err, ErrNotHolder)
	assertInvariants(t, svc)
}

func TestAddAndRemoveBooks(t *testing.T) {
	svc := newFixtureService(t, WithClock(func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }))
	gold := login(t, svc, "Gold")

	_, err := svc.FindCopy(potter, rowling, true, StateAvailable, "")
	assert.ErrorIs(t, err, ErrNoSuchBook)

	before := len(svc.Copies())
	_, err = svc.AddBook(gold, potter, rowling, true)
	require.NoError(t, err)

	events := svc.Events()
	require.Len(t, events, 1)
	assertEvent(t, events[0], EventAddBook, gold, potter)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), events[0].OccurredAt)

	_, err = svc.FindCopy(potter, rowling, true, StateAvailable, "")
	require.NoError(t, err)
	assert.Len(t, svc.Copies(), before+1)

	_, err = svc.RemoveBook(gold, bright, groen, false)
	require.NoError(t, err)
	events = svc.Events()
	require.Len(t, events, 2)
	assertEvent(t, events[1], EventRemoveBook, gold, bright)

	_, err = svc.FindCopy(bright, groen, false, StateAvailable, "")
	assert.ErrorIs(t, err, ErrNoSuchBook)

	_, err = svc.RemoveBook(gold, bright, groen, false)
	assert.ErrorIs(t, err, ErrNoSuchBook)
	assert.ErrorIs(t, err, ErrNoCopyInState)
}

func TestRemoveBook_PrefersAvailableCopy(t *testing.T) {
	svc := newFixtureService(t)
	gold := login(t, svc, "Gold")
	white := login(t, svc, "White")

	rented, err := svc.RentBook(white, master, bulgak, true)
	require.NoError(t, err)

	removed, err := svc.RemoveBook(gold, master, bulgak, true)
	require.NoError(t, err)
	assert.NotEqual(t, rented.ID, removed.ID)
	assert.Equal(t, StateAvailable, removed.State)

	// Only the borrowed copy is left; removing it releases the loan.
	removed, err = svc.RemoveBook(gold, master, bulgak, true)
	require.NoError(t, err)
	assert.Equal(t, rented.ID, removed.ID)
	assert.Zero(t, loans(t, svc, white))
	assertInvariants(t, svc)
}

func TestAddAndRemoveEntries(t *testing.T) {
	svc := newFixtureService(t)
	gold := login(t, svc, "Gold")

	assert.False(t, svc.CheckIfEntryExists("The Tempest", "William Shakespeare", false))
	before := len(svc.Copies())

	added, err := svc.AddCatalogEntry(gold, "The Tempest", "William Shakespeare", false)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, svc.CheckIfEntryExists("The Tempest", "William Shakespeare", false))

	added, err = svc.AddCatalogEntry(gold, "The Tempest", "William Shakespeare", false)
	require.NoError(t, err)
	assert.False(t, added, "the catalog is a set")

	for i := 0; i < 2; i++ {
		_, err := svc.AddBook(gold, "The Tempest", "William Shakespeare", false)
		require.NoError(t, err)
	}
	assert.Len(t, svc.Copies(), before+2)

	removed, err := svc.RemoveCatalogEntry(gold, "The Tempest", "William Shakespeare", false)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	events := svc.Events()
	require.Len(t, events, 4)
	assertEvent(t, events[2], EventRemoveBook, gold, "The Tempest")
	assertEvent(t, events[3], EventRemoveBook, gold, "The Tempest")

	assert.Len(t, svc.Copies(), before)
	assert.False(t, svc.CheckIfEntryExists("The Tempest", "William Shakespeare", false))
}

func TestRemoveCatalogEntry_CascadesOverLoans(t *testing.T) {
	svc := newFixtureService(t)
	gold := login(t, svc, "Gold")
	white := login(t, svc, "White")
	black := login(t, svc, "Black")

	_, err := svc.RentBook(white, master, bulgak, true)
	require.NoError(t, err)
	_, err = svc.ReserveBook(black, master, bulgak, true)
	require.NoError(t, err)

	removed, err := svc.RemoveCatalogEntry(gold, master, bulgak, true)
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Zero(t, loans(t, svc, white))
	assert.False(t, svc.CheckIfEntryExists(master, bulgak, true))

	_, err = svc.RemoveCatalogEntry(gold, master, bulgak, true)
	assert.ErrorIs(t, err, ErrNoSuchEntry)
	assertInvariants(t, svc)
}

func TestAdminOperationsRequireManagePermission(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")
	gold := login(t, svc, "Gold")

	_, err := svc.AddCatalogEntry(white, "The Tempest", "William Shakespeare", false)
	assert.ErrorIs(t, err, ErrNotAppropriatePermits)
	_, err = svc.RemoveCatalogEntry(white, bright, groen, false)
	assert.ErrorIs(t, err, ErrNotAppropriatePermits)
	_, err = svc.AddBook(white, bright, groen, false)
	assert.ErrorIs(t, err, ErrNotAppropriatePermits)
	_, err = svc.RemoveBook(white, bright, groen, false)
	assert.ErrorIs(t, err, ErrNotAppropriatePermits)

	_, err = svc.RentBook(gold, bright, groen, false)
	assert.ErrorIs(t, err, ErrNotAppropriatePermits, "admins manage the catalog, they do not borrow")

	_, err = svc.AddBook(gold, "The Tempest", "William Shakespeare", false)
	assert.ErrorIs(t, err, ErrNoSuchEntry)
	assert.NotErrorIs(t, err, ErrNoSuchBook)

	assert.Empty(t, svc.Events())
	assert.False(t, svc.CheckIfEntryExists("The Tempest", "William Shakespeare", false))
}

func TestFailedOperationsHaveNoSideEffects(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")
	black := login(t, svc, "Black")
	gold := login(t, svc, "Gold")

	_, err := svc.RentBook(white, bright, groen, false)
	require.NoError(t, err)
	_, err = svc.ReserveBook(black, bright, groen, false)
	require.NoError(t, err)

	failing := map[string]func() error{
		"rent borrowed":        func() error { _, err := svc.RentBook(black, bright, groen, false); return err },
		"rent without perm":    func() error { _, err := svc.RentBook("Red", pride, austin, false); return err },
		"return not held":      func() error { _, err := svc.ReturnBook(black, bright, groen, false); return err },
		"reserve twice":        func() error { _, err := svc.ReserveBook(black, bright, groen, false); return err },
		"reserve unknown":      func() error { _, err := svc.ReserveBook(white, "Nope", "Nobody", false); return err },
		"rent reserved other":  func() error { _, err := svc.RentReservedBook(black, bright, groen, false); return err },
		"cancel nothing":       func() error { _, err := svc.CancelReservation(white, pride, austin, false); return err },
		"add book unknown":     func() error { _, err := svc.AddBook(gold, "Nope", "Nobody", false); return err },
		"remove entry unknown": func() error { _, err := svc.RemoveCatalogEntry(gold, "Nope", "Nobody", false); return err },
		"unknown actor":        func() error { _, err := svc.ReturnBook("Purple", bright, groen, false); return err },
	}

	for name, op := range failing {
		t.Run(name, func(t *testing.T) {
			before := svc.Snapshot()
			require.Error(t, op())
			after := svc.Snapshot()
			assert.Equal(t, before, after)
		})
	}
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	svc := newFixtureService(t, WithLoanLimit(3))
	rng := rand.New(rand.NewSource(42))

	users := []string{"White", "Black", "Red", "Blue"}
	books := []CatalogEntry{
		{Title: bright, Author: groen},
		{Title: pride, Author: austin},
		{Title: master, Author: bulgak, Hardback: true},
	}
	ops := []func(actor, title, author string, hardback bool) (*Copy, error){
		svc.RentBook, svc.ReturnBook, svc.ReserveBook, svc.RentReservedBook, svc.CancelReservation,
	}

	for i := 0; i < 500; i++ {
		u := users[rng.Intn(len(users))]
		b := books[rng.Intn(len(books))]
		op := ops[rng.Intn(len(ops))]

		before := len(svc.Events())
		_, err := op(u, b.Title, b.Author, b.Hardback)
		if err != nil {
			require.Len(t, svc.Events(), before, "step %d: failed op appended an event", i)
		} else {
			require.Len(t, svc.Events(), before+1, "step %d: committed op must append one event", i)
		}
		assertInvariants(t, svc)
	}
}

func TestSnapshotRestore(t *testing.T) {
	svc := newFixtureService(t)
	white := login(t, svc, "White")
	black := login(t, svc, "Black")

	_, err := svc.RentBook(white, bright, groen, false)
	require.NoError(t, err)
	_, err = svc.ReserveBook(black, bright, groen, false)
	require.NoError(t, err)

	restored := NewLendingService()
	require.NoError(t, restored.Restore(svc.Snapshot()))
	assert.Equal(t, svc.Snapshot(), restored.Snapshot())
	assert.Equal(t, 1, loans(t, restored, white))

	_, err = restored.ReturnBook(white, bright, groen, false)
	require.NoError(t, err)
	_, err = restored.FindCopy(bright, groen, false, StateReserved, black)
	require.NoError(t, err)
}

func TestRestoreRejectsInconsistentSnapshot(t *testing.T) {
	svc := newFixtureService(t)
	good := svc.Snapshot()

	bad := svc.Snapshot()
	bad.Copies[0].State = StateBorrowed
	bad.Copies[0].Holder = "Purple"
	err := svc.Restore(bad)
	assert.ErrorIs(t, err, ErrNoSuchUser)

	bad = svc.Snapshot()
	bad.Copies[0].Queue = []string{"White"}
	assert.Error(t, svc.Restore(bad))

	assert.Equal(t, good, svc.Snapshot(), "failed restore must keep the current state")
}
