package library

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CatalogEntry is the bibliographic identity shared by every physical copy of a book.
type CatalogEntry struct {
	Title    string `json:"title" toml:"title"`
	Author   string `json:"author" toml:"author"`
	Hardback bool   `json:"hardback" toml:"hardback"`
}

// Matches reports whether the entry has exactly the given identity.
func (e CatalogEntry) Matches(title, author string, hardback bool) bool {
	return e.Title == title && e.Author == author && e.Hardback == hardback
}

func (e CatalogEntry) String() string {
	edition := "paperback"
	if e.Hardback {
		edition = "hardback"
	}
	return fmt.Sprintf("%q by %s (%s)", e.Title, e.Author, edition)
}

// CopyState is the lifecycle state of a physical copy.
type CopyState string

const (
	StateAvailable CopyState = "AVAILABLE"
	StateBorrowed  CopyState = "BORROWED"
	StateReserved  CopyState = "RESERVED"
)

// Valid reports whether s is one of the known states.
func (s CopyState) Valid() bool {
	switch s {
	case StateAvailable, StateBorrowed, StateReserved:
		return true
	}
	return false
}

// Copy is one physical lendable instance of a CatalogEntry.
//
// Holder is the borrower while BORROWED and the reservation holder while
// RESERVED. Queue lists, in arrival order, the users waiting to become holder.
// An AVAILABLE copy never has a holder or a queue.
type Copy struct {
	ID     uuid.UUID
	Entry  CatalogEntry
	State  CopyState
	Holder string
	Queue  []string
}

func (c *Copy) clone() *Copy {
	cp := *c
	cp.Queue = append([]string(nil), c.Queue...)
	return &cp
}

func (c *Copy) queued(username string) bool {
	for _, u := range c.Queue {
		if u == username {
			return true
		}
	}
	return false
}

// Permission is a capability bit checked by the lending service.
type Permission uint8

const (
	PermRent Permission = 1 << iota
	PermReserve
	PermManage
)

// Role is a named permission tier.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleStandard  Role = "standard"
	RoleNoRent    Role = "no-rent"
	RoleNoReserve Role = "no-reserve"
)

var rolePermissions = map[Role]Permission{
	RoleAdmin:     PermManage,
	RoleStandard:  PermRent | PermReserve,
	RoleNoRent:    PermReserve,
	RoleNoReserve: PermRent,
}

// Permissions returns the capability set granted by the role. Unknown roles grant nothing.
func (r Role) Permissions() Permission { return rolePermissions[r] }

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// User is a library member. ActiveLoans always equals the number of copies
// the user holds in state BORROWED.
type User struct {
	Username    string
	Role        Role
	ActiveLoans int
}

// Can reports whether the user's role grants p.
func (u *User) Can(p Permission) bool { return u.Role.Permissions()&p == p }

// EventType names a committed state change.
type EventType string

const (
	EventAddBook             EventType = "ADD_A_BOOK"
	EventRemoveBook          EventType = "REMOVE_A_BOOK"
	EventRentBook            EventType = "RENT_A_BOOK"
	EventReturnBook          EventType = "BOOK_RETURN"
	EventReservation         EventType = "RESERVATION"
	EventReservationCanceled EventType = "RESERVATION_CANCELLED"
)

// Event is an immutable record of a committed operation. Seq is the 1-based
// position in the log and the only ordering guarantee; OccurredAt is informative.
type Event struct {
	Seq          int          `json:"seq"`
	Type         EventType    `json:"type"`
	Actor        string       `json:"actor"`
	BookAffected CatalogEntry `json:"book_affected"`
	CopyID       uuid.UUID    `json:"copy_id"`
	OccurredAt   time.Time    `json:"occurred_at"`
}
