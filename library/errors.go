package library

import "errors"

// Sentinel errors returned by the lending service. Callers match them with errors.Is.
var (
	// ErrNoSuchUser indicates a username lookup failed.
	ErrNoSuchUser = errors.New("no such user")

	// ErrNoSuchEntry indicates the catalog has no entry with the requested identity.
	ErrNoSuchEntry = errors.New("no such catalog entry")

	// ErrNoSuchBook indicates no copy matched the requested identity, state and holder.
	// It always wraps one of ErrNoSuchEntry, ErrNoCopyInState or ErrNotHolder.
	ErrNoSuchBook = errors.New("no such book")

	// ErrNoCopyInState indicates the entry exists but none of its copies is in the required state.
	ErrNoCopyInState = errors.New("no copy in the required state")

	// ErrNotHolder indicates the entry exists but the actor holds none of its copies.
	ErrNotHolder = errors.New("no copy held by this user")

	// ErrNotAppropriatePermits indicates the actor may not perform the operation.
	// It always wraps ErrMissingPermission or ErrLoanLimit.
	ErrNotAppropriatePermits = errors.New("not appropriate permits")

	// ErrMissingPermission indicates the actor's role lacks the capability.
	ErrMissingPermission = errors.New("role lacks permission")

	// ErrLoanLimit indicates the actor already borrows the maximum number of copies.
	ErrLoanLimit = errors.New("loan limit reached")

	// ErrAlreadyQueued indicates the actor already holds or waits for the copy.
	ErrAlreadyQueued = errors.New("already holding or queued for this book")

	// ErrInvalidCredentials indicates a failed password check.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
