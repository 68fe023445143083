package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"lending-library/library"

	"golang.org/x/term"
)

// repl is the interactive session. It remembers which user is signed in on
// this terminal and passes that username to every library call.
type repl struct {
	mgr *library.LibraryManager
	sc  *bufio.Scanner
	out io.Writer

	readPassword func(prompt string) (string, error)
	user         string
}

func newREPL(mgr *library.LibraryManager, in io.Reader, out io.Writer) *repl {
	r := &repl{mgr: mgr, sc: bufio.NewScanner(in), out: out}
	r.readPassword = r.readLine
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.readPassword = func(prompt string) (string, error) {
			fmt.Fprint(r.out, prompt)
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(r.out)
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(string(b)), nil
		}
	}
	return r
}

func (r *repl) run() error {
	fmt.Fprintln(r.out, "Welcome to the Lending Library!")
	r.help()

	for {
		prompt := "\n> "
		if r.user != "" {
			prompt = fmt.Sprintf("\n%s> ", r.user)
		}
		fmt.Fprint(r.out, prompt)
		if !r.sc.Scan() {
			return r.sc.Err()
		}
		cmd := strings.TrimSpace(r.sc.Text())

		switch cmd {
		case "":
			continue
		case "help":
			r.help()
		case "login":
			r.handleLogin()
		case "logout":
			r.user = ""
			fmt.Fprintln(r.out, "Logged out.")
		case "whoami":
			r.handleWhoAmI()
		case "list books":
			printCopies(r.out, r.mgr.Copies())
		case "list entries":
			printEntries(r.out, r.mgr.Entries(), r.mgr.Copies())
		case "search":
			r.handleSearch()
		case "history":
			printEvents(r.out, r.mgr.Events())
		case "rent":
			r.circulate("rent", r.mgr.RentBook)
		case "return":
			r.circulate("return", r.mgr.ReturnBook)
		case "reserve":
			r.circulate("reserve", r.mgr.ReserveBook)
		case "rent reserved":
			r.circulate("rent reserved", r.mgr.RentReservedBook)
		case "cancel reservation":
			r.circulate("cancel reservation", r.mgr.CancelReservation)
		case "add book":
			r.circulate("add book", r.mgr.AddBook)
		case "remove book":
			r.circulate("remove book", r.mgr.RemoveBook)
		case "add entry":
			r.handleAddEntry()
		case "remove entry":
			r.handleRemoveEntry()
		case "exit", "quit":
			fmt.Fprintln(r.out, "Goodbye!")
			return nil
		default:
			fmt.Fprintln(r.out, "Unknown command. Type 'help' to see the available commands.")
		}
	}
}

func (r *repl) help() {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out, "  Session: login, logout, whoami")
	fmt.Fprintln(r.out, "  Browse: list books, list entries, search, history")
	fmt.Fprintln(r.out, "  Circulation: rent, return, reserve, rent reserved, cancel reservation")
	fmt.Fprintln(r.out, "  Admin: add entry, remove entry, add book, remove book")
	fmt.Fprintln(r.out, "  System: help, exit")
}

func (r *repl) readLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(r.sc.Text()), nil
}

// readBook prompts for a catalog identity.
func (r *repl) readBook() (title, author string, hardback bool, ok bool) {
	var err error
	if title, err = r.readLine("Title: "); err != nil {
		return "", "", false, false
	}
	if author, err = r.readLine("Author: "); err != nil {
		return "", "", false, false
	}
	edition, err := r.readLine("Hardback? [y/N]: ")
	if err != nil {
		return "", "", false, false
	}
	switch strings.ToLower(edition) {
	case "y", "yes":
		hardback = true
	}
	return title, author, hardback, true
}

func (r *repl) requireLogin() bool {
	if r.user == "" {
		fmt.Fprintln(r.out, "Please 'login' first.")
		return false
	}
	return true
}

func (r *repl) handleLogin() {
	username, err := r.readLine("Username: ")
	if err != nil {
		return
	}
	password, err := r.readPassword("Password: ")
	if err != nil {
		fmt.Fprintf(r.out, "Error reading password: %v\n", err)
		return
	}
	u, err := r.mgr.Login(username, password)
	if err != nil {
		fmt.Fprintf(r.out, "Authentication failed: %s\n", describeError(err))
		return
	}
	r.user = u.Username
	fmt.Fprintf(r.out, "Logged in as %s (%s).\n", u.Username, u.Role)
}

func (r *repl) handleWhoAmI() {
	if !r.requireLogin() {
		return
	}
	for _, u := range r.mgr.Users() {
		if u.Username == r.user {
			fmt.Fprintf(r.out, "%s (%s), %d of %d loans in use\n",
				u.Username, u.Role, u.ActiveLoans, r.mgr.Service().LoanLimit())
			return
		}
	}
}

type bookOp func(actor, title, author string, hardback bool) (*library.Copy, error)

// circulate runs a single-copy operation for the signed-in user.
func (r *repl) circulate(name string, op bookOp) {
	if !r.requireLogin() {
		return
	}
	title, author, hardback, ok := r.readBook()
	if !ok {
		return
	}
	c, err := op(r.user, title, author, hardback)
	if err != nil {
		fmt.Fprintf(r.out, "Cannot %s: %s\n", name, describeError(err))
		return
	}

	switch {
	case c.State == library.StateReserved && c.Holder != r.user && name == "return":
		fmt.Fprintf(r.out, "Returned '%s'. It is now reserved for %s (next in queue).\n", c.Entry.Title, c.Holder)
	case name == "reserve" && c.Holder != r.user:
		fmt.Fprintf(r.out, "Queued for '%s' (copy %s). Position in queue: %d\n",
			c.Entry.Title, shortID(c), len(c.Queue))
	default:
		fmt.Fprintf(r.out, "Done: %s '%s' (copy %s, now %s).\n", name, c.Entry.Title, shortID(c), c.State)
	}
}

func (r *repl) handleAddEntry() {
	if !r.requireLogin() {
		return
	}
	title, author, hardback, ok := r.readBook()
	if !ok {
		return
	}
	added, err := r.mgr.AddCatalogEntry(r.user, title, author, hardback)
	if err != nil {
		fmt.Fprintf(r.out, "Cannot add entry: %s\n", describeError(err))
		return
	}
	if !added {
		fmt.Fprintln(r.out, "That entry is already in the catalog.")
		return
	}
	fmt.Fprintf(r.out, "Added catalog entry '%s'.\n", title)
}

func (r *repl) handleRemoveEntry() {
	if !r.requireLogin() {
		return
	}
	title, author, hardback, ok := r.readBook()
	if !ok {
		return
	}
	removed, err := r.mgr.RemoveCatalogEntry(r.user, title, author, hardback)
	if err != nil {
		fmt.Fprintf(r.out, "Cannot remove entry: %s\n", describeError(err))
		return
	}
	fmt.Fprintf(r.out, "Removed catalog entry '%s' and %d copies.\n", title, len(removed))
}

func (r *repl) handleSearch() {
	q, err := r.readLine("Query: ")
	if err != nil {
		return
	}
	entries, err := r.mgr.SearchEntries(q)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintf(r.out, "No entries found matching '%s'.\n", q)
		return
	}
	fmt.Fprintf(r.out, "Found %d entr(y/ies) matching '%s':\n", len(entries), q)
	printEntries(r.out, entries, r.mgr.Copies())
}

// describeError turns library errors into user-facing text, keeping the
// distinct causes apart.
func describeError(err error) string {
	switch {
	case errors.Is(err, library.ErrNoSuchUser):
		return "no such user"
	case errors.Is(err, library.ErrInvalidCredentials):
		return "wrong username or password"
	case errors.Is(err, library.ErrLoanLimit):
		return "you have reached your loan limit"
	case errors.Is(err, library.ErrMissingPermission):
		return "your account is not permitted to do that"
	case errors.Is(err, library.ErrNoSuchEntry):
		return "that book is not in the catalog"
	case errors.Is(err, library.ErrNotHolder):
		return "you do not hold a copy of that book"
	case errors.Is(err, library.ErrNoCopyInState):
		return "no copy of that book is in the right state for this"
	case errors.Is(err, library.ErrAlreadyQueued):
		return "you already hold or are queued for that book"
	}
	return err.Error()
}

// ------------------ Tables ------------------

func printCopies(w io.Writer, copies []*library.Copy) {
	if len(copies) == 0 {
		fmt.Fprintln(w, "No books in library.")
		return
	}
	fmt.Fprintf(w, "%-8s %-30s %-20s %-9s %-10s %-10s %s\n", "Copy", "Title", "Author", "Hardback", "State", "Holder", "Queue")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, c := range copies {
		fmt.Fprintln(w, library.PrettyCopy(c))
	}
}

func printEntries(w io.Writer, entries []library.CatalogEntry, copies []*library.Copy) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "The catalog is empty.")
		return
	}
	fmt.Fprintf(w, "%-40s %-25s %-9s %-7s %s\n", "Title", "Author", "Hardback", "Copies", "Available")
	fmt.Fprintln(w, strings.Repeat("-", 95))
	for _, e := range entries {
		var total, avail int
		for _, c := range copies {
			if c.Entry != e {
				continue
			}
			total++
			if c.State == library.StateAvailable {
				avail++
			}
		}
		fmt.Fprintf(w, "%-40s %-25s %-9t %-7d %d\n", truncateString(e.Title, 40), truncateString(e.Author, 25), e.Hardback, total, avail)
	}
}

func printEvents(w io.Writer, events []library.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return
	}
	fmt.Fprintf(w, "%-5s %-22s %-10s %-30s %s\n", "Seq", "Type", "Actor", "Title", "When")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, e := range events {
		fmt.Fprintf(w, "%-5d %-22s %-10s %-30s %s\n", e.Seq, e.Type, e.Actor,
			truncateString(e.BookAffected.Title, 30), e.OccurredAt.Format("2006-01-02 15:04:05"))
	}
}

func printUsers(w io.Writer, users []library.User, limit int) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users registered.")
		return
	}
	fmt.Fprintf(w, "%-20s %-12s %s\n", "Username", "Role", "Loans")
	fmt.Fprintln(w, strings.Repeat("-", 45))
	for _, u := range users {
		fmt.Fprintf(w, "%-20s %-12s %d/%d\n", u.Username, u.Role, u.ActiveLoans, limit)
	}
}

func shortID(c *library.Copy) string { return c.ID.String()[:8] }

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-3] + "..."
}
