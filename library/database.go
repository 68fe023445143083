package library

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// Database persists service snapshots and user credentials in SQLite. The
// lending rules never run here; the database only stores what the service
// has already committed.
type Database struct {
	db *sql.DB

	upsertUserStmt *sql.Stmt
	addEventStmt   *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.upsertUserStmt != nil {
		d.upsertUserStmt.Close()
	}
	if d.addEventStmt != nil {
		d.addEventStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            username TEXT PRIMARY KEY,
            role TEXT NOT NULL,
            password_hash TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS entries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            hardback BOOLEAN NOT NULL,
            UNIQUE(title, author, hardback)
        );`,
		`CREATE TABLE IF NOT EXISTS copies (
            id TEXT PRIMARY KEY,
            position INTEGER NOT NULL,
            entry_id INTEGER NOT NULL REFERENCES entries(id),
            state TEXT NOT NULL,
            holder TEXT REFERENCES users(username)
        );`,
		`CREATE TABLE IF NOT EXISTS reservations (
            copy_id TEXT NOT NULL REFERENCES copies(id),
            position INTEGER NOT NULL,
            username TEXT NOT NULL REFERENCES users(username),
            PRIMARY KEY(copy_id, position)
        );`,
		`CREATE TABLE IF NOT EXISTS events (
            seq INTEGER PRIMARY KEY,
            type TEXT NOT NULL,
            actor TEXT NOT NULL,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            hardback BOOLEAN NOT NULL,
            copy_id TEXT NOT NULL,
            occurred_at DATETIME NOT NULL
        );`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.upsertUserStmt, err = d.db.Prepare(`INSERT INTO users(username,role) VALUES(?,?)
        ON CONFLICT(username) DO UPDATE SET role=excluded.role`); err != nil {
		return err
	}
	if d.addEventStmt, err = d.db.Prepare(`INSERT OR IGNORE INTO events(seq,type,actor,title,author,hardback,copy_id,occurred_at)
        VALUES(?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// SetPassword stores a bcrypt hash of password for an existing user.
func (d *Database) SetPassword(username, password string) error {
	if strings.TrimSpace(password) == "" {
		return errors.New("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := d.db.Exec(`UPDATE users SET password_hash=? WHERE username=?`, string(hash), username)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrNoSuchUser, username)
	}
	return nil
}

// AuthenticateUser verifies username's password.
func (d *Database) AuthenticateUser(username, password string) error {
	var hash string
	err := d.db.QueryRow(`SELECT password_hash FROM users WHERE username=?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNoSuchUser, username)
	}
	if err != nil {
		return err
	}
	if hash == "" {
		return fmt.Errorf("%w: no password set for %s", ErrInvalidCredentials, username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, username)
	}
	return nil
}

// HasPassword reports whether username has a stored password.
func (d *Database) HasPassword(username string) (bool, error) {
	var hash string
	if err := d.db.QueryRow(`SELECT password_hash FROM users WHERE username=?`, username).Scan(&hash); err != nil {
		return false, err
	}
	return hash != "", nil
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// IsEmpty reports whether nothing has been saved yet.
func (d *Database) IsEmpty() (bool, error) {
	var n int
	if err := d.db.QueryRow(`SELECT (SELECT COUNT(*) FROM users) + (SELECT COUNT(*) FROM entries)`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

// SaveSnapshot replaces the stored catalog, copies and queues with snap in
// one transaction. Users are upserted so their password hashes survive, and
// events are only ever added.
func (d *Database) SaveSnapshot(snap Snapshot) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range snap.Users {
		if _, err := tx.Stmt(d.upsertUserStmt).Exec(u.Username, string(u.Role)); err != nil {
			return fmt.Errorf("save user %s: %w", u.Username, err)
		}
	}

	for _, stmt := range []string{`DELETE FROM reservations`, `DELETE FROM copies`, `DELETE FROM entries`} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	entryIDs := make(map[CatalogEntry]int64, len(snap.Entries))
	for _, e := range snap.Entries {
		res, err := tx.Exec(`INSERT INTO entries(title,author,hardback) VALUES(?,?,?)`, e.Title, e.Author, e.Hardback)
		if err != nil {
			return fmt.Errorf("save entry %s: %w", e, err)
		}
		if entryIDs[e], err = res.LastInsertId(); err != nil {
			return err
		}
	}

	for pos, c := range snap.Copies {
		entryID, ok := entryIDs[c.Entry]
		if !ok {
			return fmt.Errorf("save copy %s: %w: %s", c.ID, ErrNoSuchEntry, c.Entry)
		}
		var holder sql.NullString
		if c.Holder != "" {
			holder = sql.NullString{String: c.Holder, Valid: true}
		}
		if _, err := tx.Exec(`INSERT INTO copies(id,position,entry_id,state,holder) VALUES(?,?,?,?,?)`,
			c.ID.String(), pos, entryID, string(c.State), holder); err != nil {
			return fmt.Errorf("save copy %s: %w", c.ID, err)
		}
		for qpos, username := range c.Queue {
			if _, err := tx.Exec(`INSERT INTO reservations(copy_id,position,username) VALUES(?,?,?)`,
				c.ID.String(), qpos, username); err != nil {
				return fmt.Errorf("save queue of %s: %w", c.ID, err)
			}
		}
	}

	for _, e := range snap.Events {
		if _, err := tx.Stmt(d.addEventStmt).Exec(e.Seq, string(e.Type), e.Actor,
			e.BookAffected.Title, e.BookAffected.Author, e.BookAffected.Hardback,
			e.CopyID.String(), e.OccurredAt.UTC()); err != nil {
			return fmt.Errorf("save event %d: %w", e.Seq, err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot reads the stored state back.
func (d *Database) LoadSnapshot() (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Users, err = d.loadUsers(); err != nil {
		return Snapshot{}, err
	}
	if snap.Entries, err = d.loadEntries(); err != nil {
		return Snapshot{}, err
	}
	if snap.Copies, err = d.loadCopies(); err != nil {
		return Snapshot{}, err
	}
	if snap.Events, err = d.loadEvents(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (d *Database) loadUsers() ([]User, error) {
	rows, err := d.db.Query(`SELECT username, role FROM users ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var role string
		if err := rows.Scan(&u.Username, &role); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (d *Database) loadEntries() ([]CatalogEntry, error) {
	rows, err := d.db.Query(`SELECT title, author, hardback FROM entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		if err := rows.Scan(&e.Title, &e.Author, &e.Hardback); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (d *Database) loadCopies() ([]*Copy, error) {
	rows, err := d.db.Query(`
        SELECT c.id, e.title, e.author, e.hardback, c.state, COALESCE(c.holder,'')
        FROM copies c JOIN entries e ON e.id = c.entry_id
        ORDER BY c.position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var copies []*Copy
	byID := make(map[string]*Copy)
	for rows.Next() {
		var c Copy
		var id, state string
		if err := rows.Scan(&id, &c.Entry.Title, &c.Entry.Author, &c.Entry.Hardback, &state, &c.Holder); err != nil {
			return nil, err
		}
		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("copy id %q: %w", id, err)
		}
		c.State = CopyState(state)
		copies = append(copies, &c)
		byID[id] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	qrows, err := d.db.Query(`SELECT copy_id, username FROM reservations ORDER BY copy_id, position`)
	if err != nil {
		return nil, err
	}
	defer qrows.Close()
	for qrows.Next() {
		var id, username string
		if err := qrows.Scan(&id, &username); err != nil {
			return nil, err
		}
		if c, ok := byID[id]; ok {
			c.Queue = append(c.Queue, username)
		}
	}
	return copies, qrows.Err()
}

func (d *Database) loadEvents() ([]Event, error) {
	rows, err := d.db.Query(`SELECT seq,type,actor,title,author,hardback,copy_id,occurred_at FROM events ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var typ, copyID string
		var at time.Time
		if err := rows.Scan(&e.Seq, &typ, &e.Actor, &e.BookAffected.Title, &e.BookAffected.Author,
			&e.BookAffected.Hardback, &copyID, &at); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		if e.CopyID, err = uuid.Parse(copyID); err != nil {
			return nil, fmt.Errorf("event %d copy id: %w", e.Seq, err)
		}
		e.OccurredAt = at
		events = append(events, e)
	}
	return events, rows.Err()
}

// SearchEntries returns catalog entries whose title or author contains q,
// ignoring case.
func (d *Database) SearchEntries(q string) ([]CatalogEntry, error) {
	if strings.TrimSpace(q) == "" {
		return []CatalogEntry{}, nil
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(q)) + "%"
	rows, err := d.db.Query(`
        SELECT title, author, hardback FROM entries
        WHERE lower(title) LIKE ? OR lower(author) LIKE ?
        ORDER BY id`, pattern, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		if err := rows.Scan(&e.Title, &e.Author, &e.Hardback); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
