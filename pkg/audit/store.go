// Package audit persists the command audit trail to SQLite so it outlives
// the connection that produced it.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/gwillem/bladeloader/pkg/executor"
)

const schema = `
CREATE TABLE IF NOT EXISTS command_log (
	id         TEXT PRIMARY KEY,
	session    TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	command    TEXT,
	wire       TEXT,
	response   TEXT,
	success    INTEGER NOT NULL,
	local      INTEGER NOT NULL,
	error      TEXT,
	note       TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_command_log_session ON command_log(session, seq);
`

// Record is a persisted audit entry.
type Record struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	Seq       int       `json:"seq"`
	Kind      string    `json:"kind"`
	Command   string    `json:"command,omitempty"`
	Wire      string    `json:"wire,omitempty"`
	Response  string    `json:"response,omitempty"`
	Success   bool      `json:"success"`
	Local     bool      `json:"local"`
	Error     string    `json:"error,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which records List returns.
type Filter struct {
	Session    string // optional
	FailedOnly bool
	Limit      int // default 50, max 1000
}

// Store is a SQLite-backed executor.Sink. Every Store gets its own session id
// so entries from different connections can be told apart.
type Store struct {
	db      *sql.DB
	session string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, 5000)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}

	return &Store{db: db, session: uuid.NewString()}, nil
}

// Session returns the id stamped on entries appended through this store.
func (s *Store) Session() string { return s.session }

// Append implements executor.Sink.
func (s *Store) Append(ctx context.Context, e executor.Entry) error {
	var command string
	if e.Command != nil {
		command = e.Command.Kind().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_log (id, session, seq, kind, command, wire, response, success, local, error, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"aud-"+uuid.NewString(), s.session, e.Seq, string(e.Kind),
		nullable(command), nullable(e.Wire), nullable(e.Response),
		e.Success, e.Local, nullable(e.Error), nullable(e.Note),
		e.Time.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns matching records, most recently appended first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}

	var conds []string
	var args []any
	if f.Session != "" {
		conds = append(conds, "session = ?")
		args = append(args, f.Session)
	}
	if f.FailedOnly {
		conds = append(conds, "success = 0")
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf(`SELECT id, session, seq, kind, command, wire, response, success, local, error, note, created_at
		FROM command_log %s ORDER BY rowid DESC LIMIT ?`, where)
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var command, wire, response, errText, note sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Session, &r.Seq, &r.Kind, &command, &wire, &response,
			&r.Success, &r.Local, &errText, &note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		r.Command, r.Wire, r.Response = command.String, wire.String, response.String
		r.Error, r.Note = errText.String, note.String
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", createdAt, err)
		}
		r.CreatedAt = t
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close audit database: %w", err)
	}
	return nil
}
