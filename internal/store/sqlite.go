package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/contract-review/internal/contractreview"
)

// SQLiteStore persists submissions in a single SQLite file. Writes go
// straight through; there is no in-memory cache.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS submissions (
	token       TEXT PRIMARY KEY,
	case_id     TEXT NOT NULL,
	filename    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'queued',
	state       TEXT NOT NULL DEFAULT 'idle',
	error_kind  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	response    BLOB,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS submissions_created_at ON submissions (created_at);
`

type submissionRow struct {
	Token     string `db:"token"`
	CaseID    string `db:"case_id"`
	Filename  string `db:"filename"`
	Status    string `db:"status"`
	State     string `db:"state"`
	ErrorKind string `db:"error_kind"`
	Error     string `db:"error"`
	Response  []byte `db:"response"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r submissionRow) submission() Submission {
	sub := Submission{
		Token:     r.Token,
		CaseID:    r.CaseID,
		Filename:  r.Filename,
		Status:    Status(r.Status),
		State:     contractreview.State(r.State),
		ErrorKind: contractreview.ErrorKind(r.ErrorKind),
		Error:     r.Error,
		Response:  r.Response,
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
	sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return sub
}

const selectColumns = `token, case_id, filename, status, state, error_kind, error, response, created_at, updated_at`

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sortableTime keeps a fixed fraction width so text order matches time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

func timeToString(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func (s *SQLiteStore) Create(ctx context.Context, caseID, filename string) (Submission, error) {
	sub := newSubmission(caseID, filename, s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (token, case_id, filename, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.Token, sub.CaseID, sub.Filename, string(sub.Status), string(sub.State),
		timeToString(sub.CreatedAt), timeToString(sub.UpdatedAt),
	)
	if err != nil {
		return Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) Get(ctx context.Context, token string) (Submission, error) {
	var row submissionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+selectColumns+` FROM submissions WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("get submission: %w", err)
	}
	return row.submission(), nil
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SetState(ctx context.Context, token string, state contractreview.State) error {
	return s.exec(ctx,
		`UPDATE submissions SET state = ?, status = ?, updated_at = ? WHERE token = ?`,
		string(state), string(statusForState(state)), timeToString(s.now()), token,
	)
}

func (s *SQLiteStore) Complete(ctx context.Context, token string, response []byte) error {
	return s.exec(ctx,
		`UPDATE submissions SET state = ?, status = ?, response = ?, updated_at = ? WHERE token = ?`,
		string(contractreview.StateComplete), string(StatusCompleted), response, timeToString(s.now()), token,
	)
}

func (s *SQLiteStore) Fail(ctx context.Context, token string, kind contractreview.ErrorKind, message string, response []byte) error {
	return s.exec(ctx,
		`UPDATE submissions SET state = ?, status = ?, error_kind = ?, error = ?, response = ?, updated_at = ? WHERE token = ?`,
		string(contractreview.StateFailed), string(StatusFailed), string(kind), message, response, timeToString(s.now()), token,
	)
}

// List returns the newest submissions first. limit <= 0 means all.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Submission, error) {
	query := `SELECT ` + selectColumns + ` FROM submissions ORDER BY created_at DESC, token`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []submissionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]Submission, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.submission())
	}
	return out, nil
}
