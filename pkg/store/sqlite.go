package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	errs "github.com/ctfer-io/race-manager/pkg/errors"
)

const KindSQLite = "sqlite"

// SQLiteStore keeps one SQLite database file per namespace. The finish
// marker is a row of a table keyed by a PRIMARY KEY, so a second insert
// fails with SQLITE_CONSTRAINT_PRIMARYKEY.
type SQLiteStore struct {
	dir         string
	prefix      string
	busyTimeout time.Duration
}

var _ RaceStore = (*SQLiteStore)(nil)

// OpenSQLite returns a store keeping its databases under dir.
// busyTimeout is how long a connection waits on a database locked by
// another racer before failing.
func OpenSQLite(dir, prefix string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, &errs.ErrBackend{Op: "mkdir", Sub: err}
	}
	return &SQLiteStore{
		dir:         dir,
		prefix:      prefix,
		busyTimeout: busyTimeout,
	}, nil
}

func (s *SQLiteStore) Kind() string {
	return KindSQLite
}

func (s *SQLiteStore) path(ns string) string {
	return filepath.Join(s.dir, Hash(ns)+".sqlite")
}

func (s *SQLiteStore) Open(ctx context.Context, id string) (Handle, error) {
	ns := Namespace(s.prefix, id)
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_sync=FULL", s.path(ns), s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &errs.ErrBackend{Op: "open", Namespace: ns, Sub: err}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS race (key TEXT PRIMARY KEY NOT NULL, value BLOB) STRICT"); err != nil {
		return nil, &errs.ErrBackend{
			Op:        "open",
			Namespace: ns,
			Sub:       multierr.Combine(err, db.Close()),
		}
	}
	return &sqliteHandle{
		ns: ns,
		db: db,
	}, nil
}

func (s *SQLiteStore) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ns := Namespace(s.prefix, id)
	base := s.path(ns)
	var merr error
	for _, f := range []string{base, base + "-journal", base + "-wal", base + "-shm"} {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			merr = multierr.Append(merr, err)
		}
	}
	merr = multierr.Append(merr, syncDir(s.dir))
	if merr != nil {
		return &errs.ErrBackend{Op: "destroy", Namespace: ns, Sub: merr}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return nil
}

type sqliteHandle struct {
	ns string
	db *sql.DB
}

func (h *sqliteHandle) Namespace() string {
	return h.ns
}

func (h *sqliteHandle) InsertFinishMarker(ctx context.Context) (Outcome, error) {
	_, err := h.db.ExecContext(ctx, "INSERT INTO race (key, value) VALUES (?, ?)", FinishMarker, sentinel)
	if err == nil {
		return Committed, nil
	}
	if isUniquenessViolation(err) {
		return Rejected, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, err
	}
	return 0, &errs.ErrBackend{Op: "insert", Namespace: h.ns, Sub: err}
}

func (h *sqliteHandle) Close() error {
	if err := h.db.Close(); err != nil {
		return &errs.ErrBackend{Op: "close", Namespace: h.ns, Sub: err}
	}
	return nil
}

// isUniquenessViolation tells whether err is SQLite refusing a duplicated key.
// Any other constraint failure (e.g. NOT NULL) is not a lost race.
func isUniquenessViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrConstraint &&
		(serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || serr.ExtendedCode == sqlite3.ErrConstraintUnique)
}
