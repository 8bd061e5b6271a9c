package gallery

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	// registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS finds (
	id          TEXT PRIMARY KEY,
	object      TEXT NOT NULL,
	detection   TEXT NOT NULL,
	captured_at INTEGER NOT NULL,
	mime_type   TEXT NOT NULL,
	image       BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS finds_captured_at ON finds (captured_at);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// SQLiteStore persists entries in a SQLite database, keeping at most MaxEntries of the
// newest ones when MaxEntries is positive.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	logger     logging.Logger
}

// OpenSQLite opens or creates the gallery database at path.
func OpenSQLite(ctx context.Context, path string, maxEntries int, logger logging.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening gallery database")
	}
	// a single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "setting %q", p), db.Close())
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "creating gallery schema"), db.Close())
	}
	return &SQLiteStore{db: db, maxEntries: maxEntries, logger: logger}, nil
}

// Add inserts e and applies the retention limit.
func (s *SQLiteStore) Add(ctx context.Context, e Entry) error {
	det, err := json.Marshal(e.Detection)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO finds (id, object, detection, captured_at, mime_type, image) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.TargetObject, string(det), e.CapturedAt.UnixNano(), e.MimeType, e.Image,
	); err != nil {
		return multierr.Combine(err, tx.Rollback())
	}
	if s.maxEntries > 0 {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM finds WHERE id NOT IN (SELECT id FROM finds ORDER BY captured_at DESC, rowid DESC LIMIT ?)`,
			s.maxEntries,
		)
		if err != nil {
			return multierr.Combine(err, tx.Rollback())
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			s.logger.CDebugw(ctx, "pruned gallery", "removed", n)
		}
	}
	return tx.Commit()
}

// List returns every entry, newest first.
func (s *SQLiteStore) List(ctx context.Context) (entries []Entry, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, object, detection, captured_at, mime_type, image FROM finds ORDER BY captured_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get looks an entry up by id.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, object, detection, captured_at, mime_type, image FROM finds WHERE id = ?`, id.String())
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, errors.Wrap(ErrNotFound, id.String())
	}
	return e, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e          Entry
		id, det    string
		capturedAt int64
	)
	if err := row.Scan(&id, &e.TargetObject, &det, &capturedAt, &e.MimeType, &e.Image); err != nil {
		return Entry{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "bad gallery id %q", id)
	}
	e.ID = parsed
	if err := json.Unmarshal([]byte(det), &e.Detection); err != nil {
		return Entry{}, errors.Wrap(err, "bad stored detection")
	}
	e.CapturedAt = time.Unix(0, capturedAt).UTC()
	return e, nil
}
