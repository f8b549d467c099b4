package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"limitpaste/internal/id"
	"limitpaste/internal/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db  *sql.DB
	ids *id.Generator
}

// Open initializes the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, ids: id.New(0)}, nil
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS pastes (
    id TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER,
    max_views INTEGER,
    view_count INTEGER NOT NULL DEFAULT 0,
    passphrase_hash TEXT
);
`
	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

const columns = `id, content, created_at, expires_at, max_views, view_count, passphrase_hash`

// Create inserts a new paste under a freshly generated id.
func (s *Store) Create(ctx context.Context, n storage.NewPaste) (*storage.Paste, error) {
	const q = `
INSERT INTO pastes (` + columns + `)
VALUES (?, ?, ?, ?, ?, 0, ?)
ON CONFLICT(id) DO NOTHING;
`
	var out *storage.Paste
	_, err := s.ids.Insert(ctx, func(pid string) (bool, error) {
		paste := n.Build(pid)
		res, err := s.db.ExecContext(ctx, q,
			paste.ID,
			[]byte(paste.Content),
			paste.CreatedAt.UnixMilli(),
			storage.MillisOrNull(paste.ExpiresAt),
			nullableInt(paste.MaxViews),
			nullString(paste.PassphraseHash),
		)
		if err != nil {
			return false, errors.Wrap(err, "save paste")
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return false, errors.Wrap(err, "rows affected")
		}
		if rows == 0 {
			return false, nil
		}
		out = paste
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches a paste by id.
func (s *Store) Get(ctx context.Context, pid string) (*storage.Paste, error) {
	if !s.ids.Valid(pid) {
		return nil, storage.ErrNotFound
	}
	const q = `SELECT ` + columns + ` FROM pastes WHERE id = ?;`
	paste, err := scanPaste(s.db.QueryRowContext(ctx, q, pid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, errors.Wrap(err, "query paste")
	}
	return paste, nil
}

// ConsumeView increments the view count with a single conditional UPDATE and
// returns the row as it is after the update.
func (s *Store) ConsumeView(ctx context.Context, pid string, now time.Time) (*storage.Paste, error) {
	if !s.ids.Valid(pid) {
		return nil, storage.ErrNotAvailable
	}
	const q = `
UPDATE pastes SET view_count = view_count + 1
WHERE id = ?
  AND (expires_at IS NULL OR expires_at > ?)
  AND (max_views IS NULL OR view_count < max_views)
RETURNING ` + columns + `;
`
	paste, err := scanPaste(s.db.QueryRowContext(ctx, q, pid, now.UnixMilli()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotAvailable
		}
		return nil, errors.Wrap(err, "consume view")
	}
	return paste, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanPaste(row *sql.Row) (*storage.Paste, error) {
	var (
		pid       string
		content   []byte
		createdAt int64
		expiresAt sql.NullInt64
		maxViews  sql.NullInt64
		viewCount int
		hash      sql.NullString
	)
	if err := row.Scan(&pid, &content, &createdAt, &expiresAt, &maxViews, &viewCount, &hash); err != nil {
		return nil, err
	}
	paste := &storage.Paste{
		ID:        pid,
		Content:   string(content),
		CreatedAt: storage.FromMillis(createdAt),
		ViewCount: viewCount,
	}
	if expiresAt.Valid {
		paste.ExpiresAt = storage.FromMillis(expiresAt.Int64)
	}
	if maxViews.Valid {
		paste.MaxViews = int(maxViews.Int64)
	}
	if hash.Valid {
		paste.PassphraseHash = hash.String
	}
	return paste, nil
}

func nullableInt(v int) any {
	if v <= 0 {
		return nil
	}
	return v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
