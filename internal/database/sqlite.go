package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TheSeeker/Sone-sub000/internal/database/migrations"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
	"github.com/TheSeeker/Sone-sub000/internal/store"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// LocalSone is a persisted local identity: its encoded document and lock state.
type LocalSone struct {
	ID       string
	Document []byte
	Locked   bool
	SavedAt  time.Time
}

// SQLiteDatabase persists the state that must survive a restart: the known
// sets, the local identities and the publish checkpoints.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

var _ sone.Checkpoints = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path. path can be a file path or
// ":memory:" for an in-memory database. Call Migrate before first use.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing connection. The caller is
// responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// Migrate brings the schema up to date.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// Known sets

// LoadKnown returns every persisted known sone, post and reply id in ascending order.
func (s *SQLiteDatabase) LoadKnown(ctx context.Context) (store.KnownSets, error) {
	var k store.KnownSets
	var err error
	if k.Sones, err = s.ids(ctx, "SELECT id FROM known_sones ORDER BY id"); err != nil {
		return store.KnownSets{}, fmt.Errorf("loading known sones: %w", err)
	}
	if k.Posts, err = s.ids(ctx, "SELECT id FROM known_posts ORDER BY id"); err != nil {
		return store.KnownSets{}, fmt.Errorf("loading known posts: %w", err)
	}
	if k.Replies, err = s.ids(ctx, "SELECT id FROM known_replies ORDER BY id"); err != nil {
		return store.KnownSets{}, fmt.Errorf("loading known replies: %w", err)
	}
	return k, nil
}

// SaveKnown adds the given ids to the persisted known sets in one transaction.
// Known sets only grow; ids already present are left alone.
func (s *SQLiteDatabase) SaveKnown(ctx context.Context, k store.KnownSets) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	sets := []struct {
		table string
		ids   []string
	}{
		{"known_sones", k.Sones},
		{"known_posts", k.Posts},
		{"known_replies", k.Replies},
	}
	for _, set := range sets {
		if err := insertIDs(ctx, tx, set.table, set.ids); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing known sets: %w", err)
	}
	return nil
}

func insertIDs(ctx context.Context, tx *sql.Tx, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO "+table+" (id) VALUES (?)")
	if err != nil {
		return fmt.Errorf("preparing insert into %s: %w", table, err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("inserting into %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteDatabase) ids(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Local identities

// SaveLocalSone stores the encoded document of a local identity, replacing any
// previous version.
func (s *SQLiteDatabase) SaveLocalSone(ctx context.Context, ls LocalSone) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_sones (id, document, locked, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			locked = excluded.locked,
			saved_at = excluded.saved_at`,
		ls.ID, ls.Document, ls.Locked, sone.Millis(ls.SavedAt))
	if err != nil {
		return fmt.Errorf("saving local sone %s: %w", ls.ID, err)
	}
	return nil
}

// LocalSone returns the persisted local identity with the given id, or nil if
// none is stored.
func (s *SQLiteDatabase) LocalSone(ctx context.Context, id string) (*LocalSone, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, document, locked, saved_at FROM local_sones WHERE id = ?", id)
	ls, err := scanLocalSone(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading local sone %s: %w", id, err)
	}
	return ls, nil
}

// LocalSones returns all persisted local identities ordered by id.
func (s *SQLiteDatabase) LocalSones(ctx context.Context) ([]LocalSone, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document, locked, saved_at FROM local_sones ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("loading local sones: %w", err)
	}
	defer rows.Close()

	var result []LocalSone
	for rows.Next() {
		ls, err := scanLocalSone(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning local sone: %w", err)
		}
		result = append(result, *ls)
	}
	return result, rows.Err()
}

// DeleteLocalSone removes a local identity and its publish checkpoint.
func (s *SQLiteDatabase) DeleteLocalSone(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM local_sones WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting local sone %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM publish_state WHERE sone_id = ?", id); err != nil {
		return fmt.Errorf("deleting publish state of %s: %w", id, err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLocalSone(row scanner) (*LocalSone, error) {
	var ls LocalSone
	var savedAt int64
	if err := row.Scan(&ls.ID, &ls.Document, &ls.Locked, &savedAt); err != nil {
		return nil, err
	}
	ls.SavedAt = sone.FromMillis(savedAt)
	return &ls, nil
}

// Publish checkpoints

// LoadPublishCheckpoint returns the last publish checkpoint of an identity, or
// nil if it was never published.
func (s *SQLiteDatabase) LoadPublishCheckpoint(ctx context.Context, soneID string) (*sone.PublishCheckpoint, error) {
	var cp sone.PublishCheckpoint
	err := s.db.QueryRowContext(ctx,
		"SELECT sone_id, fingerprint, edition, published_at FROM publish_state WHERE sone_id = ?", soneID).
		Scan(&cp.SoneID, &cp.Fingerprint, &cp.Edition, &cp.PublishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading publish checkpoint of %s: %w", soneID, err)
	}
	return &cp, nil
}

// SavePublishCheckpoint records a successful publish. A checkpoint with an
// edition lower than the stored one is ignored.
func (s *SQLiteDatabase) SavePublishCheckpoint(ctx context.Context, cp sone.PublishCheckpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publish_state (sone_id, fingerprint, edition, published_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sone_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			edition = excluded.edition,
			published_at = excluded.published_at
		WHERE excluded.edition >= publish_state.edition`,
		cp.SoneID, cp.Fingerprint, cp.Edition, cp.PublishedAt)
	if err != nil {
		return fmt.Errorf("saving publish checkpoint of %s: %w", cp.SoneID, err)
	}
	return nil
}

// Database management

// Path returns the file path of the database, or "" for wrapped connections.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// BackupTo writes a complete copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
