// Package postgres provides a PostgreSQL-backed content.Repository.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

const itemColumns = `id, name_original, name_filename, name_extension,
	mime, encoding, filetype, expires_at, expired,
	virus_detected, virus_description, virus_run, views,
	storage_id, storage_kind, storage_bucket, storage_folder, storage_filename, storage_filepath,
	thumb_id, canonical_id, owner_id, deleted, created_at`

// Store is a PostgreSQL item repository.
type Store struct {
	db *sql.DB
}

// New opens the database and applies pending migrations.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.applyMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// applyMigrations brings the schema up to the latest embedded migration.
func (s *Store) applyMigrations() error {
	driver, err := migratepg.WithInstance(s.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logging.Debug("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	logging.Info("migrations applied", zap.String("store", "postgres"))
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func observe(query string, start time.Time) {
	metrics.RecordRepositoryQuery("postgres", query, time.Since(start))
}

func (s *Store) Get(ctx context.Context, id string) (*content.Record, error) {
	defer observe("get", time.Now())

	var (
		rec       content.Record
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id).Scan(
		&rec.ID, &rec.Name.Original, &rec.Name.Filename, &rec.Name.Extension,
		&rec.Metadata.Mime, &rec.Metadata.Encoding, &rec.Metadata.Filetype, &expiresAt, &rec.Metadata.Expired,
		&rec.Metadata.Virus.Detected, &rec.Metadata.Virus.Description, &rec.Metadata.Virus.Run, &rec.Metadata.Views,
		&rec.References.Storage.ID, &rec.References.Storage.Kind, &rec.References.Storage.Bucket,
		&rec.References.Storage.Folder, &rec.References.Storage.Filename, &rec.References.Storage.Filepath,
		&rec.References.Thumb, &rec.References.Canonical, &rec.Owner, &rec.Deleted, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get %s: %w", id, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.Metadata.ExpiresAt = &t
	}
	return &rec, nil
}

func (s *Store) Create(ctx context.Context, rec *content.Record) error {
	defer observe("create", time.Now())

	_, err := s.db.ExecContext(ctx, `INSERT INTO items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		rec.ID, rec.Name.Original, rec.Name.Filename, rec.Name.Extension,
		rec.Metadata.Mime, rec.Metadata.Encoding, rec.Metadata.Filetype, nullTime(rec.Metadata.ExpiresAt), rec.Metadata.Expired,
		rec.Metadata.Virus.Detected, rec.Metadata.Virus.Description, rec.Metadata.Virus.Run, rec.Metadata.Views,
		rec.References.Storage.ID, rec.References.Storage.Kind, rec.References.Storage.Bucket,
		rec.References.Storage.Folder, rec.References.Storage.Filename, rec.References.Storage.Filepath,
		rec.References.Thumb, rec.References.Canonical, rec.Owner, rec.Deleted, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item %s: %w", rec.ID, err)
	}
	return nil
}

// Save writes every mutable field except the view counter and thumb link,
// which only change through IncrementViews and LinkThumb. Deleted is OR-ed
// so a stale writer cannot clear it.
func (s *Store) Save(ctx context.Context, rec *content.Record) error {
	defer observe("save", time.Now())

	res, err := s.db.ExecContext(ctx, `UPDATE items SET
		name_original = $2, name_filename = $3, name_extension = $4,
		mime = $5, encoding = $6, filetype = $7, expires_at = $8, expired = $9,
		virus_detected = $10, virus_description = $11, virus_run = $12,
		canonical_id = $13, owner_id = $14, deleted = deleted OR $15
		WHERE id = $1`,
		rec.ID, rec.Name.Original, rec.Name.Filename, rec.Name.Extension,
		rec.Metadata.Mime, rec.Metadata.Encoding, rec.Metadata.Filetype, nullTime(rec.Metadata.ExpiresAt), rec.Metadata.Expired,
		rec.Metadata.Virus.Detected, rec.Metadata.Virus.Description, rec.Metadata.Virus.Run,
		rec.References.Canonical, rec.Owner, rec.Deleted,
	)
	if err != nil {
		return fmt.Errorf("update item %s: %w", rec.ID, err)
	}
	return expectRow(res, "save", rec.ID)
}

func (s *Store) IncrementViews(ctx context.Context, id string) error {
	defer observe("increment_views", time.Now())

	res, err := s.db.ExecContext(ctx, `UPDATE items SET views = views + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment views %s: %w", id, err)
	}
	return expectRow(res, "increment views", id)
}

func (s *Store) LinkThumb(ctx context.Context, id, thumbID string) error {
	defer observe("link_thumb", time.Now())

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET thumb_id = $2 WHERE id = $1 AND thumb_id = ''`, id, thumbID)
	if err != nil {
		return fmt.Errorf("link thumb %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Either the row is missing or a thumb is already linked.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return content.ErrThumbAlreadySet
}

func expectRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, content.ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
