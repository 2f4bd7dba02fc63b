package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:user_credentials,alias:uc"`

	UserEmail string    `bun:"user_email,pk"`
	TokenJSON string    `bun:"token_json,notnull"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// SQLStore keeps credentials in the user_credentials table.
type SQLStore struct {
	db *bun.DB
}

// OpenSQLite opens (or creates) a sqlite database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// sqlite allows a single writer; avoid database locked errors
	sqlDB.SetMaxOpenConns(1)

	return newSQLStore(ctx, bun.NewDB(sqlDB, sqlitedialect.New()))
}

// OpenPostgres connects to postgres with dsn and migrates it.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return newSQLStore(ctx, bun.NewDB(sqlDB, pgdialect.New()))
}

// NewSQLStore wraps an existing bun database and migrates it.
func NewSQLStore(ctx context.Context, db *bun.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db)
}

func newSQLStore(ctx context.Context, db *bun.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the credential table when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*credentialRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create user_credentials table: %w", err)
	}
	return nil
}

// Save upserts the credential; the last write for an email wins.
func (s *SQLStore) Save(ctx context.Context, cred Credential) error {
	if err := validateCredential(cred); err != nil {
		return err
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}

	record := &credentialRecord{
		UserEmail: cred.UserEmail,
		TokenJSON: cred.TokenJSON,
		UpdatedAt: cred.UpdatedAt,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (user_email) DO UPDATE").
		Set("token_json = EXCLUDED.token_json").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// Load returns nil, nil when the email has no row.
func (s *SQLStore) Load(ctx context.Context, email string) (*Credential, error) {
	record := new(credentialRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &Credential{
		UserEmail: record.UserEmail,
		TokenJSON: record.TokenJSON,
		UpdatedAt: record.UpdatedAt,
	}, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
