// Package store persists per-user OAuth credentials keyed by email.
package store

import (
	"context"
	"fmt"
	"time"
)

// Credential is the persisted token state for one user.
type Credential struct {
	UserEmail string
	TokenJSON string
	UpdatedAt time.Time
}

// CredentialStore saves and loads credentials keyed by user email.
// Load returns nil, nil when no record exists.
type CredentialStore interface {
	Load(ctx context.Context, email string) (*Credential, error)
	Save(ctx context.Context, cred Credential) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverBadger    = "badger"
	DriverDatastore = "datastore"
	DriverFile      = "file"
)

// Options selects and configures a backend.
type Options struct {
	Driver string
	// DSN is a connection string for SQL drivers and a directory for badger and file.
	DSN        string
	ProjectID  string
	DatabaseID string
}

// Open builds the backend named by opts.Driver and prepares its schema.
func Open(ctx context.Context, opts Options) (CredentialStore, error) {
	switch opts.Driver {
	case DriverSQLite:
		return OpenSQLite(ctx, opts.DSN)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DSN)
	case DriverBadger:
		return OpenBadger(opts.DSN)
	case DriverDatastore:
		return OpenDatastore(ctx, opts.ProjectID, opts.DatabaseID)
	case DriverFile:
		return NewFileStore(opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

func validateCredential(cred Credential) error {
	if cred.UserEmail == "" {
		return fmt.Errorf("user email is required")
	}
	if cred.TokenJSON == "" {
		return fmt.Errorf("token json is required")
	}
	return nil
}
