package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// FileStore is a file-based implementation of credential storage.
// Each user gets one JSON file in Dir.
type FileStore struct {
	Dir string
}

type fileRecord struct {
	UserEmail string    `json:"user_email"`
	TokenJSON string    `json:"token_json"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFileStore creates a new FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (store *FileStore) path(email string) string {
	return filepath.Join(store.Dir, url.PathEscape(email)+".json")
}

// Save writes the credential to its file, replacing any previous content.
func (store *FileStore) Save(_ context.Context, cred Credential) error {
	if err := validateCredential(cred); err != nil {
		return err
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(fileRecord(cred))
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	// Each save writes its own temp file, then renames it over the record
	tmp, err := os.CreateTemp(store.Dir, ".cred-*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), store.path(cred.UserEmail)); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}

	return nil
}

// Load reads the credential for email.
// Returns nil, nil if the file does not exist (no error).
func (store *FileStore) Load(_ context.Context, email string) (*Credential, error) {
	data, err := os.ReadFile(store.path(email))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var record fileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	cred := Credential(record)
	return &cred, nil
}

func (store *FileStore) Ping(_ context.Context) error {
	_, err := os.Stat(store.Dir)
	return err
}

func (store *FileStore) Close() error { return nil }
