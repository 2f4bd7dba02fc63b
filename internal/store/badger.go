package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const badgerKeyPrefix = "user_credentials/"

// BadgerStore keeps credentials in an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

type badgerRecord struct {
	TokenJSON string    `json:"token_json"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenBadger opens a BadgerDB in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("badger directory is required")
	}
	opts := badger.DefaultOptions(dir).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(email string) []byte {
	return []byte(badgerKeyPrefix + email)
}

func (s *BadgerStore) Save(_ context.Context, cred Credential) error {
	if err := validateCredential(cred); err != nil {
		return err
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}
	value, err := json.Marshal(badgerRecord{TokenJSON: cred.TokenJSON, UpdatedAt: cred.UpdatedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(cred.UserEmail), value)
	})
}

func (s *BadgerStore) Load(_ context.Context, email string) (*Credential, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(email))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	var record badgerRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &Credential{UserEmail: email, TokenJSON: record.TokenJSON, UpdatedAt: record.UpdatedAt}, nil
}

func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("badger is closed")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
