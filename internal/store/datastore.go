package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
)

const datastoreKind = "UserCredentials"

// DatastoreStore keeps one UserCredentials entity per email in Cloud Datastore.
type DatastoreStore struct {
	client *datastore.Client
}

type datastoreCredential struct {
	TokenJSON string    `datastore:"token_json,noindex"`
	UpdatedAt time.Time `datastore:"updated_at"`
}

// OpenDatastore connects to the given project and database.
// An empty databaseID selects the default database.
func OpenDatastore(ctx context.Context, projectID, databaseID string) (*DatastoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the datastore store")
	}

	var (
		client *datastore.Client
		err    error
	)
	if databaseID != "" {
		client, err = datastore.NewClientWithDatabase(ctx, projectID, databaseID)
	} else {
		client, err = datastore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}

	return &DatastoreStore{client: client}, nil
}

func (s *DatastoreStore) Save(ctx context.Context, cred Credential) error {
	if err := validateCredential(cred); err != nil {
		return err
	}
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}

	k := datastore.NameKey(datastoreKind, cred.UserEmail, nil)
	e := &datastoreCredential{TokenJSON: cred.TokenJSON, UpdatedAt: cred.UpdatedAt}
	if _, err := s.client.Put(ctx, k, e); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *DatastoreStore) Load(ctx context.Context, email string) (*Credential, error) {
	k := datastore.NameKey(datastoreKind, email, nil)
	e := &datastoreCredential{}

	if err := s.client.Get(ctx, k, e); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &Credential{UserEmail: email, TokenJSON: e.TokenJSON, UpdatedAt: e.UpdatedAt}, nil
}

// Ping looks up a sentinel key; a missing entity still proves connectivity.
func (s *DatastoreStore) Ping(ctx context.Context) error {
	err := s.client.Get(ctx, datastore.NameKey(datastoreKind, "__ping__", nil), &datastoreCredential{})
	if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	return nil
}

func (s *DatastoreStore) Close() error {
	return s.client.Close()
}
