package credstore

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/oauth2"
)

// BoltStore persists credentials in a bbolt database, one bucket per profile.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

// OpenBoltStore opens (or creates) the database at path.
// The timeout lets bbolt wait while another process holds the file.
func OpenBoltStore(path, clientID string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	bucket := []byte("credentials/" + clientID)
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(_ context.Context) (*oauth2.Token, error) {
	var tok *oauth2.Token
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return ErrNotFound
		}
		access := string(b.Get([]byte(KeyAccessToken)))
		refresh := string(b.Get([]byte(KeyRefreshToken)))
		if access == "" && refresh == "" {
			return ErrNotFound
		}
		tok = &oauth2.Token{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    string(b.Get([]byte(KeyTokenType))),
		}
		return nil
	})
	return tok, err
}

func (s *BoltStore) Set(_ context.Context, access, refresh string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(KeyAccessToken), []byte(access)); err != nil {
			return fmt.Errorf("failed to store access token: %w", err)
		}
		if refresh != "" {
			if err := b.Put([]byte(KeyRefreshToken), []byte(refresh)); err != nil {
				return fmt.Errorf("failed to store refresh token: %w", err)
			}
		}
		return b.Put([]byte(KeyTokenType), []byte("Bearer"))
	})
}

func (s *BoltStore) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return nil
		}
		if err := tx.DeleteBucket(s.bucket); err != nil {
			return fmt.Errorf("failed to delete bucket %s: %w", s.bucket, err)
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}
