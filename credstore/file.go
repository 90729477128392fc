package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

// fileContents is the JSON document written to disk. Several profiles can
// share one file; each is keyed by its client ID.
type fileContents struct {
	Profiles map[string]*record `json:"profiles"`
}

// FileStore persists credentials to a JSON file.
type FileStore struct {
	path     string
	clientID string
	lock     lockOptions
}

// NewFileStore returns a FileStore for clientID backed by path.
func NewFileStore(path, clientID string) *FileStore {
	return &FileStore{path: path, clientID: clientID}
}

// Path returns the file the store writes to.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context) (*oauth2.Token, error) {
	contents, err := s.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rec, ok := contents.Profiles[s.clientID]
	if !ok || rec.empty() {
		return nil, ErrNotFound
	}
	return rec.token(), nil
}

func (s *FileStore) Set(ctx context.Context, access, refresh string) error {
	return s.update(ctx, func(c *fileContents) {
		rec, ok := c.Profiles[s.clientID]
		if !ok {
			rec = &record{ClientID: s.clientID}
			c.Profiles[s.clientID] = rec
		}
		rec.merge(access, refresh)
	})
}

func (s *FileStore) Clear(ctx context.Context) error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return s.update(ctx, func(c *fileContents) {
		delete(c.Profiles, s.clientID)
	})
}

func (s *FileStore) read() (*fileContents, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return &contents, nil
}

// update runs fn on the current contents under the file lock and writes the
// result back with a temp file + rename so readers never see a partial write.
func (s *FileStore) update(ctx context.Context, fn func(*fileContents)) error {
	lock, err := lockFile(ctx, s.path, s.lock)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = lock.unlock() }()

	contents, err := s.read()
	if err != nil {
		// Missing or corrupt files start over.
		contents = &fileContents{}
	}
	if contents.Profiles == nil {
		contents.Profiles = make(map[string]*record)
	}

	fn(contents)

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
