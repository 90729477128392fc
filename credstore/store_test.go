package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// exerciseStore checks the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store: expected ErrNotFound, got %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear on empty store: %v", err)
	}

	if err := s.Set(ctx, "access-1", "refresh-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	tok, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tok.AccessToken != "access-1" || tok.RefreshToken != "refresh-1" {
		t.Errorf("Get = (%q, %q), want (access-1, refresh-1)", tok.AccessToken, tok.RefreshToken)
	}

	// Empty refresh keeps the stored one.
	if err := s.Set(ctx, "access-2", ""); err != nil {
		t.Fatalf("Set without refresh: %v", err)
	}
	tok, err = s.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tok.AccessToken != "access-2" || tok.RefreshToken != "refresh-1" {
		t.Errorf("Get = (%q, %q), want (access-2, refresh-1)", tok.AccessToken, tok.RefreshToken)
	}

	if err := s.Set(ctx, "access-3", "refresh-3"); err != nil {
		t.Fatalf("Set with rotated refresh: %v", err)
	}
	tok, _ = s.Get(ctx)
	if tok == nil || tok.RefreshToken != "refresh-3" {
		t.Errorf("Rotated refresh token was not stored: %+v", tok)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Second Clear: %v", err)
	}
	if _, err := s.Get(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Clear: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, NewFileStore(filepath.Join(t.TempDir(), "creds.json"), "client-a"))
}

func TestBoltStore(t *testing.T) {
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "creds.db"), "client-a")
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	exerciseStore(t, NewRedisStore(rdb, "", "client-a", 0))
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisStore(rdb, "test", "client-a", time.Hour)
	if err := s.Set(context.Background(), "access", "refresh"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL("test:client-a"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Get(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected expired credentials to be absent, got %v", err)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	s := NewRedisStore(rdb, "", "client-a", 0)
	if _, err := s.Get(context.Background()); !errors.Is(err, ErrRedisUnavailable) {
		t.Errorf("Expected ErrRedisUnavailable, got %v", err)
	}
}

func TestFileStore_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")

	const goroutines = 10
	var wg sync.WaitGroup

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()

			s := NewFileStore(path, fmt.Sprintf("client-%d", id))
			if err := s.Set(
				context.Background(),
				fmt.Sprintf("access-%d", id),
				fmt.Sprintf("refresh-%d", id),
			); err != nil {
				t.Errorf("Goroutine %d: Failed to save credentials: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read credential file: %v", err)
	}
	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		t.Fatalf("Failed to parse credential file: %v", err)
	}
	if len(contents.Profiles) != goroutines {
		t.Errorf("Expected %d profiles, got %d", goroutines, len(contents.Profiles))
	}
	for i := 0; i < goroutines; i++ {
		rec, ok := contents.Profiles[fmt.Sprintf("client-%d", i)]
		if !ok {
			t.Errorf("Missing profile client-%d", i)
			continue
		}
		if want := fmt.Sprintf("access-%d", i); rec.AccessToken != want {
			t.Errorf("client-%d: access token = %s, want %s", i, rec.AccessToken, want)
		}
	}

	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("Lock file still exists after all saves completed")
	}
}

func TestFileStore_ClearKeepsOtherProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	ctx := context.Background()

	a := NewFileStore(path, "client-a")
	b := NewFileStore(path, "client-b")
	if err := a.Set(ctx, "access-a", "refresh-a"); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := b.Set(ctx, "access-b", "refresh-b"); err != nil {
		t.Fatalf("Set b: %v", err)
	}

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear a: %v", err)
	}
	if _, err := a.Get(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("client-a should be cleared, got %v", err)
	}
	tok, err := b.Get(ctx)
	if err != nil || tok.AccessToken != "access-b" {
		t.Errorf("client-b was not preserved: %v %+v", err, tok)
	}
}

func TestFileStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := NewFileStore(path, "client-a").Set(context.Background(), "a", "r"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("File mode = %o, want 600", perm)
	}
}

func TestFileStore_CorruptFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewFileStore(path, "client-a")
	if _, err := s.Get(context.Background()); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Expected parse error, got %v", err)
	}

	// A write replaces the corrupt document.
	if err := s.Set(context.Background(), "access", "refresh"); err != nil {
		t.Fatalf("Set over corrupt file: %v", err)
	}
	if _, err := s.Get(context.Background()); err != nil {
		t.Errorf("Get after rewrite: %v", err)
	}
}

func BenchmarkFileStore_Set(b *testing.B) {
	s := NewFileStore(filepath.Join(b.TempDir(), "creds.json"), "bench-client")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Set(context.Background(), "access-token", "refresh-token"); err != nil {
			b.Fatalf("Failed to save credentials: %v", err)
		}
	}
}
