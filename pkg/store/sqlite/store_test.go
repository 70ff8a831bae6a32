package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/mnemo/pkg/store"
	"github.com/MrWong99/mnemo/pkg/store/sqlite"
	"github.com/MrWong99/mnemo/pkg/store/storetest"
)

func openTemp(t *testing.T) store.Repository {
	t.Helper()
	repo, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "brain", "mnemo.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, openTemp)
}

func TestStore_InMemory(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(t *testing.T) store.Repository {
		repo, err := sqlite.Open(context.Background(), sqlite.MemoryDSN)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})
}

func TestOpen_CreatesDirectoryAndReopens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "mnemo.db")

	repo, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := repo.RegisterModelVersion(ctx, store.ModelVersion{VersionTag: "v0.1.0"})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	// Migration is idempotent and data survives a reopen.
	repo, err = sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()
	next, err := repo.RegisterModelVersion(ctx, store.ModelVersion{VersionTag: "v0.1.0"})
	if err != nil {
		t.Fatal(err)
	}
	if next != id+1 {
		t.Errorf("id after reopen = %d, want %d", next, id+1)
	}
}
