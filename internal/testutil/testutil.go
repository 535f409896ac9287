// Package testutil provides sandboxed files and throwaway databases for
// package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lepinkainen/coverhub/internal/datastore"
	"github.com/lepinkainen/coverhub/internal/model"
)

// TestEnv is a temporary directory that refuses paths escaping it.
type TestEnv struct {
	t       *testing.T
	rootDir string
}

// NewTestEnv creates a new sandboxed test environment.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	return &TestEnv{
		t:       t,
		rootDir: t.TempDir(),
	}
}

// RootDir returns the root directory of the test environment.
func (e *TestEnv) RootDir() string {
	return e.rootDir
}

// Path returns an absolute path within the test environment.
func (e *TestEnv) Path(elem ...string) string {
	e.t.Helper()

	cleanPath := filepath.Clean(filepath.Join(e.rootDir, filepath.Join(elem...)))
	root := filepath.Clean(e.rootDir)
	if cleanPath != root && !strings.HasPrefix(cleanPath, root+string(filepath.Separator)) {
		e.t.Fatalf("path %q escapes test sandbox %q", cleanPath, e.rootDir)
	}
	return cleanPath
}

// WriteFileString writes content below the sandbox, creating parent
// directories, and returns the absolute path.
func (e *TestEnv) WriteFileString(path, content string) string {
	e.t.Helper()

	absPath := e.Path(path)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		e.t.Fatalf("failed to create directory for %q: %v", absPath, err)
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		e.t.Fatalf("failed to write file %q: %v", absPath, err)
	}
	return absPath
}

// NewStore opens a migrated sqlite store inside the sandbox.
func (e *TestEnv) NewStore() *datastore.Store {
	e.t.Helper()

	store, err := datastore.Open(context.Background(), datastore.DriverSQLite, e.Path("coverhub.db"))
	if err != nil {
		e.t.Fatalf("failed to open test store: %v", err)
	}
	e.t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		e.t.Fatalf("failed to migrate test store: %v", err)
	}
	return store
}

// NewStore is shorthand for NewTestEnv(t).NewStore().
func NewStore(t *testing.T) *datastore.Store {
	t.Helper()
	return NewTestEnv(t).NewStore()
}

// SeedVendor provisions a vendor row.
func SeedVendor(t *testing.T, store *datastore.Store, id int, name string, rank int) model.Vendor {
	t.Helper()

	v := model.Vendor{ID: id, Name: name, Rank: rank}
	if err := store.UpsertVendor(context.Background(), v); err != nil {
		t.Fatalf("failed to seed vendor %d: %v", id, err)
	}
	return v
}

// SeedSource inserts a source with an original file URL.
func SeedSource(t *testing.T, store *datastore.Store, vendorID int, idType model.IdentifierType, matchID, url string) model.Source {
	t.Helper()

	src := model.Source{VendorID: vendorID, MatchID: matchID, MatchType: idType}
	if url != "" {
		src.OriginalFile = &url
	}
	if err := store.InsertSource(context.Background(), &src); err != nil {
		t.Fatalf("failed to seed source %s: %v", matchID, err)
	}
	return src
}

// SeedImage stores an image for a source and returns it.
func SeedImage(t *testing.T, store *datastore.Store, sourceID int64, url string) model.Image {
	t.Helper()

	img := model.Image{SourceID: sourceID, ImageFormat: "jpeg", Size: 1024, Width: 400, Height: 600, CoverStoreURL: url}
	if err := store.SaveImage(context.Background(), &img); err != nil {
		t.Fatalf("failed to seed image for source %d: %v", sourceID, err)
	}
	return img
}
