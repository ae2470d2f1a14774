package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"magnet-stream/internal/repository"
	"magnet-stream/internal/repository/sqlite"
)

// MustOpenRepos opens a throwaway sqlite database and returns initialized
// repositories. The database lives in the test's temp dir and is cleaned up
// with it.
func MustOpenRepos(t testing.TB) (repository.TorrentRepository, repository.FileRepository) {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "magnet.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	torrents := sqlite.NewTorrentRepository(db)
	files := sqlite.NewFileRepository(db)

	ctx := context.Background()
	if err := torrents.Init(ctx); err != nil {
		t.Fatalf("init torrent repository: %v", err)
	}
	if err := files.Init(ctx); err != nil {
		t.Fatalf("init file repository: %v", err)
	}

	return torrents, files
}
