package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magnet-stream/internal/domain"
	"magnet-stream/internal/repository"
	"magnet-stream/internal/testsupport"
)

func seedTorrent(t *testing.T, torrents repository.TorrentRepository, slug string) *domain.Torrent {
	t.Helper()

	torrent := &domain.Torrent{
		Slug:   slug,
		Magnet: "magnet:?xt=urn:btih:" + slug,
		Status: domain.TorrentStatusAdded,
	}
	_, err := torrents.Create(context.Background(), torrent)
	require.NoError(t, err)
	return torrent
}

func TestStatusGateRefusesUnexpectedPriorState(t *testing.T) {
	torrents, _ := testsupport.MustOpenRepos(t)
	ctx := context.Background()

	torrent := seedTorrent(t, torrents, "gate")

	// added -> downloading is fine.
	require.NoError(t, torrents.UpdateStatus(ctx, torrent.ID, domain.TorrentStatusAdded, domain.TorrentStatusDownloading))

	// A second writer that still believes the torrent is in added loses.
	err := torrents.UpdateStatus(ctx, torrent.ID, domain.TorrentStatusAdded, domain.TorrentStatusDownloading)
	assert.ErrorIs(t, err, repository.ErrIllegalTransition)

	// Backward moves are rejected before touching the database.
	require.NoError(t, torrents.UpdateStatus(ctx, torrent.ID, domain.TorrentStatusDownloading, domain.TorrentStatusDone))
	err = torrents.UpdateStatus(ctx, torrent.ID, domain.TorrentStatusDone, domain.TorrentStatusDownloading)
	assert.ErrorIs(t, err, repository.ErrIllegalTransition)

	stored, err := torrents.Get(ctx, torrent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TorrentStatusDone, stored.Status)
}

func TestMarkErrorRefusesTerminalRecords(t *testing.T) {
	torrents, _ := testsupport.MustOpenRepos(t)
	ctx := context.Background()

	torrent := seedTorrent(t, torrents, "err")
	require.NoError(t, torrents.MarkError(ctx, torrent.ID, "no peers"))

	stored, err := torrents.Get(ctx, torrent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TorrentStatusError, stored.Status)
	assert.Equal(t, "no peers", stored.ErrorMessage)

	err = torrents.MarkError(ctx, torrent.ID, "second error")
	assert.ErrorIs(t, err, repository.ErrIllegalTransition)

	done := seedTorrent(t, torrents, "done")
	require.NoError(t, torrents.UpdateStatus(ctx, done.ID, domain.TorrentStatusAdded, domain.TorrentStatusDownloading))
	require.NoError(t, torrents.UpdateStatus(ctx, done.ID, domain.TorrentStatusDownloading, domain.TorrentStatusDone))
	assert.ErrorIs(t, torrents.MarkError(ctx, done.ID, "late"), repository.ErrIllegalTransition)
}

func TestUpdateInfoMergesFields(t *testing.T) {
	torrents, _ := testsupport.MustOpenRepos(t)
	ctx := context.Background()

	torrent := seedTorrent(t, torrents, "info")

	require.NoError(t, torrents.UpdateInfo(ctx, torrent.ID, domain.TorrentInfo{
		Name:          "Pack",
		InfoHash:      "abcdef",
		Size:          42,
		IsMultiVideos: true,
		Status:        domain.TorrentStatusDownloading,
	}))

	stored, err := torrents.Get(ctx, torrent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pack", stored.Name)
	assert.Equal(t, "abcdef", stored.InfoHash)
	assert.Equal(t, int64(42), stored.Size)
	assert.True(t, stored.IsMultiVideos)
	assert.Equal(t, domain.TorrentStatusDownloading, stored.Status)
	// Fields outside the merge survive.
	assert.Equal(t, torrent.Magnet, stored.Magnet)
	assert.Equal(t, torrent.Slug, stored.Slug)
}

func TestMagnetUniqueness(t *testing.T) {
	torrents, _ := testsupport.MustOpenRepos(t)
	ctx := context.Background()

	seedTorrent(t, torrents, "uniq")

	dup := &domain.Torrent{
		Slug:   "uniq-2",
		Magnet: "magnet:?xt=urn:btih:uniq",
		Status: domain.TorrentStatusAdded,
	}
	_, err := torrents.Create(ctx, dup)
	assert.Error(t, err)
}

func TestLookupsAndDelete(t *testing.T) {
	torrents, _ := testsupport.MustOpenRepos(t)
	ctx := context.Background()

	torrent := seedTorrent(t, torrents, "look")

	bySlug, err := torrents.GetBySlug(ctx, "look")
	require.NoError(t, err)
	assert.Equal(t, torrent.ID, bySlug.ID)

	byMagnet, err := torrents.GetByMagnet(ctx, torrent.Magnet)
	require.NoError(t, err)
	assert.Equal(t, torrent.ID, byMagnet.ID)

	_, err = torrents.GetBySlug(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, torrents.Delete(ctx, torrent.ID))
	_, err = torrents.Get(ctx, torrent.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, torrents.Delete(ctx, torrent.ID), repository.ErrNotFound)
}
