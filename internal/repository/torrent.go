package repository

import (
	"context"
	"errors"

	"magnet-stream/internal/domain"
)

var (
	// ErrNotFound indicates the addressed torrent or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIllegalTransition indicates a conditional status update found the
	// record in a different state than the caller expected.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// TorrentRepository exposes persistence operations for Torrent records.
// Mutations are targeted field updates keyed by id; whole-record replace is
// deliberately absent so concurrent writers cannot lose each other's fields.
type TorrentRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, t *domain.Torrent) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Torrent, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Torrent, error)
	GetByMagnet(ctx context.Context, magnet string) (*domain.Torrent, error)
	List(ctx context.Context) ([]domain.Torrent, error)
	// UpdateInfo merges the metadata fields onto the record without touching
	// anything else.
	UpdateInfo(ctx context.Context, id int64, info domain.TorrentInfo) error
	// UpdateStatus moves the torrent from an expected prior status to the
	// next one. Returns ErrIllegalTransition when the record is not in the
	// expected status, which is how backward moves are made structurally hard.
	UpdateStatus(ctx context.Context, id int64, from, to domain.TorrentStatus) error
	// MarkError forces a terminal error status with a message. It refuses to
	// overwrite a record that is already terminal.
	MarkError(ctx context.Context, id int64, msg string) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
}

// FileRepository manages the video files of a torrent. Every mutation is
// keyed by (torrentID, slug) so concurrent conversion and move workers only
// ever touch their own row.
type FileRepository interface {
	Init(ctx context.Context) error
	ReplaceForTorrent(ctx context.Context, torrentID int64, files []domain.File) error
	ListByTorrent(ctx context.Context, torrentID int64) ([]domain.File, error)
	GetBySlug(ctx context.Context, slug string) (*domain.File, error)
	// UpdateStatus moves the file from an expected prior status to the next
	// one with the same conditional-write guard as the torrent side.
	UpdateStatus(ctx context.Context, torrentID int64, slug string, from, to domain.FileStatus) error
	UpdateConvertProgress(ctx context.Context, torrentID int64, slug string, progress float64, state domain.ConvertState) error
	UpdateConvertable(ctx context.Context, torrentID int64, slug string, convertable bool) error
	UpdatePath(ctx context.Context, torrentID int64, slug string, path string) error
	AddSubtitle(ctx context.Context, torrentID int64, slug string, sub domain.Subtitle) error
}
