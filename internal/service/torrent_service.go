package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"magnet-stream/internal/domain"
	"magnet-stream/internal/queue"
	"magnet-stream/internal/repository"
	"magnet-stream/internal/session"
)

// ErrDuplicateMagnet is returned when a magnet is already tracked. Duplicate
// submissions are rejected here, before anything enters the pipeline.
var ErrDuplicateMagnet = errors.New("torrent already exists for magnet")

// downloadMessageTTL bounds how long an unconsumed download request stays in
// the queue.
const downloadMessageTTL = 24 * time.Hour

// TorrentService is the producer-side surface: it accepts magnets, reads
// torrent state with live progress merged in, and runs the deletion and
// bulk-clear flows.
type TorrentService interface {
	Add(ctx context.Context, magnet string) (*domain.Torrent, error)
	Get(ctx context.Context, slug string) (*domain.Torrent, error)
	List(ctx context.Context) ([]domain.Torrent, error)
	Delete(ctx context.Context, slug string) error
	ClearAll(ctx context.Context) error
}

type Paths struct {
	Tmp       string
	Downloads string
	Subtitles string
}

type torrentService struct {
	torrents repository.TorrentRepository
	files    repository.FileRepository
	fabric   queue.Fabric
	sessions session.Manager
	paths    Paths
	logger   *logrus.Logger
}

func NewTorrentService(torrents repository.TorrentRepository, files repository.FileRepository, fabric queue.Fabric, sessions session.Manager, paths Paths, logger *logrus.Logger) TorrentService {
	if logger == nil {
		logger = logrus.New()
	}
	return &torrentService{
		torrents: torrents,
		files:    files,
		fabric:   fabric,
		sessions: sessions,
		paths:    paths,
		logger:   logger,
	}
}

func (s *torrentService) Add(ctx context.Context, magnet string) (*domain.Torrent, error) {
	if magnet == "" {
		return nil, errors.New("magnet is required")
	}

	if _, err := s.torrents.GetByMagnet(ctx, magnet); err == nil {
		return nil, ErrDuplicateMagnet
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check magnet: %w", err)
	}

	t := &domain.Torrent{
		Slug:   uuid.NewString(),
		Magnet: magnet,
		Status: domain.TorrentStatusAdded,
	}
	if _, err := s.torrents.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create torrent: %w", err)
	}

	msg := domain.DownloadTorrentMessage{TorrentID: t.ID, Magnet: t.Magnet}
	if err := s.fabric.Publish(ctx, queue.DownloadTorrent, msg,
		queue.WithPersistent(),
		queue.WithExpiration(downloadMessageTTL),
	); err != nil {
		return nil, fmt.Errorf("publish download message: %w", err)
	}

	s.logger.WithField("torrent_id", t.ID).Info("torrent accepted")
	return t, nil
}

func (s *torrentService) Get(ctx context.Context, slug string) (*domain.Torrent, error) {
	t, err := s.torrents.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	files, err := s.files.ListByTorrent(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.Files = files

	s.mergeLiveInfo(t)
	return t, nil
}

func (s *torrentService) List(ctx context.Context) ([]domain.Torrent, error) {
	torrents, err := s.torrents.List(ctx)
	if err != nil {
		return nil, err
	}

	for i := range torrents {
		s.mergeLiveInfo(&torrents[i])
	}
	return torrents, nil
}

// mergeLiveInfo overlays the live session snapshot onto a downloading
// torrent. Torrents without a live session are returned as persisted.
func (s *torrentService) mergeLiveInfo(t *domain.Torrent) {
	if t.Status != domain.TorrentStatusDownloading || t.InfoHash == "" {
		return
	}
	sess, ok := s.sessions.Lookup(t.InfoHash)
	if !ok {
		return
	}
	info := sess.Snapshot()
	t.DownloadInfo = &info
}

func (s *torrentService) Delete(ctx context.Context, slug string) error {
	t, err := s.torrents.GetBySlug(ctx, slug)
	if err != nil {
		return err
	}

	// Tolerates a torrent with no live session: Destroy of an unknown hash
	// is a no-op.
	if t.InfoHash != "" {
		if err := s.sessions.Destroy(t.InfoHash, true); err != nil {
			s.logger.Warnf("destroy session for %s: %v", slug, err)
		}
	}

	if err := s.fabric.Publish(ctx, queue.FileDelete, domain.DeleteFileMessage{
		Src: filepath.Join(s.paths.Tmp, t.Slug),
	}); err != nil {
		return fmt.Errorf("enqueue scratch deletion: %w", err)
	}

	files, err := s.files.ListByTorrent(ctx, t.ID)
	if err != nil {
		return err
	}
	for _, file := range files {
		for _, src := range []string{
			filepath.Join(s.paths.Downloads, file.Slug),
			filepath.Join(s.paths.Subtitles, file.Slug),
		} {
			if err := s.fabric.Publish(ctx, queue.FileDelete, domain.DeleteFileMessage{Src: src}); err != nil {
				return fmt.Errorf("enqueue file deletion: %w", err)
			}
		}
	}

	if err := s.torrents.Delete(ctx, t.ID); err != nil {
		return err
	}

	s.logger.WithField("torrent_id", t.ID).Infof("torrent %s deleted", slug)
	return nil
}

// ClearAll wipes storage roots, drains every queue, and removes all records.
// Administrative only; reached from the admin endpoint or dev bootstrap.
func (s *torrentService) ClearAll(ctx context.Context) error {
	for _, dir := range []string{s.paths.Tmp, s.paths.Downloads, s.paths.Subtitles} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("recreate %s: %w", dir, err)
		}
	}

	for _, name := range queue.Names() {
		if err := s.fabric.Purge(ctx, name); err != nil {
			return fmt.Errorf("purge queue %s: %w", name, err)
		}
	}

	if err := s.torrents.DeleteAll(ctx); err != nil {
		return err
	}

	s.logger.Info("all torrents cleared")
	return nil
}

var _ TorrentService = (*torrentService)(nil)
