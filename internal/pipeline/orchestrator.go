package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"magnet-stream/internal/classify"
	"magnet-stream/internal/domain"
	"magnet-stream/internal/queue"
	"magnet-stream/internal/repository"
	"magnet-stream/internal/session"
)

// Orchestrator is the download_torrent consumer. It drives a torrent from an
// accepted magnet through classification and transfer, and fans out the
// follow-on convert and move messages once the session completes.
type Orchestrator struct {
	cfg        Config
	sessions   session.Manager
	torrents   repository.TorrentRepository
	files      repository.FileRepository
	fabric     queue.Fabric
	classifier *classify.Classifier
}

type Config struct {
	// TmpDir is the scratch root sessions download into. Content never lands
	// directly in DownloadDir; the move and convert stages relocate it.
	TmpDir      string
	DownloadDir string
	Logger      *logrus.Logger
}

func NewOrchestrator(cfg Config, sessions session.Manager, torrents repository.TorrentRepository, files repository.FileRepository, fabric queue.Fabric, classifier *classify.Classifier) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		torrents:   torrents,
		files:      files,
		fabric:     fabric,
		classifier: classifier,
	}
}

// Register attaches the orchestrator to its queue. Deliveries are handled
// concurrently up to the fabric's prefetch; each owns a distinct session.
func (o *Orchestrator) Register(ctx context.Context) error {
	return o.fabric.Consume(ctx, queue.DownloadTorrent, o.HandleDownload)
}

// HandleDownload processes one download_torrent delivery end to end.
func (o *Orchestrator) HandleDownload(ctx context.Context, d *queue.Delivery) {
	var msg domain.DownloadTorrentMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		o.cfg.Logger.Errorf("malformed download message, dropping: %v", err)
		o.ack(d)
		return
	}

	logger := o.cfg.Logger.WithField("torrent_id", msg.TorrentID)

	current, err := o.torrents.Get(ctx, msg.TorrentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Record deleted between publish and delivery.
			logger.Warn("torrent record gone, dropping message")
			o.ack(d)
			return
		}
		o.giveUpOrRetry(ctx, d, msg.TorrentID, logger, fmt.Errorf("load torrent: %w", err))
		return
	}

	// Idempotency guard: a redelivered message for a torrent that already
	// reached a terminal outcome must not trigger a second download.
	if current.Status.Terminal() {
		logger.WithField("status", current.Status).Info("torrent already terminal, dropping message")
		o.ack(d)
		return
	}

	if err := o.process(ctx, d, current, logger); err != nil {
		o.giveUpOrRetry(ctx, d, msg.TorrentID, logger, err)
	}
}

func (o *Orchestrator) process(ctx context.Context, d *queue.Delivery, t *domain.Torrent, logger *logrus.Entry) error {
	scratch := filepath.Join(o.cfg.TmpDir, t.Slug)

	sess, err := o.sessions.Open(ctx, t.Magnet, scratch)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyActive) {
			// Another in-flight delivery owns the session; it will ack its
			// own message when it finishes.
			logger.Info("session already active, dropping duplicate message")
			o.ack(d)
			return nil
		}
		return fmt.Errorf("open session: %w", err)
	}

	videos := o.classifier.Partition(sess.Files())

	if len(videos) == 0 {
		logger.Info("no video files found, cleaning up")
		if err := o.sessions.Destroy(sess.InfoHash(), true); err != nil {
			logger.Warnf("destroy no-media session: %v", err)
		}
		if err := o.torrents.UpdateStatus(ctx, t.ID, t.Status, domain.TorrentStatusNoMedia); err != nil {
			logger.Warnf("mark no-media: %v", err)
		}
		o.ack(d)
		return nil
	}

	info := domain.TorrentInfo{
		Name:          sess.Name(),
		InfoHash:      sess.InfoHash(),
		Size:          sess.Size(),
		IsMultiVideos: len(videos) > 1,
		Status:        domain.TorrentStatusDownloading,
	}
	if err := o.torrents.UpdateInfo(ctx, t.ID, info); err != nil {
		o.destroySession(sess, true, logger)
		return fmt.Errorf("persist torrent info: %w", err)
	}
	if err := o.files.ReplaceForTorrent(ctx, t.ID, videos); err != nil {
		o.destroySession(sess, true, logger)
		return fmt.Errorf("persist files: %w", err)
	}

	// The tracking stage polls live snapshots on its own schedule; it may
	// start before or after completion, both are fine.
	track := domain.TrackTorrentMessage{TorrentID: t.ID, InfoHash: sess.InfoHash()}
	if err := o.fabric.Publish(ctx, queue.TrackTorrent, track); err != nil {
		o.destroySession(sess, true, logger)
		return fmt.Errorf("publish track message: %w", err)
	}

	logger.WithField("info_hash", sess.InfoHash()).Infof("downloading %s (%d video files)", sess.Name(), len(videos))

	select {
	case <-ctx.Done():
		o.destroySession(sess, false, logger)
		return ctx.Err()
	case <-sess.Done():
	}

	return o.finish(ctx, d, t.ID, sess, videos, logger)
}

// finish runs once the transfer completes: terminal status, convert/move
// fan-out, ack, session teardown. All move publishes are confirmed before
// the inbound message is acknowledged.
func (o *Orchestrator) finish(ctx context.Context, d *queue.Delivery, torrentID int64, sess session.Session, videos []domain.File, logger *logrus.Entry) error {
	if err := o.torrents.UpdateStatus(ctx, torrentID, domain.TorrentStatusDownloading, domain.TorrentStatusDone); err != nil {
		logger.Warnf("mark done: %v", err)
	}

	for _, file := range videos {
		if !file.IsConvertable {
			continue
		}
		convert := domain.ConvertVideoMessage{
			TorrentID:     torrentID,
			FileSlug:      file.Slug,
			Name:          file.Name,
			Path:          file.Path,
			Size:          file.Size,
			Ext:           file.Ext,
			IsConvertable: true,
		}
		if err := o.fabric.Publish(ctx, queue.ConvertVideo, convert); err != nil {
			return fmt.Errorf("publish convert message for %s: %w", file.Slug, err)
		}
	}

	for _, file := range videos {
		if file.IsConvertable {
			continue
		}
		move := domain.MoveFileMessage{
			Src:       file.Path,
			Dest:      OutputPath(o.cfg.DownloadDir, file.Slug, file.Name),
			TorrentID: torrentID,
			FileSlug:  file.Slug,
		}
		if err := o.fabric.Publish(ctx, queue.FileMove, move); err != nil {
			return fmt.Errorf("publish move message for %s: %w", file.Slug, err)
		}
	}

	o.ack(d)
	logger.Info("torrent downloaded, destroying session")

	// Scratch data is still read by the convert stage; only the session
	// handle goes away.
	o.destroySession(sess, false, logger)
	return nil
}

// giveUpOrRetry implements the bounded-retry policy: a first failure is
// requeued once; a failure of a redelivered message records a terminal error
// and removes the message.
func (o *Orchestrator) giveUpOrRetry(ctx context.Context, d *queue.Delivery, torrentID int64, logger *logrus.Entry, cause error) {
	if !d.Redelivered {
		logger.WithError(cause).Warn("download failed, requeueing once")
		if err := d.Nack(true); err != nil {
			logger.Errorf("nack: %v", err)
		}
		return
	}

	logger.WithError(cause).Error("download failed after retry, giving up")
	if err := o.torrents.MarkError(ctx, torrentID, cause.Error()); err != nil && !errors.Is(err, repository.ErrIllegalTransition) {
		logger.Errorf("persist error status: %v", err)
	}
	o.ack(d)
}

func (o *Orchestrator) destroySession(sess session.Session, wipe bool, logger *logrus.Entry) {
	if err := o.sessions.Destroy(sess.InfoHash(), wipe); err != nil {
		logger.Warnf("destroy session: %v", err)
	}
}

func (o *Orchestrator) ack(d *queue.Delivery) {
	if err := d.Ack(); err != nil {
		o.cfg.Logger.Errorf("ack: %v", err)
	}
}

// OutputPath computes where a finished file lives under the served storage
// root. Each file gets its own slug directory so deletion stays a single
// directory removal.
func OutputPath(downloadDir, fileSlug, name string) string {
	return filepath.Join(downloadDir, fileSlug, name)
}
