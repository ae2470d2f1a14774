package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"github.com/sirupsen/logrus"

	"magnet-stream/internal/domain"
)

var (
	// ErrMetadataTimeout indicates no peers delivered torrent metadata within
	// the configured window.
	ErrMetadataTimeout = errors.New("metadata resolution timed out")
	// ErrAlreadyActive indicates a live session already exists for the
	// info-hash a magnet resolved to.
	ErrAlreadyActive = errors.New("session already active for info-hash")
)

// File is one entry of a session's resolved file list.
type File interface {
	Name() string
	Path() string
	Size() int64
	// Deselect excludes the file from transfer.
	Deselect()
}

// Session is a live handle to an active peer-to-peer transfer.
type Session interface {
	InfoHash() string
	Name() string
	Size() int64
	Path() string
	Files() []File
	// Done is closed once the transfer completes. One-shot; safe to select
	// on from multiple goroutines.
	Done() <-chan struct{}
	// Snapshot is a non-blocking read of live progress, safe to call
	// concurrently with an active transfer.
	Snapshot() domain.DownloadInfo
}

// Manager maps info-hashes to live sessions. At most one session exists per
// info-hash; open/lookup/destroy are safe for concurrent use.
type Manager interface {
	Start(ctx context.Context) error
	// Open begins a transfer into path and blocks until metadata resolves or
	// the configured timeout elapses.
	Open(ctx context.Context, magnet, path string) (Session, error)
	Lookup(infoHash string) (Session, bool)
	// Destroy cancels a transfer and optionally wipes its storage path.
	// Destroying an unknown info-hash is a no-op.
	Destroy(infoHash string, wipe bool) error
	Close()
}

type Config struct {
	MetadataTimeout time.Duration
	StatusInterval  time.Duration
	TrackerList     []string
	Logger          *logrus.Logger
}

type manager struct {
	cfg    Config
	client *torrent.Client

	mu       sync.Mutex
	sessions map[string]*torrentSession
}

func NewManager(cfg Config) Manager {
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = 2 * time.Minute
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}
	return &manager{
		cfg:      cfg,
		sessions: make(map[string]*torrentSession),
	}
}

func (m *manager) Start(ctx context.Context) error {
	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.NoUpload = false
	clientConfig.Seed = false

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("create torrent client: %w", err)
	}

	m.client = client
	m.cfg.Logger.Info("torrent session manager started")
	return nil
}

func (m *manager) Open(ctx context.Context, magnet, path string) (Session, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	spec, err := torrent.TorrentSpecFromMagnetUri(magnet)
	if err != nil {
		return nil, fmt.Errorf("parse magnet: %w", err)
	}
	spec.Storage = storage.NewFile(path)

	t, _, err := m.client.AddTorrentSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("add magnet: %w", err)
	}

	for _, tracker := range m.cfg.TrackerList {
		t.AddTrackers([][]string{{tracker}})
	}

	timeout := time.NewTimer(m.cfg.MetadataTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		t.Drop()
		return nil, ctx.Err()
	case <-timeout.C:
		t.Drop()
		return nil, ErrMetadataTimeout
	case <-t.GotInfo():
	}

	if t.Info() == nil {
		t.Drop()
		return nil, errors.New("missing torrent info")
	}

	hash := t.InfoHash().HexString()
	s := &torrentSession{
		t:        t,
		path:     path,
		infoHash: hash,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		lastTime: time.Now(),
	}

	m.mu.Lock()
	if _, exists := m.sessions[hash]; exists {
		m.mu.Unlock()
		t.Drop()
		return nil, ErrAlreadyActive
	}
	m.sessions[hash] = s
	m.mu.Unlock()

	go s.monitor(m.cfg.StatusInterval)
	m.cfg.Logger.WithField("info_hash", hash).Infof("session opened: %s", t.Info().BestName())
	return s, nil
}

func (m *manager) Lookup(infoHash string) (Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[infoHash]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return s, true
}

func (m *manager) Destroy(infoHash string, wipe bool) error {
	m.mu.Lock()
	s, ok := m.sessions[infoHash]
	delete(m.sessions, infoHash)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.stopOnce.Do(func() { close(s.stop) })
	s.t.Drop()

	if wipe {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("wipe session storage: %w", err)
		}
	}
	return nil
}

func (m *manager) Close() {
	m.mu.Lock()
	for hash, s := range m.sessions {
		s.stopOnce.Do(func() { close(s.stop) })
		delete(m.sessions, hash)
	}
	m.mu.Unlock()

	if m.client != nil {
		m.client.Close()
	}
	m.cfg.Logger.Info("torrent session manager stopped")
}

type torrentSession struct {
	t        *torrent.Torrent
	path     string
	infoHash string

	done     chan struct{}
	doneOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	downSpeed int64
	upSpeed   int64
	lastDown  int64
	lastUp    int64
	lastTime  time.Time
}

func (s *torrentSession) InfoHash() string { return s.infoHash }
func (s *torrentSession) Path() string     { return s.path }

func (s *torrentSession) Name() string {
	return s.t.Info().BestName()
}

func (s *torrentSession) Size() int64 {
	return s.t.Info().TotalLength()
}

func (s *torrentSession) Files() []File {
	torrentFiles := s.t.Files()
	files := make([]File, len(torrentFiles))
	for i, f := range torrentFiles {
		files[i] = &sessionFile{f: f, dir: s.path}
	}
	return files
}

func (s *torrentSession) Done() <-chan struct{} {
	return s.done
}

func (s *torrentSession) Snapshot() domain.DownloadInfo {
	completed := s.t.BytesCompleted()
	total := s.t.Info().TotalLength()
	missing := s.t.BytesMissing()

	s.mu.Lock()
	downSpeed := s.downSpeed
	upSpeed := s.upSpeed
	s.mu.Unlock()

	info := domain.DownloadInfo{
		DownloadSpeed: downSpeed,
		UploadSpeed:   upSpeed,
		Completed:     missing == 0,
	}
	if total > 0 {
		info.Progress = float64(completed) / float64(total)
	}
	if downSpeed > 0 {
		info.TimeRemaining = missing / downSpeed
	}
	return info
}

// monitor drives Done and the speed counters. It is the only writer of the
// delta fields; Snapshot only reads them.
func (s *torrentSession) monitor(interval time.Duration) {
	s.t.DownloadAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			stats := s.t.Stats()
			down := s.t.BytesCompleted()
			up := stats.BytesWrittenData.Int64()

			s.mu.Lock()
			elapsed := time.Since(s.lastTime).Seconds()
			if elapsed > 0 {
				s.downSpeed = int64(float64(down-s.lastDown) / elapsed)
				s.upSpeed = int64(float64(up-s.lastUp) / elapsed)
			}
			s.lastDown = down
			s.lastUp = up
			s.lastTime = time.Now()
			s.mu.Unlock()

			if s.t.BytesMissing() == 0 {
				s.doneOnce.Do(func() { close(s.done) })
				return
			}
		}
	}
}

type sessionFile struct {
	f   *torrent.File
	dir string
}

func (f *sessionFile) Name() string {
	return f.f.DisplayPath()
}

func (f *sessionFile) Path() string {
	return filepath.Join(f.dir, f.f.Path())
}

func (f *sessionFile) Size() int64 {
	return f.f.Length()
}

func (f *sessionFile) Deselect() {
	f.f.SetPriority(torrent.PiecePriorityNone)
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}

var _ Manager = (*manager)(nil)
var _ Session = (*torrentSession)(nil)
var _ File = (*sessionFile)(nil)
