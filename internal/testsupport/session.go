package testsupport

import (
	"context"
	"sync"

	"magnet-stream/internal/domain"
	"magnet-stream/internal/session"
)

// FakeFile is a scripted session file.
type FakeFile struct {
	FileName   string
	FilePath   string
	FileSize   int64
	Deselected bool
}

func (f *FakeFile) Name() string { return f.FileName }
func (f *FakeFile) Path() string { return f.FilePath }
func (f *FakeFile) Size() int64  { return f.FileSize }
func (f *FakeFile) Deselect()    { f.Deselected = true }

// FakeSession is a scripted transfer session. Close Completed (or call
// Complete) to simulate the transfer finishing.
type FakeSession struct {
	Hash         string
	SessionName  string
	SessionSize  int64
	SessionPath  string
	SessionFiles []*FakeFile
	Completed    chan struct{}
	once         sync.Once
}

func NewFakeSession(hash, name string, files ...*FakeFile) *FakeSession {
	return &FakeSession{
		Hash:         hash,
		SessionName:  name,
		SessionFiles: files,
		Completed:    make(chan struct{}),
	}
}

func (s *FakeSession) InfoHash() string { return s.Hash }
func (s *FakeSession) Name() string     { return s.SessionName }
func (s *FakeSession) Size() int64      { return s.SessionSize }
func (s *FakeSession) Path() string     { return s.SessionPath }

func (s *FakeSession) Files() []session.File {
	files := make([]session.File, len(s.SessionFiles))
	for i, f := range s.SessionFiles {
		files[i] = f
	}
	return files
}

func (s *FakeSession) Done() <-chan struct{} { return s.Completed }

func (s *FakeSession) Complete() {
	s.once.Do(func() { close(s.Completed) })
}

func (s *FakeSession) Snapshot() domain.DownloadInfo {
	return domain.DownloadInfo{Progress: 0.5, DownloadSpeed: 1 << 20}
}

// DestroyCall records one Destroy invocation on the fake manager.
type DestroyCall struct {
	InfoHash string
	Wipe     bool
}

// FakeManager is a scripted session.Manager. Open hands out the session
// scripted for the magnet, falling back to Next, or fails with OpenErr.
type FakeManager struct {
	mu           sync.Mutex
	Next         *FakeSession
	NextByMagnet map[string]*FakeSession
	OpenErr      error
	OpenCount    int
	live         map[string]*FakeSession
	Destroyed    []DestroyCall
}

func NewFakeManager() *FakeManager {
	return &FakeManager{live: map[string]*FakeSession{}}
}

func (m *FakeManager) Start(ctx context.Context) error { return nil }

func (m *FakeManager) Open(ctx context.Context, magnet, path string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.OpenCount++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	next := m.Next
	if s, ok := m.NextByMagnet[magnet]; ok {
		next = s
	}
	if _, exists := m.live[next.Hash]; exists {
		return nil, session.ErrAlreadyActive
	}
	next.SessionPath = path
	m.live[next.Hash] = next
	return next, nil
}

// Opens reports how many times Open has been called. Safe to poll while
// handlers are still running.
func (m *FakeManager) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OpenCount
}

func (m *FakeManager) Lookup(infoHash string) (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live[infoHash]
	if !ok {
		return nil, false
	}
	return s, true
}

func (m *FakeManager) Destroy(infoHash string, wipe bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.live, infoHash)
	m.Destroyed = append(m.Destroyed, DestroyCall{InfoHash: infoHash, Wipe: wipe})
	return nil
}

func (m *FakeManager) Close() {}

var _ session.Manager = (*FakeManager)(nil)
var _ session.Session = (*FakeSession)(nil)
var _ session.File = (*FakeFile)(nil)
