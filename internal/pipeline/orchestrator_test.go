package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magnet-stream/internal/classify"
	"magnet-stream/internal/domain"
	"magnet-stream/internal/pipeline"
	"magnet-stream/internal/queue"
	"magnet-stream/internal/repository"
	"magnet-stream/internal/testsupport"
)

type fixture struct {
	orchestrator *pipeline.Orchestrator
	manager      *testsupport.FakeManager
	fabric       *queue.MemoryFabric
	torrents     repository.TorrentRepository
	files        repository.FileRepository
	tmpDir       string
	downloadDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	torrents, files := testsupport.MustOpenRepos(t)
	manager := testsupport.NewFakeManager()
	fabric := queue.NewMemoryFabric()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	tmpDir := filepath.Join(t.TempDir(), "tmp")
	downloadDir := filepath.Join(t.TempDir(), "downloads")

	orchestrator := pipeline.NewOrchestrator(pipeline.Config{
		TmpDir:      tmpDir,
		DownloadDir: downloadDir,
		Logger:      logger,
	}, manager, torrents, files, fabric, classify.New(nil, nil, logger))

	return &fixture{
		orchestrator: orchestrator,
		manager:      manager,
		fabric:       fabric,
		torrents:     torrents,
		files:        files,
		tmpDir:       tmpDir,
		downloadDir:  downloadDir,
	}
}

func (f *fixture) addTorrent(t *testing.T, status domain.TorrentStatus) *domain.Torrent {
	t.Helper()

	torrent := &domain.Torrent{
		Slug:   "tor-" + string(status),
		Magnet: "magnet:?xt=urn:btih:" + string(status),
		Status: status,
	}
	_, err := f.torrents.Create(context.Background(), torrent)
	require.NoError(t, err)
	return torrent
}

type deliveryRecorder struct {
	delivery *queue.Delivery
	acked    bool
	requeued bool
}

func newDelivery(t *testing.T, torrentID int64, magnet string, redelivered bool) *deliveryRecorder {
	t.Helper()

	body, err := json.Marshal(domain.DownloadTorrentMessage{TorrentID: torrentID, Magnet: magnet})
	require.NoError(t, err)

	rec := &deliveryRecorder{}
	rec.delivery = queue.NewDelivery(body, redelivered,
		func() error { rec.acked = true; return nil },
		func(requeue bool) error { rec.requeued = requeue; return nil },
	)
	return rec
}

func pendingOf[T any](t *testing.T, fabric *queue.MemoryFabric, name string) []T {
	t.Helper()

	var msgs []T
	for _, body := range fabric.Pending(name) {
		var msg T
		require.NoError(t, json.Unmarshal(body, &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestConvertibleFileFansOutConvertMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	torrent := f.addTorrent(t, domain.TorrentStatusAdded)
	sess := testsupport.NewFakeSession("hash1", "Movie Pack",
		&testsupport.FakeFile{FileName: "movie.mkv", FilePath: "/scratch/movie.mkv", FileSize: 1 << 30},
	)
	sess.SessionSize = 1 << 30
	sess.Complete()
	f.manager.Next = sess

	rec := newDelivery(t, torrent.ID, torrent.Magnet, false)
	f.orchestrator.HandleDownload(ctx, rec.delivery)

	require.True(t, rec.acked)

	stored, err := f.torrents.Get(ctx, torrent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TorrentStatusDone, stored.Status)
	assert.Equal(t, "hash1", stored.InfoHash)
	assert.Equal(t, "Movie Pack", stored.Name)
	assert.False(t, stored.IsMultiVideos)

	tracks := pendingOf[domain.TrackTorrentMessage](t, f.fabric, queue.TrackTorrent)
	require.Len(t, tracks, 1)
	assert.Equal(t, torrent.ID, tracks[0].TorrentID)
	assert.Equal(t, "hash1", tracks[0].InfoHash)

	converts := pendingOf[domain.ConvertVideoMessage](t, f.fabric, queue.ConvertVideo)
	require.Len(t, converts, 1)
	assert.Equal(t, "mkv", converts[0].Ext)
	assert.Equal(t, "movie.mkv", converts[0].Name)
	assert.Empty(t, f.fabric.Pending(queue.FileMove))

	// Scratch storage survives for the convert stage; only the handle dies.
	require.Len(t, f.manager.Destroyed, 1)
	assert.False(t, f.manager.Destroyed[0].Wipe)
}

func TestNonConvertibleFileMovesAndNonVideoIsDeselected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	torrent := f.addTorrent(t, domain.TorrentStatusAdded)
	video := &testsupport.FakeFile{FileName: "movie.mp4", FilePath: "/scratch/movie.mp4", FileSize: 700 << 20}
	readme := &testsupport.FakeFile{FileName: "readme.txt", FilePath: "/scratch/readme.txt", FileSize: 1 << 10}
	sess := testsupport.NewFakeSession("hash2", "Single Movie", video, readme)
	sess.Complete()
	f.manager.Next = sess

	rec := newDelivery(t, torrent.ID, torrent.Magnet, false)
	f.orchestrator.HandleDownload(ctx, rec.delivery)

	require.True(t, rec.acked)
	assert.True(t, readme.Deselected)
	assert.False(t, video.Deselected)

	files, err := f.files.ListByTorrent(ctx, torrent.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "movie.mp4", files[0].Name)
	assert.False(t, files[0].IsConvertable)

	moves := pendingOf[domain.MoveFileMessage](t, f.fabric, queue.FileMove)
	require.Len(t, moves, 1)
	assert.Equal(t, "/scratch/movie.mp4", moves[0].Src)
	assert.Equal(t, pipeline.OutputPath(f.downloadDir, files[0].Slug, "movie.mp4"), moves[0].Dest)
	assert.Empty(t, f.fabric.Pending(queue.ConvertVideo))
}

func TestNoMediaTorrentIsTerminalWithNoFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	torrent := f.addTorrent(t, domain.TorrentStatusAdded)
	sess := testsupport.NewFakeSession("hash3", "Junk",
		&testsupport.FakeFile{FileName: "readme.txt", FilePath: "/scratch/readme.txt"},
		&testsupport.FakeFile{FileName: "cover.jpg", FilePath: "/scratch/cover.jpg"},
	)
	f.manager.Next = sess

	rec := newDelivery(t, torrent.ID, torrent.Magnet, false)
	f.orchestrator.HandleDownload(ctx, rec.delivery)

	require.True(t, rec.acked)

	stored, err := f.torrents.Get(ctx, torrent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TorrentStatusNoMedia, stored.Status)

	require.Len(t, f.manager.Destroyed, 1)
	assert.True(t, f.manager.Destroyed[0].Wipe)

	assert.Empty(t, f.fabric.Pending(queue.TrackTorrent))
	assert.Empty(t, f.fabric.Pending(queue.ConvertVideo))
	assert.Empty(t, f.fabric.Pending(queue.FileMove))
}

func TestRedeliveryForTerminalTorrentOpensNoSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, status := range []domain.TorrentStatus{
		domain.TorrentStatusDone,
		domain.TorrentStatusNoMedia,
		domain.TorrentStatusError,
	} {
		torrent := f.addTorrent(t, status)
		rec := newDelivery(t, torrent.ID, torrent.Magnet, true)
		f.orchestrator.HandleDownload(ctx, rec.delivery)

		assert.True(t, rec.acked, "status %s", status)
		assert.False(t, rec.requeued, "status %s", status)
	}

	assert.Zero(t, f.manager.OpenCount)
	assert.Empty(t, f.fabric.Pending(queue.TrackTorrent))
}

func TestFailureRetriesOnceThenRecordsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	torrent := f.addTorrent(t, domain.TorrentStatusAdded)
	f.manager.OpenErr = errors.New("no peers")

	require.NoError(t, f.orchestrator.Register(ctx))
	require.NoError(t, f.fabric.Publish(ctx, queue.DownloadTorrent,
		domain.DownloadTorrentMessage{TorrentID: torrent.ID, Magnet: torrent.Magnet}))

	// First delivery nacks with requeue, the redelivery gives up.
	assert.Equal(t, 2, f.manager.OpenCount)
	assert.Empty(t, f.fabric.Pending(queue.DownloadTorrent))

	stored, err := f.torrents.Get(ctx, torrent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TorrentStatusError, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "no peers")
}

func TestMissingRecordAndMalformedBodyAreDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := newDelivery(t, 9999, "magnet:?xt=urn:btih:gone", false)
	f.orchestrator.HandleDownload(ctx, rec.delivery)
	assert.True(t, rec.acked)
	assert.Zero(t, f.manager.OpenCount)

	bad := &deliveryRecorder{}
	bad.delivery = queue.NewDelivery([]byte("{not json"), false,
		func() error { bad.acked = true; return nil },
		func(requeue bool) error { bad.requeued = requeue; return nil },
	)
	f.orchestrator.HandleDownload(ctx, bad.delivery)
	assert.True(t, bad.acked)
	assert.False(t, bad.requeued)
}

// Two in-flight downloads must make independent progress: a handler parked
// on its own transfer may not hold up another torrent's delivery. Both
// sessions are completed only after both have been opened, so serialization
// between the handlers fails the bounded wait below.
func TestConcurrentDownloadsDoNotSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.NextByMagnet = map[string]*testsupport.FakeSession{}

	var torrents []*domain.Torrent
	var sessions []*testsupport.FakeSession
	for i, name := range []string{"alpha", "beta"} {
		torrent := &domain.Torrent{
			Slug:   "tor-" + name,
			Magnet: "magnet:?xt=urn:btih:" + name,
			Status: domain.TorrentStatusAdded,
		}
		_, err := f.torrents.Create(ctx, torrent)
		require.NoError(t, err)

		sess := testsupport.NewFakeSession(fmt.Sprintf("hash-conc-%d", i), name,
			&testsupport.FakeFile{FileName: name + ".mp4", FilePath: "/scratch/" + name + ".mp4"},
		)
		f.manager.NextByMagnet[torrent.Magnet] = sess
		torrents = append(torrents, torrent)
		sessions = append(sessions, sess)
	}

	recs := []*deliveryRecorder{
		newDelivery(t, torrents[0].ID, torrents[0].Magnet, false),
		newDelivery(t, torrents[1].ID, torrents[1].Magnet, false),
	}

	var wg sync.WaitGroup
	for _, p := range recs {
		wg.Add(1)
		go func(p *deliveryRecorder) {
			defer wg.Done()
			f.orchestrator.HandleDownload(ctx, p.delivery)
		}(p)
	}

	require.Eventually(t, func() bool { return f.manager.Opens() == 2 },
		2*time.Second, 5*time.Millisecond, "both sessions must open while both transfers are live")

	for _, sess := range sessions {
		sess.Complete()
	}
	wg.Wait()

	for i, torrent := range torrents {
		assert.True(t, recs[i].acked, "torrent %s", torrent.Slug)
		stored, err := f.torrents.Get(ctx, torrent.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TorrentStatusDone, stored.Status, "torrent %s", torrent.Slug)
	}
	assert.Len(t, f.fabric.Pending(queue.TrackTorrent), 2)
	assert.Len(t, f.fabric.Pending(queue.FileMove), 2)
}

func TestMultiVideoTorrentFanOutMatchesCardinality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	torrent := f.addTorrent(t, domain.TorrentStatusAdded)
	sess := testsupport.NewFakeSession("hash4", "Season Pack",
		&testsupport.FakeFile{FileName: "e01.mkv", FilePath: "/scratch/e01.mkv"},
		&testsupport.FakeFile{FileName: "e02.avi", FilePath: "/scratch/e02.avi"},
		&testsupport.FakeFile{FileName: "e03.mp4", FilePath: "/scratch/e03.mp4"},
		&testsupport.FakeFile{FileName: "notes.nfo", FilePath: "/scratch/notes.nfo"},
	)
	sess.Complete()
	f.manager.Next = sess

	rec := newDelivery(t, torrent.ID, torrent.Magnet, false)
	f.orchestrator.HandleDownload(ctx, rec.delivery)

	require.True(t, rec.acked)

	stored, err := f.torrents.Get(ctx, torrent.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsMultiVideos)

	assert.Len(t, f.fabric.Pending(queue.TrackTorrent), 1)
	assert.Len(t, f.fabric.Pending(queue.ConvertVideo), 2)
	assert.Len(t, f.fabric.Pending(queue.FileMove), 1)

	files, err := f.files.ListByTorrent(ctx, torrent.ID)
	require.NoError(t, err)
	assert.Len(t, files, 3)
}
