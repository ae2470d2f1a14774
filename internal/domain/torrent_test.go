package domain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTorrentStatuses = []TorrentStatus{
	TorrentStatusAdded,
	TorrentStatusQueued,
	TorrentStatusDownloading,
	TorrentStatusPaused,
	TorrentStatusProcessing,
	TorrentStatusDone,
	TorrentStatusNoMedia,
	TorrentStatusError,
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TorrentStatus
		want     bool
	}{
		{TorrentStatusAdded, TorrentStatusDownloading, true},
		{TorrentStatusAdded, TorrentStatusQueued, true},
		{TorrentStatusAdded, TorrentStatusNoMedia, true},
		{TorrentStatusQueued, TorrentStatusDownloading, true},
		// Queued and paused are holding states a transfer can fall back to
		// and resume from.
		{TorrentStatusDownloading, TorrentStatusQueued, true},
		{TorrentStatusDownloading, TorrentStatusPaused, true},
		{TorrentStatusDownloading, TorrentStatusProcessing, true},
		{TorrentStatusDownloading, TorrentStatusDone, true},
		{TorrentStatusDownloading, TorrentStatusError, true},
		{TorrentStatusPaused, TorrentStatusDownloading, true},
		{TorrentStatusProcessing, TorrentStatusDone, true},

		{TorrentStatusDone, TorrentStatusDownloading, false},
		{TorrentStatusError, TorrentStatusDownloading, false},
		{TorrentStatusNoMedia, TorrentStatusDownloading, false},
		{TorrentStatusDone, TorrentStatusError, false},
		{TorrentStatusDownloading, TorrentStatusAdded, false},
		{TorrentStatusProcessing, TorrentStatusDownloading, false},
		{TorrentStatusDone, TorrentStatusDone, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminalStatusesHaveNoSuccessors(t *testing.T) {
	for _, from := range allTorrentStatuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range allTorrentStatuses {
			assert.False(t, CanTransition(from, to), "%s must not leave terminal state (%s)", from, to)
		}
	}
}

func TestNoTransitionReentersAdded(t *testing.T) {
	for _, from := range allTorrentStatuses {
		assert.False(t, CanTransition(from, TorrentStatusAdded), "from %s", from)
	}
}

// Random walks over the legal transition relation must never move backward:
// once a walk leaves a status behind for good it cannot reach a terminal
// status and continue, and it can never return to the initial status.
func TestRandomWalksNeverMoveBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for walk := 0; walk < 500; walk++ {
		status := TorrentStatusAdded
		for step := 0; step < 20; step++ {
			var nexts []TorrentStatus
			for _, to := range allTorrentStatuses {
				if CanTransition(status, to) {
					nexts = append(nexts, to)
				}
			}
			if len(nexts) == 0 {
				require.True(t, status.Terminal(),
					"non-terminal status %s has no successors", status)
				break
			}
			require.False(t, status.Terminal(),
				"terminal status %s offers successors %v", status, nexts)

			next := nexts[rng.Intn(len(nexts))]
			require.NotEqual(t, TorrentStatusAdded, next, "walk re-entered the initial status")
			status = next
		}
	}
}

func TestCanTransitionFile(t *testing.T) {
	assert.True(t, CanTransitionFile(FileStatusDownloading, FileStatusDone))
	assert.True(t, CanTransitionFile(FileStatusDownloading, FileStatusError))
	assert.False(t, CanTransitionFile(FileStatusDone, FileStatusDownloading))
	assert.False(t, CanTransitionFile(FileStatusError, FileStatusDownloading))
	assert.False(t, CanTransitionFile(FileStatusDone, FileStatusError))
}
