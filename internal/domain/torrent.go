package domain

import "time"

type TorrentStatus string

const (
	TorrentStatusAdded       TorrentStatus = "added"
	TorrentStatusQueued      TorrentStatus = "queued"
	TorrentStatusDownloading TorrentStatus = "downloading"
	TorrentStatusPaused      TorrentStatus = "paused"
	TorrentStatusProcessing  TorrentStatus = "processing"
	TorrentStatusDone        TorrentStatus = "done"
	TorrentStatusNoMedia     TorrentStatus = "no_media"
	TorrentStatusError       TorrentStatus = "error"
)

// Terminal reports whether no further status transition is legal from s.
func (s TorrentStatus) Terminal() bool {
	switch s {
	case TorrentStatusDone, TorrentStatusNoMedia, TorrentStatusError:
		return true
	}
	return false
}

// torrentTransitions is the authoritative forward-only transition relation.
// Only the orchestrator writes torrent-level transitions; the conditional
// status update in the repository enforces the expected prior state.
var torrentTransitions = map[TorrentStatus][]TorrentStatus{
	TorrentStatusAdded:       {TorrentStatusQueued, TorrentStatusDownloading, TorrentStatusNoMedia, TorrentStatusError},
	TorrentStatusQueued:      {TorrentStatusDownloading, TorrentStatusError},
	TorrentStatusDownloading: {TorrentStatusQueued, TorrentStatusPaused, TorrentStatusProcessing, TorrentStatusDone, TorrentStatusError},
	TorrentStatusPaused:      {TorrentStatusDownloading, TorrentStatusError},
	TorrentStatusProcessing:  {TorrentStatusDone, TorrentStatusError},
}

// CanTransition reports whether moving a torrent from one status to another
// is legal. Terminal statuses have no successors.
func CanTransition(from, to TorrentStatus) bool {
	for _, next := range torrentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DownloadInfo is a point-in-time snapshot of a live transfer. It is never
// persisted; read paths merge it in from the session manager.
type DownloadInfo struct {
	DownloadSpeed int64   `json:"downloadSpeed"`
	UploadSpeed   int64   `json:"uploadSpeed"`
	Progress      float64 `json:"progress"`
	TimeRemaining int64   `json:"timeRemaining"`
	Paused        bool    `json:"paused"`
	Completed     bool    `json:"completed"`
}

// Torrent represents one magnet-link download unit tracked by the system.
type Torrent struct {
	ID            int64         `json:"id"`
	Slug          string        `json:"slug"`
	Magnet        string        `json:"magnet"`
	InfoHash      string        `json:"infoHash"`
	Name          string        `json:"name"`
	Size          int64         `json:"size"`
	IsMultiVideos bool          `json:"isMultiVideos"`
	Status        TorrentStatus `json:"status"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	DownloadInfo  *DownloadInfo `json:"downloadInfo,omitempty"`
	Files         []File        `json:"files"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// TorrentInfo is the partial field set merged onto a Torrent record once
// transfer metadata resolves. It never replaces the whole record.
type TorrentInfo struct {
	Name          string
	InfoHash      string
	Size          int64
	IsMultiVideos bool
	Status        TorrentStatus
}
