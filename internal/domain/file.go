package domain

type FileStatus string

const (
	FileStatusDownloading FileStatus = "downloading"
	FileStatusDone        FileStatus = "done"
	FileStatusError       FileStatus = "error"
)

// fileTransitions mirrors the torrent relation at file granularity.
var fileTransitions = map[FileStatus][]FileStatus{
	FileStatusDownloading: {FileStatusDone, FileStatusError},
}

// CanTransitionFile reports whether a file status move is legal.
func CanTransitionFile(from, to FileStatus) bool {
	for _, next := range fileTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ConvertState string

const (
	ConvertStatePending ConvertState = "pending"
	ConvertStateRunning ConvertState = "running"
	ConvertStateDone    ConvertState = "done"
	ConvertStateError   ConvertState = "error"
)

// ConvertProgress tracks the conversion sub-state of a file, independent of
// its coarse transfer status.
type ConvertProgress struct {
	Progress float64      `json:"progress"`
	State    ConvertState `json:"state"`
}

// Subtitle is a per-file subtitle entry written by the subtitle stage.
type Subtitle struct {
	ID        int64  `json:"id"`
	TorrentID int64  `json:"-"`
	FileSlug  string `json:"-"`
	Slug      string `json:"slug"`
	Lang      string `json:"lang"`
	Path      string `json:"path"`
}

// File is one video item inside a Torrent. The slug is the external
// addressable id carried in convert and move messages.
type File struct {
	ID              int64           `json:"id"`
	TorrentID       int64           `json:"-"`
	Slug            string          `json:"slug"`
	Name            string          `json:"name"`
	Path            string          `json:"path"`
	Size            int64           `json:"size"`
	Ext             string          `json:"ext"`
	IsConvertable   bool            `json:"isConvertable"`
	Status          FileStatus      `json:"status"`
	ConvertProgress ConvertProgress `json:"convertProgress"`
	Subtitles       []Subtitle      `json:"subtitles"`
}
