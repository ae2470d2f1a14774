package domain

// Queue payloads. Every message is a JSON envelope; field names are wire
// contract shared with the external conversion, tracking, and file-manager
// stages.

// DownloadTorrentMessage asks the pipeline to fetch a previously-created
// torrent record's content.
type DownloadTorrentMessage struct {
	TorrentID int64  `json:"torrentId"`
	Magnet    string `json:"magnet"`
}

// TrackTorrentMessage tells the tracking stage which live session to poll.
type TrackTorrentMessage struct {
	TorrentID int64  `json:"torrentId"`
	InfoHash  string `json:"infoHash"`
}

// ConvertVideoMessage hands one convertible file to the conversion stage.
type ConvertVideoMessage struct {
	TorrentID     int64  `json:"torrentId"`
	FileSlug      string `json:"fileSlug"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	Size          int64  `json:"size"`
	Ext           string `json:"ext"`
	IsConvertable bool   `json:"isConvertable"`
}

// MoveFileMessage asks the file-manager stage to relocate a finished file.
type MoveFileMessage struct {
	Src       string `json:"src"`
	Dest      string `json:"dest"`
	TorrentID int64  `json:"torrentId"`
	FileSlug  string `json:"fileSlug"`
}

// DeleteFileMessage asks the file-manager stage to remove a path.
type DeleteFileMessage struct {
	Src string `json:"src"`
}
