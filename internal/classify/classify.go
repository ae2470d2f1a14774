package classify

import (
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"magnet-stream/internal/domain"
	"magnet-stream/internal/session"
)

// DefaultAllowedExts is the servable video extension set.
var DefaultAllowedExts = []string{"mp4", "mkv", "avi"}

// DefaultConvertibleExts is the proper subset of allowed extensions that
// needs repackaging before serving. mp4 passes through.
var DefaultConvertibleExts = []string{"mkv", "avi"}

// Classifier partitions a session's file list into video and non-video
// content and deselects everything that will never be served.
type Classifier struct {
	allowed     map[string]struct{}
	convertible map[string]struct{}
	logger      *logrus.Logger
}

func New(allowed, convertible []string, logger *logrus.Logger) *Classifier {
	if len(allowed) == 0 {
		allowed = DefaultAllowedExts
	}
	if len(convertible) == 0 {
		convertible = DefaultConvertibleExts
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Classifier{
		allowed:     toSet(allowed),
		convertible: toSet(convertible),
		logger:      logger,
	}
}

// Partition returns the video files of the list in their original order,
// each with a fresh slug and status downloading. Non-video files are
// deselected from transfer as a side effect. An empty result means the
// torrent has no servable content.
func (c *Classifier) Partition(files []session.File) []domain.File {
	var videos []domain.File
	for _, file := range files {
		ext := Ext(file.Name())
		if _, ok := c.allowed[ext]; !ok {
			c.logger.Infof("skipping non-video file: %s", file.Name())
			file.Deselect()
			continue
		}
		_, convertible := c.convertible[ext]
		videos = append(videos, domain.File{
			Slug:          uuid.NewString(),
			Name:          file.Name(),
			Path:          file.Path(),
			Size:          file.Size(),
			Ext:           ext,
			IsConvertable: convertible,
			Status:        domain.FileStatusDownloading,
			ConvertProgress: domain.ConvertProgress{
				State: domain.ConvertStatePending,
			},
		})
	}
	return videos
}

// Ext derives the lowercase extension from a file name, without the dot.
// Names with no dot yield the empty string.
func Ext(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

func toSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return set
}
