package services

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/discovery"
)

// Classifier defaults.
const (
	DefaultRecentWithin = 24 * time.Hour
	DefaultSmallBelow   = 64 << 10
	DefaultLargeAbove   = 20 << 20
)

var archiveExtensions = map[string]bool{
	".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".bz2": true,
	".xz": true, ".7z": true, ".rar": true, ".zst": true,
}

// FileClassifier assigns queue priorities to discovered files.
//
// Archives and large files go last. Recently modified or small files go
// first, so that what the user just touched becomes searchable quickly.
// Everything else is normal.
type FileClassifier struct {
	RecentWithin time.Duration
	SmallBelow   int64
	LargeAbove   int64

	now func() time.Time
}

// NewFileClassifier returns a classifier with the default thresholds.
func NewFileClassifier() *FileClassifier {
	return &FileClassifier{
		RecentWithin: DefaultRecentWithin,
		SmallBelow:   DefaultSmallBelow,
		LargeAbove:   DefaultLargeAbove,
		now:          time.Now,
	}
}

// Classify returns the queue priority for f.
func (c *FileClassifier) Classify(f discovery.File) domain.Priority {
	if isArchive(f.Path) || f.Size > c.LargeAbove {
		return domain.PriorityLow
	}
	if c.now().Sub(f.ModTime) <= c.RecentWithin || f.Size < c.SmallBelow {
		return domain.PriorityHigh
	}
	return domain.PriorityNormal
}

func isArchive(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tar.bz2") {
		return true
	}
	return archiveExtensions[filepath.Ext(name)]
}
