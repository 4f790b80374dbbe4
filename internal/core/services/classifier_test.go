package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/discovery"
)

func TestFileClassifier_Classify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFileClassifier()
	c.now = func() time.Time { return now }
	old := now.Add(-30 * 24 * time.Hour)

	tests := []struct {
		name string
		file discovery.File
		want domain.Priority
	}{
		{"recent file", discovery.File{Path: "/a/report.pdf", Size: 1 << 20, ModTime: now.Add(-time.Hour)}, domain.PriorityHigh},
		{"small file", discovery.File{Path: "/a/notes.txt", Size: 100, ModTime: old}, domain.PriorityHigh},
		{"ordinary file", discovery.File{Path: "/a/report.pdf", Size: 1 << 20, ModTime: old}, domain.PriorityNormal},
		{"large file", discovery.File{Path: "/a/scan.pdf", Size: 50 << 20, ModTime: old}, domain.PriorityLow},
		{"recent large file", discovery.File{Path: "/a/scan.pdf", Size: 50 << 20, ModTime: now}, domain.PriorityLow},
		{"archive", discovery.File{Path: "/a/backup.zip", Size: 10, ModTime: now}, domain.PriorityLow},
		{"compound archive", discovery.File{Path: "/a/src.TAR.GZ", Size: 10, ModTime: old}, domain.PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.file))
		})
	}
}
