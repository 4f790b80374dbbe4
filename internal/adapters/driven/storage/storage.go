// Package storage holds logic shared by the storage backends: filter
// matching, hit ordering and queue ordering. Each backend lives in its own
// sub-package and passes the storagetest conformance suite.
package storage

import (
	"sort"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// SchemaVersion is the newest schema this build reads and writes.
const SchemaVersion = 1

// MatchDocument reports whether doc passes a document filter.
// Limit is not applied here.
func MatchDocument(doc *domain.Document, f domain.DocumentFilter) bool {
	if doc.IsTombstoned() && !f.IncludeTombstoned {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, doc.Status) {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(doc.Path, f.PathPrefix) {
		return false
	}
	for _, tag := range f.Tags {
		if !doc.HasTag(tag) {
			return false
		}
	}
	return true
}

// Searchable reports whether search may return chunks of doc under the
// given filters.
func Searchable(doc *domain.Document, f domain.SearchFilters) bool {
	if doc == nil || !doc.IsSearchable() {
		return false
	}
	if len(f.DocumentIDs) > 0 && !containsString(f.DocumentIDs, doc.ID) {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(doc.Path, f.PathPrefix) {
		return false
	}
	for _, tag := range f.Tags {
		if !doc.HasTag(tag) {
			return false
		}
	}
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if c == doc.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SortHits orders hits by descending score, then chunk id, and keeps at
// most limit of them. A limit of zero keeps everything.
func SortHits(hits []domain.ChunkHit, limit int) []domain.ChunkHit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// DequeueBefore reports whether a should be dequeued before b: higher
// priority first, then oldest, then by target id.
func DequeueBefore(a, b *domain.QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.TargetID < b.TargetID
}

// CountQueue adds n items of status s to the counts.
func CountQueue(c *domain.QueueCounts, s domain.QueueStatus, n int) {
	switch s {
	case domain.QueueQueued:
		c.Queued += n
	case domain.QueueProcessing:
		c.Processing += n
	case domain.QueueDone:
		c.Done += n
	case domain.QueueFailed:
		c.Failed += n
	case domain.QueueCancelled:
		c.Cancelled += n
	}
}

// NewStats returns stats with an initialised status map.
func NewStats(backend string) *domain.Stats {
	return &domain.Stats{
		Documents:     make(map[domain.DocumentStatus]int),
		SchemaVersion: SchemaVersion,
		Backend:       backend,
	}
}

// CloneDocument returns a deep copy so callers cannot alias stored state.
func CloneDocument(d *domain.Document) *domain.Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Error != nil {
		e := *d.Error
		c.Error = &e
	}
	if d.Tags != nil {
		c.Tags = append([]string(nil), d.Tags...)
	}
	if d.Metadata != nil {
		c.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	if d.IndexedAt != nil {
		t := *d.IndexedAt
		c.IndexedAt = &t
	}
	return &c
}

// CloneChunk returns a copy with its own embedding slice.
func CloneChunk(c domain.Chunk) domain.Chunk {
	if c.Embedding != nil {
		c.Embedding = append([]float32(nil), c.Embedding...)
	}
	return c
}

func containsStatus(list []domain.DocumentStatus, s domain.DocumentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
