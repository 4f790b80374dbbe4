package ocr

import (
	"fmt"
	"sort"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// regionKey identifies a region across passes.
func regionKey(r domain.OCRRegion) string {
	return fmt.Sprintf("%d:%d,%d,%d,%d", r.Page, r.Box.X, r.Box.Y, r.Box.Width, r.Box.Height)
}

// Merge combines passes over the same regions. For every region the
// successful result with the highest confidence wins; a region that
// failed in every pass keeps its last error. Output is ordered by page,
// then top to bottom, then left to right.
func Merge(results ...*domain.OCRResult) *domain.OCRResult {
	best := make(map[string]domain.OCRRegionResult)
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, reg := range res.Regions {
			key := regionKey(reg.Region)
			cur, seen := best[key]
			switch {
			case !seen:
				best[key] = reg
			case reg.Err != "":
				if cur.Err != "" {
					best[key] = reg
				}
			case cur.Err != "" || reg.Confidence > cur.Confidence:
				best[key] = reg
			}
		}
	}

	merged := &domain.OCRResult{Regions: make([]domain.OCRRegionResult, 0, len(best))}
	for _, reg := range best {
		merged.Regions = append(merged.Regions, reg)
	}
	sort.Slice(merged.Regions, func(i, j int) bool {
		a, b := merged.Regions[i].Region, merged.Regions[j].Region
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.Box.Y != b.Box.Y {
			return a.Box.Y < b.Box.Y
		}
		return a.Box.X < b.Box.X
	})
	return merged
}

// Succeeded counts regions with text and no error.
func Succeeded(res *domain.OCRResult) int {
	n := 0
	for _, r := range res.Regions {
		if r.Err == "" {
			n++
		}
	}
	return n
}

// FailedPages lists pages of regions that failed, in order.
func FailedPages(res *domain.OCRResult) []int {
	var pages []int
	for _, r := range res.Regions {
		if r.Err != "" {
			pages = append(pages, r.Region.Page)
		}
	}
	return pages
}
