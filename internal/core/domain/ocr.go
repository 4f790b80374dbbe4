package domain

// OCRSourceKind is the kind of input an OCR provider accepts.
type OCRSourceKind string

// OCR input kinds.
const (
	OCRSourceImage OCRSourceKind = "image"
	OCRSourcePDF   OCRSourceKind = "pdf"
)

// BoundingBox locates a region on a page, in pixels. A zero box means
// the whole page.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether the box covers the whole page.
func (b BoundingBox) IsZero() bool {
	return b.Width == 0 && b.Height == 0
}

// OCRRegion is an image area that needs recognition.
type OCRRegion struct {
	// Page is the 1-based page the region lives on.
	Page int `json:"page"`

	// Box locates the region. Zero means the full page.
	Box BoundingBox `json:"box"`
}

// OCRRegionResult is recognised text for one region.
type OCRRegionResult struct {
	Region OCRRegion `json:"region"`

	// Text is the recognised text.
	Text string `json:"text"`

	// Confidence is in [0, 100].
	Confidence float64 `json:"confidence"`

	// Languages are the language codes used for the pass.
	Languages []string `json:"languages"`

	// Err is set when the region could not be recognised.
	Err string `json:"error,omitempty"`
}

// OCRRequest asks a provider to recognise regions of a file.
type OCRRequest struct {
	// Path is the file to read.
	Path string `json:"path"`

	// Kind is the input kind.
	Kind OCRSourceKind `json:"kind"`

	// Regions to recognise. Empty means every page.
	Regions []OCRRegion `json:"regions"`

	// Languages are provider language codes, most likely first.
	Languages []string `json:"languages"`

	// Hint is text found near the regions, used to guess the script.
	Hint string `json:"hint,omitempty"`
}

// OCRResult is the output of a provider.
type OCRResult struct {
	Regions []OCRRegionResult `json:"regions"`
}

// Text joins the recognised text of all successful regions.
func (r *OCRResult) Text() string {
	var out []byte
	for _, reg := range r.Regions {
		if reg.Err != "" || reg.Text == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n', '\n')
		}
		out = append(out, reg.Text...)
	}
	return string(out)
}

// OCRJobStatus is the state of a queued OCR job.
type OCRJobStatus string

// OCR job states.
const (
	OCRJobQueued  OCRJobStatus = "queued"
	OCRJobRunning OCRJobStatus = "running"
	OCRJobDone    OCRJobStatus = "done"
	OCRJobFailed  OCRJobStatus = "failed"
)
