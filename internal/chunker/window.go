package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
)

// Default sizes, in bytes of UTF-8 text.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// boundaryLookback is how far before a hard cut a boundary is searched for.
const boundaryLookback = 100

// breakFinder returns the end offset of a preferred boundary inside
// text[from:cut], or -1.
type breakFinder func(text string, from, cut int) int

// DefaultOptions returns the built-in chunk options.
func DefaultOptions() driven.ChunkOptions {
	return driven.ChunkOptions{
		MaxChunkSize:       DefaultChunkSize,
		ChunkOverlap:       DefaultChunkOverlap,
		PreserveParagraphs: true,
		PreserveSentences:  true,
	}
}

// validate rejects options that cannot make progress.
func validate(opts driven.ChunkOptions) error {
	if opts.MaxChunkSize <= 0 {
		return fmt.Errorf("%w: max chunk size must be positive, got %d",
			domain.ErrInvalidConfiguration, opts.MaxChunkSize)
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.MaxChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be in [0, %d)",
			domain.ErrInvalidConfiguration, opts.ChunkOverlap, opts.MaxChunkSize)
	}
	return nil
}

// split walks text with the shared window arithmetic.
func split(text string, opts driven.ChunkOptions, find breakFinder) ([]domain.Chunk, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []domain.Chunk{}, nil
	}

	n := len(text)
	step := opts.MaxChunkSize - opts.ChunkOverlap
	chunks := make([]domain.Chunk, 0, n/step+1)

	pos := 0
	for pos < n {
		end := pos + opts.MaxChunkSize
		if end >= n {
			end = n
		} else {
			end = alignBack(text, end, pos)
			if find != nil {
				from := end - boundaryLookback
				if from <= pos {
					from = pos + 1
				}
				if b := find(text, from, end); b > pos {
					end = b
				}
			}
		}

		if strings.TrimSpace(text[pos:end]) != "" {
			content := text[pos:end]
			chunks = append(chunks, domain.Chunk{
				Index:       len(chunks),
				Content:     content,
				StartOffset: pos,
				EndOffset:   end,
				TokenCount:  EstimateTokens(content),
			})
		}
		if end == n {
			break
		}

		next := pos + step
		if next > end {
			next = end
		}
		pos = alignForward(text, next)
	}
	return chunks, nil
}

// alignBack moves i back to a rune start, but never to or before floor.
// When no rune start exists in (floor, i] it moves forward instead.
func alignBack(text string, i, floor int) int {
	j := i
	for j > floor && !utf8.RuneStart(text[j]) {
		j--
	}
	if j > floor {
		return j
	}
	return alignForward(text, i)
}

// alignForward moves i forward to the next rune start or len(text).
func alignForward(text string, i int) int {
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}

// paragraphBreak finds the last blank line in text[from:cut].
func paragraphBreak(text string, from, cut int) int {
	idx := strings.LastIndex(text[from:cut], "\n\n")
	if idx < 0 {
		return -1
	}
	return from + idx + 2
}

// sentenceBreak finds the end of the last sentence in text[from:cut].
// A sentence ends at . ! or ? followed by whitespace, or at an ideographic
// full stop, exclamation or question mark.
func sentenceBreak(text string, from, cut int) int {
	best := -1
	for i := from; i < cut; {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch r {
		case '.', '!', '?':
			if i+size < len(text) {
				next, _ := utf8.DecodeRuneInString(text[i+size:])
				if unicode.IsSpace(next) && i+size <= cut {
					best = i + size
				}
			}
		case '。', '！', '？':
			if i+size <= cut {
				best = i + size
			}
		}
		i += size
	}
	return best
}

// EstimateTokens approximates a model token count: one per word plus one
// per ideographic or kana rune, which are not space separated.
func EstimateTokens(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Hiragana, r),
			unicode.Is(unicode.Katakana, r), unicode.Is(unicode.Hangul, r):
			count++
			inWord = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			inWord = false
		default:
			if !inWord {
				count++
				inWord = true
			}
		}
	}
	return count
}
