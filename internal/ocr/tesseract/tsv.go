package tesseract

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// Word is one recognised word from tesseract's TSV output.
type Word struct {
	Block, Paragraph, Line int
	Box                    domain.BoundingBox
	Confidence             float64
	Text                   string
}

// ParseTSV reads tesseract's tsv output. Rows that are not words
// (level 5) or carry no text are skipped.
func ParseTSV(data []byte) []Word {
	var words []Word
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	header := true
	for sc.Scan() {
		if header {
			header = false
			if strings.HasPrefix(sc.Text(), "level") {
				continue
			}
		}
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		words = append(words, Word{
			Block:      atoi(cols[2]),
			Paragraph:  atoi(cols[3]),
			Line:       atoi(cols[4]),
			Box:        domain.BoundingBox{X: atoi(cols[6]), Y: atoi(cols[7]), Width: atoi(cols[8]), Height: atoi(cols[9])},
			Confidence: conf,
			Text:       text,
		})
	}
	return words
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Within keeps words whose centre falls inside box. A zero box keeps
// everything.
func Within(words []Word, box domain.BoundingBox) []Word {
	if box.IsZero() {
		return words
	}
	var out []Word
	for _, w := range words {
		cx := w.Box.X + w.Box.Width/2
		cy := w.Box.Y + w.Box.Height/2
		if cx >= box.X && cx < box.X+box.Width && cy >= box.Y && cy < box.Y+box.Height {
			out = append(out, w)
		}
	}
	return out
}

// Assemble joins words into text, one line per tesseract line and a
// blank line between paragraphs. It also returns the mean confidence.
func Assemble(words []Word) (string, float64) {
	if len(words) == 0 {
		return "", 0
	}
	var b strings.Builder
	var sum float64
	prev := words[0]
	for i, w := range words {
		sum += w.Confidence
		if i > 0 {
			switch {
			case w.Block != prev.Block || w.Paragraph != prev.Paragraph:
				b.WriteString("\n\n")
			case w.Line != prev.Line:
				b.WriteByte('\n')
			default:
				b.WriteByte(' ')
			}
		}
		b.WriteString(w.Text)
		prev = w
	}
	return b.String(), sum / float64(len(words))
}
