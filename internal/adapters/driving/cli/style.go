package cli

import (
	"io"
	"os"
	"regexp"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Palette shared by every command.
var (
	colourPrimary = lipgloss.Color("#7C3AED")
	colourAccent  = lipgloss.Color("#06B6D4")
	colourMuted   = lipgloss.Color("#6C7086")
	colourSuccess = lipgloss.Color("#A6E3A1")
	colourWarning = lipgloss.Color("#F9E2AF")
	colourError   = lipgloss.Color("#F38BA8")
)

// styles holds the lipgloss styles for one output stream.
type styles struct {
	Title     lipgloss.Style
	Path      lipgloss.Style
	Muted     lipgloss.Style
	Highlight lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style

	plain bool
}

// isTerminal reports whether w is an interactive terminal.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// stylesFor returns colour styles for a terminal and unstyled ones
// otherwise, so piped output stays plain text.
func stylesFor(w io.Writer) *styles {
	if !isTerminal(w) {
		plain := lipgloss.NewStyle()
		return &styles{
			Title: plain, Path: plain, Muted: plain, Highlight: plain,
			Success: plain, Warning: plain, Error: plain,
			plain: true,
		}
	}
	return &styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(colourPrimary),
		Path:      lipgloss.NewStyle().Foreground(colourAccent),
		Muted:     lipgloss.NewStyle().Foreground(colourMuted),
		Highlight: lipgloss.NewStyle().Bold(true).Foreground(colourWarning),
		Success:   lipgloss.NewStyle().Foreground(colourSuccess),
		Warning:   lipgloss.NewStyle().Foreground(colourWarning),
		Error:     lipgloss.NewStyle().Foreground(colourError),
	}
}

var markPattern = regexp.MustCompile(`<(\w+)>(.*?)</(\w+)>`)

// snippet renders highlight tags. On a terminal the tags become styling;
// plain output keeps them as the search service produced them.
func (s *styles) snippet(text string) string {
	if s.plain {
		return text
	}
	return markPattern.ReplaceAllStringFunc(text, func(m string) string {
		parts := markPattern.FindStringSubmatch(m)
		if parts[1] != parts[3] {
			return m
		}
		return s.Highlight.Render(parts[2])
	})
}
