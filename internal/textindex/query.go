package textindex

import (
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

type rawTerm struct {
	text    string
	quoted  bool
	exclude bool
	or      bool
}

// ParseQuery parses a web-style query. Quoted text is a phrase, a
// leading minus excludes a term or phrase, and an upper-case OR between
// two terms makes them alternatives. All other terms must match.
func ParseQuery(raw string) domain.KeywordQuery {
	q := domain.KeywordQuery{Raw: raw}

	var pendingOr bool
	for _, rt := range lex(raw) {
		if rt.or {
			pendingOr = len(q.Groups) > 0
			continue
		}
		term, ok := makeTerm(rt)
		if !ok {
			continue
		}
		switch {
		case rt.exclude:
			q.Excluded = append(q.Excluded, term)
		case pendingOr:
			last := len(q.Groups) - 1
			q.Groups[last] = append(q.Groups[last], term)
		default:
			q.Groups = append(q.Groups, []domain.Term{term})
		}
		pendingOr = false
	}
	return q
}

func makeTerm(rt rawTerm) (domain.Term, bool) {
	words := Tokenize(rt.text)
	if len(words) == 0 {
		return domain.Term{}, false
	}
	// Scripts without spaces tokenise a single word into many tokens;
	// those must stay adjacent too.
	return domain.Term{Words: words, Phrase: len(words) > 1}, true
}

func lex(raw string) []rawTerm {
	var out []rawTerm
	s := strings.TrimSpace(raw)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t\r\n")
		if s == "" {
			break
		}
		exclude := false
		if s[0] == '-' && len(s) > 1 && s[1] != ' ' {
			exclude = true
			s = s[1:]
		}
		if s[0] == '"' {
			end := strings.IndexByte(s[1:], '"')
			var text string
			if end < 0 {
				text, s = s[1:], ""
			} else {
				text, s = s[1:end+1], s[end+2:]
			}
			out = append(out, rawTerm{text: text, quoted: true, exclude: exclude})
			continue
		}
		end := strings.IndexAny(s, " \t\r\n")
		if end < 0 {
			end = len(s)
		}
		word := s[:end]
		s = s[end:]
		if word == "OR" && !exclude {
			out = append(out, rawTerm{or: true})
			continue
		}
		out = append(out, rawTerm{text: word, exclude: exclude})
	}
	return out
}

// Match reports whether tokens satisfy q: every group has a present
// alternative and no excluded term is present.
func Match(q domain.KeywordQuery, tokens []string) bool {
	if q.IsEmpty() {
		return false
	}
	for _, t := range q.Excluded {
		if contains(tokens, t) {
			return false
		}
	}
	for _, g := range q.Groups {
		ok := false
		for _, t := range g {
			if contains(tokens, t) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func contains(tokens []string, t domain.Term) bool {
	n := len(t.Words)
	for i := 0; i+n <= len(tokens); i++ {
		match := true
		for j, w := range t.Words {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
