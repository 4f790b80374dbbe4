package ocr

import (
	"sort"
	"unicode"
)

// Script is a writing system recognised by the detector.
type Script string

// Detected scripts.
const (
	ScriptUnknown    Script = "unknown"
	ScriptLatin      Script = "latin"
	ScriptCyrillic   Script = "cyrillic"
	ScriptGreek      Script = "greek"
	ScriptArabic     Script = "arabic"
	ScriptHebrew     Script = "hebrew"
	ScriptHan        Script = "han"
	ScriptJapanese   Script = "japanese"
	ScriptHangul     Script = "hangul"
	ScriptDevanagari Script = "devanagari"
	ScriptThai       Script = "thai"
)

// scriptLanguages maps a script to tesseract language codes, most
// likely first.
var scriptLanguages = map[Script][]string{
	ScriptLatin:      {"eng"},
	ScriptCyrillic:   {"rus", "ukr"},
	ScriptGreek:      {"ell"},
	ScriptArabic:     {"ara", "fas"},
	ScriptHebrew:     {"heb"},
	ScriptHan:        {"chi_sim", "chi_tra"},
	ScriptJapanese:   {"jpn"},
	ScriptHangul:     {"kor"},
	ScriptDevanagari: {"hin"},
	ScriptThai:       {"tha"},
}

var scriptTables = []struct {
	script Script
	table  *unicode.RangeTable
}{
	{ScriptLatin, unicode.Latin},
	{ScriptCyrillic, unicode.Cyrillic},
	{ScriptGreek, unicode.Greek},
	{ScriptArabic, unicode.Arabic},
	{ScriptHebrew, unicode.Hebrew},
	{ScriptHan, unicode.Han},
	{ScriptHangul, unicode.Hangul},
	{ScriptDevanagari, unicode.Devanagari},
	{ScriptThai, unicode.Thai},
}

// Detection is the detector's guess for a text sample.
type Detection struct {
	// Script is the dominant writing system.
	Script Script

	// Languages are provider language codes, most likely first.
	Languages []string

	// Confidence is the share of letters in the dominant script.
	Confidence float64
}

// Detector guesses the script of a text sample.
type Detector struct {
	defaults []string
}

// NewDetector creates a detector. defaults are the languages used when
// the sample has no letters; they are also appended as fallbacks.
func NewDetector(defaults []string) *Detector {
	if len(defaults) == 0 {
		defaults = []string{"eng"}
	}
	return &Detector{defaults: defaults}
}

// Detect returns the dominant script of sample. Kana anywhere in the
// sample selects Japanese, since Japanese text mixes kana with Han.
func (d *Detector) Detect(sample string) Detection {
	counts := make(map[Script]int)
	letters := 0
	kana := 0
	for _, r := range sample {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) {
			kana++
			continue
		}
		for _, st := range scriptTables {
			if unicode.Is(st.table, r) {
				counts[st.script]++
				break
			}
		}
	}

	if letters == 0 {
		return Detection{Script: ScriptUnknown, Languages: append([]string{}, d.defaults...)}
	}
	if kana > 0 {
		counts[ScriptJapanese] += kana + counts[ScriptHan]
		delete(counts, ScriptHan)
	}

	type scored struct {
		script Script
		n      int
	}
	ranked := make([]scored, 0, len(counts))
	for s, n := range counts {
		ranked = append(ranked, scored{s, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].script < ranked[j].script
	})
	if len(ranked) == 0 {
		return Detection{Script: ScriptUnknown, Languages: append([]string{}, d.defaults...), Confidence: 0}
	}

	top := ranked[0]
	langs := append([]string{}, scriptLanguages[top.script]...)
	if top.script == ScriptLatin {
		// Latin covers many languages; configured defaults come first.
		langs = append(append([]string{}, d.defaults...), langs...)
	}
	for _, l := range d.defaults {
		langs = appendUnique(langs, l)
	}
	return Detection{
		Script:     top.script,
		Languages:  dedupe(langs),
		Confidence: float64(top.n) / float64(letters),
	}
}

// Plan returns the language sets to try, in order. The first set joins
// the detected languages; further sets fall back to each default alone.
func (d *Detector) Plan(sample string) [][]string {
	det := d.Detect(sample)
	plan := [][]string{det.Languages}
	for _, l := range d.defaults {
		if len(det.Languages) == 1 && det.Languages[0] == l {
			continue
		}
		plan = append(plan, []string{l})
	}
	return plan
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func dedupe(list []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = appendUnique(out, v)
	}
	return out
}
