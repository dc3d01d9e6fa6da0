package ocr

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CleanOptions controls how recognized words are normalized.
type CleanOptions struct {
	NormalizeForm   string            // "NFC" (default), "NFKC", "NFD", "NFKD", "none"
	RemoveZeroWidth bool              // drop zero-width spaces and joiners
	RemoveControl   bool              // drop non-printable control characters
	Replace         map[string]string // extra replacements applied after the language rules
}

// DefaultCleanOptions returns the normalization used for scanned registers.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		NormalizeForm:   "NFC",
		RemoveZeroWidth: true,
		RemoveControl:   true,
	}
}

// Cleaner normalizes recognized text for a fixed language set.
type Cleaner struct {
	form    norm.Form
	skip    bool
	opts    CleanOptions
	replace *strings.Replacer
}

// NewCleaner builds a Cleaner applying the rules of every language in langs.
func NewCleaner(opts CleanOptions, langs []string) *Cleaner {
	c := &Cleaner{opts: opts}
	switch strings.ToUpper(opts.NormalizeForm) {
	case "NFKC":
		c.form = norm.NFKC
	case "NFD":
		c.form = norm.NFD
	case "NFKD":
		c.form = norm.NFKD
	case "NONE":
		c.skip = true
	default:
		c.form = norm.NFC
	}

	m := make(map[string]string)
	for _, l := range langs {
		for k, v := range ReplacementsFor(l) {
			m[k] = v
		}
	}
	for k, v := range opts.Replace {
		m[k] = v
	}
	if len(m) > 0 {
		c.replace = strings.NewReplacer(pairsLongestFirst(m)...)
	}
	return c
}

// Clean normalizes one recognized word or phrase.
func (c *Cleaner) Clean(s string) string {
	if s == "" {
		return s
	}
	if !c.skip {
		s = c.form.String(s)
	}
	if c.opts.RemoveZeroWidth || c.opts.RemoveControl {
		s = strings.Map(func(r rune) rune {
			if c.opts.RemoveZeroWidth && isZeroWidth(r) {
				return -1
			}
			if c.opts.RemoveControl && unicode.IsControl(r) && r != '\t' {
				return -1
			}
			return r
		}, s)
	}
	if c.replace != nil {
		s = c.replace.Replace(s)
	}
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

// ReplacementsFor returns OCR artifact fixes for a Tesseract language code.
func ReplacementsFor(lang string) map[string]string {
	m := map[string]string{
		"\u2018": "'",
		"\u2019": "'",
		"\u201C": "\"",
		"\u201D": "\"",
		"\u00A0": " ",
		"\u2009": " ",
	}
	switch strings.ToLower(lang) {
	case "ron", "ro":
		// Scans of older registers use cedilla forms; the standard letters
		// carry a comma below.
		m["\u0163"] = "\u021B"
		m["\u015F"] = "\u0219"
		m["\u0162"] = "\u021A"
		m["\u015E"] = "\u0218"
		m["|"] = "I"
		m["\u201E"] = "\""
	case "deu", "de":
		m["\u201E"] = "\""
	case "fra", "fr":
		m["\u00AB"] = "\""
		m["\u00BB"] = "\""
	}
	return m
}

// pairsLongestFirst flattens m for strings.NewReplacer so that longer keys
// take precedence over their prefixes.
func pairsLongestFirst(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(b), len(a)), strings.Compare(a, b))
	})
	out := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}

var wsRe = regexp.MustCompile(`\s+`)

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF':
		return true
	}
	return false
}
