package preprocess

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Preprocessor cleans user text without touching its wording or symbols;
// the model handles numbers and abbreviations per language on its own.
// Only invisible characters, typographic quotes and the ellipsis character
// are changed, and runs of whitespace collapse to one space.
type Preprocessor struct{}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

func (p *Preprocessor) Process(text string) string {
	text = norm.NFC.String(text)
	text = stripControl(text)
	text = normalizeQuotes(text)
	text = strings.ReplaceAll(text, "\u2026", "...")
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return text
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) || r == '\u200b' || r == '\ufeff' {
			return -1
		}
		return r
	}, text)
}

func normalizeQuotes(text string) string {
	text = strings.ReplaceAll(text, "\u201c", "\"")
	text = strings.ReplaceAll(text, "\u201d", "\"")
	text = strings.ReplaceAll(text, "\u2018", "'")
	text = strings.ReplaceAll(text, "\u2019", "'")
	text = strings.ReplaceAll(text, "\u00ab", "\"")
	text = strings.ReplaceAll(text, "\u00bb", "\"")
	return text
}
