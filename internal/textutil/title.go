package textutil

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TitleFromPath derives a human-readable track title from a file path.
// Separators (spaces, dashes, underscores, dots) collapse into single
// spaces, other punctuation is dropped, and the result is title-cased.
// Returns "Unknown Track" when nothing usable remains.
func TitleFromPath(sourcePath string) string {
	if sourcePath == "" {
		return "Unknown Track"
	}
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return "Unknown Track"
	}
	return cases.Title(language.Und).String(title)
}
