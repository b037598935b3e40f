package config

import (
	"sort"
	"strings"
)

var separationVariants = map[string]struct{}{
	"htdemucs":    {},
	"htdemucs_ft": {},
	"htdemucs_6s": {},
	"hdemucs_mmi": {},
	"mdx":         {},
	"mdx_extra":   {},
	"mdx_q":       {},
	"mdx_extra_q": {},
}

var transcriptionVariants = map[string]struct{}{
	"tiny":   {},
	"base":   {},
	"small":  {},
	"medium": {},
	"large":  {},
}

// IsSeparationVariant reports whether name is a known demucs model variant.
func IsSeparationVariant(name string) bool {
	_, ok := separationVariants[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// IsTranscriptionVariant reports whether name is a known whisper model size.
func IsTranscriptionVariant(name string) bool {
	_, ok := transcriptionVariants[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// SeparationVariants returns the catalogue of accepted demucs variants.
func SeparationVariants() []string {
	return sortedKeys(separationVariants)
}

// TranscriptionVariants returns the catalogue of accepted whisper sizes.
func TranscriptionVariants() []string {
	return sortedKeys(transcriptionVariants)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
