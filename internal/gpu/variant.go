package gpu

import (
	"fmt"
	"strings"

	"lyrebird/internal/services"
)

// Model families hosted on the accelerator.
const (
	FamilyDemucs  = "demucs"
	FamilyWhisper = "whisper"
)

// VariantKey builds the canonical "family:variant" identifier used for
// residency tracking and VRAM estimate lookups.
func VariantKey(family, variant string) string {
	return strings.TrimSpace(strings.ToLower(family)) + ":" + strings.TrimSpace(strings.ToLower(variant))
}

// SplitVariantKey separates a variant key into its family and variant parts.
func SplitVariantKey(key string) (family, variant string, err error) {
	family, variant, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok || family == "" || variant == "" {
		return "", "", services.Wrap(services.ErrValidation, "", "parse variant key",
			fmt.Sprintf("%q is not in family:variant form", key), nil)
	}
	return family, variant, nil
}
