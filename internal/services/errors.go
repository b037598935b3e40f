package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrPrerequisite        = errors.New("prerequisite missing")
	ErrStageExecution      = errors.New("stage execution error")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrNotFound            = errors.New("not found")
	ErrConfiguration       = errors.New("configuration error")
	ErrExternalTool        = errors.New("external tool error")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later taxonomy classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrStageExecution
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error chain onto the taxonomy identifier carried by progress
// events, so subscribers can tell an absent accelerator apart from a
// processing failure or a missing prerequisite.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrResourceUnavailable):
		return "resource_unavailable"
	case errors.Is(err, ErrPrerequisite):
		return "prerequisite"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrStageExecution), errors.Is(err, ErrExternalTool):
		return "stage_execution"
	default:
		return "internal"
	}
}

// Message strips the taxonomy marker prefix from a wrapped service error,
// leaving the stage-qualified detail for operator-facing surfaces. Errors
// that did not come through Wrap pass through unchanged.
func Message(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	for _, marker := range []error{
		ErrValidation,
		ErrResourceUnavailable,
		ErrPrerequisite,
		ErrStageExecution,
		ErrInvalidTransition,
		ErrNotFound,
		ErrConfiguration,
		ErrExternalTool,
	} {
		if !errors.Is(err, marker) {
			continue
		}
		if trimmed := strings.TrimPrefix(text, marker.Error()+": "); trimmed != text {
			return trimmed
		}
	}
	return text
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
