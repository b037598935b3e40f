package workflow

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"lyrebird/internal/events"
	"lyrebird/internal/logging"
	"lyrebird/internal/registry"
)

// progressSink receives points from the progress tracker, persists them on
// the stage record, and fans them out as job events. Persistence failures are
// logged and dropped; progress is advisory and must never stall a stage.
type progressSink struct {
	store  *registry.Store
	hub    *events.Hub
	logger *slog.Logger
}

func (s *progressSink) Publish(jobID, stageName string, percent float64, message string) {
	if err := s.store.UpdateStageProgress(context.Background(), jobID, stageName, percent, message); err != nil {
		s.logger.Debug("progress update failed",
			logging.String(logging.FieldJobID, jobID),
			logging.String(logging.FieldStage, stageName),
			logging.Error(err),
		)
	}
	s.hub.Publish(events.Event{
		JobID:           jobID,
		Stage:           stageName,
		Status:          "running",
		ProgressPercent: percent,
		Message:         message,
	})
}

func (m *Manager) publishStage(jobID, stageName, status string, percent float64, message string) {
	m.hub.Publish(events.Event{
		JobID:           jobID,
		Stage:           stageName,
		Status:          status,
		ProgressPercent: percent,
		Message:         message,
	})
}

// stageTitle renders a stage name for operator-facing progress text.
func stageTitle(stageName string) string {
	parts := strings.Fields(strings.ReplaceAll(stageName, "_", " "))
	for i, part := range parts {
		runes := []rune(strings.ToLower(part))
		if len(runes) == 0 {
			continue
		}
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	if len(parts) == 0 {
		return "Stage"
	}
	return strings.Join(parts, " ")
}
