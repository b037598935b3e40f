package registry

import (
	"fmt"

	"lyrebird/internal/services"
)

// validateTransition checks a requested stage status change against the fixed
// pipeline order. The stages slice must hold every stage record for the job.
//
// Legal moves:
//
//	waiting -> active     all earlier stages finished successfully
//	waiting -> skipped    all earlier stages finished successfully
//	waiting -> failed     pre-activation failure (missing prerequisite, no GPU)
//	active  -> completed
//	active  -> failed
//
// Everything else, including touching a terminal stage, is rejected.
func validateTransition(stages []*StageRecord, name string, to StageStatus) error {
	position, ok := StagePosition(name)
	if !ok {
		return services.Wrap(services.ErrValidation, name, "transition", "unknown stage", nil)
	}

	var current *StageRecord
	for _, record := range stages {
		if record.Name == name {
			current = record
			break
		}
	}
	if current == nil {
		return services.Wrap(services.ErrNotFound, name, "transition", "stage record missing", nil)
	}

	from := current.Status
	reject := func() error {
		return services.Wrap(services.ErrInvalidTransition, name, "transition", fmt.Sprintf("%s -> %s", from, to), nil)
	}

	switch to {
	case StageActive, StageSkipped:
		if from != StageWaiting {
			return reject()
		}
		for _, record := range stages {
			if record.Position < position && !record.Status.IsTerminalSuccess() {
				return services.Wrap(
					services.ErrInvalidTransition,
					name,
					"transition",
					fmt.Sprintf("stage %s is %s", record.Name, record.Status),
					nil,
				)
			}
		}
		return nil
	case StageCompleted:
		if from != StageActive {
			return reject()
		}
		return nil
	case StageFailed:
		if from != StageWaiting && from != StageActive {
			return reject()
		}
		return nil
	default:
		return services.Wrap(services.ErrValidation, name, "transition", fmt.Sprintf("unknown target status %q", to), nil)
	}
}
