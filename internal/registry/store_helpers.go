package registry

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, fingerprint, source_path, title, status, current_stage, error_message, duration_seconds, size_bytes, separation_variant, transcription_variant, language, probe_json, progress_stage, progress_percent, progress_message, created_at, updated_at, started_at, finished_at, last_heartbeat"

const stageColumns = "job_id, name, position, status, progress_percent, message, error_message, started_at, finished_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id                   string
		fingerprint          string
		sourcePath           sql.NullString
		title                sql.NullString
		statusStr            string
		currentStage         sql.NullString
		errorMessage         sql.NullString
		durationSeconds      sql.NullFloat64
		sizeBytes            sql.NullInt64
		separationVariant    sql.NullString
		transcriptionVariant sql.NullString
		language             sql.NullString
		probeJSON            sql.NullString
		progressStage        sql.NullString
		progressPercent      sql.NullFloat64
		progressMessage      sql.NullString
		createdRaw           sql.NullString
		updatedRaw           sql.NullString
		startedRaw           sql.NullString
		finishedRaw          sql.NullString
		lastHeartbeatRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&fingerprint,
		&sourcePath,
		&title,
		&statusStr,
		&currentStage,
		&errorMessage,
		&durationSeconds,
		&sizeBytes,
		&separationVariant,
		&transcriptionVariant,
		&language,
		&probeJSON,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                   id,
		Fingerprint:          fingerprint,
		SourcePath:           sourcePath.String,
		Title:                title.String,
		Status:               JobStatus(statusStr),
		CurrentStage:         currentStage.String,
		ErrorMessage:         errorMessage.String,
		DurationSeconds:      durationSeconds.Float64,
		SizeBytes:            sizeBytes.Int64,
		SeparationVariant:    separationVariant.String,
		TranscriptionVariant: transcriptionVariant.String,
		Language:             language.String,
		ProbeJSON:            probeJSON.String,
		ProgressStage:        progressStage.String,
		ProgressPercent:      progressPercent.Float64,
		ProgressMessage:      progressMessage.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	job.StartedAt = parseNullableTime(startedRaw)
	job.FinishedAt = parseNullableTime(finishedRaw)
	job.LastHeartbeat = parseNullableTime(lastHeartbeatRaw)
	return job, nil
}

func scanStage(scanner interface{ Scan(dest ...any) error }) (*StageRecord, error) {
	var (
		jobID           string
		name            string
		position        int
		statusStr       string
		progressPercent sql.NullFloat64
		message         sql.NullString
		errorMessage    sql.NullString
		startedRaw      sql.NullString
		finishedRaw     sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&jobID,
		&name,
		&position,
		&statusStr,
		&progressPercent,
		&message,
		&errorMessage,
		&startedRaw,
		&finishedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &StageRecord{
		JobID:           jobID,
		Name:            name,
		Position:        position,
		Status:          StageStatus(statusStr),
		ProgressPercent: progressPercent.Float64,
		Message:         message.String,
		ErrorMessage:    errorMessage.String,
	}
	record.StartedAt = parseNullableTime(startedRaw)
	record.FinishedAt = parseNullableTime(finishedRaw)
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
