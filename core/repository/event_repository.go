package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"stem-splitter/core/models"
)

// EventRepository handles database operations for job events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// RecordEvent appends one job transition to the audit log
func (r *EventRepository) RecordEvent(ctx context.Context, event models.JobEvent) error {
	query := `
		INSERT INTO job_events (job_id, at, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var fromStatus sql.NullString
	if event.FromStatus != nil {
		fromStatus = sql.NullString{String: string(*event.FromStatus), Valid: true}
	}

	metaJSON := "{}"
	if event.MetaJSON != nil {
		metaBytes, err := json.Marshal(event.MetaJSON)
		if err == nil {
			metaJSON = string(metaBytes)
		}
	}

	_, err := r.db.ExecContext(ctx, query,
		event.JobID,
		event.At,
		fromStatus,
		event.ToStatus,
		event.Reason,
		metaJSON,
	)
	return err
}

// GetJobEvents retrieves events for a job
func (r *EventRepository) GetJobEvents(ctx context.Context, jobID string, limit int) ([]models.JobEvent, error) {
	query := `
		SELECT id, job_id, at, from_status, to_status, reason, meta_json
		FROM job_events
		WHERE job_id = $1
		ORDER BY at ASC, id ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var event models.JobEvent
		var fromStatus sql.NullString
		var metaJSON string

		err := rows.Scan(
			&event.ID,
			&event.JobID,
			&event.At,
			&fromStatus,
			&event.ToStatus,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, err
		}

		if fromStatus.Valid {
			status := models.JobStatus(fromStatus.String)
			event.FromStatus = &status
		}

		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &event.MetaJSON)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}
