package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// timeLayout keeps a fixed fractional width so lexicographic order of the
// stored strings matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// PrintJob mirrors one printer-host job-history entry.
type PrintJob struct {
	JobID     string    `json:"job_id"`
	Filename  string    `json:"filename"`
	State     string    `json:"state"`
	StartedAt *int64    `json:"started_at,omitempty"`
	EndedAt   *int64    `json:"ended_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LifecycleEvent is one recorded print-lifecycle transition.
type LifecycleEvent struct {
	ID         int64     `json:"id"`
	Event      string    `json:"event"`
	Filename   string    `json:"filename,omitempty"`
	PrintTs    int64     `json:"print_ts"`
	RecordedAt time.Time `json:"recorded_at"`
}

// UpsertJob inserts or refreshes a job-history record.
func (r *Repository) UpsertJob(ctx context.Context, job PrintJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO print_jobs (job_id, filename, state, started_at, ended_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			filename=excluded.filename,
			state=excluded.state,
			started_at=excluded.started_at,
			ended_at=excluded.ended_at,
			updated_at=excluded.updated_at`,
		job.JobID, job.Filename, job.State,
		nullableInt(job.StartedAt), nullableInt(job.EndedAt),
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

// ListJobs returns the most recently updated job records, newest first.
func (r *Repository) ListJobs(ctx context.Context, limit int) ([]PrintJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, filename, state, started_at, ended_at, updated_at
		FROM print_jobs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []PrintJob
	for rows.Next() {
		var (
			job       PrintJob
			started   sql.NullInt64
			ended     sql.NullInt64
			updatedAt string
		)
		if err := rows.Scan(&job.JobID, &job.Filename, &job.State, &started, &ended, &updatedAt); err != nil {
			return nil, err
		}
		job.StartedAt = toIntPtr(started)
		job.EndedAt = toIntPtr(ended)
		if ts, err := time.Parse(timeLayout, updatedAt); err == nil {
			job.UpdatedAt = ts.UTC()
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecordLifecycleEvent appends one lifecycle transition to the journal.
func (r *Repository) RecordLifecycleEvent(ctx context.Context, ev LifecycleEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events (event, filename, print_ts, recorded_at)
		VALUES (?, ?, ?, ?)`,
		ev.Event, ev.Filename, ev.PrintTs,
		time.Now().UTC().Format(timeLayout),
	)
	return err
}

// ListLifecycleEvents returns recent lifecycle transitions, newest first.
func (r *Repository) ListLifecycleEvents(ctx context.Context, limit int) ([]LifecycleEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event, COALESCE(filename, ''), print_ts, recorded_at
		FROM lifecycle_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []LifecycleEvent
	for rows.Next() {
		var (
			ev         LifecycleEvent
			recordedAt string
		)
		if err := rows.Scan(&ev.ID, &ev.Event, &ev.Filename, &ev.PrintTs, &recordedAt); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(timeLayout, recordedAt); err == nil {
			ev.RecordedAt = ts.UTC()
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func toIntPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}
