package db

import (
	"database/sql"
	"fmt"
)

// --- Job Methods ---

const jobColumns = `id, topic, payload, status, attempts, max_attempts, backoff_ms, next_run_at, last_error, created_at`

func scanJob(scanner interface{ Scan(...any) error }, j *Job) error {
	return scanner.Scan(&j.ID, &j.Topic, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.BackoffMs, &j.NextRunAt, &j.LastError, &j.CreatedAt)
}

// InsertJob persists a new queue job.
func (d *DB) InsertJob(j *Job) error {
	_, err := d.conn.Exec(
		`INSERT INTO jobs (id, topic, payload, status, attempts, max_attempts, backoff_ms, next_run_at, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Topic, j.Payload, j.Status, j.Attempts, j.MaxAttempts, j.BackoffMs, j.NextRunAt, j.LastError, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID. Returns nil if not found.
func (d *DB) GetJob(id string) (*Job, error) {
	j := &Job{}
	row := d.conn.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if err := scanJob(row, j); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// DueJobs returns pending jobs whose next_run_at has elapsed, oldest first.
func (d *DB) DueJobs(now string, limit int) ([]Job, error) {
	rows, err := d.conn.Query(
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'pending' AND next_run_at <= ?
		 ORDER BY created_at LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return collectJobs(rows)
}

// DeleteJob removes a job (successful completion).
func (d *DB) DeleteJob(id string) error {
	_, err := d.conn.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// RescheduleJob records a failed attempt and pushes the job's next run out.
func (d *DB) RescheduleJob(id string, attempts int, nextRunAt, lastError string) error {
	_, err := d.conn.Exec(
		`UPDATE jobs SET attempts = ?, next_run_at = ?, last_error = ? WHERE id = ?`,
		attempts, nextRunAt, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", id, err)
	}
	return nil
}

// MarkJobFailed retires a job that exhausted its retries. The row is kept
// for inspection, not requeued.
func (d *DB) MarkJobFailed(id string, attempts int, lastError string) error {
	_, err := d.conn.Exec(
		`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ? WHERE id = ?`,
		attempts, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("mark job failed %s: %w", id, err)
	}
	return nil
}

// FailedJobs returns retired jobs, newest first.
func (d *DB) FailedJobs() ([]Job, error) {
	rows, err := d.conn.Query(
		`SELECT ` + jobColumns + ` FROM jobs WHERE status = 'failed' ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		var j Job
		if err := scanJob(rows, &j); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Reminder Methods ---

// InsertReminder schedules a reminder row.
func (d *DB) InsertReminder(r *Reminder) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO reminders (user_id, kind, ref_id, send_at, sent) VALUES (?, ?, ?, ?, ?)`,
		r.UserID, r.Kind, r.RefID, r.SendAt, boolToInt(r.Sent),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	return res.LastInsertId()
}

// DueReminders returns unsent reminders whose send_at has elapsed.
func (d *DB) DueReminders(now string) ([]Reminder, error) {
	rows, err := d.conn.Query(
		`SELECT id, user_id, kind, ref_id, send_at, sent FROM reminders
		 WHERE sent = 0 AND send_at <= ?`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var reminders []Reminder
	for rows.Next() {
		var r Reminder
		var sent int
		if err := rows.Scan(&r.ID, &r.UserID, &r.Kind, &r.RefID, &r.SendAt, &sent); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.Sent = sent == 1
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// MarkReminderSent flags a reminder as delivered.
func (d *DB) MarkReminderSent(id int64) error {
	_, err := d.conn.Exec(`UPDATE reminders SET sent = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark reminder sent %d: %w", id, err)
	}
	return nil
}

// PurgeRemindersBefore deletes reminder rows scheduled before the cutoff.
func (d *DB) PurgeRemindersBefore(cutoff string) (int64, error) {
	res, err := d.conn.Exec(`DELETE FROM reminders WHERE send_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge reminders: %w", err)
	}
	return res.RowsAffected()
}
