package store

import (
	"database/sql"
	"time"
)

// Job statuses.
const (
	JobRunning  = "running"
	JobSuccess  = "success"
	JobDegraded = "degraded"
	JobFailed   = "failed"
)

// JobLog is the audit record of one scheduler invocation.
type JobLog struct {
	ID               int64
	JobName          string
	Status           string
	RecordsProcessed int64
	ErrorCount       int64
	Message          string
	StartedAt        time.Time
	FinishedAt       sql.NullTime
}

// StartJobLog records a job run beginning and returns its log ID.
func (s *Store) StartJobLog(jobName string) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO job_logs (job_name, status, started_at) VALUES (?, ?, ?)",
		jobName, JobRunning, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishJobLog closes out a job run with its outcome and counters.
func (s *Store) FinishJobLog(id int64, status string, processed, errCount int64, message string) error {
	_, err := s.db.Exec(
		"UPDATE job_logs SET status = ?, records_processed = ?, error_count = ?, message = ?, finished_at = ? WHERE id = ?",
		status, processed, errCount, message, time.Now().UTC(), id,
	)
	return err
}

// RecentJobLogs returns the latest runs, newest first.
func (s *Store) RecentJobLogs(limit int) ([]*JobLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT id, job_name, status, records_processed, error_count, message, started_at, finished_at FROM job_logs ORDER BY started_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*JobLog
	for rows.Next() {
		jl := &JobLog{}
		if err := rows.Scan(&jl.ID, &jl.JobName, &jl.Status, &jl.RecordsProcessed,
			&jl.ErrorCount, &jl.Message, &jl.StartedAt, &jl.FinishedAt); err != nil {
			return nil, err
		}
		logs = append(logs, jl)
	}
	return logs, rows.Err()
}
