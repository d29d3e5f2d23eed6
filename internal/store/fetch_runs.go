package store

import (
	"database/sql"
	"time"
)

// FetchRun records a single archive fetch for auditing.
type FetchRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	RequestKey        string
	Granularity       string
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	Attempts          sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartFetchRun creates a new fetch run record and returns it.
func (s *Store) StartFetchRun(requestKey, granularity string) (*FetchRun, error) {
	run := &FetchRun{
		StartedAt:   time.Now().UTC(),
		RequestKey:  requestKey,
		Granularity: granularity,
	}

	result, err := s.db.Exec(`
		INSERT INTO fetch_runs (started_at, request_key, granularity, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.RequestKey, run.Granularity)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteFetchRun updates the fetch run with its outcome.
func (s *Store) CompleteFetchRun(run *FetchRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE fetch_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			attempts = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.RecordsParsed,
		run.Attempts, run.Success, run.ErrorMessage, run.ID)
	return err
}

// FetchHealthSummary aggregates fetch runs for one day and granularity.
type FetchHealthSummary struct {
	Date          string
	Granularity   string
	TotalRuns     int
	SuccessRuns   int
	FailedRuns    int
	TotalRecords  int64
	TotalAttempts int64
}

// GetFetchHealth returns daily fetch summaries for the last N days.
func (s *Store) GetFetchHealth(days int) ([]FetchHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			granularity,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(records_parsed), 0) as total_records,
			COALESCE(SUM(attempts), 0) as total_attempts
		FROM fetch_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, granularity
		ORDER BY date DESC, granularity
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchHealthSummary
	for rows.Next() {
		var h FetchHealthSummary
		if err := rows.Scan(&h.Date, &h.Granularity, &h.TotalRuns, &h.SuccessRuns,
			&h.FailedRuns, &h.TotalRecords, &h.TotalAttempts); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentFetchErrors returns the most recent failed fetch runs.
func (s *Store) GetRecentFetchErrors(limit int) ([]FetchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, request_key, granularity,
			   http_status, response_size_bytes, records_parsed, attempts,
			   success, error_message
		FROM fetch_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchRun
	for rows.Next() {
		var r FetchRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.RequestKey, &r.Granularity,
			&r.HTTPStatus, &r.ResponseSizeBytes, &r.RecordsParsed, &r.Attempts,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
