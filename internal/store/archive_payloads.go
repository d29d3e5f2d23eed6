package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/lox/wandiforecast/internal/models"
)

// ArchiveRequest identifies one archive query.
type ArchiveRequest struct {
	Key         string
	Location    models.Location
	Start       time.Time
	End         time.Time
	Granularity models.Granularity
}

// ArchivePayload describes a stored archive response without its body.
type ArchivePayload struct {
	RequestKey  string
	Latitude    float64
	Longitude   float64
	StartDate   string
	EndDate     string
	Granularity string
	FetchedAt   time.Time
	PayloadHash string
}

// PutArchivePayload stores a gzip-compressed response body for req,
// replacing any earlier payload for the same key.
func (s *Store) PutArchivePayload(req ArchiveRequest, payload []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)

	_, err := s.db.Exec(`
		INSERT INTO archive_payloads
		(request_key, latitude, longitude, start_date, end_date, granularity,
		 fetched_at, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_key) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			payload_compressed = excluded.payload_compressed,
			payload_hash = excluded.payload_hash
	`, req.Key, req.Location.Latitude, req.Location.Longitude,
		req.Start.Format(models.DateLayout), req.End.Format(models.DateLayout),
		string(req.Granularity), time.Now().UTC(), buf.Bytes(), hex.EncodeToString(hash[:]))
	if err != nil {
		return fmt.Errorf("insert archive payload: %w", err)
	}
	return nil
}

// GetArchivePayload returns the decompressed payload stored under key, or
// nil if there is none.
func (s *Store) GetArchivePayload(key string) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM archive_payloads WHERE request_key = ?`, key).
		Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// GetArchivePayloadMeta returns the stored metadata for key, or nil.
func (s *Store) GetArchivePayloadMeta(key string) (*ArchivePayload, error) {
	row := s.db.QueryRow(`
		SELECT request_key, latitude, longitude, start_date, end_date, granularity,
		       fetched_at, payload_hash
		FROM archive_payloads WHERE request_key = ?
	`, key)

	var p ArchivePayload
	err := row.Scan(&p.RequestKey, &p.Latitude, &p.Longitude, &p.StartDate, &p.EndDate,
		&p.Granularity, &p.FetchedAt, &p.PayloadHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PayloadStats contains storage statistics for archive payloads.
type PayloadStats struct {
	TotalCount         int
	TotalSizeBytes     int64
	OldestFetchedAt    time.Time
	NewestFetchedAt    time.Time
	CountByGranularity map[string]int
}

// GetPayloadStats returns storage statistics for archive payloads.
func (s *Store) GetPayloadStats() (*PayloadStats, error) {
	stats := &PayloadStats{CountByGranularity: make(map[string]int)}

	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0),
		       MIN(fetched_at), MAX(fetched_at)
		FROM archive_payloads
	`)
	var oldest, newest sql.NullString
	if err := row.Scan(&stats.TotalCount, &stats.TotalSizeBytes, &oldest, &newest); err != nil {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestFetchedAt = parseSQLiteTime(oldest.String)
	}
	if newest.Valid {
		stats.NewestFetchedAt = parseSQLiteTime(newest.String)
	}

	rows, err := s.db.Query(`SELECT granularity, COUNT(*) FROM archive_payloads GROUP BY granularity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var g string
		var count int
		if err := rows.Scan(&g, &count); err != nil {
			return nil, err
		}
		stats.CountByGranularity[g] = count
	}
	return stats, rows.Err()
}

// CleanupOldArchivePayloads deletes payloads fetched more than retentionDays
// ago and returns the number removed.
func (s *Store) CleanupOldArchivePayloads(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM archive_payloads
		WHERE fetched_at < DATE('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
