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
)

// RawPayload is an archived climate record as fetched.
type RawPayload struct {
	ID                int64
	RunID             sql.NullString
	FetchedAt         time.Time
	Source            string
	Scheme            string
	PayloadCompressed []byte
	PayloadHash       string
}

// PayloadHash is the hex sha256 used to deduplicate payloads.
func PayloadHash(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}

// StoreRawPayload stores a compressed climate payload.
// Returns the payload ID, or 0 if the payload was a duplicate (same hash).
func (s *Store) StoreRawPayload(runID, source, scheme string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	run := sql.NullString{String: runID, Valid: runID != ""}
	result, err := s.db.Exec(`
		INSERT INTO raw_payloads (run_id, fetched_at, source, scheme, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, run, time.Now().UTC(), source, scheme, buf.Bytes(), PayloadHash(payload))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
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

// GetRawPayloadByHash retrieves a payload by its hash, or nil when absent.
func (s *Store) GetRawPayloadByHash(hash string) (*RawPayload, error) {
	row := s.db.QueryRow(`
		SELECT id, run_id, fetched_at, source, scheme, payload_compressed, payload_hash
		FROM raw_payloads WHERE payload_hash = ?
	`, hash)

	var p RawPayload
	var scheme sql.NullString
	err := row.Scan(&p.ID, &p.RunID, &p.FetchedAt, &p.Source, &scheme, &p.PayloadCompressed, &p.PayloadHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Scheme = scheme.String
	return &p, nil
}

// LatestRawPayload returns the newest archived payload for a source, or nil.
// The pipeline falls back to it when a remote source is unreachable.
func (s *Store) LatestRawPayload(source string) ([]byte, error) {
	var id int64
	err := s.db.QueryRow(`
		SELECT id FROM raw_payloads WHERE source = ? ORDER BY fetched_at DESC, id DESC LIMIT 1
	`, source).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetRawPayload(id)
}

// CleanupOldRawPayloads deletes raw payloads older than the specified number of days.
// Returns the number of deleted records.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_payloads
		WHERE fetched_at < DATE('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
