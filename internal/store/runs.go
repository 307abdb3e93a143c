package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run is one pipeline stage execution, kept for auditing.
type Run struct {
	ID           string
	Model        string
	Stage        string // "build", "run", "compare"
	Workspace    string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Success      bool
	ErrorKind    sql.NullString
	ErrorMessage sql.NullString
}

// StartRun records the start of a stage and returns it.
func (s *Store) StartRun(model, stage, workspace string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Model:     model,
		Stage:     stage,
		Workspace: workspace,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, model, stage, workspace, started_at, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.ID, run.Model, run.Stage, run.Workspace, run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteRun marks the run finished. A nil err marks it successful; kind
// labels the failure otherwise.
func (s *Store) CompleteRun(run *Run, err error, kind string) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.Success = err == nil
	if err != nil {
		run.ErrorKind = sql.NullString{String: kind, Valid: kind != ""}
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}

	_, dbErr := s.db.Exec(`
		UPDATE runs SET
			finished_at = ?,
			success = ?,
			error_kind = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Success, run.ErrorKind, run.ErrorMessage, run.ID)
	return dbErr
}

// RecentRuns returns the newest runs for a model, newest first. An empty
// model matches every model.
func (s *Store) RecentRuns(model string, limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, model, stage, workspace, started_at, finished_at, success, error_kind, error_message
		FROM runs
		WHERE ? = '' OR model = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, model, model, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var workspace sql.NullString
		if err := rows.Scan(&r.ID, &r.Model, &r.Stage, &workspace, &r.StartedAt, &r.FinishedAt,
			&r.Success, &r.ErrorKind, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.Workspace = workspace.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
