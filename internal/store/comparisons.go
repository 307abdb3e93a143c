package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/lox/etdemand/internal/models"
)

// Comparison is a stored comparison report.
type Comparison struct {
	ID              int64
	RunID           sql.NullString
	Model           string
	ComparedAt      time.Time
	RSquared        sql.NullFloat64 // null when undefined
	Discrepancy     float64
	TotalReference  float64
	TotalCoupled    float64
	VolumeReference float64
	VolumeCoupled   float64
	Entities        []ComparisonEntity
}

type ComparisonEntity struct {
	ProviderID      int
	ReferenceNode   int
	Steps           int
	VolumeReference float64
	VolumeCoupled   float64
}

// SaveComparison stores a comparison result and its per-entity totals.
func (s *Store) SaveComparison(runID string, res *models.ComparisonResult) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var r2 sql.NullFloat64
	if !math.IsNaN(res.RSquared) && !math.IsInf(res.RSquared, 0) {
		r2 = sql.NullFloat64{Float64: res.RSquared, Valid: true}
	}
	run := sql.NullString{String: runID, Valid: runID != ""}

	result, err := tx.Exec(`
		INSERT INTO comparisons (run_id, model, compared_at, r_squared, discrepancy,
			total_reference, total_coupled, volume_reference, volume_coupled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run, res.Model, time.Now().UTC(), r2, res.Discrepancy,
		res.TotalReference, res.TotalCoupled, res.VolumeReference, res.VolumeCoupled)
	if err != nil {
		return 0, fmt.Errorf("insert comparison: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, e := range res.Entities {
		if _, err := tx.Exec(`
			INSERT INTO comparison_entities (comparison_id, provider_id, reference_node, steps, volume_reference, volume_coupled)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, e.ProviderID, e.ReferenceNode, len(e.Reference), e.VolumeReference, e.VolumeCoupled); err != nil {
			return 0, fmt.Errorf("insert comparison entity %d: %w", e.ProviderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// RecentComparisons returns the newest comparisons for a model, newest first,
// with their entity rows. An empty model matches every model.
func (s *Store) RecentComparisons(model string, limit int) ([]Comparison, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, model, compared_at, r_squared, discrepancy,
		       total_reference, total_coupled, volume_reference, volume_coupled
		FROM comparisons
		WHERE ? = '' OR model = ?
		ORDER BY compared_at DESC, id DESC
		LIMIT ?
	`, model, model, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comparison
	for rows.Next() {
		var c Comparison
		if err := rows.Scan(&c.ID, &c.RunID, &c.Model, &c.ComparedAt, &c.RSquared, &c.Discrepancy,
			&c.TotalReference, &c.TotalCoupled, &c.VolumeReference, &c.VolumeCoupled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Entities, err = s.comparisonEntities(out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) comparisonEntities(id int64) ([]ComparisonEntity, error) {
	rows, err := s.db.Query(`
		SELECT provider_id, reference_node, steps, volume_reference, volume_coupled
		FROM comparison_entities
		WHERE comparison_id = ?
		ORDER BY provider_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ComparisonEntity
	for rows.Next() {
		var e ComparisonEntity
		if err := rows.Scan(&e.ProviderID, &e.ReferenceNode, &e.Steps, &e.VolumeReference, &e.VolumeCoupled); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
