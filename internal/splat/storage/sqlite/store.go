// Package sqlite persists volume measurements and growth comparisons.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/splat.report/internal/splat/growth"
	"github.com/banshee-data/splat.report/internal/splat/volume"
	"github.com/banshee-data/splat.report/internal/timeutil"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Measurement is one stored volume estimate.
type Measurement struct {
	MeasurementID   string  `json:"measurement_id"`
	File            string  `json:"file"`
	Threshold       float64 `json:"threshold"`
	Volume          float64 `json:"volume"`
	Degenerate      bool    `json:"degenerate"`
	Reason          string  `json:"reason,omitempty"`
	InputCount      int     `json:"input_count"`
	DenseCount      int     `json:"dense_count"`
	InlierCount     int     `json:"inlier_count"`
	HullVertices    int     `json:"hull_vertices"`
	OutliersApplied bool    `json:"outliers_applied"`
	CreatedAtNanos  int64   `json:"created_at_ns"`
}

// CreatedAt returns the creation time.
func (m Measurement) CreatedAt() time.Time { return time.Unix(0, m.CreatedAtNanos) }

// Comparison is one stored growth comparison with both of its measurements.
type Comparison struct {
	ComparisonID   string      `json:"comparison_id"`
	First          Measurement `json:"first"`
	Second         Measurement `json:"second"`
	Percentage     float64     `json:"growth_percentage"`
	CreatedAtNanos int64       `json:"created_at_ns"`
}

// Store reads and writes the measurements and growth_comparisons tables.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewStore returns a Store over a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the source of created_at timestamps.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertMeasurement(ctx context.Context, ex execer, file string, r volume.Result) (Measurement, error) {
	m := Measurement{
		MeasurementID:   uuid.New().String(),
		File:            file,
		Threshold:       r.Threshold,
		Volume:          r.Volume,
		Degenerate:      r.Degenerate,
		Reason:          r.Reason,
		InputCount:      r.Counts.Input,
		DenseCount:      r.Counts.Dense,
		InlierCount:     r.Counts.Inliers,
		HullVertices:    r.Counts.HullVertices,
		OutliersApplied: r.Outliers.Applied,
		CreatedAtNanos:  s.clock.Now().UnixNano(),
	}
	var reason interface{}
	if m.Reason != "" {
		reason = m.Reason
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO measurements (
			measurement_id, file, threshold, volume, degenerate, reason,
			input_count, dense_count, inlier_count, hull_vertices,
			outliers_applied, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MeasurementID, m.File, m.Threshold, m.Volume, m.Degenerate, reason,
		m.InputCount, m.DenseCount, m.InlierCount, m.HullVertices,
		m.OutliersApplied, m.CreatedAtNanos,
	)
	if err != nil {
		return Measurement{}, fmt.Errorf("insert measurement: %w", err)
	}
	return m, nil
}

// RecordMeasurement stores r as a measurement of file.
func (s *Store) RecordMeasurement(ctx context.Context, file string, r volume.Result) (Measurement, error) {
	return s.insertMeasurement(ctx, s.db, file, r)
}

// RecordComparison stores both measurements of g and the comparison linking
// them in one transaction.
func (s *Store) RecordComparison(ctx context.Context, fileA, fileB string, g growth.Result) (Comparison, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Comparison{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	first, err := s.insertMeasurement(ctx, tx, fileA, g.First)
	if err != nil {
		return Comparison{}, err
	}
	second, err := s.insertMeasurement(ctx, tx, fileB, g.Second)
	if err != nil {
		return Comparison{}, err
	}
	c := Comparison{
		ComparisonID:   uuid.New().String(),
		First:          first,
		Second:         second,
		Percentage:     g.Percentage,
		CreatedAtNanos: s.clock.Now().UnixNano(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO growth_comparisons (comparison_id, first_id, second_id, percentage, created_at_ns)
		VALUES (?, ?, ?, ?, ?)`,
		c.ComparisonID, first.MeasurementID, second.MeasurementID, c.Percentage, c.CreatedAtNanos,
	); err != nil {
		return Comparison{}, fmt.Errorf("insert comparison: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Comparison{}, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

const measurementColumns = `measurement_id, file, threshold, volume, degenerate, reason,
	input_count, dense_count, inlier_count, hull_vertices, outliers_applied, created_at_ns`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMeasurement(row scanner) (Measurement, error) {
	var m Measurement
	var reason sql.NullString
	err := row.Scan(&m.MeasurementID, &m.File, &m.Threshold, &m.Volume, &m.Degenerate, &reason,
		&m.InputCount, &m.DenseCount, &m.InlierCount, &m.HullVertices, &m.OutliersApplied, &m.CreatedAtNanos)
	if err != nil {
		return Measurement{}, err
	}
	m.Reason = reason.String
	return m, nil
}

// ListMeasurements returns up to limit measurements, newest first. An empty
// file lists all files; limit <= 0 means no limit.
func (s *Store) ListMeasurements(ctx context.Context, file string, limit int) ([]Measurement, error) {
	var (
		where []string
		args  []interface{}
	)
	if file != "" {
		where = append(where, "file = ?")
		args = append(args, file)
	}
	q := "SELECT " + measurementColumns + " FROM measurements"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at_ns DESC, rowid DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMeasurement returns the measurement with the given ID.
func (s *Store) GetMeasurement(ctx context.Context, id string) (Measurement, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+measurementColumns+" FROM measurements WHERE measurement_id = ?", id)
	m, err := scanMeasurement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Measurement{}, fmt.Errorf("measurement %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Measurement{}, fmt.Errorf("get measurement: %w", err)
	}
	return m, nil
}

// GetComparison returns the comparison with the given ID.
func (s *Store) GetComparison(ctx context.Context, id string) (Comparison, error) {
	var c Comparison
	var firstID, secondID string
	err := s.db.QueryRowContext(ctx, `
		SELECT comparison_id, first_id, second_id, percentage, created_at_ns
		FROM growth_comparisons WHERE comparison_id = ?`, id,
	).Scan(&c.ComparisonID, &firstID, &secondID, &c.Percentage, &c.CreatedAtNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return Comparison{}, fmt.Errorf("comparison %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Comparison{}, fmt.Errorf("get comparison: %w", err)
	}
	if c.First, err = s.GetMeasurement(ctx, firstID); err != nil {
		return Comparison{}, err
	}
	if c.Second, err = s.GetMeasurement(ctx, secondID); err != nil {
		return Comparison{}, err
	}
	return c, nil
}

// ListComparisons returns up to limit comparisons, newest first.
func (s *Store) ListComparisons(ctx context.Context, limit int) ([]Comparison, error) {
	q := `SELECT comparison_id FROM growth_comparisons ORDER BY created_at_ns DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query comparisons: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan comparison: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Comparison, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetComparison(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
