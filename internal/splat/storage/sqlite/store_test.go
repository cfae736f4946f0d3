package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/splat.report/internal/db"
	"github.com/banshee-data/splat.report/internal/monitoring"
	"github.com/banshee-data/splat.report/internal/splat/growth"
	"github.com/banshee-data/splat.report/internal/splat/volume"
	"github.com/banshee-data/splat.report/internal/timeutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })

	d, err := db.NewDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	s := NewStore(d.DB)
	s.SetClock(timeutil.NewSteppingClock(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC), time.Second))
	return s
}

func sampleResult(v float64) volume.Result {
	return volume.Result{
		Volume:    v,
		Threshold: 0.2,
		Counts:    volume.StageCounts{Input: 100, Dense: 90, Inliers: 85, HullVertices: 30},
		Outliers:  volume.OutlierReport{Applied: true},
	}
}

func TestRecordAndListMeasurements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m1, err := s.RecordMeasurement(ctx, "a.ply", sampleResult(1.5))
	if err != nil {
		t.Fatalf("RecordMeasurement: %v", err)
	}
	if _, err := s.RecordMeasurement(ctx, "b.ply", sampleResult(2)); err != nil {
		t.Fatalf("RecordMeasurement: %v", err)
	}
	degenerate := volume.Result{Degenerate: true, Reason: "convex hull: points are coplanar", Threshold: 0.5}
	m3, err := s.RecordMeasurement(ctx, "a.ply", degenerate)
	if err != nil {
		t.Fatalf("RecordMeasurement: %v", err)
	}

	got, err := s.ListMeasurements(ctx, "a.ply", 0)
	if err != nil {
		t.Fatalf("ListMeasurements: %v", err)
	}
	if diff := cmp.Diff([]Measurement{m3, m1}, got); diff != "" {
		t.Fatalf("ListMeasurements mismatch (-want +got):\n%s", diff)
	}
	if !got[0].Degenerate || got[0].Reason != "convex hull: points are coplanar" {
		t.Errorf("degenerate row = %+v", got[0])
	}
	if got[1].InlierCount != 85 || !got[1].OutliersApplied {
		t.Errorf("stage counts not stored: %+v", got[1])
	}

	all, err := s.ListMeasurements(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListMeasurements: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("limit 2 returned %d rows", len(all))
	}
	if all[0].MeasurementID != m3.MeasurementID {
		t.Errorf("newest row = %s, want %s", all[0].MeasurementID, m3.MeasurementID)
	}
	if !all[0].CreatedAt().After(all[1].CreatedAt()) {
		t.Error("rows are not ordered newest first")
	}
}

func TestRecordComparison(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := growth.Compare(sampleResult(10), sampleResult(12))
	c, err := s.RecordComparison(ctx, "week1.ply", "week2.ply", g)
	if err != nil {
		t.Fatalf("RecordComparison: %v", err)
	}
	if c.ComparisonID == "" {
		t.Error("comparison has no ID")
	}
	if math.Abs(c.Percentage-20) > 1e-12 {
		t.Errorf("Percentage = %v, want 20", c.Percentage)
	}

	got, err := s.GetComparison(ctx, c.ComparisonID)
	if err != nil {
		t.Fatalf("GetComparison: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("GetComparison mismatch (-want +got):\n%s", diff)
	}

	list, err := s.ListComparisons(ctx, 10)
	if err != nil {
		t.Fatalf("ListComparisons: %v", err)
	}
	if len(list) != 1 || list[0].First.File != "week1.ply" || list[0].Second.File != "week2.ply" {
		t.Errorf("ListComparisons = %+v", list)
	}

	ms, err := s.ListMeasurements(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListMeasurements: %v", err)
	}
	if len(ms) != 2 {
		t.Errorf("comparison stored %d measurements, want 2", len(ms))
	}
}

func TestListComparisons_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i, pair := range [][2]string{{"w1.ply", "w2.ply"}, {"w2.ply", "w3.ply"}, {"w3.ply", "w4.ply"}} {
		c, err := s.RecordComparison(ctx, pair[0], pair[1], growth.Compare(sampleResult(float64(i+1)), sampleResult(float64(i+2))))
		if err != nil {
			t.Fatalf("RecordComparison: %v", err)
		}
		ids = append(ids, c.ComparisonID)
	}

	list, err := s.ListComparisons(ctx, 2)
	if err != nil {
		t.Fatalf("ListComparisons: %v", err)
	}
	var got []string
	for _, c := range list {
		got = append(got, c.ComparisonID)
	}
	if diff := cmp.Diff([]string{ids[2], ids[1]}, got); diff != "" {
		t.Errorf("ListComparisons order (-want +got):\n%s", diff)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetComparison(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetComparison error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetMeasurement(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMeasurement error = %v, want ErrNotFound", err)
	}
}
