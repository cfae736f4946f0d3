package pipeline

import (
	"bytes"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splat.report/internal/config"
	"github.com/banshee-data/splat.report/internal/fsutil"
	"github.com/banshee-data/splat.report/internal/monitoring"
	"github.com/banshee-data/splat.report/internal/splat/codec"
	"github.com/banshee-data/splat.report/internal/splat/scene"
	"github.com/banshee-data/splat.report/internal/splat/scene/scenetest"
)

func muteLogs(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

func newService(t *testing.T) (*Service, *fsutil.MemoryFileSystem) {
	t.Helper()
	muteLogs(t)
	mfs := fsutil.NewMemoryFileSystem()
	return NewService(mfs, DefaultParams()), mfs
}

func writeScene(t *testing.T, mfs *fsutil.MemoryFileSystem, name string, data []byte) {
	t.Helper()
	if err := mfs.WriteFile(name, data, 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := map[string]string{
		"/scans/a.ply": "/scans/a.splat",
		"scan.v2.ply":  "scan.v2.splat",
		"noext":        "noext.splat",
	}
	for in, want := range tests {
		if got := DefaultOutputPath(in); got != want {
			t.Errorf("DefaultOutputPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConvert_DefaultPathAndIdempotence(t *testing.T) {
	svc, mfs := newService(t)

	rows := scenetest.RowsFromPoints(scenetest.CubeLattice(1, 4), 1.5)
	writeScene(t, mfs, "/scans/plant.ply", scenetest.Build(rows))

	out, err := svc.Convert("/scans/plant.ply", "")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out != "/scans/plant.splat" {
		t.Errorf("output path = %q", out)
	}

	first, err := mfs.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(first) != codec.RecordSize*len(rows) {
		t.Errorf("output is %d bytes, want %d", len(first), codec.RecordSize*len(rows))
	}

	if _, err := svc.Convert("/scans/plant.ply", ""); err != nil {
		t.Fatalf("second Convert: %v", err)
	}
	second, err := mfs.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("re-running Convert changed the output")
	}
	entries, err := mfs.ReadDir("/scans")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected only the scene and its output, got %d entries", len(entries))
	}

	recs, err := codec.ReadRecords(first)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if recs[0].Rotation != [4]int8{127, 0, 0, 0} {
		t.Errorf("rotation = %v, want identity", recs[0].Rotation)
	}
}

func TestConvert_ExplicitOutput(t *testing.T) {
	svc, mfs := newService(t)
	writeScene(t, mfs, "/in/bare.ply", scenetest.BuildBare([][]float32{{1, 2, 3}, {4, 5, 6}}))

	out, err := svc.Convert("/in/bare.ply", "/out/custom.splat")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out != "/out/custom.splat" {
		t.Errorf("output path = %q", out)
	}

	data, err := mfs.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	recs, err := codec.ReadRecords(data)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[1].Position != [3]float32{4, 5, 6} {
		t.Errorf("Position = %v", recs[1].Position)
	}
	// Position-only rows take the default colour, opacity and scale.
	if recs[1].RGBA != [4]uint8{127, 127, 127, 204} {
		t.Errorf("RGBA = %v", recs[1].RGBA)
	}
	if recs[1].Scale != [3]float32{0.01, 0.01, 0.01} {
		t.Errorf("Scale = %v", recs[1].Scale)
	}
}

func TestConvert_ConcurrentSameOutput(t *testing.T) {
	muteLogs(t)
	dir := t.TempDir()
	svc := NewService(fsutil.OSFileSystem{}, DefaultParams())

	rows := scenetest.RowsFromPoints(scenetest.CubeLattice(1, 16), 1.5)
	in := filepath.Join(dir, "plant.ply")
	if err := os.WriteFile(in, scenetest.Build(rows), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "plant.splat")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Convert(in, out)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Convert: %v", err)
		}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) != codec.RecordSize*len(rows) {
		t.Errorf("published output is %d bytes, want %d", len(data), codec.RecordSize*len(rows))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestEncode_MatchesConvert(t *testing.T) {
	svc, mfs := newService(t)
	rows := scenetest.RowsFromPoints(scenetest.CubeLattice(1, 4), 1.5)
	writeScene(t, mfs, "/plant.ply", scenetest.Build(rows))

	var buf bytes.Buffer
	n, err := svc.Encode("/plant.ply", &buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n != len(rows) {
		t.Errorf("Encode wrote %d records, want %d", n, len(rows))
	}

	out, err := svc.Convert("/plant.ply", "")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want, _ := mfs.ReadFile(out)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Error("streamed encoding differs from the converted file")
	}

	if _, err := svc.Encode("/absent.ply", &buf); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestConvert_Errors(t *testing.T) {
	svc, mfs := newService(t)

	if _, err := svc.Convert("/missing.ply", ""); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing input: error = %v, want fs.ErrNotExist", err)
	}

	writeScene(t, mfs, "/zero.ply", []byte("ply\nelement vertex 0\nend_header\n"))
	_, err := svc.Convert("/zero.ply", "")
	var fe *scene.FormatError
	if !errors.As(err, &fe) || !errors.Is(err, scene.ErrMissingVertexCount) {
		t.Errorf("zero count: error = %v, want FormatError wrapping ErrMissingVertexCount", err)
	}
	if _, err := mfs.Stat("/zero.splat"); !errors.Is(err, fs.ErrNotExist) {
		t.Error("failed conversion left an output file")
	}

	writeScene(t, mfs, "/open.ply", []byte("ply\nelement vertex 3\n"))
	if _, err := svc.EstimateVolume("/open.ply", 0.2); !errors.Is(err, scene.ErrMissingEndHeader) {
		t.Errorf("open header: error = %v, want ErrMissingEndHeader", err)
	}

	// Two floats per record cannot hold a position.
	writeScene(t, mfs, "/narrow.ply", scenetest.BuildBare([][]float32{{1, 2}, {3, 4}}))
	if _, err := svc.EstimateVolume("/narrow.ply", 0.2); !errors.Is(err, scene.ErrUndeterminableLayout) {
		t.Errorf("narrow rows: error = %v, want ErrUndeterminableLayout", err)
	}
}

func TestEstimateVolume_CubeScene(t *testing.T) {
	svc, mfs := newService(t)

	rows := scenetest.RowsFromPoints(scenetest.CubeLattice(2, 21), -0.5) // logistic(-0.5) ~ 0.38
	writeScene(t, mfs, "/cube.ply", scenetest.Build(rows))

	res, err := svc.EstimateVolume("/cube.ply", 0.2)
	if err != nil {
		t.Fatalf("EstimateVolume: %v", err)
	}
	if res.Degenerate {
		t.Fatalf("unexpected degenerate result: %s", res.Reason)
	}
	if math.Abs(res.Volume-8)/8 > 0.05 {
		t.Errorf("Volume = %v, want about 8", res.Volume)
	}
	if res.Counts.Dense != len(rows) {
		t.Errorf("Dense = %d, want %d", res.Counts.Dense, len(rows))
	}

	// Above every opacity nothing survives and the result is degenerate, not an error.
	res, err = svc.EstimateVolume("/cube.ply", 0.5)
	if err != nil {
		t.Fatalf("EstimateVolume: %v", err)
	}
	if !res.Degenerate || res.Volume != 0 || res.Counts.Dense != 0 {
		t.Errorf("got %+v, want a degenerate zero-volume result", res)
	}
}

func TestCompareGrowth_ScaledSphere(t *testing.T) {
	svc, mfs := newService(t)

	base := scenetest.FibonacciSphere(1, 1500)
	grown := make([]r3.Vec, len(base))
	for i, p := range base {
		grown[i] = r3.Scale(2, p)
	}
	writeScene(t, mfs, "/w1.ply", scenetest.Build(scenetest.RowsFromPoints(base, 2)))
	writeScene(t, mfs, "/w2.ply", scenetest.Build(scenetest.RowsFromPoints(grown, 2)))

	g, err := svc.CompareGrowth("/w1.ply", "/w2.ply", 0.5)
	if err != nil {
		t.Fatalf("CompareGrowth: %v", err)
	}
	if math.Abs(g.Percentage-700) > 1e-6 {
		t.Errorf("Percentage = %v, want 700", g.Percentage)
	}
	if ratio := g.Second.Volume / g.First.Volume; math.Abs(ratio-8) > 1e-9 {
		t.Errorf("volume ratio = %v, want 8", ratio)
	}

	if _, err := svc.CompareGrowth("/w1.ply", "/absent.ply", 0.5); err == nil {
		t.Error("expected error for a missing second scan")
	}
}

func TestParamsFromTuning(t *testing.T) {
	if ParamsFromTuning(nil) != DefaultParams() {
		t.Error("nil config should yield the defaults")
	}
	if ParamsFromTuning(&config.TuningConfig{}) != DefaultParams() {
		t.Error("empty config should yield the defaults")
	}

	k, ratio, qs, auto := 8, 1.5, 100.0, true
	p := ParamsFromTuning(&config.TuningConfig{NeighborCount: &k, StdRatio: &ratio, QuaternionScale: &qs, AutoDetectLogits: &auto})
	if p.Volume.NeighborCount != 8 || p.Volume.StdRatio != 1.5 {
		t.Errorf("Volume params = %+v", p.Volume)
	}
	if p.Codec.QuaternionScale != 100 {
		t.Errorf("QuaternionScale = %v, want 100", p.Codec.QuaternionScale)
	}
	if !p.Decode.AutoDetectLogits {
		t.Error("AutoDetectLogits not applied")
	}
	if p.Decode.SHC0 != float32(scene.SHC0) {
		t.Errorf("SHC0 = %v", p.Decode.SHC0)
	}
}
