package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/splat.report/internal/db"
	"github.com/banshee-data/splat.report/internal/splat/codec"
	"github.com/banshee-data/splat.report/internal/splat/pipeline"
	"github.com/banshee-data/splat.report/internal/splat/report"
	"github.com/banshee-data/splat.report/internal/splat/storage/sqlite"
	"github.com/banshee-data/splat.report/internal/splat/volume"
)

func runConvert(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("convert", stderr)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fmt.Fprintln(stderr, "usage: splat-report convert [flags] <in.ply> [out.splat|-]")
		return errUsage
	}
	svc, _, err := common.service()
	if err != nil {
		return err
	}

	if fs.Arg(1) == "-" {
		_, err := svc.Encode(fs.Arg(0), stdout)
		return err
	}
	out, err := svc.Convert(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	info, err := os.Stat(out)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %d splats to %s\n", info.Size()/codec.RecordSize, out)
	return nil
}

// openStore opens the measurement database when dbPath is set.
func openStore(dbPath string) (*sqlite.Store, func(), error) {
	if dbPath == "" {
		return nil, func() {}, nil
	}
	d, err := db.NewDB(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return sqlite.NewStore(d.DB), func() { d.Close() }, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printVolume(w io.Writer, file string, r volume.Result) {
	if r.Degenerate {
		fmt.Fprintf(w, "%s: degenerate (%s), volume 0\n", file, r.Reason)
	} else {
		fmt.Fprintf(w, "%s: volume %.6g\n", file, r.Volume)
	}
	fmt.Fprintf(w, "  threshold %.3g: %d splats, %d dense, %d inliers, %d hull vertices\n",
		r.Threshold, r.Counts.Input, r.Counts.Dense, r.Counts.Inliers, r.Counts.HullVertices)
	if !r.Outliers.Applied && r.Outliers.Reason != "" {
		fmt.Fprintf(w, "  outlier removal skipped: %s\n", r.Outliers.Reason)
	}
}

func runVolume(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("volume", stderr)
	var common commonFlags
	common.register(fs)
	threshold := fs.Float64("threshold", pipeline.DefaultParams().DefaultThreshold, "Opacity threshold (overrides the config default)")
	histogram := fs.String("histogram", "", "Write the neighbour distance histogram PNG to this path")
	dbPath := fs.String("db", "", "Record the measurement in this SQLite database")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: splat-report volume [flags] <in.ply>")
		return errUsage
	}
	svc, _, err := common.service()
	if err != nil {
		return err
	}
	t := svc.Params().DefaultThreshold
	if isSet(fs, "threshold") {
		t = *threshold
	}
	if err := checkThreshold(t); err != nil {
		return err
	}

	in := fs.Arg(0)
	res, err := svc.EstimateVolume(in, t)
	if err != nil {
		return err
	}

	if *histogram != "" {
		if err := writeHistogram(*histogram, in, res, svc.Params().Volume.StdRatio); err != nil {
			return err
		}
	}

	store, closeStore, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer closeStore()
	if store != nil {
		m, err := store.RecordMeasurement(context.Background(), filepath.Base(in), res)
		if err != nil {
			return fmt.Errorf("record measurement: %w", err)
		}
		if !*asJSON {
			fmt.Fprintf(stdout, "recorded measurement %s\n", m.MeasurementID)
		}
	}

	if *asJSON {
		return writeJSON(stdout, res)
	}
	printVolume(stdout, in, res)
	return nil
}

func writeHistogram(path, in string, res volume.Result, stdRatio float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = report.WriteDistanceHistogram(f, filepath.Base(in), res.Outliers, stdRatio)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("histogram: %w", err)
	}
	return nil
}

func runGrowth(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("growth", stderr)
	var common commonFlags
	common.register(fs)
	threshold := fs.Float64("threshold", 0.5, "Opacity threshold applied to both scans")
	dbPath := fs.String("db", "", "Record the comparison in this SQLite database")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "usage: splat-report growth [flags] <a.ply> <b.ply>")
		return errUsage
	}
	svc, _, err := common.service()
	if err != nil {
		return err
	}

	if err := checkThreshold(*threshold); err != nil {
		return err
	}

	a, b := fs.Arg(0), fs.Arg(1)
	g, err := svc.CompareGrowth(a, b, *threshold)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer closeStore()
	if store != nil {
		c, err := store.RecordComparison(context.Background(), filepath.Base(a), filepath.Base(b), g)
		if err != nil {
			return fmt.Errorf("record comparison: %w", err)
		}
		if !*asJSON {
			fmt.Fprintf(stdout, "recorded comparison %s\n", c.ComparisonID)
		}
	}

	if *asJSON {
		return writeJSON(stdout, g)
	}
	printVolume(stdout, a, g.First)
	printVolume(stdout, b, g.Second)
	fmt.Fprintf(stdout, "growth: %+.2f%%\n", g.Percentage)
	return nil
}
