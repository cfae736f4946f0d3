// Command splat-report converts Gaussian-splat scenes and measures their
// volume, either one-shot from the command line or as an HTTP service.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/banshee-data/splat.report/internal/config"
	"github.com/banshee-data/splat.report/internal/db"
	"github.com/banshee-data/splat.report/internal/fsutil"
	"github.com/banshee-data/splat.report/internal/monitoring"
	"github.com/banshee-data/splat.report/internal/splat/pipeline"
	"github.com/banshee-data/splat.report/internal/version"
)

const defaultDBFile = "splat_report.db"

// errUsage is returned after usage has already been printed.
var errUsage = errors.New("usage")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			log.Printf("error: %v", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: splat-report <command> [flags] [args]

Commands:
  convert   <in.ply> [out.splat|-]        write the compact .splat encoding
  volume    [flags] <in.ply>              estimate the solid volume of a scene
  growth    [flags] <a.ply> <b.ply>       compare the volume of two scans
  serve     [flags]                       run the HTTP service
  migrate   up|down|status|force <n>      manage the measurement database
  version                                 print build information

Run 'splat-report <command> -h' for command flags.`)
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errUsage
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "convert":
		return runConvert(rest, stdout, stderr)
	case "volume":
		return runVolume(rest, stdout, stderr)
	case "growth":
		return runGrowth(rest, stdout, stderr)
	case "serve":
		return runServe(rest, stderr)
	case "migrate":
		return runMigrate(rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// commonFlags are shared by the commands that decode scenes.
type commonFlags struct {
	configPath string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Tuning config JSON file (defaults built in)")
	fs.BoolVar(&c.verbose, "v", false, "Log per-stage details")
}

// service builds the pipeline from the tuning config.
func (c *commonFlags) service() (*pipeline.Service, *config.TuningConfig, error) {
	monitoring.SetVerbose(c.verbose)
	var cfg *config.TuningConfig
	if c.configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(c.configPath)
		if err != nil {
			return nil, nil, err
		}
	}
	return pipeline.NewService(fsutil.OSFileSystem{}, pipeline.ParamsFromTuning(cfg)), cfg, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// isSet reports whether the named flag was given on the command line.
func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// checkThreshold rejects opacity thresholds outside [0, 1].
func checkThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("-threshold %v outside [0, 1]", t)
	}
	return nil
}

func runMigrate(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("migrate", stderr)
	dbPath := fs.String("db", defaultDBFile, "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		db.PrintMigrateHelp(stderr)
		return errUsage
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, stdout)
}
