package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/splat.report/internal/api"
	"github.com/banshee-data/splat.report/internal/db"
	"github.com/banshee-data/splat.report/internal/splat/storage/sqlite"
)

type serveFlags struct {
	common       commonFlags
	listen       string
	scenes       string
	uploads      string
	dbPath       string
	static       string
	generatorURL string
	grpcListen   string
}

func parseServeFlags(args []string, stderr io.Writer) (*serveFlags, error) {
	f := &serveFlags{}
	fs := newFlagSet("serve", stderr)
	f.common.register(fs)
	fs.StringVar(&f.listen, "listen", ":8000", "HTTP listen address")
	fs.StringVar(&f.scenes, "scenes", "scenes", "Directory of scene files")
	fs.StringVar(&f.uploads, "uploads", "uploads", "Directory for uploaded scenes")
	fs.StringVar(&f.dbPath, "db", defaultDBFile, "SQLite measurement database (empty disables history)")
	fs.StringVar(&f.static, "static", "", "Serve a static frontend from this directory")
	fs.StringVar(&f.generatorURL, "generator-url", "", "Upstream scene generator checked by /api/health")
	fs.StringVar(&f.grpcListen, "grpc-listen", "", "gRPC health service listen address (disabled when empty)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.listen == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

func runServe(args []string, stderr io.Writer) error {
	f, err := parseServeFlags(args, stderr)
	if err != nil {
		return err
	}
	svc, tuning, err := f.common.service()
	if err != nil {
		return err
	}

	cfg := api.Config{
		Address:      f.listen,
		ScenesDir:    f.scenes,
		UploadsDir:   f.uploads,
		GeneratorURL: f.generatorURL,
		Service:      svc,
	}
	if tuning != nil {
		cfg.HealthTimeout = tuning.GetHealthTimeout()
	}
	if f.static != "" {
		if info, err := os.Stat(f.static); err == nil && info.IsDir() {
			cfg.StaticDir = f.static
		} else {
			log.Printf("[serve] static directory %s not found, frontend disabled", f.static)
		}
	}
	if f.dbPath != "" {
		database, err := db.NewDB(f.dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		cfg.DB = database
		cfg.Store = sqlite.NewStore(database.DB)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	var health *api.HealthServer
	if f.grpcListen != "" {
		lis, err := net.Listen("tcp", f.grpcListen)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		health = api.NewHealthServer()
		cfg.Health = health
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := health.Serve(ctx, lis); err != nil {
				log.Printf("[grpc] %v", err)
			}
		}()
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		stop()
		wg.Wait()
		return err
	}
	err = server.Start(ctx)
	stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Printf("[serve] timed out waiting for background routines")
	}
	return err
}
