// quarryd is the Quarry ingestion daemon. It connects to the configured
// relational store (and optionally a MinIO file store), ensures the source
// registry exists, and serves the HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quarrydev/quarry/internal/config"
	"github.com/quarrydev/quarry/internal/database"
	"github.com/quarrydev/quarry/internal/database/mysql"
	"github.com/quarrydev/quarry/internal/database/postgres"
	"github.com/quarrydev/quarry/internal/filestore"
	fsminio "github.com/quarrydev/quarry/internal/filestore/minio"
	"github.com/quarrydev/quarry/internal/ingest"
	"github.com/quarrydev/quarry/internal/logger"
	"github.com/quarrydev/quarry/internal/server"
	"github.com/quarrydev/quarry/internal/source"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New(nil).Fatal(err.Error())
	}

	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Fatal(err.Error())
	}
	defer db.Close()

	var store filestore.Store
	if cfg.Filestore.Endpoint != "" {
		fsCfg := filestore.DefaultConfig(
			cfg.Filestore.Endpoint, cfg.Filestore.AccessKey, cfg.Filestore.SecretKey)
		fsCfg.UseSSL = cfg.Filestore.UseSSL
		fsCfg.Region = cfg.Filestore.Region
		fsCfg.DefaultBucket = cfg.Filestore.Bucket

		store, err = fsminio.New(ctx, fsCfg)
		if err != nil {
			log.Fatal(err.Error())
		}
		defer store.Close()
		log.Infof("file store connected: %s", cfg.Filestore.Endpoint)
	}

	registry := ingest.NewRegistry(db)
	if err := registry.EnsureTable(ctx); err != nil {
		log.Fatal(err.Error())
	}

	pipeline := ingest.New(db, registry, source.NewLoader(), log)
	pipeline.SetBatchSize(cfg.Ingest.BatchSize)

	defaults, err := ingest.ParseDefaults(
		cfg.Ingest.Conflict, cfg.Ingest.Nullability, cfg.Ingest.Strictness)
	if err != nil {
		log.Fatal(err.Error())
	}

	srv := server.New(db, store, cfg.Filestore.Bucket, registry, pipeline, defaults, log)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err.Error())
			os.Exit(1)
		}
	}
}

// openDatabase builds the driver named in the config.
func openDatabase(ctx context.Context, cfg *config.Config) (database.DB, error) {
	dbCfg := database.DefaultConfig(cfg.Database.DSN)
	dbCfg.Driver = database.Driver(cfg.Database.Driver)
	if cfg.Database.MaxConns > 0 {
		dbCfg.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.MinConns > 0 {
		dbCfg.MinConns = cfg.Database.MinConns
	}

	switch dbCfg.Driver {
	case database.DriverMySQL:
		return mysql.New(ctx, dbCfg)
	default:
		return postgres.New(ctx, dbCfg)
	}
}
