package server

import (
	"context"
	"fmt"
	"log"

	"s3ftp/internal/auth"
	"s3ftp/internal/config"
	"s3ftp/internal/metrics"
	"s3ftp/internal/store"
	"s3ftp/internal/vfs"

	ftpserver "github.com/fclairamb/ftpserverlib"
)

// Serve wires the stores, user database and metrics from cfg and runs the
// FTP server until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config) error {
	users, err := auth.Open(ctx, cfg.Auth.Driver, cfg.Auth.Source)
	if err != nil {
		return err
	}
	defer users.Close()

	var (
		collector *metrics.Collector
		opts      []store.Option
	)
	if cfg.Metrics.Address != "" {
		collector = metrics.NewCollector()
		opts = append(opts, store.WithInstrument(collector.Wrap))
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.Address); err != nil {
				log.Printf("[metrics] %v", err)
			}
		}()
	}

	stores, err := store.New(cfg.Stores, opts...)
	if err != nil {
		return err
	}
	factory, err := vfs.NewFactory(stores, cfg.Storage.VFSOptions())
	if err != nil {
		return err
	}
	driver, err := NewDriver(cfg, users, factory, collector)
	if err != nil {
		return err
	}

	srv := ftpserver.NewFtpServer(driver)
	go func() {
		<-ctx.Done()
		if err := srv.Stop(); err != nil {
			log.Printf("[ftp] stop: %v", err)
		}
	}()

	log.Printf("[ftp] listening on %s, stores %v", cfg.Server.ListenAddr(), stores.Names())
	if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
