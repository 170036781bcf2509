// Package serve implements the serve command.
package serve

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"s3ftp/internal/config"
	"s3ftp/internal/server"
)

type Flags struct {
	Config string
}

func Run(flags Flags) {
	cfg, err := config.Load(flags.Config)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Serve(ctx, cfg); err != nil {
		log.Fatal(err)
	}
	log.Println("[ftp] stopped")
}
