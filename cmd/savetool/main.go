// Package main provides the save-database operator command.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/shawndeggans/space-fortress/internal/platform/cmd"
	"github.com/shawndeggans/space-fortress/internal/platform/config"
	"github.com/shawndeggans/space-fortress/internal/tools/savetool"
)

func main() {
	cfg, err := savetool.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	err = cmd.RunWithTelemetry(ctx, cmd.ServiceSavetool, func(ctx context.Context) error {
		return savetool.Run(ctx, cfg, os.Stdout, os.Stderr)
	})
	if err != nil {
		config.Exitf("Error: %v", err)
	}
}
