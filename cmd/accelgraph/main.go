package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"accelgraph/internal/config"
	"accelgraph/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./accelgraph.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(cfg.Log.BufferLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, configPath, logs)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("accelgraph starting")
	log.Printf("source=%s listen=%s", cfg.Source.Kind, cfg.Web.Listen)

	if err := web.Serve(ctx, cfg.Web.Listen, rt.Deps()); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("web server stopped: %v", err)
		cancel()
	}
	log.Printf("accelgraph stopping")
}
