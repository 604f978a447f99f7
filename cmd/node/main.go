package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the node configuration file")
	devMode     = flag.Bool("dev", false, "Run with a synthetic sensor and no power hardware")
	debugListen = flag.String("debug-listen", "localhost:8091", "Listen address for the debug endpoints (empty to disable)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("--- %s starting as %s ---", version.String(), cfg.GetDeviceID())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := newNode(ctx, cfg, *devMode)
	if err != nil {
		log.Fatalf("failed to set up node: %v", err)
	}
	defer node.Close()

	var wg sync.WaitGroup

	if node.queue != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := node.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("upload queue stopped: %v", err)
			}
			log.Print("upload routine terminated")
		}()
	}

	if *debugListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(ctx, *debugListen, node.debugMux())
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := node.pipeline.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("pipeline stopped: %v", err)
		}
		log.Print("pipeline routine terminated")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func serveDebug(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		server.Close()
	}
}
