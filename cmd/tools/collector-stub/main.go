// Command collector-stub serves the node upload endpoint on a local address
// for bench testing without the hosted collector.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/motion.report/internal/collector"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

var (
	listen   = flag.String("listen", "localhost:8090", "Listen address")
	timezone = flag.String("timezone", timeutil.DefaultTimezone, "Timezone the node timestamps are written in")
	redirect = flag.Bool("redirect", false, "Answer uploads with 302 Found like the hosted collector")
	debug    = flag.Bool("debug", true, "Mount the /debug/ endpoints")
)

func main() {
	flag.Parse()

	h, err := collector.NewHandler(collector.Options{Timezone: *timezone, Redirect: *redirect})
	if err != nil {
		log.Fatalf("failed to create collector: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/exec", h)
	if *debug {
		h.AttachAdminRoutes(mux)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr: *listen,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %s %q", r.Method, r.URL.Path)
			mux.ServeHTTP(w, r)
		}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("collector listening on http://%s/exec (redirect=%t)", *listen, *redirect)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		server.Close()
	}
}
