// Command hostplaned runs the tenant script host: one shared gateway port
// in front of per-tenant script instances, configured entirely through
// HOSTPLANE_* environment variables.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	hostplane "github.com/cryguy/hostplane"
)

func main() {
	cfg := hostplane.ConfigFromEnv()

	srv, err := hostplane.NewServer(cfg)
	if err != nil {
		log.Fatalf("hostplaned: %v", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("hostplaned: listening on %s: %v", cfg.ListenAddr, err)
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("hostplaned: gateway listening at http://%s", cfg.ListenAddr)
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("hostplaned: serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("hostplaned: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("hostplaned: gateway shutdown: %v", err)
	}
	if err := srv.Close(); err != nil {
		log.Printf("hostplaned: close: %v", err)
	}
}
