// Command server runs the memoria HTTP API: submit memory, agent drop,
// inbox review, retrieval search, and the SSE event stream. Grounded on
// the teacher's cmd/webui/main.go ServeMux + graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"memoria/internal/bootstrap"
	"memoria/internal/config"
	"memoria/internal/httpapi"
	"memoria/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Log.WithError(err).Fatal("loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		logging.Log.WithError(err).Fatal("wiring services")
	}
	defer svc.Close()

	server := httpapi.NewServer(svc.Store, svc.VectorStore, svc.Pipeline, svc.Planner, svc.Notifier, svc.Queue)

	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	httpSrv := &http.Server{Addr: addr, Handler: server}

	go func() {
		logging.Log.WithField("addr", addr).Info("memoria server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("listen failed")
		}
	}()

	<-ctx.Done()
	logging.Log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Log.WithError(err).Warn("graceful shutdown failed")
	} else {
		logging.Log.Info("memoria server stopped")
	}
}
