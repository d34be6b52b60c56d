// Command ingestd is the telemetry ingest daemon: the server-mode
// counterpart to the client SDK's local/server transport. It exposes the
// authenticated POST /api/events batch endpoint, a GET /health check, and a
// Prometheus /metrics scrape endpoint, backed by a sqlite Event Store.
//
// Usage:
//
//	./ingestd -config ingestd.json
//
//	BILAN_LISTEN_ADDR=:9090 BILAN_API_KEY=secret ./ingestd
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bilan/internal/config"
	"bilan/internal/ingest"
	"bilan/internal/logger"
	"bilan/internal/metrics"
	"bilan/internal/query"
	"bilan/internal/store"
)

func main() {
	configFile := flag.String("config", "", "path to a JSON config file")
	flag.Parse()

	cfg := config.LoadServerConfig(*configFile)

	log := logger.New("INGESTD", cfg.LogLevel)
	log.Infof("startup", "environment=%s listen=%s rawSQL=%v", cfg.Environment, cfg.ListenAddr, cfg.AllowRawSQL())

	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		log.Fatalf("startup", "failed to register metrics: %v", err)
	}

	st, err := store.Open(cfg.SQLitePath, cfg.AllowRawSQL())
	if err != nil {
		log.Fatalf("startup", "failed to open event store at %s: %v", cfg.SQLitePath, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorf("shutdown", "store close error: %v", err)
		}
	}()

	q := query.New(st.DB(), 512)

	ingestServer := ingest.New(st, q, m, log, cfg.APIKey, cfg.BatchCap)

	mux := http.NewServeMux()
	mux.Handle("/", ingestServer.Handler(cfg.CORSOrigins))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown", "signal received, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("shutdown", "shutdown error: %v", err)
		}
	}()

	log.Infof("startup", "listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("startup", "fatal: %v", err)
	}

	fmt.Fprintln(os.Stderr, "ingestd: shutdown complete")
}
