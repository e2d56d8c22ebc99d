package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jseow5177/hotrod-pool"
	"github.com/jseow5177/hotrod-pool/config"
	"github.com/jseow5177/hotrod-pool/internal/logx"
	"github.com/jseow5177/hotrod-pool/metrics"
	"github.com/jseow5177/hotrod-pool/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// application holds the cache client and exposes it over a small HTTP
// surface, mirroring the original tcp-pool demo's application struct.
type application struct {
	client *hotrodpool.Client
}

func main() {
	flags := config.ParseFlags()
	log := logx.New(nil, true)

	servers := []transport.Endpoint{{Host: flags.TcpHost, Port: flags.TcpPort}}
	cfg := config.Default("default", servers...)
	cfg.Pool.Pool.MinIdle = flags.MinIdle
	cfg.Pool.Pool.MaxTotal = flags.MaxOpen

	reg := prometheus.NewRegistry()
	client, err := hotrodpool.New(cfg, log, metrics.New(reg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build hotrod-pool client")
	}
	defer client.Close()

	app := &application{client: client}

	r := mux.NewRouter()
	r.HandleFunc("/cache/{key}", app.handleGet).Methods("GET")
	r.HandleFunc("/cache", app.handleClear).Methods("DELETE")
	r.HandleFunc("/stats", app.handleStats).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", flags.HttpHost, flags.HttpPort)
	log.Info().Str("addr", addr).Msg("http server started")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

// handleGet fetches a key's value and version from the cache and proxies
// the result back as JSON.
func (app *application) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	result, err := app.client.GetVersioned(r.Context(), []byte(key))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if result.Status != 0 {
		http.Error(w, fmt.Sprintf("server status %#x", result.Status), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":     key,
		"version": result.Version,
		"value":   string(result.Value),
	})
}

// handleClear wipes the configured cache.
func (app *application) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), cacheOpTimeout)
	defer cancel()

	status, err := app.client.Clear(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": status})
}

// handleStats exposes a point-in-time snapshot of pool occupancy.
func (app *application) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.client.Stats())
}

const cacheOpTimeout = 5 * time.Second

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
