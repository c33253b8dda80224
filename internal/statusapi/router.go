package statusapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vitaliisemenov/guard/internal/registry"
)

// RouterConfig wires the status API's dependencies.
type RouterConfig struct {
	Store    registry.Store
	Hub      *Hub
	Gatherer prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Logger   *slog.Logger
}

// NewRouter builds the status API's route table.
//
// Middleware order: request ID, then structured logging, applied to every
// route; the stream route carries no additional middleware since the
// WebSocket upgrade bypasses the usual response-writer lifecycle.
//
// @title guard status API
// @version 1.0
// @description Read-only view over a running or completed Istio upgrade batch
// @BasePath /api/v1
func NewRouter(config RouterConfig) *mux.Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(config.Logger))

	router.HandleFunc("/healthz", handleHealthz).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	batches := v1.PathPrefix("/batches/{batch_id}").Subrouter()
	batches.HandleFunc("", handleBatchSnapshot(config.Store)).Methods("GET")
	if config.Hub != nil {
		batches.HandleFunc("/stream", handleStream(config.Hub)).Methods("GET")
	}

	router.PathPrefix("/swagger").Handler(httpSwagger.WrapHandler)

	return router
}

// handleStream adapts Hub.HandleStream to the mux path variable holding
// the batch ID a client wants to subscribe to.
func handleStream(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := mux.Vars(r)["batch_id"]
		hub.HandleStream(batchID)(w, r)
	}
}
