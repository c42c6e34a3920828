package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"conversa/internal/ws"
)

type APIServer struct {
	server *http.Server
	logger *slog.Logger
	wg     sync.WaitGroup
}

type statsSource interface {
	Stats() (ws.Stats, error)
}

func NewAPIServer(wsServer *ws.Server, hub statsSource, addr string, logger *slog.Logger) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", HealthHandler(hub, logger))

	// WebSocket endpoint
	mux.HandleFunc("/ws", wsServer.HandleConnections)

	if addr == "" {
		addr = ":3001"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

// HealthHandler reports liveness. With ?verbose=1 it adds hub counters.
func HealthHandler(hub statsSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Status string    `json:"status"`
			Stats  *ws.Stats `json:"stats,omitempty"`
		}{Status: "ok"}

		if r.URL.Query().Get("verbose") == "1" {
			stats, err := hub.Stats()
			if err != nil {
				http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
				return
			}
			resp.Stats = &stats
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode health response", "error", err)
		}
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	s.logger.Info("relay started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
