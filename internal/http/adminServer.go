package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"conversa/internal/storage"
	"conversa/internal/ws"
)

// AdminServer exposes operator endpoints. It is meant to listen on a
// loopback address only.
type AdminServer struct {
	server *http.Server
	logger *slog.Logger
	wg     sync.WaitGroup
}

type roomLister interface {
	statsSource
	Rooms() ([]storage.RoomInfo, error)
	ActiveRooms() ([]ws.RoomActivity, error)
}

func NewAdminServer(hub roomLister, addr string, logger *slog.Logger) *AdminServer {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/rooms", func(w http.ResponseWriter, r *http.Request) {
		rooms, err := hub.Rooms()
		if err != nil {
			logger.Error("failed to list rooms", "error", err)
			http.Error(w, "failed to list rooms", http.StatusInternalServerError)
			return
		}
		if rooms == nil {
			rooms = []storage.RoomInfo{}
		}
		writeJSON(w, rooms, logger)
	})
	mux.HandleFunc("GET /admin/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := hub.Stats()
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		active, err := hub.ActiveRooms()
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, struct {
			ws.Stats
			ActiveRooms []ws.RoomActivity `json:"activeRooms"`
		}{stats, active}, logger)
	})

	if addr == "" {
		addr = "localhost:3002"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) Start() error {
	s.logger.Info("admin API started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

var _ roomLister = (*ws.Hub)(nil)
