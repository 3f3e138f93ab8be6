package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/talkiebox/talkie/internal/config"
	"github.com/talkiebox/talkie/internal/db"
)

// Run starts the relay hub with the given configuration and blocks until
// the context is cancelled.
func Run(ctx context.Context, cfg *config.Hub) error {
	log := slog.Default().With("component", "hub-server")

	registry, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer registry.Close()

	h := New(registry)
	go h.Sweep(ctx, time.Duration(cfg.SweepInterval)*time.Second)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/ws", h.HandleWebSocket)
	r.Get("/status", statusHandler(h))
	r.Get("/api/devices", listDevicesHandler(h, registry))
	r.Get("/api/devices/{deviceID}", getDeviceHandler(h, registry))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay hub listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func statusHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "ok",
			"connected_devices": h.ConnectedCount(),
			"timestamp":         time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// deviceView is the directory representation of a device, combining the
// durable registry row with live connection state.
type deviceView struct {
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	Online       bool      `json:"online"`
}

func listDevicesHandler(h *Hub, registry *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices, err := registry.List(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registry unavailable"})
			return
		}
		views := make([]deviceView, 0, len(devices))
		for _, d := range devices {
			views = append(views, deviceView{
				DeviceID:     d.DeviceID,
				Name:         d.Name,
				RegisteredAt: d.RegisteredAt,
				LastSeen:     d.LastSeen,
				Online:       h.IsConnected(d.DeviceID),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": views})
	}
}

func getDeviceHandler(h *Hub, registry *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "deviceID")
		d, err := registry.Get(r.Context(), deviceID)
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registry unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, deviceView{
			DeviceID:     d.DeviceID,
			Name:         d.Name,
			RegisteredAt: d.RegisteredAt,
			LastSeen:     d.LastSeen,
			Online:       h.IsConnected(d.DeviceID),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
