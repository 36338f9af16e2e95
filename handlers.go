package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kwv/tudocam/camera"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(a *App) http.Handler {
	mux := http.NewServeMux()
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health request", zap.String("remote", r.RemoteAddr))
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			Vacuums       int       `json:"vacuums"`
			Frames        int       `json:"frames"`
			MQTTConnected bool      `json:"mqttConnected"`
		}{
			Status:        "ok",
			Timestamp:     time.Now(),
			Vacuums:       len(a.sessions),
			MQTTConnected: a.MQTTClient != nil && a.MQTTClient.IsConnected(),
		}
		for _, s := range a.sessions {
			if s.Frame() != nil {
				status.Frames++
			}
		}
		writeJSON(w, logger, status)
	})

	if a.Metrics != nil {
		mux.Handle("GET /metrics", a.Metrics.Handler())
	}

	mux.HandleFunc("GET /vacuums", func(w http.ResponseWriter, r *http.Request) {
		out := make([]camera.Status, 0, len(a.sessions))
		for _, s := range a.sessions {
			out = append(out, s.Status())
		}
		writeJSON(w, logger, out)
	})

	mux.HandleFunc("GET /vacuums/{id}/status", withSession(a, func(w http.ResponseWriter, r *http.Request, s *camera.Session) {
		writeJSON(w, logger, s.Status())
	}))

	mux.HandleFunc("GET /vacuums/{id}/map.png", withSession(a, func(w http.ResponseWriter, r *http.Request, s *camera.Session) {
		frame := s.Frame()
		if frame == nil {
			http.Error(w, "No frame available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("ETag", `"`+frame.ID+`"`)
		if err := frame.EncodePNG(w); err != nil {
			logger.Warn("encoding map PNG", zap.String("vacuum", s.VacuumID()), zap.Error(err))
		}
	}))

	mux.HandleFunc("GET /vacuums/{id}/map.svg", withSession(a, func(w http.ResponseWriter, r *http.Request, s *camera.Session) {
		snap := s.Snapshot()
		if snap == nil {
			http.Error(w, "No map available", http.StatusServiceUnavailable)
			return
		}
		vr := camera.NewVectorRenderer(s.Renderer().Options().Palette)
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := vr.RenderToSVG(w, snap); err != nil {
			logger.Warn("rendering map SVG", zap.String("vacuum", s.VacuumID()), zap.Error(err))
		}
	}))

	mux.HandleFunc("GET /vacuums/{id}/map.geojson", withSession(a, func(w http.ResponseWriter, r *http.Request, s *camera.Session) {
		snap := s.Snapshot()
		if snap == nil {
			http.Error(w, "No map available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(camera.SnapshotGeoJSON(snap, camera.DefaultPathTolerance)); err != nil {
			logger.Warn("encoding map GeoJSON", zap.String("vacuum", s.VacuumID()), zap.Error(err))
		}
	}))

	mux.HandleFunc("POST /vacuums/{id}/save", withSession(a, func(w http.ResponseWriter, r *http.Request, s *camera.Session) {
		path, err := s.SavePayload(a.Config.SnapshotDir)
		switch {
		case errors.Is(err, camera.ErrNoPayload):
			http.Error(w, "No payload received yet", http.StatusNotFound)
			return
		case err != nil:
			logger.Error("saving raw payload", zap.String("vacuum", s.VacuumID()), zap.Error(err))
			http.Error(w, "Saving payload failed", http.StatusInternalServerError)
			return
		}
		writeJSONStatus(w, logger, http.StatusCreated, map[string]string{"path": path})
	}))

	return mux
}

// withSession resolves the {id} path value to a session or answers 404
func withSession(a *App, h func(http.ResponseWriter, *http.Request, *camera.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := a.Session(r.PathValue("id"))
		if s == nil {
			http.Error(w, "Unknown vacuum", http.StatusNotFound)
			return
		}
		h(w, r, s)
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	writeJSONStatus(w, logger, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, logger *zap.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encoding JSON response", zap.Error(err))
	}
}
