package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// startAPIServer serves the browser control panel API. The panel is a
// static page on another origin, so every response carries CORS headers.
func (r *Radar) startAPIServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/mark_threat", r.handleMarkThreat)
	mux.HandleFunc("/stop_tracking", r.handleStopTracking)
	mux.HandleFunc("/status", r.handleStatus)

	r.apiServer = &http.Server{
		Addr:         r.cfg.API.Listen,
		Handler:      withCORS(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting control api",
		"listen", r.cfg.API.Listen,
		"endpoints", []string{"/mark_threat", "/stop_tracking", "/status"},
	)

	go func() {
		if err := r.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control api server failed", "error", err)
		}
	}()
}

// withCORS answers preflights and stamps the headers the panel expects
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, req)
	})
}

func (r *Radar) handleMarkThreat(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.markThreat())
}

func (r *Radar) handleStopTracking(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.stopTracking())
}

func (r *Radar) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, r.tracker.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
