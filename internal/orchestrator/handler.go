package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the control surface over HTTP using go-chi: the ingest
// lifecycle hooks, the forwarding control endpoint, recordings, and the live
// metrics listing.
type Handler struct {
	svc           *Service
	recordingsDir string
	log           *slog.Logger
}

// NewHandler returns a Handler delegating to svc and serving recordings from
// recordingsDir.
func NewHandler(svc *Service, recordingsDir string, log *slog.Logger) *Handler {
	return &Handler{svc: svc, recordingsDir: recordingsDir, log: log}
}

type hookRequest struct {
	StreamPath string `json:"streamPath"`
}

type forwardRequest struct {
	Action         string `json:"action"`
	SourceKey      string `json:"sourceKey"`
	DestinationURL string `json:"destinationUrl"`
	DestinationKey string `json:"destinationKey"`
	DestinationID  int    `json:"destinationId"`
}

// PublishStart handles POST /hooks/publish, the ingest "publish begins"
// callback. Body: { "streamPath": "/live/cam1" }. A duplicate event is
// acknowledged without creating a second session.
func (h *Handler) PublishStart(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StreamPath == "" {
		writeError(w, http.StatusBadRequest, "streamPath required")
		return
	}

	if err := h.svc.HandlePublishStart(StreamPath(req.StreamPath)); err != nil && !errors.Is(err, ErrSessionExists) {
		h.log.Error("publish hook failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PublishDone handles POST /hooks/publish_done, the ingest "publish ends"
// callback. Duplicate events are no-ops.
func (h *Handler) PublishDone(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StreamPath == "" {
		writeError(w, http.StatusBadRequest, "streamPath required")
		return
	}

	h.svc.HandlePublishDone(StreamPath(req.StreamPath))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Forward handles POST /api/forward: starting or stopping a relay for a
// (sourceKey, destinationId) pair.
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	path := StreamPath("/live/" + req.SourceKey)

	var err error
	switch req.Action {
	case "start":
		err = h.svc.StartForward(path, req.DestinationID, req.DestinationURL, req.DestinationKey)
	case "stop":
		err = h.svc.StopForward(path, req.DestinationID)
	default:
		writeError(w, http.StatusBadRequest, ErrInvalidAction.Error())
		return
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, ErrSessionNotFound.Error())
	case errors.Is(err, ErrAlreadyForwarding):
		writeError(w, http.StatusBadRequest, ErrAlreadyForwarding.Error())
	case errors.Is(err, ErrNotForwarding):
		writeError(w, http.StatusNotFound, ErrNotForwarding.Error())
	default:
		h.log.Error("forward request failed",
			slog.String("action", req.Action),
			slog.String("source_key", req.SourceKey),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start forwarding")
	}
}

// ListRecordings handles GET /api/recordings.
func (h *Handler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.recordingsDir)
	if err != nil {
		h.log.Error("read recordings directory", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read recordings directory")
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	writeJSON(w, http.StatusOK, names)
}

// DownloadRecording handles GET /api/recordings/{filename}.
func (h *Handler) DownloadRecording(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != filepath.Base(filename) {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	path := filepath.Join(h.recordingsDir, filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	http.ServeFile(w, r, path)
}

// ListMetrics handles GET /api/metrics: the latest metric snapshot of every
// live session.
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.LatestMetrics())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
