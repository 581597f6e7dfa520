package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tonecrate/internal/auth"
	"tonecrate/internal/library"
	"tonecrate/internal/observability/logging"
	"tonecrate/internal/observability/metrics"
	"tonecrate/internal/stream"
)

const defaultRealm = "Tonecrate"

// Handler wires the folder library, the authentication gate, and the media
// streamer to the HTTP surface.
type Handler struct {
	Library             *library.Library
	Gate                *auth.Gate
	Sessions            *auth.SessionManager
	Streamer            *stream.Streamer
	Logger              *slog.Logger
	Realm               string
	SessionCookiePolicy SessionCookiePolicy
	Metrics             *metrics.Recorder
}

func NewHandler(lib *library.Library, sessions *auth.SessionManager, logger *slog.Logger) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Library:  lib,
		Gate:     auth.NewGate(lib, sessions),
		Sessions: sessions,
		Streamer: stream.New(logger),
		Logger:   logger,
	}
}

func (h *Handler) realm() string {
	if realm := strings.TrimSpace(h.Realm); realm != "" {
		return realm
	}
	return defaultRealm
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

// Health reports gateway liveness and session store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	sessions := "ok"
	if h.Sessions != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Sessions.Ping(ctx); err != nil {
			status = "degraded"
			sessions = "unreachable"
		}
	}
	h.metrics().SetSessionStoreHealth("sessions", sessions)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"folders":  h.Library.Len(),
		"sessions": sessions,
	})
}

type folderListResponse struct {
	Folders []string `json:"folders"`
}

type trackResponse struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
	URL       string `json:"url"`
}

type folderResponse struct {
	Folder string          `json:"folder"`
	Tracks []trackResponse `json:"tracks"`
}

// Resources lists the configured folder names. Enumeration is public; only
// file access is credential-gated.
func (h *Handler) Resources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	names := h.Library.Names()
	library.Sort(names)
	writeJSON(w, http.StatusOK, folderListResponse{Folders: names})
}

// ResourceByName routes /resources/{name}, /resources/{name}/logout, and
// /resources/{name}/files/{path}.
func (h *Handler) ResourceByName(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/resources/")
	parts := strings.SplitN(strings.Trim(trimmed, "/"), "/", 3)
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("folder name missing"))
		return
	}
	name := parts[0]

	if len(parts) == 1 {
		h.listFolder(w, r, name)
		return
	}

	switch parts[1] {
	case "logout":
		if len(parts) == 2 {
			h.logout(w, r, name)
			return
		}
	case "files":
		if len(parts) == 3 && parts[2] != "" {
			h.streamFile(w, r, name, parts[2])
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown resource path"))
}

func (h *Handler) listFolder(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	descriptor, ok := h.authorize(w, r, name)
	if !ok {
		return
	}

	tracks, err := stream.ListTracks(descriptor.Root)
	if err != nil {
		h.logger(r).Error("list folder tracks", "folder", name, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("unable to list folder"))
		return
	}
	names := make([]string, 0, len(tracks))
	sizes := make(map[string]int64, len(tracks))
	for _, track := range tracks {
		names = append(names, track.Name)
		sizes[track.Name] = track.Size
	}
	library.Sort(names)

	response := folderResponse{Folder: name, Tracks: make([]trackResponse, 0, len(names))}
	for _, trackName := range names {
		response.Tracks = append(response.Tracks, trackResponse{
			Name:      trackName,
			SizeBytes: sizes[trackName],
			URL:       fmt.Sprintf("/resources/%s/files/%s", url.PathEscape(name), url.PathEscape(trackName)),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if token := SessionToken(r); token != "" {
		if err := h.Gate.Forget(name, token); err != nil {
			h.logger(r).Error("forget folder session", "folder", name, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Errorf("unable to log out"))
			return
		}
	}
	// Unknown folders and absent sessions still acknowledge.
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "folder": name})
}

func (h *Handler) streamFile(w http.ResponseWriter, r *http.Request, name, relPath string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	descriptor, ok := h.authorize(w, r, name)
	if !ok {
		return
	}

	file, err := h.Streamer.Open(descriptor.Root, relPath)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrAccessDenied):
			h.logger(r).Warn("media path escapes folder root", "folder", name)
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
		case errors.Is(err, stream.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		default:
			h.logger(r).Error("open media file", "folder", name, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Errorf("unable to stream file"))
		}
		return
	}
	defer file.Close()

	recorder := h.metrics()
	recorder.TransferStarted()
	result := h.Streamer.ServeFile(w, r, file)
	recorder.TransferFinished(string(result.Outcome), result.BytesSent)
}

// authorize runs the authentication gate for the named folder and converts
// its decision to an HTTP response when access is not granted. On success it
// refreshes the session cookie and returns the folder descriptor.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, name string) (library.Descriptor, bool) {
	token := SessionToken(r)
	result, err := h.Gate.Authenticate(name, token, r.Header.Get("Authorization"))
	if err != nil {
		h.logger(r).Error("authenticate folder request", "folder", name, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("authentication unavailable"))
		return library.Descriptor{}, false
	}
	h.metrics().ObserveAuthDecision(result.Decision.String())

	switch result.Decision {
	case auth.DecisionAllow:
		if result.Token != "" && result.Token != token {
			h.setSessionCookie(w, r, result.Token, result.Expires)
		}
		descriptor, ok := h.Library.Resolve(name)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
			return library.Descriptor{}, false
		}
		return descriptor, true
	case auth.DecisionChallenge:
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", h.realm()))
		writeError(w, http.StatusUnauthorized, errors.New(result.Message))
		return library.Descriptor{}, false
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return library.Descriptor{}, false
	}
}

func (h *Handler) logger(r *http.Request) *slog.Logger {
	if ctxLogger := logging.LoggerFromContext(r.Context()); ctxLogger != nil {
		return ctxLogger
	}
	base := h.Logger
	if base == nil {
		base = slog.Default()
	}
	return logging.WithContext(r.Context(), base)
}
