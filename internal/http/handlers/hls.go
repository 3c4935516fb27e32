package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/castarr/castarr/internal/engine"
	"github.com/castarr/castarr/internal/models"
	"github.com/castarr/castarr/internal/repository"
)

// HLSHandler serves playlist and segment requests. These routes bypass the
// JSON API framework: they stream raw media bytes and enforce the
// per-channel token before anything touches the filesystem.
type HLSHandler struct {
	channels   repository.ChannelRepository
	supervisor *engine.Supervisor
	store      *engine.SegmentStore
	sessions   *engine.SessionTracker
	logger     *slog.Logger
}

// NewHLSHandler creates a new HLS handler.
func NewHLSHandler(channels repository.ChannelRepository, supervisor *engine.Supervisor, store *engine.SegmentStore, sessions *engine.SessionTracker, logger *slog.Logger) *HLSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HLSHandler{
		channels:   channels,
		supervisor: supervisor,
		store:      store,
		sessions:   sessions,
		logger:     logger,
	}
}

// Register registers the HLS routes on the router.
func (h *HLSHandler) Register(router chi.Router) {
	router.Get("/streams/{id}/hls/playlist.m3u8", h.ServePlaylist)
	router.Get("/streams/{id}/hls/{segment}", h.ServeSegment)
}

// authorize validates the channel ID and token of a playback request.
// No media bytes leave before this check passes.
func (h *HLSHandler) authorize(w http.ResponseWriter, r *http.Request) (*models.Channel, bool) {
	id, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid channel ID", http.StatusBadRequest)
		return nil, false
	}

	ch, err := h.channels.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load channel for playback",
			slog.String("channel_id", id.String()),
			slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	if ch == nil {
		http.Error(w, "channel not found", http.StatusNotFound)
		return nil, false
	}

	token := r.URL.Query().Get("token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(ch.Token)) != 1 {
		http.Error(w, models.ErrInvalidToken.Error(), http.StatusUnauthorized)
		return nil, false
	}

	if !h.supervisor.Running(ch.ID) {
		http.Error(w, models.ErrChannelOffline.Error(), http.StatusConflict)
		return nil, false
	}
	return ch, true
}

// ServePlaylist serves the channel's media playlist with the access token
// propagated onto every segment URI.
func (h *HLSHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.authorize(w, r)
	if !ok {
		return
	}

	sess := h.sessions.BeginRequest(ch.ID, r.RemoteAddr, r.UserAgent(), r.URL.Path)
	var served int64
	defer func() {
		h.sessions.EndRequest(sess, served)
		h.store.AddBytesServed(ch.ID, served)
	}()

	data, err := h.store.Playlist(ch.ID, ch.Token)
	if err != nil {
		if errors.Is(err, engine.ErrPlaylistNotReady) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "playlist not ready", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("failed to render playlist",
			slog.String("channel_id", ch.ID.String()),
			slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	n, _ := w.Write(data)
	served = int64(n)
}

// ServeSegment serves one transport stream segment.
func (h *HLSHandler) ServeSegment(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.authorize(w, r)
	if !ok {
		return
	}

	sess := h.sessions.BeginRequest(ch.ID, r.RemoteAddr, r.UserAgent(), r.URL.Path)
	var served int64
	defer func() {
		h.sessions.EndRequest(sess, served)
		h.store.AddBytesServed(ch.ID, served)
	}()

	segment, size, err := h.store.OpenSegment(ch.ID, chi.URLParam(r, "segment"))
	if err != nil {
		if errors.Is(err, engine.ErrSegmentNotFound) {
			http.Error(w, "segment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to open segment",
			slog.String("channel_id", ch.ID.String()),
			slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer segment.Close()

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-cache")
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	served, _ = io.Copy(w, segment)
}
