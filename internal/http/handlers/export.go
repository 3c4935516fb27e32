package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castarr/castarr/internal/service"
)

// ExportHandler serves the channel lineup as an extended M3U playlist for
// external players.
type ExportHandler struct {
	channels *service.ChannelService
	baseURL  string
	logger   *slog.Logger
}

// NewExportHandler creates a new export handler. baseURL overrides the
// request-derived base when configured.
func NewExportHandler(channels *service.ChannelService, baseURL string, logger *slog.Logger) *ExportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportHandler{channels: channels, baseURL: baseURL, logger: logger}
}

// Register registers the export route on the router.
func (h *ExportHandler) Register(router chi.Router) {
	router.Get("/export.m3u", h.ServeM3U)
}

// ServeM3U writes the channel lineup as M3U. Stream URLs embed each
// channel's access token.
func (h *ExportHandler) ServeM3U(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, r.Host)
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", `attachment; filename="castarr.m3u"`)

	if err := h.channels.WriteM3U(r.Context(), w, base); err != nil {
		h.logger.Error("failed to write M3U export", slog.String("error", err.Error()))
	}
}
