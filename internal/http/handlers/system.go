package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/castarr/castarr/internal/database"
	"github.com/castarr/castarr/internal/engine"
	"github.com/castarr/castarr/internal/service"
	"github.com/castarr/castarr/internal/version"
)

// SystemHandler handles the stats and health endpoints.
type SystemHandler struct {
	stats *service.StatsService
	db    *database.DB
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(stats *service.StatsService, db *database.DB) *SystemHandler {
	return &SystemHandler{stats: stats, db: db}
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStats",
		Method:      "GET",
		Path:        "/stats",
		Summary:     "Get current stats",
		Description: "Returns engine, session and host telemetry",
		Tags:        []string{"System"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "getStatsHistory",
		Method:      "GET",
		Path:        "/stats/history",
		Summary:     "Get telemetry history",
		Description: "Returns the sampled telemetry window, optionally downsampled",
		Tags:        []string{"System"},
	}, h.GetStatsHistory)

	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// StatsOutput wraps the current stats response.
type StatsOutput struct {
	Body *service.EngineStats
}

// GetStats returns the current stats snapshot.
func (h *SystemHandler) GetStats(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
	return &StatsOutput{Body: h.stats.Current(ctx)}, nil
}

// StatsHistoryInput is the input for the telemetry history endpoint.
type StatsHistoryInput struct {
	Points int `query:"points" default:"0" minimum:"0" maximum:"10000" doc:"Downsample to at most this many points (0 = full window)"`
}

// StatsHistoryOutput is the output for the telemetry history endpoint.
type StatsHistoryOutput struct {
	Body struct {
		Samples []engine.Sample `json:"samples"`
		Total   int             `json:"total"`
	}
}

// GetStatsHistory returns the sampled telemetry window.
func (h *SystemHandler) GetStatsHistory(ctx context.Context, input *StatsHistoryInput) (*StatsHistoryOutput, error) {
	samples := h.stats.History(input.Points)

	resp := &StatsHistoryOutput{}
	resp.Body.Samples = samples
	resp.Body.Total = len(samples)
	return resp, nil
}

// HealthOutput is the output for the health endpoint.
type HealthOutput struct {
	Body struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Database string `json:"database"`
	}
}

// GetHealth reports daemon and database health.
func (h *SystemHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := &HealthOutput{}
	resp.Body.Status = "ok"
	resp.Body.Version = version.Version
	resp.Body.Database = "ok"

	if err := h.db.Ping(ctx); err != nil {
		resp.Body.Status = "degraded"
		resp.Body.Database = err.Error()
	}
	return resp, nil
}
