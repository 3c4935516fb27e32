// Package handlers provides the HTTP API handlers for castarr.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/castarr/castarr/internal/catalog"
	"github.com/castarr/castarr/internal/engine"
	"github.com/castarr/castarr/internal/models"
	"github.com/castarr/castarr/internal/service"
)

// StreamHandler handles the channel management API endpoints.
type StreamHandler struct {
	channels *service.ChannelService
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(channels *service.ChannelService) *StreamHandler {
	return &StreamHandler{channels: channels}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/streams",
		Summary:     "List channels",
		Description: "Returns all channels with playlist aggregates, live state and connected clients",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "createStream",
		Method:      "POST",
		Path:        "/streams",
		Summary:     "Create channel",
		Description: "Creates a channel from a source specification. A specification resolving to zero playable items is rejected.",
		Tags:        []string{"Streams"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/streams/{id}",
		Summary:     "Get channel",
		Tags:        []string{"Streams"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateStream",
		Method:      "PATCH",
		Path:        "/streams/{id}",
		Summary:     "Update channel",
		Description: "Updates name, icon, shuffle or encoding. Shuffle applies immediately; encoding takes effect on the next reboot.",
		Tags:        []string{"Streams"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteStream",
		Method:      "DELETE",
		Path:        "/streams/{id}",
		Summary:     "Delete channel",
		Description: "Stops the pipeline, purges segments and sessions and removes the channel",
		Tags:        []string{"Streams"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "replaceStreamItems",
		Method:      "PUT",
		Path:        "/streams/{id}/items",
		Summary:     "Replace item list",
		Description: "Replaces the ordered item list of a manual channel",
		Tags:        []string{"Streams"},
	}, h.ReplaceItems)

	huma.Register(api, huma.Operation{
		OperationID: "streamAction",
		Method:      "POST",
		Path:        "/streams/{id}/actions",
		Summary:     "Perform lifecycle action",
		Description: "Starts, stops or reboots the channel's pipeline",
		Tags:        []string{"Streams"},
	}, h.Action)

	huma.Register(api, huma.Operation{
		OperationID: "rescanStream",
		Method:      "POST",
		Path:        "/streams/{id}/rescan",
		Summary:     "Rescan channel",
		Description: "Re-resolves the item list of a derived channel against the catalog, optionally scoped to specific artists. Runs asynchronously.",
		Tags:        []string{"Streams"},
	}, h.Rescan)

	huma.Register(api, huma.Operation{
		OperationID: "precacheStream",
		Method:      "POST",
		Path:        "/streams/{id}/precache",
		Summary:     "Precache channel",
		Description: "Pre-generates initial segments for a stopped channel. Runs asynchronously.",
		Tags:        []string{"Streams"},
	}, h.Precache)

	huma.Register(api, huma.Operation{
		OperationID: "searchTracks",
		Method:      "GET",
		Path:        "/streams/tracks",
		Summary:     "Search tracks",
		Description: "Searches the catalog for downloaded tracks by title, album or artist",
		Tags:        []string{"Streams"},
	}, h.SearchTracks)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/tasks/{id}",
		Summary:     "Get background task",
		Tags:        []string{"Tasks"},
	}, h.GetTask)

	huma.Register(api, huma.Operation{
		OperationID: "cancelTask",
		Method:      "DELETE",
		Path:        "/tasks/{id}",
		Summary:     "Cancel background task",
		Tags:        []string{"Tasks"},
	}, h.CancelTask)
}

// mapServiceError converts service errors to HTTP status errors.
func mapServiceError(err error, action string) error {
	var validation *models.ErrValidation
	switch {
	case errors.Is(err, models.ErrChannelNotFound):
		return huma.Error404NotFound("channel not found")
	case errors.Is(err, models.ErrTrackNotFound):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, models.ErrSourceEmpty):
		return huma.Error400BadRequest("source resolves to zero playable items")
	case errors.Is(err, models.ErrRescanNotApplicable):
		return huma.Error400BadRequest("rescan only applies to artist and genre channels")
	case errors.Is(err, service.ErrItemsImmutable):
		return huma.Error400BadRequest(service.ErrItemsImmutable.Error())
	case errors.Is(err, engine.ErrAlreadyActive):
		return huma.Error409Conflict("channel is already active")
	case errors.Is(err, engine.ErrTooManyPipelines):
		return huma.Error409Conflict("pipeline limit reached")
	case errors.As(err, &validation):
		return huma.Error400BadRequest(validation.Error())
	case errors.Is(err, models.ErrNameRequired),
		errors.Is(err, models.ErrInvalidSourceType),
		errors.Is(err, models.ErrInvalidEncoding),
		errors.Is(err, models.ErrSourceIDsRequired):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError(fmt.Sprintf("failed to %s", action), err)
	}
}

// parseULIDs parses a list of ULID strings.
func parseULIDs(raw []string, field string) ([]models.ULID, error) {
	ids := make([]models.ULID, 0, len(raw))
	for _, s := range raw {
		id, err := models.ParseULID(s)
		if err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid %s %q", field, s))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListStreamsOutput is the output for listing channels.
type ListStreamsOutput struct {
	Body struct {
		Items []service.ChannelSummary `json:"items"`
		Total int                      `json:"total"`
	}
}

// List returns all channels with aggregates and live state.
func (h *StreamHandler) List(ctx context.Context, _ *struct{}) (*ListStreamsOutput, error) {
	summaries, err := h.channels.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list channels", err)
	}

	resp := &ListStreamsOutput{}
	resp.Body.Items = summaries
	resp.Body.Total = len(summaries)
	return resp, nil
}

// CreateStreamInput is the input for creating a channel.
type CreateStreamInput struct {
	Body struct {
		Name       string   `json:"name" minLength:"1" doc:"Display name"`
		Icon       string   `json:"icon,omitempty" doc:"Optional icon URL"`
		Encoding   string   `json:"encoding,omitempty" enum:"original,copy,transcode,web" doc:"Pipeline treatment of source media (default transcode)"`
		Shuffle    bool     `json:"shuffle,omitempty" doc:"Randomize runtime playback order"`
		SourceType string   `json:"source_type" enum:"tracks,artists,genres" doc:"How the item list is derived"`
		SourceIDs  []string `json:"source_ids" minItems:"1" doc:"Track, artist or genre IDs depending on source type"`
	}
}

// ChannelOutput wraps a single channel response.
type ChannelOutput struct {
	Body *models.Channel
}

// Create creates a channel.
func (h *StreamHandler) Create(ctx context.Context, input *CreateStreamInput) (*ChannelOutput, error) {
	ids, err := parseULIDs(input.Body.SourceIDs, "source ID")
	if err != nil {
		return nil, err
	}

	ch, err := h.channels.Create(ctx, service.CreateChannelRequest{
		Name:       input.Body.Name,
		Icon:       input.Body.Icon,
		Encoding:   models.EncodingMode(input.Body.Encoding),
		Shuffle:    input.Body.Shuffle,
		SourceType: models.SourceType(input.Body.SourceType),
		SourceIDs:  ids,
	})
	if err != nil {
		return nil, mapServiceError(err, "create channel")
	}
	return &ChannelOutput{Body: ch}, nil
}

// StreamIDInput carries a channel ID path parameter.
type StreamIDInput struct {
	ID string `path:"id" doc:"Channel ID (ULID)"`
}

// Get returns one channel with its items.
func (h *StreamHandler) Get(ctx context.Context, input *StreamIDInput) (*ChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID format", err)
	}

	ch, err := h.channels.Get(ctx, id)
	if err != nil {
		return nil, mapServiceError(err, "get channel")
	}
	return &ChannelOutput{Body: ch}, nil
}

// UpdateStreamInput is the input for a partial channel update.
type UpdateStreamInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		Name     *string `json:"name,omitempty"`
		Icon     *string `json:"icon,omitempty"`
		Shuffle  *bool   `json:"shuffle,omitempty"`
		Encoding *string `json:"encoding,omitempty" enum:"original,copy,transcode,web"`
		Status   *string `json:"status,omitempty" enum:"active,stopped" doc:"Starts or stops the channel's pipeline"`
	}
}

// Update applies a partial channel update.
func (h *StreamHandler) Update(ctx context.Context, input *UpdateStreamInput) (*ChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID format", err)
	}

	req := service.UpdateChannelRequest{
		Name:    input.Body.Name,
		Icon:    input.Body.Icon,
		Shuffle: input.Body.Shuffle,
	}
	if input.Body.Encoding != nil {
		mode := models.EncodingMode(*input.Body.Encoding)
		req.Encoding = &mode
	}
	if input.Body.Status != nil {
		status := models.ChannelStatus(*input.Body.Status)
		req.Status = &status
	}

	ch, err := h.channels.Update(ctx, id, req)
	if err != nil {
		if errors.Is(err, engine.ErrRestartBudgetExhausted) || errors.Is(err, engine.ErrPipelineSpawn) {
			return nil, huma.Error502BadGateway("pipeline failed to start", err)
		}
		return nil, mapServiceError(err, "update channel")
	}
	return &ChannelOutput{Body: ch}, nil
}

// Delete removes a channel.
func (h *StreamHandler) Delete(ctx context.Context, input *StreamIDInput) (*struct{}, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID format", err)
	}

	if err := h.channels.Delete(ctx, id); err != nil {
		return nil, mapServiceError(err, "delete channel")
	}
	return &struct{}{}, nil
}

// ReplaceItemsInput is the input for replacing a manual channel's items.
type ReplaceItemsInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		TrackIDs []string `json:"track_ids" minItems:"1" doc:"Ordered track IDs"`
	}
}

// ReplaceItems replaces a manual channel's ordered item list.
func (h *StreamHandler) ReplaceItems(ctx context.Context, input *ReplaceItemsInput) (*ChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID format", err)
	}

	trackIDs, err := parseULIDs(input.Body.TrackIDs, "track ID")
	if err != nil {
		return nil, err
	}

	ch, err := h.channels.ReplaceItems(ctx, id, trackIDs)
	if err != nil {
		return nil, mapServiceError(err, "replace channel items")
	}
	return &ChannelOutput{Body: ch}, nil
}

// StreamActionInput is the input for a channel lifecycle action.
type StreamActionInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		Action string `json:"action" enum:"start,stop,reboot" doc:"Lifecycle action"`
	}
}

// Action performs a lifecycle action on a channel.
func (h *StreamHandler) Action(ctx context.Context, input *StreamActionInput) (*ChannelOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID format", err)
	}

	action := service.ChannelAction(input.Body.Action)
	if !action.Valid() {
		return nil, huma.Error400BadRequest("unknown action")
	}

	ch, err := h.channels.Action(ctx, id, action)
	if err != nil {
		if errors.Is(err, engine.ErrRestartBudgetExhausted) || errors.Is(err, engine.ErrPipelineSpawn) {
			return nil, huma.Error502BadGateway("pipeline failed to start", err)
		}
		return nil, mapServiceError(err, "perform channel action")
	}
	return &ChannelOutput{Body: ch}, nil
}

// RescanStreamInput is the input for a channel rescan.
type RescanStreamInput struct {
	ID   string `path:"id" doc:"Channel ID (ULID)"`
	Body struct {
		ArtistIDs []string `json:"artist_ids,omitempty" doc:"Restrict the rescan to these artists"`
	}
}

// TaskOutput wraps a background task response.
type TaskOutput struct {
	Body service.TaskView
}

// Rescan launches an asynchronous rescan of a derived channel.
func (h *StreamHandler) Rescan(ctx context.Context, input *RescanStreamInput) (*TaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID format", err)
	}

	artistIDs, err := parseULIDs(input.Body.ArtistIDs, "artist ID")
	if err != nil {
		return nil, err
	}

	task, err := h.channels.Rescan(ctx, id, artistIDs)
	if err != nil {
		return nil, mapServiceError(err, "launch rescan")
	}
	return &TaskOutput{Body: task}, nil
}

// Precache launches asynchronous segment pre-generation.
func (h *StreamHandler) Precache(ctx context.Context, input *StreamIDInput) (*TaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid channel ID format", err)
	}

	task, err := h.channels.Precache(ctx, id)
	if err != nil {
		return nil, mapServiceError(err, "launch precache")
	}
	return &TaskOutput{Body: task}, nil
}

// SearchTracksInput is the input for a catalog track search.
type SearchTracksInput struct {
	Query string `query:"query" minLength:"1" doc:"Case-insensitive substring matched against title, album and artist"`
	Limit int    `query:"limit" default:"100" minimum:"1" maximum:"500" doc:"Maximum results"`
}

// SearchTracksOutput is the output for a catalog track search.
type SearchTracksOutput struct {
	Body struct {
		Items []catalog.TrackInfo `json:"items"`
		Total int                 `json:"total"`
	}
}

// SearchTracks searches the catalog for downloaded tracks.
func (h *StreamHandler) SearchTracks(ctx context.Context, input *SearchTracksInput) (*SearchTracksOutput, error) {
	tracks, err := h.channels.SearchTracks(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to search tracks", err)
	}

	resp := &SearchTracksOutput{}
	resp.Body.Items = tracks
	resp.Body.Total = len(tracks)
	return resp, nil
}

// TaskIDInput carries a task ID path parameter.
type TaskIDInput struct {
	ID string `path:"id" doc:"Task ID (UUID)"`
}

// GetTask returns the state of a background task.
func (h *StreamHandler) GetTask(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID format", err)
	}

	task, ok := h.channels.GetTask(id)
	if !ok {
		return nil, huma.Error404NotFound("task not found")
	}
	return &TaskOutput{Body: task}, nil
}

// CancelTask requests cancellation of a running background task.
func (h *StreamHandler) CancelTask(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task ID format", err)
	}

	if !h.channels.CancelTask(id) {
		if _, ok := h.channels.GetTask(id); !ok {
			return nil, huma.Error404NotFound("task not found")
		}
		return nil, huma.Error409Conflict("task is not running")
	}

	task, _ := h.channels.GetTask(id)
	return &TaskOutput{Body: task}, nil
}
