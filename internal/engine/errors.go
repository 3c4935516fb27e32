// Package engine implements playback sequencing, ffmpeg pipeline
// supervision, HLS segment storage and client session tracking for
// castarr channels.
package engine

import "errors"

// Engine error conditions.
var (
	// ErrPlaylistExhausted indicates every item in the playlist is unavailable.
	ErrPlaylistExhausted = errors.New("playlist exhausted: no available items")

	// ErrPipelineSpawn indicates the transcoder process failed to launch.
	ErrPipelineSpawn = errors.New("pipeline spawn failed")

	// ErrRestartBudgetExhausted indicates the pipeline crashed more times in a
	// row than the configured budget allows.
	ErrRestartBudgetExhausted = errors.New("pipeline restart budget exhausted")

	// ErrTooManyPipelines indicates the process-count ceiling was reached.
	ErrTooManyPipelines = errors.New("maximum concurrent pipelines reached")

	// ErrAlreadyActive indicates a start request against a running channel.
	ErrAlreadyActive = errors.New("channel pipeline already running")

	// ErrPlaylistNotReady indicates the pipeline has not produced a playlist yet.
	ErrPlaylistNotReady = errors.New("playlist not ready")

	// ErrSegmentNotFound indicates a requested segment does not exist.
	ErrSegmentNotFound = errors.New("segment not found")
)
