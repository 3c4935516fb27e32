package engine

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/castarr/castarr/internal/models"
)

// PlaylistName is the media playlist filename a pipeline writes into its
// channel directory.
const PlaylistName = "playlist.m3u8"

// segmentPattern is the ffmpeg filename template for segments.
const segmentPattern = "segment_%05d.ts"

// CommandSpec describes a pipeline process to launch.
type CommandSpec struct {
	Binary string
	Args   []string
}

// EncodeOptions carries the segmenting parameters shared by all modes.
type EncodeOptions struct {
	Binary          string
	SegmentDuration time.Duration
	PlaylistSize    int
}

// BuildCommand assembles the ffmpeg invocation for one playlist item.
// Output always appends to the channel's existing playlist so consecutive
// item processes (and precached segments) form one continuous stream.
func BuildCommand(mode models.EncodingMode, inputPath, outputDir string, opts EncodeOptions) CommandSpec {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-re",
		"-i", inputPath,
	}

	args = append(args, codecArgs(mode)...)

	secs := int(opts.SegmentDuration / time.Second)
	if secs < 1 {
		secs = 1
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(secs),
		"-hls_list_size", strconv.Itoa(opts.PlaylistSize),
		"-hls_flags", "append_list+delete_segments+omit_endlist+temp_file",
		"-hls_segment_filename", filepath.Join(outputDir, segmentPattern),
		filepath.Join(outputDir, PlaylistName),
	)

	return CommandSpec{Binary: opts.Binary, Args: args}
}

// codecArgs returns the per-mode codec arguments.
func codecArgs(mode models.EncodingMode) []string {
	switch mode {
	case models.EncodingOriginal:
		// Pass everything through untouched, keeping source timestamps.
		return []string{"-map", "0", "-c", "copy", "-copyts"}
	case models.EncodingCopy:
		// Remux the primary streams into segments without re-encoding.
		return []string{
			"-map", "0:v:0?", "-map", "0:a:0?",
			"-c:v", "copy", "-c:a", "copy",
		}
	case models.EncodingWeb:
		// Most compatible browser profile: baseline H.264, stereo AAC.
		return []string{
			"-map", "0:v:0?", "-map", "0:a:0?",
			"-c:v", "libx264", "-preset", "veryfast",
			"-profile:v", "baseline", "-level", "3.0",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac", "-ac", "2", "-b:a", "128k", "-ar", "44100",
		}
	default: // models.EncodingTranscode
		return []string{
			"-map", "0:v:0?", "-map", "0:a:0?",
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
			"-c:a", "aac", "-b:a", "192k",
		}
	}
}

// String renders the command for logs.
func (c CommandSpec) String() string {
	return fmt.Sprintf("%s %v", c.Binary, c.Args)
}
