package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// ProbeResult contains the ffprobe output fields the engine cares about.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream contains per-stream information.
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"` // video, audio, subtitle, data
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	BitRate   string `json:"bit_rate,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// MediaInfo is the media-attribute snapshot stored on channel items.
type MediaInfo struct {
	SizeBytes  int64   `json:"size_bytes"`
	Duration   float64 `json:"duration"` // seconds
	AudioCodec string  `json:"audio_codec,omitempty"`
	VideoCodec string  `json:"video_codec,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	BitRate    int64   `json:"bit_rate,omitempty"` // bits per second
}

// Prober runs ffprobe against local media files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober using the given ffprobe binary.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the per-probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe runs ffprobe and returns the parsed result.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	var result ProbeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// Snapshot stats the file and probes it, returning the media-attribute
// snapshot. The stat happens first so a vanished file fails fast without
// spawning ffprobe.
func (p *Prober) Snapshot(ctx context.Context, path string) (*MediaInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	info := &MediaInfo{
		SizeBytes: st.Size(),
		Duration:  parseFloat(result.Format.Duration),
		BitRate:   parseInt(result.Format.BitRate),
	}

	for _, s := range result.Streams {
		switch s.CodecType {
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
			}
		}
	}

	return info, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
