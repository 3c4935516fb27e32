// Package ffmpeg provides FFmpeg/FFprobe binary detection and media probing.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath  string `json:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path"`
	Version     string `json:"version"`
}

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration

	// Configured override paths; empty means search PATH.
	ffmpegPath  string
	ffprobePath string
}

// NewBinaryDetector creates a new binary detector. The path arguments
// override auto-detection when non-empty.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		cacheTTL:    5 * time.Minute,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// Detect locates the ffmpeg and ffprobe binaries and reads their version.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring write lock
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	ffmpegPath, err := findBinary("ffmpeg", d.ffmpegPath, "CASTARR_FFMPEG_BINARY")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	ffprobePath, err := findBinary("ffprobe", d.ffprobePath, "CASTARR_FFPROBE_BINARY")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	info := &BinaryInfo{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
	}

	version, err := getVersion(ctx, ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("reading ffmpeg version: %w", err)
	}
	info.Version = version

	return info, nil
}

// findBinary resolves a binary path using, in order: the configured override,
// an environment variable, and the system PATH.
func findBinary(name, configured, envVar string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured %s path %q: %w", name, configured, err)
		}
		return configured, nil
	}
	if p := os.Getenv(envVar); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%s from %s: %w", name, envVar, err)
		}
		return p, nil
	}
	return exec.LookPath(name)
}

var versionRe = regexp.MustCompile(`ffmpeg version (\S+)`)

func getVersion(ctx context.Context, ffmpegPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return "", err
	}

	line := strings.SplitN(string(out), "\n", 2)[0]
	if m := versionRe.FindStringSubmatch(line); len(m) == 2 {
		return m[1], nil
	}
	return strings.TrimSpace(line), nil
}
