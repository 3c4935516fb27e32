package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/castarr/castarr/internal/models"
)

// segmentNameRe restricts segment requests to pipeline-produced names.
var segmentNameRe = regexp.MustCompile(`^segment_\d+\.ts$`)

// SegmentStore serves the rolling segment window each pipeline writes to
// disk, and accounts for the bytes it hands out.
type SegmentStore struct {
	baseDir string
	logger  *slog.Logger

	totalBytes atomic.Int64

	mu           sync.RWMutex
	channelBytes map[models.ULID]*atomic.Int64
}

// NewSegmentStore creates a store rooted at baseDir.
func NewSegmentStore(baseDir string, logger *slog.Logger) *SegmentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentStore{
		baseDir:      baseDir,
		logger:       logger,
		channelBytes: make(map[models.ULID]*atomic.Int64),
	}
}

// ChannelDir returns the directory a channel's pipeline writes into.
func (s *SegmentStore) ChannelDir(channelID models.ULID) string {
	return filepath.Join(s.baseDir, channelID.String())
}

// EnsureChannelDir creates the channel directory if needed and returns it.
func (s *SegmentStore) EnsureChannelDir(channelID models.ULID) (string, error) {
	dir := s.ChannelDir(channelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating segment dir: %w", err)
	}
	return dir, nil
}

// Playlist reads the channel's media playlist and rewrites every segment URI
// to carry the channel's access token, so players authenticate segment
// requests without custom header support.
func (s *SegmentStore) Playlist(channelID models.ULID, token string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.ChannelDir(channelID), PlaylistName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPlaylistNotReady
		}
		return nil, fmt.Errorf("reading playlist: %w", err)
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("unexpected multivariant playlist for channel %s", channelID)
	}

	for _, seg := range media.Segments {
		seg.URI = seg.URI + "?token=" + token
	}

	out, err := media.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rendering playlist: %w", err)
	}
	return out, nil
}

// OpenSegment opens a segment file for serving. The name is validated
// against the pipeline's naming scheme; anything else is treated as missing.
func (s *SegmentStore) OpenSegment(channelID models.ULID, name string) (io.ReadCloser, int64, error) {
	if !segmentNameRe.MatchString(name) {
		return nil, 0, ErrSegmentNotFound
	}

	path := filepath.Join(s.ChannelDir(channelID), name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrSegmentNotFound
		}
		return nil, 0, fmt.Errorf("opening segment: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("statting segment: %w", err)
	}
	return f, st.Size(), nil
}

// SegmentCount returns how many segments currently exist for a channel.
func (s *SegmentStore) SegmentCount(channelID models.ULID) int {
	entries, err := os.ReadDir(s.ChannelDir(channelID))
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && segmentNameRe.MatchString(e.Name()) {
			count++
		}
	}
	return count
}

// Purge removes every segment and the playlist of a channel.
func (s *SegmentStore) Purge(channelID models.ULID) error {
	s.mu.Lock()
	delete(s.channelBytes, channelID)
	s.mu.Unlock()

	if err := os.RemoveAll(s.ChannelDir(channelID)); err != nil {
		return fmt.Errorf("purging segments: %w", err)
	}
	return nil
}

// AddBytesServed records bytes handed to clients of a channel.
func (s *SegmentStore) AddBytesServed(channelID models.ULID, n int64) {
	if n <= 0 {
		return
	}
	s.totalBytes.Add(n)
	s.channelCounter(channelID).Add(n)
}

// TotalBytesServed returns the bytes served across all channels since start.
func (s *SegmentStore) TotalBytesServed() int64 {
	return s.totalBytes.Load()
}

// ChannelBytesServed returns the bytes served for one channel since start.
func (s *SegmentStore) ChannelBytesServed(channelID models.ULID) int64 {
	s.mu.RLock()
	c, ok := s.channelBytes[channelID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

func (s *SegmentStore) channelCounter(channelID models.ULID) *atomic.Int64 {
	s.mu.RLock()
	c, ok := s.channelBytes[channelID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.channelBytes[channelID]; ok {
		return c
	}
	c = &atomic.Int64{}
	s.channelBytes[channelID] = c
	return c
}
