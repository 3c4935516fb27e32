package m3u

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteHeader())

	assert.Equal(t, "#EXTM3U\n", buf.String())
}

func TestWriteEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	err := w.WriteEntry(&Entry{
		TvgID:      "01ABC",
		TvgName:    "Morning Mix",
		TvgLogo:    "http://example.com/logo.png",
		GroupTitle: "Castarr",
		Title:      "Morning Mix",
		URL:        "http://example.com/streams/01ABC/hls/playlist.m3u8?token=abc",
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Contains(t, lines[1], `#EXTINF:-1 `)
	assert.Contains(t, lines[1], `tvg-id="01ABC"`)
	assert.Contains(t, lines[1], `tvg-name="Morning Mix"`)
	assert.Contains(t, lines[1], `tvg-logo="http://example.com/logo.png"`)
	assert.Contains(t, lines[1], `group-title="Castarr"`)
	assert.True(t, strings.HasSuffix(lines[1], ",Morning Mix"))
	assert.Equal(t, "http://example.com/streams/01ABC/hls/playlist.m3u8?token=abc", lines[2])
}

func TestWriteEntryNoAttributes(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteEntry(&Entry{Title: "Plain", URL: "http://x/y"}))

	assert.Contains(t, buf.String(), "#EXTINF:-1,Plain\n")
}

func TestWriteEntryEscapesQuotes(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteEntry(&Entry{
		TvgName: `The "Best" Hits`,
		Title:   "Hits",
		URL:     "http://x/y",
	}))

	assert.Contains(t, buf.String(), `tvg-name="The \"Best\" Hits"`)
}

func TestWriteEntryExplicitDuration(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteEntry(&Entry{Duration: 180, Title: "Clip", URL: "http://x/y"}))

	assert.Contains(t, buf.String(), "#EXTINF:180,Clip")
}
