package probe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/medialib/agent/internal/agenterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFprobe writes an executable shell script that ignores its
// arguments and prints json to stdout, standing in for the real
// ffprobe binary so these tests don't depend on one being installed.
func fakeFFprobe(t *testing.T, json string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffprobe script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffprobe")
	script := "#!/bin/sh\ncat <<'EOF'\n" + json + "\nEOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

const sampleProbeJSON = `{
  "format": {"format_name": "matroska,webm", "duration": "125.480000", "bit_rate": "4500000"},
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "hevc", "width": 1920, "height": 1080},
    {"index": 1, "codec_type": "audio", "codec_name": "aac"},
    {"index": 2, "codec_type": "audio", "codec_name": "ac3"}
  ]
}`

func TestProbeParsesFormatAndStreams(t *testing.T) {
	bin := fakeFFprobe(t, sampleProbeJSON)
	p := New(bin, 5*time.Second)

	meta, err := p.Probe(context.Background(), "/media/movie.mkv")
	require.NoError(t, err)

	assert.Equal(t, "matroska,webm", meta.Container)
	assert.InDelta(t, 125.48, meta.Duration, 0.001)
	assert.Equal(t, int64(4500000), meta.Bitrate)
	assert.Equal(t, "hevc", meta.VideoCodec)
	assert.Equal(t, 1920, meta.Width)
	assert.Equal(t, 1080, meta.Height)
	assert.Equal(t, []string{"aac", "ac3"}, meta.AudioCodecs)
	assert.NotEmpty(t, meta.StreamsJSON)
}

func TestProbeKeepsOnlyFirstVideoStream(t *testing.T) {
	bin := fakeFFprobe(t, `{
		"format": {"format_name": "mov,mp4"},
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720},
			{"index": 1, "codec_type": "video", "codec_name": "mjpeg", "width": 16, "height": 16}
		]
	}`)
	p := New(bin, 5*time.Second)

	meta, err := p.Probe(context.Background(), "/media/movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, "h264", meta.VideoCodec)
	assert.Equal(t, 1280, meta.Width)
}

func TestProbeNonZeroExitReturnsProbeError(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 1\n"), 0755))

	p := New(bin, 5*time.Second)
	_, err := p.Probe(context.Background(), "/media/movie.mkv")
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ErrProbe)
}

func TestProbeTimeoutReturnsProbeError(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nsleep 5\n"), 0755))

	p := New(bin, 20*time.Millisecond)
	_, err := p.Probe(context.Background(), "/media/movie.mkv")
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ErrProbe)
}

func TestProbeInvalidJSONReturnsProbeError(t *testing.T) {
	bin := fakeFFprobe(t, "not json")
	p := New(bin, 5*time.Second)

	_, err := p.Probe(context.Background(), "/media/movie.mkv")
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ErrProbe)
}
