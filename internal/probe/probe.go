// Package probe extracts normalized video metadata by shelling out to
// ffprobe and parsing its JSON report. It keeps only the fields the
// host needs on the wire; the full ffprobe stream list is preserved
// verbatim in VideoMeta.StreamsJSON for the host to mine later without
// a protocol change here.
package probe

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/medialib/agent/internal/agenterr"
	"github.com/medialib/agent/internal/model"
)

// Prober wraps ffprobe invocation with a bounded per-call timeout.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// New returns a Prober that runs ffprobePath, killing the subprocess if
// it exceeds timeout — a hung probe must not stall Pass 2.
func New(ffprobePath string, timeout time.Duration) *Prober {
	return &Prober{ffprobePath: ffprobePath, timeout: timeout}
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Probe runs ffprobe against path and returns normalized metadata plus
// the raw stream list as JSON. On timeout or non-zero exit it returns an
// agenterr-wrapped ProbeError; the caller skips metadata emission for
// this file but the record itself still goes out.
func (p *Prober) Probe(ctx context.Context, path string) (*model.VideoMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, agenterr.Probe(path, err)
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, agenterr.Probe(path, err)
	}

	meta := &model.VideoMeta{Container: strings.ToLower(raw.Format.FormatName)}
	if raw.Format.Duration != "" {
		if d, perr := strconv.ParseFloat(raw.Format.Duration, 64); perr == nil {
			meta.Duration = d
		}
	}
	if raw.Format.BitRate != "" {
		if b, perr := strconv.ParseInt(raw.Format.BitRate, 10, 64); perr == nil {
			meta.Bitrate = b
		}
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch strings.ToLower(s.CodecType) {
		case "video":
			if meta.VideoCodec == "" {
				meta.VideoCodec = s.CodecName
				meta.Width = s.Width
				meta.Height = s.Height
			}
		case "audio":
			meta.AudioCodecs = append(meta.AudioCodecs, s.CodecName)
		}
	}

	streamsJSON, err := json.Marshal(raw.Streams)
	if err == nil {
		meta.StreamsJSON = string(streamsJSON)
	}

	return meta, nil
}
