package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction"
)

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

// Probe reads container and stream metadata with ffprobe.
func Probe(ctx context.Context, ffprobe, path string) (extraction.VideoInfo, error) {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, ffprobe, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return extraction.VideoInfo{}, &extraction.MediaDecodeError{
			Path: path,
			Op:   "ffprobe",
			Err:  fmt.Errorf("%w, output: %s", err, strings.TrimSpace(stderr.String())),
		}
	}
	info, err := parseProbe(output)
	if err != nil {
		return extraction.VideoInfo{}, &extraction.MediaDecodeError{Path: path, Op: "ffprobe", Err: err}
	}
	return info, nil
}

func parseProbe(output []byte) (extraction.VideoInfo, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return extraction.VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := extraction.VideoInfo{}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}

	found := false
	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		found = true
		info.Width = stream.Width
		info.Height = stream.Height
		info.Codec = stream.CodecName
		info.FrameRate = parseFrameRate(stream.AvgFrameRate)
		if info.FrameRate == 0 {
			info.FrameRate = parseFrameRate(stream.RFrameRate)
		}
		if n, err := strconv.Atoi(stream.NbFrames); err == nil {
			info.FrameCount = n
		}
		break
	}
	if !found {
		return extraction.VideoInfo{}, fmt.Errorf("no video stream")
	}
	if info.FrameRate <= 0 {
		return extraction.VideoInfo{}, fmt.Errorf("unknown frame rate")
	}
	return info, nil
}

// parseFrameRate parses ffprobe's "num/den" rates. Unparseable or zero-denominator rates give 0.
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d <= 0 {
		return 0
	}
	return n / d
}
