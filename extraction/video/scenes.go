package video

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction"
)

const (
	DefaultSceneThreshold = 0.30
	DefaultMinSceneLen    = 15
)

// SceneDetector finds content cuts with ffmpeg's scene-change score.
type SceneDetector struct {
	FFmpeg  string
	FFprobe string

	// Threshold is the minimum scene score (0..1) that counts as a cut.
	Threshold float64
	// MinSceneLen drops cuts closer than this many frames to the previous boundary.
	MinSceneLen int

	Logger *slog.Logger
}

func NewSceneDetector(logger *slog.Logger) *SceneDetector {
	return &SceneDetector{
		FFmpeg:      "ffmpeg",
		FFprobe:     "ffprobe",
		Threshold:   DefaultSceneThreshold,
		MinSceneLen: DefaultMinSceneLen,
		Logger:      logger,
	}
}

// DetectScenes returns no scenes when the video has no cuts; otherwise the first scene starts at frame 0.
func (d *SceneDetector) DetectScenes(ctx context.Context, path string) (extraction.Segmentation, error) {
	info, err := Probe(ctx, d.FFprobe, path)
	if err != nil {
		return extraction.Segmentation{}, err
	}

	ffmpeg := d.FFmpeg
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	threshold := d.Threshold
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultSceneThreshold
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-hide_banner", "-nostats",
		"-i", path,
		"-an", "-sn", "-dn",
		"-vf", fmt.Sprintf("select='gt(scene,%.3f)',showinfo", threshold),
		"-f", "null", "-",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return extraction.Segmentation{}, &extraction.MediaDecodeError{
			Path: path,
			Op:   "scene detection",
			Err:  fmt.Errorf("ffmpeg error: %w, output: %s", err, tail(string(output), 2000)),
		}
	}

	cuts := parseShowinfo(string(output))
	scenes := buildSegments(cuts, info.FrameRate, d.MinSceneLen)
	if d.Logger != nil {
		d.Logger.Debug("scene detection finished",
			"path", path,
			"cuts", len(cuts),
			"scenes", len(scenes),
			"fps", info.FrameRate,
			"duration", info.Duration,
		)
	}
	return extraction.Segmentation{Video: &info, Scenes: scenes}, nil
}

var ptsTimeRe = regexp.MustCompile(`pts_time:\s*(-?[0-9]+(?:\.[0-9]+)?)`)

// parseShowinfo returns the pts_time of every frame the showinfo filter printed.
func parseShowinfo(output string) []float64 {
	var out []float64
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "showinfo") {
			continue
		}
		m := ptsTimeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		t, err := strconv.ParseFloat(m[1], 64)
		if err != nil || t < 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

func buildSegments(cutTimes []float64, fps float64, minSceneLen int) []extraction.SceneSegment {
	if len(cutTimes) == 0 || fps <= 0 {
		return nil
	}
	times := append([]float64(nil), cutTimes...)
	sort.Float64s(times)

	segments := []extraction.SceneSegment{{Ordinal: 0, StartFrame: 0, StartSeconds: 0}}
	last := 0
	for _, t := range times {
		frame := int(math.Round(t * fps))
		if frame <= last || frame-last < minSceneLen {
			continue
		}
		segments = append(segments, extraction.SceneSegment{
			Ordinal:      len(segments),
			StartFrame:   frame,
			StartSeconds: t,
		})
		last = frame
	}
	if len(segments) == 1 {
		return nil
	}
	return segments
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max:]
}
