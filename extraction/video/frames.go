package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction"
)

// FrameGrabber decodes the first frame of a scene as a JPEG.
type FrameGrabber struct {
	FFmpeg string
	// Quality is ffmpeg's mjpeg -q:v (2 is near lossless, 31 is worst).
	Quality int
}

func NewFrameGrabber() *FrameGrabber {
	return &FrameGrabber{FFmpeg: "ffmpeg", Quality: 2}
}

func (g *FrameGrabber) GrabFrame(ctx context.Context, path string, seg extraction.SceneSegment) ([]byte, error) {
	ffmpeg := g.FFmpeg
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	q := g.Quality
	if q <= 0 {
		q = 2
	}
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(seg.StartSeconds, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(q),
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg error: %w, output: %s", err, strings.TrimSpace(stderr.String()))
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg produced no frame")
	}
	return out, nil
}
