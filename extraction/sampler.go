package extraction

import (
	"context"
	"log/slog"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/telemetry"
)

// Segmentation is the scene list for a video plus what was learned about the stream.
type Segmentation struct {
	Video  *VideoInfo
	Scenes []SceneSegment
}

// SceneSegmenter splits a video into scenes. It returns every scene it finds; callers truncate.
type SceneSegmenter interface {
	DetectScenes(ctx context.Context, path string) (Segmentation, error)
}

// FrameGrabber decodes the representative frame at the start of a scene as encoded image bytes.
type FrameGrabber interface {
	GrabFrame(ctx context.Context, path string, seg SceneSegment) ([]byte, error)
}

// SampleFrames decodes one frame for each of the first k scenes. Scenes past k are never decoded.
// A scene whose frame cannot be decoded is skipped; ordinals stay contiguous over the frames returned.
func SampleFrames(ctx context.Context, grabber FrameGrabber, path string, scenes []SceneSegment, k int, logger *slog.Logger) []SampledFrame {
	logger = loggerOrDiscard(logger)
	if k <= 0 || len(scenes) == 0 {
		return nil
	}
	if len(scenes) > k {
		scenes = scenes[:k]
	}

	frames := make([]SampledFrame, 0, len(scenes))
	for _, seg := range scenes {
		if ctx.Err() != nil {
			break
		}
		b, err := grabber.GrabFrame(ctx, path, seg)
		if err == nil {
			var frame SampledFrame
			frame, err = DecodeFrameImage(path, b)
			if err == nil {
				frame.Ordinal = len(frames)
				frame.FrameIndex = intPtr(seg.StartFrame)
				frame.Timestamp = floatPtr(seg.StartSeconds)
				frames = append(frames, frame)
				telemetry.FramesSampledTotal.Inc()
				continue
			}
		}
		telemetry.FramesSkippedTotal.Inc()
		logger.Warn("skipping scene, frame decode failed",
			"scene", seg.Ordinal,
			"start_frame", seg.StartFrame,
			"start_seconds", seg.StartSeconds,
			"err", err,
		)
	}
	return frames
}
