package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/telemetry"
)

const (
	DefaultMaxFrames = 5
	MaxFramesLimit   = 20
)

// Report is everything one run produced. Dataset is nil when consolidation failed; ConsolidationErr says why.
type Report struct {
	RunID            string                `json:"run_id"`
	Media            MediaAsset            `json:"media"`
	Video            *VideoInfo            `json:"video,omitempty"`
	Scenes           []SceneSegment        `json:"scenes"`
	Frames           []SampledFrame        `json:"frames"`
	Raw              []RawExtractionResult `json:"raw_extractions"`
	Dataset          *Dataset              `json:"dataset"`
	ConsolidationErr error                 `json:"-"`
	StartedAt        time.Time             `json:"started_at"`
	Elapsed          time.Duration         `json:"-"`
}

// MarshalJSON adds the error strings that the typed error fields cannot carry.
func (r *Report) MarshalJSON() ([]byte, error) {
	type alias Report
	out := struct {
		*alias
		ConsolidationError string     `json:"consolidation_error,omitempty"`
		KeyAliases         []KeyAlias `json:"key_aliases,omitempty"`
		ElapsedSeconds     float64    `json:"elapsed_seconds"`
	}{alias: (*alias)(r), ElapsedSeconds: r.Elapsed.Seconds()}
	if r.ConsolidationErr != nil {
		out.ConsolidationError = r.ConsolidationErr.Error()
	}
	if r.Dataset != nil {
		out.KeyAliases = r.Dataset.Aliases
	}
	return json.Marshal(out)
}

// MarshalJSON includes the failure marker text.
func (r RawExtractionResult) MarshalJSON() ([]byte, error) {
	type alias RawExtractionResult
	return json.Marshal(struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r), Error: r.ErrorText()})
}

// Queryable reports whether the run produced a dataset.
func (r *Report) Queryable() bool {
	return r != nil && r.Dataset != nil
}

type PipelineConfig struct {
	// MaxFrames is K, the number of leading scenes to sample. 0 means DefaultMaxFrames.
	MaxFrames int
	Logger    *slog.Logger
}

// Pipeline wires scene detection, sampling, extraction and consolidation for one asset at a time.
type Pipeline struct {
	segmenter    SceneSegmenter
	grabber      FrameGrabber
	extractor    *Extractor
	consolidator *Consolidator
	maxFrames    int
	logger       *slog.Logger
}

func NewPipeline(segmenter SceneSegmenter, grabber FrameGrabber, extractor *Extractor, consolidator *Consolidator, cfg PipelineConfig) *Pipeline {
	k := cfg.MaxFrames
	if k <= 0 {
		k = DefaultMaxFrames
	}
	return &Pipeline{
		segmenter:    segmenter,
		grabber:      grabber,
		extractor:    extractor,
		consolidator: consolidator,
		maxFrames:    k,
		logger:       loggerOrDiscard(cfg.Logger),
	}
}

// Run processes one media file. Media decode failures and cancellation return an error and no report;
// consolidation failures return a report with a nil dataset.
func (p *Pipeline) Run(ctx context.Context, path string) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	logger := p.logger.With("run_id", report.RunID)

	ctx, span := telemetry.Tracer("extraction").Start(ctx, "pipeline_run")
	span.SetAttributes(attribute.String("run.id", report.RunID), attribute.String("media.path", path))

	report, err := p.run(ctx, report, path, logger)
	switch {
	case err != nil && errors.Is(err, context.Canceled), err != nil && errors.Is(err, context.DeadlineExceeded):
		telemetry.RunsTotal.WithLabelValues("cancelled").Inc()
	case err != nil:
		telemetry.RunsTotal.WithLabelValues("error").Inc()
	case !report.Queryable():
		telemetry.RunsTotal.WithLabelValues("no_dataset").Inc()
	default:
		telemetry.RunsTotal.WithLabelValues("ok").Inc()
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, report *Report, path string, logger *slog.Logger) (*Report, error) {
	asset, err := NewMediaAsset(path)
	if err != nil {
		return nil, err
	}
	report.Media = asset

	switch asset.Kind {
	case MediaImage:
		frame, err := LoadStillImage(path)
		if err != nil {
			return nil, err
		}
		telemetry.FramesSampledTotal.Inc()
		report.Frames = []SampledFrame{frame}
	case MediaVideo:
		if p.segmenter == nil || p.grabber == nil {
			return nil, errors.New("pipeline: video input needs a scene segmenter and frame grabber")
		}
		sctx, sspan := telemetry.Tracer("extraction").Start(ctx, "detect_scenes")
		seg, err := p.segmenter.DetectScenes(sctx, path)
		telemetry.EndSpan(sspan, err)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		report.Video = seg.Video
		report.Scenes = seg.Scenes
		logger.Info("scenes detected", "scenes", len(seg.Scenes), "sampling", min(len(seg.Scenes), p.maxFrames))

		fctx, fspan := telemetry.Tracer("extraction").Start(ctx, "sample_frames")
		report.Frames = SampleFrames(fctx, p.grabber, path, seg.Scenes, p.maxFrames, logger)
		fspan.SetAttributes(attribute.Int("frames", len(report.Frames)))
		telemetry.EndSpan(fspan, nil)
	default:
		return nil, &MediaDecodeError{Path: path, Err: fmt.Errorf("%w: %q", ErrUnsupportedMedia, asset.Kind)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if report.Frames == nil {
		report.Frames = []SampledFrame{}
	}

	report.Raw = p.extractor.ExtractAll(ctx, report.Frames)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	failed := 0
	for _, r := range report.Raw {
		if r.Failed() {
			failed++
		}
	}
	logger.Info("frames extracted", "frames", len(report.Raw), "failed", failed)

	ds, err := p.consolidator.Consolidate(ctx, report.Raw)
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err != nil {
		logger.Warn("no dataset", "err", err)
		report.ConsolidationErr = err
	} else {
		report.Dataset = ds
		logger.Info("dataset consolidated", "rows", ds.Len(), "columns", len(ds.Columns))
	}
	report.Elapsed = time.Since(report.StartedAt)
	return report, nil
}
