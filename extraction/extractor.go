package extraction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/fileutils"
	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/telemetry"
)

const (
	DefaultConcurrency = 4
	DefaultCallTimeout = 90 * time.Second
)

type ExtractorConfig struct {
	// Concurrency bounds in-flight model calls. 0 means DefaultConcurrency.
	Concurrency int
	// CallTimeout bounds a single frame's model call. 0 means DefaultCallTimeout; negative disables it.
	CallTimeout time.Duration
	// Instructions overrides the composed system instruction.
	Instructions string
	Logger       *slog.Logger
}

// Extractor sends each sampled frame to the model and keeps the reply verbatim.
type Extractor struct {
	model        Model
	concurrency  int
	timeout      time.Duration
	instructions string
	logger       *slog.Logger
}

func NewExtractor(model Model, cfg ExtractorConfig) *Extractor {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	instructions := cfg.Instructions
	if instructions == "" {
		instructions = ComposeFrameInstructions("")
	}
	return &Extractor{
		model:        model,
		concurrency:  concurrency,
		timeout:      timeout,
		instructions: instructions,
		logger:       loggerOrDiscard(cfg.Logger),
	}
}

// ExtractAll returns one result per frame, in frame order. A failed call becomes a marker result and
// never stops the rest of the batch.
func (e *Extractor) ExtractAll(ctx context.Context, frames []SampledFrame) []RawExtractionResult {
	results := make([]RawExtractionResult, len(frames))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range frames {
		i := i
		g.Go(func() error {
			results[i] = e.extractOne(ctx, i, frames[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Extractor) extractOne(ctx context.Context, ordinal int, frame SampledFrame) RawExtractionResult {
	res := RawExtractionResult{
		Ordinal:    ordinal,
		FrameIndex: frame.FrameIndex,
		Timestamp:  frame.Timestamp,
	}

	ctx, span := telemetry.Tracer("extraction").Start(ctx, "extract_frame")
	span.SetAttributes(attribute.Int("frame.ordinal", ordinal))
	if frame.Timestamp != nil {
		span.SetAttributes(attribute.Float64("frame.timestamp", *frame.Timestamp))
	}

	if err := ctx.Err(); err != nil {
		res.Err = &PerFrameExtractionError{Ordinal: ordinal, Err: err}
		telemetry.FrameExtractionsTotal.WithLabelValues("error").Inc()
		telemetry.EndSpan(span, err)
		return res
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req := Request{
		Instructions: e.instructions,
		Turns: []Turn{
			{
				Text:   buildFrameTurn(frame),
				Images: []Image{{MIMEType: frame.MIMEType, Data: frame.Image}},
			},
			{Text: frameFollowUp},
		},
	}

	telemetry.ActiveExtractions.Inc()
	start := time.Now()
	text, err := e.model.Generate(callCtx, req)
	telemetry.ObserveModelCall("extract", start)
	telemetry.ActiveExtractions.Dec()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			e.logger.Warn("frame extraction timed out", "ordinal", ordinal, "timeout", e.timeout)
		} else {
			e.logger.Warn("frame extraction failed", "ordinal", ordinal, "err", err)
		}
		res.Err = &PerFrameExtractionError{Ordinal: ordinal, Err: err}
		telemetry.FrameExtractionsTotal.WithLabelValues("error").Inc()
		telemetry.EndSpan(span, err)
		return res
	}

	res.RawText = text
	status := "ok"
	var probe map[string]any
	if fileutils.DecodeModelJSON(text, &probe) != nil {
		// Kept verbatim anyway; consolidation decides what to make of it.
		status = "non_json"
	}
	telemetry.FrameExtractionsTotal.WithLabelValues(status).Inc()
	e.logger.Debug("frame extracted",
		"ordinal", ordinal,
		"status", status,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"raw", fileutils.Truncate(fileutils.SanitizeNewlines(text), 200),
	)
	telemetry.EndSpan(span, nil)
	return res
}
