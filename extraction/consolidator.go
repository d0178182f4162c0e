package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/fileutils"
	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/telemetry"
)

const DefaultMaxRawChars = 8000

type ConsolidatorConfig struct {
	// NormalizeKeys folds column names to snake_case and merges aliases.
	NormalizeKeys bool
	// CallTimeout bounds the consolidation call. 0 means DefaultCallTimeout; negative disables it.
	CallTimeout time.Duration
	// MaxRawChars truncates each frame's raw text in the payload. 0 means DefaultMaxRawChars; negative disables it.
	MaxRawChars int
	Logger      *slog.Logger
}

// Consolidator reconciles per-frame outputs into one table with a single model call.
type Consolidator struct {
	model       Model
	normalize   bool
	timeout     time.Duration
	maxRawChars int
	logger      *slog.Logger
}

func NewConsolidator(model Model, cfg ConsolidatorConfig) *Consolidator {
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	maxRaw := cfg.MaxRawChars
	if maxRaw == 0 {
		maxRaw = DefaultMaxRawChars
	}
	return &Consolidator{
		model:       model,
		normalize:   cfg.NormalizeKeys,
		timeout:     timeout,
		maxRawChars: maxRaw,
		logger:      loggerOrDiscard(cfg.Logger),
	}
}

// Consolidate returns the table for raw, or a nil dataset and an error matching ErrNoDataset.
// With no frames at all it returns an empty dataset without calling the model.
func (c *Consolidator) Consolidate(ctx context.Context, raw []RawExtractionResult) (*Dataset, error) {
	if len(raw) == 0 {
		return &Dataset{Columns: []string{}, Records: []Record{}}, nil
	}

	ctx, span := telemetry.Tracer("extraction").Start(ctx, "consolidate")
	span.SetAttributes(attribute.Int("frames", len(raw)))

	payload, err := buildConsolidationInput(raw, c.maxRawChars)
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, fmt.Errorf("build consolidation input: %w", err)
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := Request{
		Instructions: consolidationInstructions,
		Turns: []Turn{
			{Text: string(payload)},
			{Text: consolidationFollowUp},
		},
	}
	start := time.Now()
	text, err := c.model.Generate(callCtx, req)
	telemetry.ObserveModelCall("consolidate", start)
	if err != nil {
		telemetry.ConsolidationsTotal.WithLabelValues("call_error").Inc()
		telemetry.EndSpan(span, err)
		return nil, fmt.Errorf("%w: consolidation call: %w", ErrNoDataset, err)
	}

	ds, err := ParseConsolidated(text, raw, c.normalize)
	if err != nil {
		c.logger.Warn("consolidation output rejected",
			"err", err,
			"raw", fileutils.Truncate(fileutils.SanitizeNewlines(text), 300),
		)
		telemetry.ConsolidationsTotal.WithLabelValues("parse_error").Inc()
		telemetry.EndSpan(span, err)
		return nil, err
	}

	if ds.Len() != len(raw) {
		c.logger.Warn("consolidated row count differs from frame count", "rows", ds.Len(), "frames", len(raw))
	}
	for _, a := range ds.Aliases {
		c.logger.Debug("merged column aliases", "column", a.Column, "aliases", a.Aliases)
	}
	telemetry.ConsolidationsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("rows", ds.Len()), attribute.Int("columns", len(ds.Columns)))
	telemetry.EndSpan(span, nil)
	return ds, nil
}

type consolidationItem struct {
	Ordinal         int      `json:"ordinal"`
	Timestamp       *float64 `json:"timestamp"`
	FrameIndex      *int     `json:"frame_index"`
	RawText         *string  `json:"raw_text"`
	ExtractionError string   `json:"extraction_error,omitempty"`
}

func buildConsolidationInput(raw []RawExtractionResult, maxRawChars int) ([]byte, error) {
	items := make([]consolidationItem, 0, len(raw))
	for _, r := range raw {
		item := consolidationItem{
			Ordinal:    r.Ordinal,
			Timestamp:  r.Timestamp,
			FrameIndex: r.FrameIndex,
		}
		if r.Failed() {
			item.ExtractionError = r.ErrorText()
		} else {
			text := r.RawText
			if maxRawChars > 0 {
				text = fileutils.Truncate(text, maxRawChars)
			}
			item.RawText = &text
		}
		items = append(items, item)
	}
	return json.Marshal(items)
}

// ParseConsolidated sanitizes and parses consolidation output. Only a JSON array of objects is
// accepted; anything else yields a *ConsolidationParseError and no dataset.
func ParseConsolidated(text string, raw []RawExtractionResult, normalize bool) (*Dataset, error) {
	var rows []*orderedmap.OrderedMap[string, any]
	if err := fileutils.DecodeModelJSONArray(text, &rows); err != nil {
		reason := "invalid JSON"
		switch {
		case errors.Is(err, fileutils.ErrNotJSONArray):
			reason = "not a list of records"
		case errors.Is(err, io.ErrUnexpectedEOF):
			reason = "truncated or empty JSON"
		}
		return nil, &ConsolidationParseError{Reason: reason, Err: err}
	}
	for i, row := range rows {
		if row == nil {
			return nil, &ConsolidationParseError{Reason: fmt.Sprintf("record %d is not an object", i)}
		}
	}

	b := newDatasetBuilder(normalize)
	for _, row := range rows {
		b.addRow(row)
	}
	b.realignMarkers(raw)
	return b.build(), nil
}

// realignMarkers reinserts placeholder rows when the model dropped exactly the failed frames.
func (b *datasetBuilder) realignMarkers(raw []RawExtractionResult) {
	failed := 0
	for _, r := range raw {
		if r.Failed() {
			failed++
		}
	}
	if failed == 0 || len(b.records) != len(raw)-failed {
		return
	}
	out := make([]Record, 0, len(raw))
	next := 0
	for _, r := range raw {
		if r.Failed() {
			out = append(out, b.addPlaceholder(r))
			continue
		}
		out = append(out, b.records[next])
		next++
	}
	b.records = out
}
