package extraction

import (
	"errors"
	"strings"
)

// MediaKind classifies an input asset.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

// MediaAsset is the single input to a pipeline run.
type MediaAsset struct {
	Path string    `json:"path"`
	Kind MediaKind `json:"kind"`
}

// VideoInfo is what the segmenter learned about a video while probing it.
type VideoInfo struct {
	Duration   float64 `json:"duration_seconds"`
	FrameRate  float64 `json:"frame_rate"`
	FrameCount int     `json:"frame_count,omitempty"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Codec      string  `json:"codec,omitempty"`
}

// SceneSegment is a contiguous run of visually similar frames. Only the start is needed for sampling.
type SceneSegment struct {
	Ordinal      int     `json:"ordinal"`
	StartFrame   int     `json:"start_frame"`
	StartSeconds float64 `json:"start_seconds"`
}

// SampledFrame is the representative image of a scene (or the whole still image).
// FrameIndex and Timestamp are nil for still images.
type SampledFrame struct {
	Ordinal    int      `json:"ordinal"`
	FrameIndex *int     `json:"frame_index"`
	Timestamp  *float64 `json:"timestamp"`
	MIMEType   string   `json:"mime_type"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Image      []byte   `json:"-"`
}

// RawExtractionResult is the unvalidated model output for one frame. Err marks a failed extraction.
type RawExtractionResult struct {
	Ordinal    int      `json:"ordinal"`
	FrameIndex *int     `json:"frame_index"`
	Timestamp  *float64 `json:"timestamp"`
	RawText    string   `json:"raw_text"`
	Err        error    `json:"-"`
}

func (r RawExtractionResult) Failed() bool {
	return r.Err != nil
}

// ErrorText is the marker text carried into consolidation and reports.
func (r RawExtractionResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	var fe *PerFrameExtractionError
	if errors.As(r.Err, &fe) && fe.Err != nil {
		return strings.TrimSpace(fe.Err.Error())
	}
	return strings.TrimSpace(r.Err.Error())
}

// Record is one consolidated row. Values are scalars: string, float64, bool, or nil for absent.
type Record map[string]any

// QueryAnswer pairs a question with the model's unmodified answer.
type QueryAnswer struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

func intPtr(v int) *int {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}
