package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDataset is reported when consolidation produced nothing usable; querying is disabled.
	ErrNoDataset = errors.New("no consolidated dataset")

	// ErrUnsupportedMedia is wrapped by MediaDecodeError when the file kind is not recognized.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// MediaDecodeError is fatal for a run: the input could not be opened or decoded at all.
type MediaDecodeError struct {
	Path string
	Op   string
	Err  error
}

func (e *MediaDecodeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("decode %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *MediaDecodeError) Unwrap() error { return e.Err }

// PerFrameExtractionError marks a single failed frame; the batch continues.
type PerFrameExtractionError struct {
	Ordinal int
	Err     error
}

func (e *PerFrameExtractionError) Error() string {
	return fmt.Sprintf("extract frame %d: %v", e.Ordinal, e.Err)
}

func (e *PerFrameExtractionError) Unwrap() error { return e.Err }

// ConsolidationParseError means the consolidation output was not a list of records.
type ConsolidationParseError struct {
	Reason string
	Err    error
}

func (e *ConsolidationParseError) Error() string {
	if e.Err == nil {
		return "consolidation output: " + e.Reason
	}
	return fmt.Sprintf("consolidation output: %s: %v", e.Reason, e.Err)
}

func (e *ConsolidationParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNoDataset}
	}
	return []error{ErrNoDataset, e.Err}
}

// QueryInvocationError affects only the query that produced it.
type QueryInvocationError struct {
	Query string
	Err   error
}

func (e *QueryInvocationError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryInvocationError) Unwrap() error { return e.Err }
