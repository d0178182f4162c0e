package fileutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrNotJSONArray is returned by DecodeModelJSONArray when the output is a JSON value of the wrong shape.
var ErrNotJSONArray = errors.New("model output is not a JSON array")

var codeFenceRe = regexp.MustCompile("```[A-Za-z]*")

// StripCodeFence removes markdown code fence markers (``` and ```json) anywhere in s and trims whitespace.
// Applying it twice gives the same result as applying it once.
func StripCodeFence(s string) string {
	return strings.TrimSpace(codeFenceRe.ReplaceAllString(s, ""))
}

// DecodeModelJSON unmarshals a JSON object from a model response, with a small amount of robustness
// for cases where the model wraps the JSON in extra text or returns leading/trailing whitespace.
func DecodeModelJSON(outputText string, v any) error {
	s := StripCodeFence(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}

	// Fast path: valid JSON as-is.
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start != -1 && end == -1 {
		return io.ErrUnexpectedEOF
	}
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}

	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), v); err != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON (len=%d): %w", len(sub), err)
	}
	return nil
}

// DecodeModelJSONArray is DecodeModelJSON for top-level arrays. Prose around the array is tolerated,
// but an object at the top level is never searched for a nested array.
func DecodeModelJSONArray(outputText string, v any) error {
	s := StripCodeFence(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}

	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	} else if json.Valid([]byte(s)) {
		// Well-formed JSON that does not fit v: wrong shape, not noise.
		return fmt.Errorf("%w: %v", ErrNotJSONArray, err)
	}

	start := strings.IndexByte(s, '[')
	if start == -1 {
		return fmt.Errorf("no JSON array found in model output (len=%d)", len(s))
	}
	if obj := strings.IndexByte(s, '{'); obj != -1 && obj < start {
		return fmt.Errorf("%w: object at top level", ErrNotJSONArray)
	}
	end := strings.LastIndexByte(s, ']')
	if end == -1 || end < start {
		return io.ErrUnexpectedEOF
	}

	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), v); err != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON array (len=%d): %w", len(sub), err)
	}
	return nil
}
