package extraction

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".avi": {}, ".mov": {}, ".mkv": {}, ".webm": {}, ".m4v": {},
}

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {},
}

// DetectKind classifies a path by extension.
func DetectKind(path string) (MediaKind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := videoExtensions[ext]; ok {
		return MediaVideo, nil
	}
	if _, ok := imageExtensions[ext]; ok {
		return MediaImage, nil
	}
	return "", &MediaDecodeError{Path: path, Op: "detect kind", Err: fmt.Errorf("%w: %q", ErrUnsupportedMedia, ext)}
}

// NewMediaAsset stats the file and classifies it.
func NewMediaAsset(path string) (MediaAsset, error) {
	kind, err := DetectKind(path)
	if err != nil {
		return MediaAsset{}, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return MediaAsset{}, &MediaDecodeError{Path: path, Op: "stat", Err: err}
	}
	if st.IsDir() {
		return MediaAsset{}, &MediaDecodeError{Path: path, Op: "stat", Err: fmt.Errorf("is a directory")}
	}
	return MediaAsset{Path: path, Kind: kind}, nil
}

// LoadStillImage returns the single frame for an image asset. Index and timestamp stay nil.
func LoadStillImage(path string) (SampledFrame, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SampledFrame{}, &MediaDecodeError{Path: path, Op: "read image", Err: err}
	}
	return DecodeFrameImage(path, b)
}

// DecodeFrameImage validates encoded image bytes and wraps them as an ordinal-0 frame.
func DecodeFrameImage(path string, b []byte) (SampledFrame, error) {
	if len(b) == 0 {
		return SampledFrame{}, &MediaDecodeError{Path: path, Op: "decode image", Err: fmt.Errorf("empty image data")}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return SampledFrame{}, &MediaDecodeError{Path: path, Op: "decode image", Err: err}
	}
	mime := http.DetectContentType(b)
	switch format {
	case "jpeg":
		mime = "image/jpeg"
	case "png":
		mime = "image/png"
	}
	return SampledFrame{
		Ordinal:  0,
		MIMEType: mime,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Image:    b,
	}, nil
}
