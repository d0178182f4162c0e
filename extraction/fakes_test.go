package extraction

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type fakeModel struct {
	mu    sync.Mutex
	calls []Request
	fn    func(ctx context.Context, req Request) (string, error)
}

func (m *fakeModel) Generate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.fn == nil {
		return "", errors.New("fakeModel: no fn")
	}
	return m.fn(ctx, req)
}

func (m *fakeModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

type fakeSegmenter struct {
	seg Segmentation
	err error
}

func (s fakeSegmenter) DetectScenes(ctx context.Context, path string) (Segmentation, error) {
	return s.seg, s.err
}

type fakeGrabber struct {
	mu      sync.Mutex
	img     []byte
	fail    map[int]bool
	garbage map[int]bool
	grabbed []int
}

func (g *fakeGrabber) GrabFrame(ctx context.Context, path string, seg SceneSegment) ([]byte, error) {
	g.mu.Lock()
	g.grabbed = append(g.grabbed, seg.StartFrame)
	g.mu.Unlock()
	if g.fail[seg.StartFrame] {
		return nil, errors.New("seek failed")
	}
	if g.garbage[seg.StartFrame] {
		return []byte("not an image"), nil
	}
	return g.img, nil
}

func (g *fakeGrabber) Grabbed() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.grabbed...)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 20, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func writeTestPNG(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, testPNG(t, 8, 6), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
	return p
}

// scenesEvery returns n scenes starting every step frames at 30 fps.
func scenesEvery(n, step int) []SceneSegment {
	out := make([]SceneSegment, n)
	for i := range out {
		out[i] = SceneSegment{Ordinal: i, StartFrame: i * step, StartSeconds: float64(i*step) / 30}
	}
	return out
}

func isConsolidation(req Request) bool {
	return req.Instructions == consolidationInstructions
}

func isQuery(req Request) bool {
	return req.Instructions == queryInstructions
}
