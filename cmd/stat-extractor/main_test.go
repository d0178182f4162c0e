package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction"
)

type scriptedModel struct {
	mu            sync.Mutex
	consolidation string
	queries       []string
}

func (m *scriptedModel) Generate(ctx context.Context, req extraction.Request) (string, error) {
	last := req.Turns[len(req.Turns)-1].Text
	switch {
	case strings.Contains(last, "consolidated"):
		return m.consolidation, nil
	case strings.Contains(last, "user's query"):
		m.mu.Lock()
		m.queries = append(m.queries, req.Turns[0].Text)
		m.mu.Unlock()
		return " 97 mph \n", nil
	default:
		return `{"inning":"3","pitch_speed":"97 mph"}`, nil
	}
}

func writePNG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png: %v", err)
	}
	p := filepath.Join(t.TempDir(), "scoreboard.png")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func testApp(t *testing.T, cfg Config, m extraction.Model, stdin string) (app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return app{
		cfg:    cfg,
		model:  m,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
	}, &stdout, &stderr
}

func TestRun_ImageWithQuestions(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(envConfig{})
	cfg.MediaPath = writePNG(t)
	cfg.Format = extraction.FormatCSV
	cfg.Questions = []string{"How fast was the pitch?"}
	cfg.OutPath = filepath.Join(t.TempDir(), "report.json")

	m := &scriptedModel{consolidation: "```json\n[{\"inning\":\"3\",\"pitch_speed\":\"97 mph\"}]\n```"}
	a, stdout, stderr := testApp(t, cfg, m, "")
	if code := a.run(context.Background()); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}

	want := "inning,pitch_speed\n3,97 mph\nQ: How fast was the pitch?\nA: 97 mph\n\n"
	if stdout.String() != want {
		t.Fatalf("stdout=%q want %q", stdout.String(), want)
	}
	for _, line := range []string{"Extracting key scenes...", "Extracted 1 key frames.", "Processing complete!"} {
		if !strings.Contains(stderr.String(), line) {
			t.Fatalf("stderr missing %q: %s", line, stderr)
		}
	}
	if len(m.queries) != 1 || !strings.Contains(m.queries[0], `"pitch_speed":"97 mph"`) {
		t.Fatalf("queries=%q", m.queries)
	}

	b, err := os.ReadFile(cfg.OutPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("report json: %v", err)
	}
	if doc["run_id"] == "" || len(doc["dataset"].([]any)) != 1 {
		t.Fatalf("report=%s", b)
	}
}

func TestRun_InteractiveStopsOnExit(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(envConfig{})
	cfg.MediaPath = writePNG(t)
	cfg.Format = extraction.FormatJSON
	cfg.Interactive = true

	m := &scriptedModel{consolidation: `[{"inning":"3"}]`}
	a, stdout, stderr := testApp(t, cfg, m, "who pitched?\n\nexit\nignored\n")
	if code := a.run(context.Background()); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr)
	}
	if len(m.queries) != 1 {
		t.Fatalf("queries=%q", m.queries)
	}
	if !strings.Contains(stdout.String(), "Q: who pitched?\nA: 97 mph\n") {
		t.Fatalf("stdout=%q", stdout.String())
	}
}

func TestRun_NoDatasetBlocksQuestions(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(envConfig{})
	cfg.MediaPath = writePNG(t)
	cfg.Questions = []string{"anything?"}

	m := &scriptedModel{consolidation: "I could not do that."}
	a, stdout, stderr := testApp(t, cfg, m, "")
	if code := a.run(context.Background()); code != 1 {
		t.Fatalf("exit=%d", code)
	}
	if !strings.Contains(stderr.String(), "Error parsing consolidated output: Invalid JSON format.") ||
		!strings.Contains(stderr.String(), "Querying unavailable: no consolidated dataset.") {
		t.Fatalf("stderr=%s", stderr)
	}
	if stdout.Len() != 0 || len(m.queries) != 0 {
		t.Fatalf("stdout=%q queries=%d", stdout.String(), len(m.queries))
	}
}

func TestRun_UnsupportedMedia(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := defaultConfig(envConfig{})
	cfg.MediaPath = p

	a, _, stderr := testApp(t, cfg, &scriptedModel{}, "")
	if code := a.run(context.Background()); code != 1 {
		t.Fatalf("exit=%d", code)
	}
	if !strings.Contains(stderr.String(), "could not decode media") {
		t.Fatalf("stderr=%s", stderr)
	}
}

func TestParseFlags_Overrides(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("stat-extractor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := parseFlags(fs, []string{
		"-max-frames", "7",
		"-provider", "OLLAMA",
		"-ask", "first?",
		"-ask", "second?",
		"-format", "CSV",
		"-normalize-keys=false",
		"clips/../game.mp4",
	}, envConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.MediaPath != "game.mp4" || cfg.MaxFrames != 7 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Provider != providerOllama || cfg.Model != "llava" {
		t.Fatalf("provider=%q model=%q", cfg.Provider, cfg.Model)
	}
	if len(cfg.Questions) != 2 || cfg.Questions[1] != "second?" {
		t.Fatalf("questions=%q", cfg.Questions)
	}
	if cfg.Format != extraction.FormatCSV || cfg.NormalizeKeys {
		t.Fatalf("format=%q normalize=%v", cfg.Format, cfg.NormalizeKeys)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseFlags_ExplicitModelWins(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("stat-extractor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := parseFlags(fs, []string{"-provider", "ollama", "-model", "llama3.2-vision", "-media", "a.png"}, envConfig{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Model != "llama3.2-vision" {
		t.Fatalf("model=%q", cfg.Model)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Parallel()

	ec, err := loadEnv(map[string]string{
		"OPENAI_API_KEY":          "sk-test",
		"STAT_EXTRACTOR_PROVIDER": "ollama",
		"STAT_EXTRACTOR_MODEL":    "bakllava",
	})
	if err != nil {
		t.Fatalf("loadEnv: %v", err)
	}
	if ec.APIKey != "sk-test" || ec.OllamaHost != "http://localhost:11434" || ec.LogLevel != "info" {
		t.Fatalf("ec=%+v", ec)
	}
	cfg := defaultConfig(ec)
	if cfg.Provider != providerOllama || cfg.Model != "bakllava" {
		t.Fatalf("provider=%q model=%q", cfg.Provider, cfg.Model)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	base := defaultConfig(envConfig{})
	base.MediaPath = "game.mp4"
	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cases := map[string]func(*Config){
		"no media":        func(c *Config) { c.MediaPath = "" },
		"zero frames":     func(c *Config) { c.MaxFrames = 0 },
		"too many frames": func(c *Config) { c.MaxFrames = extraction.MaxFramesLimit + 1 },
		"provider":        func(c *Config) { c.Provider = "gemini" },
		"no model":        func(c *Config) { c.Model = "" },
		"concurrency":     func(c *Config) { c.Concurrency = -1 },
		"timeout":         func(c *Config) { c.CallTimeout = -1 },
		"threshold":       func(c *Config) { c.SceneThreshold = 1.5 },
		"min scene":       func(c *Config) { c.MinSceneLen = -2 },
		"format":          func(c *Config) { c.Format = "xml" },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestNewModel_OpenAIRequiresKey(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig(envConfig{})
	if _, err := newModel(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected error without api key")
	}
	cfg.APIKey = "sk-test"
	if _, err := newModel(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("newModel: %v", err)
	}
}
