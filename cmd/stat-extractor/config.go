package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction"
)

const (
	providerOpenAI = "openai"
	providerOllama = "ollama"
)

// envConfig holds the settings that may come from the environment. Flags override them.
type envConfig struct {
	APIKey       string `env:"OPENAI_API_KEY"`
	BaseURL      string `env:"OPENAI_BASE_URL"`
	OllamaHost   string `env:"OLLAMA_HOST"                        envDefault:"http://localhost:11434"`
	Provider     string `env:"STAT_EXTRACTOR_PROVIDER"            envDefault:"openai"`
	Model        string `env:"STAT_EXTRACTOR_MODEL"`
	LogLevel     string `env:"STAT_EXTRACTOR_LOG_LEVEL"           envDefault:"info"`
	LogFile      string `env:"STAT_EXTRACTOR_LOG_FILE"`
	MetricsAddr  string `env:"STAT_EXTRACTOR_METRICS_ADDR"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
}

func loadEnv(environ map[string]string) (envConfig, error) {
	var ec envConfig
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&ec, opts); err != nil {
		return envConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return ec, nil
}

type Config struct {
	MediaPath string
	MaxFrames int

	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	OllamaHost string

	Temperature     float64
	TopP            float64
	MaxOutputTokens int64

	Concurrency    int
	CallTimeout    time.Duration
	SceneThreshold float64
	MinSceneLen    int
	NormalizeKeys  bool
	PromptFile     string

	Format      string
	OutPath     string
	Pretty      bool
	Questions   []string
	Interactive bool

	LogLevel     string
	LogFile      string
	MetricsAddr  string
	OTLPEndpoint string
}

func (c Config) Validate() error {
	if c.MediaPath == "" {
		return errors.New("missing -media")
	}
	if c.MaxFrames < 1 || c.MaxFrames > extraction.MaxFramesLimit {
		return fmt.Errorf("max-frames must be between 1 and %d", extraction.MaxFramesLimit)
	}
	switch c.Provider {
	case providerOpenAI, providerOllama:
	default:
		return fmt.Errorf("unknown -provider %q (want openai or ollama)", c.Provider)
	}
	if c.Model == "" {
		return errors.New("missing -model")
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must be >= 0")
	}
	if c.CallTimeout < 0 {
		return errors.New("call-timeout must be >= 0")
	}
	if c.SceneThreshold <= 0 || c.SceneThreshold >= 1 {
		return errors.New("scene-threshold must be between 0 and 1")
	}
	if c.MinSceneLen < 0 {
		return errors.New("min-scene-len must be >= 0")
	}
	switch c.Format {
	case extraction.FormatTable, extraction.FormatJSON, extraction.FormatCSV:
	default:
		return fmt.Errorf("unknown -format %q (want table, json or csv)", c.Format)
	}
	return nil
}

func defaultConfig(ec envConfig) Config {
	provider := strings.ToLower(strings.TrimSpace(ec.Provider))
	if provider == "" {
		provider = providerOpenAI
	}
	model := ec.Model
	if model == "" {
		model = defaultModel(provider)
	}
	return Config{
		MaxFrames:       extraction.DefaultMaxFrames,
		Provider:        provider,
		Model:           model,
		APIKey:          ec.APIKey,
		BaseURL:         ec.BaseURL,
		OllamaHost:      ec.OllamaHost,
		Temperature:     1,
		TopP:            0.95,
		MaxOutputTokens: 8192,
		Concurrency:     extraction.DefaultConcurrency,
		CallTimeout:     extraction.DefaultCallTimeout,
		SceneThreshold:  0.30,
		MinSceneLen:     15,
		NormalizeKeys:   true,
		Format:          extraction.FormatTable,
		LogLevel:        ec.LogLevel,
		LogFile:         ec.LogFile,
		MetricsAddr:     ec.MetricsAddr,
		OTLPEndpoint:    ec.OTLPEndpoint,
	}
}

func defaultModel(provider string) string {
	if provider == providerOllama {
		return "llava"
	}
	return "gpt-4o-mini"
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, "; ") }

func (s *stringList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("empty value")
	}
	*s = append(*s, v)
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string, ec envConfig) (Config, error) {
	cfg := defaultConfig(ec)
	fs.SetOutput(os.Stderr)

	var questions stringList
	fs.StringVar(&cfg.MediaPath, "media", "", "Path to a video (mp4, avi, mov, mkv, webm, m4v) or image (jpg, jpeg, png)")
	fs.IntVar(&cfg.MaxFrames, "max-frames", cfg.MaxFrames, "Number of leading scenes to sample (1-20)")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "Model provider: openai or ollama")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Vision model name (default depends on -provider)")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "OpenAI API key (overrides OPENAI_API_KEY env var)")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "OpenAI-compatible base URL (overrides OPENAI_BASE_URL)")
	fs.StringVar(&cfg.OllamaHost, "ollama-host", cfg.OllamaHost, "Ollama server URL (overrides OLLAMA_HOST)")
	fs.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "Sampling temperature (negative omits it)")
	fs.Float64Var(&cfg.TopP, "top-p", cfg.TopP, "Nucleus sampling top-p (negative omits it)")
	fs.Int64Var(&cfg.MaxOutputTokens, "max-output-tokens", cfg.MaxOutputTokens, "Max output tokens per call (0 omits it)")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Max concurrent per-frame model calls (0 = default)")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "Timeout for each model call (0 = default)")
	fs.Float64Var(&cfg.SceneThreshold, "scene-threshold", cfg.SceneThreshold, "ffmpeg scene-change score that counts as a cut (0-1)")
	fs.IntVar(&cfg.MinSceneLen, "min-scene-len", cfg.MinSceneLen, "Minimum scene length in frames")
	fs.BoolVar(&cfg.NormalizeKeys, "normalize-keys", cfg.NormalizeKeys, "Fold column names to snake_case and merge aliases")
	fs.StringVar(&cfg.PromptFile, "prompt-file", "", "Optional file with a custom per-frame prompt header (units/output rules are always appended)")
	fs.StringVar(&cfg.Format, "format", cfg.Format, "Dataset output: table, json or csv")
	fs.StringVar(&cfg.OutPath, "out", "", "Optional path for a JSON run report")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Pretty-print the -out report")
	fs.Var(&questions, "ask", "Question to answer against the dataset (repeatable)")
	fs.BoolVar(&cfg.Interactive, "interactive", false, "Read questions from stdin, one per line, until EOF")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Optional JSON log file (in addition to stderr)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Optional listen address for /metrics and /healthz (e.g. :9090)")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "Optional OTLP/HTTP traces endpoint URL")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// A bare positional argument is accepted as the media path.
	if cfg.MediaPath == "" && fs.NArg() > 0 {
		cfg.MediaPath = fs.Arg(0)
	}
	providerSet, modelSet := false, false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "provider":
			providerSet = true
		case "model":
			modelSet = true
		}
	})
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if providerSet && !modelSet && ec.Model == "" {
		cfg.Model = defaultModel(cfg.Provider)
	}
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	cfg.Questions = questions
	if cfg.MediaPath != "" {
		cfg.MediaPath = filepath.Clean(cfg.MediaPath)
	}
	if cfg.OutPath != "" {
		cfg.OutPath = filepath.Clean(cfg.OutPath)
	}
	if cfg.PromptFile != "" {
		cfg.PromptFile = filepath.Clean(cfg.PromptFile)
	}
	return cfg, nil
}
