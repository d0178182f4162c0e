package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction"
	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/fileutils"
	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/provider"
	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/telemetry"
	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/video"
)

func main() {
	ec, err := loadEnv(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:], ec)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if cfg.Provider == providerOpenAI && cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "missing OPENAI_API_KEY (or pass -api-key)")
		os.Exit(2)
	}
	os.Exit(execute(cfg))
}

// execute owns everything that needs cleanup, so deferred shutdowns run before main exits.
func execute(cfg Config) int {
	logger, closeLog, err := telemetry.SetupLogger(cfg.LogFile, telemetry.ParseLogLevel(cfg.LogLevel))
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		tp, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			return 2
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown", "err", err)
			}
		}()
	}
	if cfg.MetricsAddr != "" {
		if _, err := telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, logger); err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("metrics server: %w", err).Error())
			return 2
		}
	}

	model, err := newModel(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}

	instructions := ""
	if cfg.PromptFile != "" {
		header, err := fileutils.ReadTrimmedFile(cfg.PromptFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("prompt-file: %w", err).Error())
			return 2
		}
		instructions = extraction.ComposeFrameInstructions(header)
	}

	detector := video.NewSceneDetector(logger)
	detector.Threshold = cfg.SceneThreshold
	detector.MinSceneLen = cfg.MinSceneLen

	a := app{
		cfg:          cfg,
		model:        model,
		segmenter:    detector,
		grabber:      video.NewFrameGrabber(),
		instructions: instructions,
		logger:       logger,
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
	}
	return a.run(ctx)
}

func newModel(cfg Config, logger *slog.Logger) (extraction.Model, error) {
	settings := provider.GenerationSettings{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		MaxOutputTokens: cfg.MaxOutputTokens,
	}
	switch cfg.Provider {
	case providerOllama:
		return provider.NewOllama(provider.OllamaConfig{
			ServerURL: cfg.OllamaHost,
			Model:     cfg.Model,
			Settings:  settings,
		})
	default:
		return provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Settings: settings,
			Logger:   logger,
		})
	}
}

type app struct {
	cfg          Config
	model        extraction.Model
	segmenter    extraction.SceneSegmenter
	grabber      extraction.FrameGrabber
	instructions string
	logger       *slog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// run executes one pipeline run and any questions. It returns the process exit code.
func (a app) run(ctx context.Context) int {
	extractor := extraction.NewExtractor(a.model, extraction.ExtractorConfig{
		Concurrency:  a.cfg.Concurrency,
		CallTimeout:  a.cfg.CallTimeout,
		Instructions: a.instructions,
		Logger:       a.logger,
	})
	consolidator := extraction.NewConsolidator(a.model, extraction.ConsolidatorConfig{
		NormalizeKeys: a.cfg.NormalizeKeys,
		CallTimeout:   a.cfg.CallTimeout,
		Logger:        a.logger,
	})
	pipeline := extraction.NewPipeline(a.segmenter, a.grabber, extractor, consolidator, extraction.PipelineConfig{
		MaxFrames: a.cfg.MaxFrames,
		Logger:    a.logger,
	})

	fmt.Fprintln(a.stderr, "Extracting key scenes...")
	report, err := pipeline.Run(ctx, a.cfg.MediaPath)
	if err != nil {
		var mde *extraction.MediaDecodeError
		switch {
		case errors.As(err, &mde):
			fmt.Fprintf(a.stderr, "Error: could not decode media: %v\n", err)
		case ctx.Err() != nil:
			fmt.Fprintln(a.stderr, "Cancelled.")
		default:
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
		}
		return 1
	}

	fmt.Fprintf(a.stderr, "Extracted %d key frames.\n", len(report.Frames))
	for _, r := range report.Raw {
		if r.Failed() {
			fmt.Fprintf(a.stderr, "  frame %d%s: extraction failed: %s\n", r.Ordinal, clockSuffix(r.Timestamp), r.ErrorText())
		}
	}

	if report.Dataset == nil {
		fmt.Fprintln(a.stderr, "Error parsing consolidated output: Invalid JSON format.")
		a.logger.Debug("consolidation failed", "err", report.ConsolidationErr)
	} else if err := extraction.Render(a.stdout, report.Dataset, a.cfg.Format); err != nil {
		fmt.Fprintf(a.stderr, "Error: render dataset: %v\n", err)
		return 1
	}

	if a.cfg.OutPath != "" {
		if err := fileutils.WriteJSONFileAtomic(a.cfg.OutPath, report, a.cfg.Pretty); err != nil {
			fmt.Fprintf(a.stderr, "Error: write report: %v\n", err)
			return 1
		}
		a.logger.Info("report written", "path", a.cfg.OutPath)
	}
	fmt.Fprintln(a.stderr, "Processing complete!")

	if len(a.cfg.Questions) == 0 && !a.cfg.Interactive {
		return 0
	}
	if !report.Queryable() {
		fmt.Fprintln(a.stderr, "Querying unavailable: no consolidated dataset.")
		return 1
	}

	engine := extraction.NewQueryEngine(a.model, extraction.QueryConfig{
		CallTimeout: a.cfg.CallTimeout,
		Logger:      a.logger,
	})
	for _, q := range a.cfg.Questions {
		a.answer(ctx, engine, report.Dataset, q)
	}
	if a.cfg.Interactive {
		a.chat(ctx, engine, report.Dataset)
	}
	return 0
}

func (a app) answer(ctx context.Context, engine *extraction.QueryEngine, ds *extraction.Dataset, q string) {
	ans, err := engine.Ask(ctx, ds, q)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(a.stdout, "Q: %s\nA: %s\n\n", ans.Query, strings.TrimSpace(ans.Answer))
}

// chat answers questions read line by line until EOF, "exit", or cancellation.
func (a app) chat(ctx context.Context, engine *extraction.QueryEngine, ds *extraction.Dataset) {
	sc := bufio.NewScanner(a.stdin)
	for {
		fmt.Fprint(a.stderr, "> ")
		if !sc.Scan() || ctx.Err() != nil {
			fmt.Fprintln(a.stderr)
			return
		}
		q := strings.TrimSpace(sc.Text())
		switch strings.ToLower(q) {
		case "":
			continue
		case "exit", "quit":
			return
		}
		a.answer(ctx, engine, ds, q)
	}
}

func clockSuffix(ts *float64) string {
	if c := extraction.FormatClock(ts); c != "" {
		return " @ " + c
	}
	return ""
}
