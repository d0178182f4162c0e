package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction"
	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/telemetry"
)

// GenerationSettings are the sampling knobs sent with every call. Negative values are omitted.
type GenerationSettings struct {
	Temperature     float64
	TopP            float64
	MaxOutputTokens int64
}

func DefaultGenerationSettings() GenerationSettings {
	return GenerationSettings{Temperature: 1, TopP: 0.95, MaxOutputTokens: 8192}
}

type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Settings GenerationSettings
	Retry    RetryPolicy
	Logger   *slog.Logger
}

// OpenAI implements extraction.Model with Chat Completions and inline base64 images.
type OpenAI struct {
	client   *openai.Client
	model    string
	settings GenerationSettings
	retry    RetryPolicy
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model is empty")
	}
	// Retries are handled by CallWithRetry so the SDK must not retry on its own.
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	if retry.Logger == nil {
		retry.Logger = cfg.Logger
	}
	return &OpenAI{
		client:   &client,
		model:    cfg.Model,
		settings: cfg.Settings,
		retry:    retry,
	}, nil
}

func (o *OpenAI) Generate(ctx context.Context, req extraction.Request) (string, error) {
	if o.client == nil {
		return "", errors.New("openai: client is nil")
	}
	params := openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: chatMessages(req),
	}
	if o.settings.Temperature >= 0 {
		params.Temperature = openai.Float(o.settings.Temperature)
	}
	if o.settings.TopP >= 0 {
		params.TopP = openai.Float(o.settings.TopP)
	}
	if o.settings.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(o.settings.MaxOutputTokens)
	}

	resp, err := CallWithRetry(ctx, o.retry, func(ctx context.Context) (*openai.ChatCompletion, error) {
		return o.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no response choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func chatMessages(req extraction.Request) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns)+1)
	if strings.TrimSpace(req.Instructions) != "" {
		msgs = append(msgs, openai.SystemMessage(req.Instructions))
	}
	for _, turn := range req.Turns {
		if len(turn.Images) == 0 {
			msgs = append(msgs, openai.UserMessage(turn.Text))
			continue
		}
		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(turn.Images)+1)
		for _, img := range turn.Images {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: DataURL(img),
			}))
		}
		parts = append(parts, openai.TextContentPart(turn.Text))
		msgs = append(msgs, openai.UserMessage(parts))
	}
	return msgs
}

// DataURL encodes an image as a base64 data URL.
func DataURL(img extraction.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// RetryPolicy waits longer after rate limits than after server errors.
type RetryPolicy struct {
	MaxAttempts     int
	RateLimitWaits  []time.Duration
	ServerErrorWait []time.Duration
	Logger          *slog.Logger
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		RateLimitWaits:  []time.Duration{65 * time.Second, 100 * time.Second, 135 * time.Second},
		ServerErrorWait: []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second},
	}
}

// CallWithRetry runs call until it succeeds, fails with a non-transient error, or attempts run out.
// Waits are abandoned as soon as ctx is done.
func CallWithRetry[T any](ctx context.Context, p RetryPolicy, call func(context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := call(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var waits []time.Duration
		reason := ""
		switch {
		case isRateLimitError(err):
			waits, reason = p.RateLimitWaits, "rate_limit"
		case isServerError(err):
			waits, reason = p.ServerErrorWait, "server_error"
		default:
			return zero, err
		}
		if attempt >= maxAttempts-1 {
			break
		}

		wait := waitFor(waits, attempt)
		telemetry.RetryTotal.WithLabelValues(reason).Inc()
		if p.Logger != nil {
			p.Logger.Warn("model call failed, retrying", "reason", reason, "attempt", attempt+1, "wait", wait, "err", err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, fmt.Errorf("failed after %d attempts due to model API issues: %w", maxAttempts, lastErr)
}

func waitFor(waits []time.Duration, attempt int) time.Duration {
	if len(waits) == 0 {
		return 0
	}
	if attempt < len(waits) {
		return waits[attempt]
	}
	return waits[len(waits)-1]
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}
