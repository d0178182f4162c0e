package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction"
)

type OllamaConfig struct {
	ServerURL string
	Model     string
	Settings  GenerationSettings
	Retry     RetryPolicy
}

// LangChain implements extraction.Model on top of a langchaingo model (a local Ollama vision model by default).
type LangChain struct {
	llm      llms.Model
	settings GenerationSettings
	retry    RetryPolicy
}

func NewOllama(cfg OllamaConfig) (*LangChain, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama: model is empty")
	}
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}
	return NewLangChain(llm, cfg.Settings, cfg.Retry), nil
}

// NewLangChain wraps any langchaingo model that accepts binary image parts.
func NewLangChain(llm llms.Model, settings GenerationSettings, retry RetryPolicy) *LangChain {
	if retry.MaxAttempts == 0 {
		retry = RetryPolicy{MaxAttempts: 1}
	}
	return &LangChain{llm: llm, settings: settings, retry: retry}
}

func (l *LangChain) Generate(ctx context.Context, req extraction.Request) (string, error) {
	if l.llm == nil {
		return "", errors.New("langchain: model is nil")
	}
	messages := messageContent(req)
	opts := callOptions(l.settings)

	resp, err := CallWithRetry(ctx, l.retry, func(ctx context.Context) (*llms.ContentResponse, error) {
		return l.llm.GenerateContent(ctx, messages, opts...)
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return resp.Choices[0].Content, nil
}

func messageContent(req extraction.Request) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(req.Turns)+1)
	if strings.TrimSpace(req.Instructions) != "" {
		out = append(out, llms.TextParts(schema.ChatMessageTypeSystem, req.Instructions))
	}
	for _, turn := range req.Turns {
		parts := make([]llms.ContentPart, 0, len(turn.Images)+1)
		for _, img := range turn.Images {
			mime := img.MIMEType
			if mime == "" {
				mime = "image/jpeg"
			}
			parts = append(parts, llms.BinaryPart(mime, img.Data))
		}
		parts = append(parts, llms.TextPart(turn.Text))
		out = append(out, llms.MessageContent{Role: schema.ChatMessageTypeHuman, Parts: parts})
	}
	return out
}

func callOptions(s GenerationSettings) []llms.CallOption {
	var opts []llms.CallOption
	if s.Temperature >= 0 {
		opts = append(opts, llms.WithTemperature(s.Temperature))
	}
	if s.TopP >= 0 {
		opts = append(opts, llms.WithTopP(s.TopP))
	}
	if s.MaxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(int(s.MaxOutputTokens)))
	}
	return opts
}
