package extraction

import (
	"context"
	"io"
	"log/slog"
)

// Image is an inline image attached to a conversation turn.
type Image struct {
	MIMEType string
	Data     []byte
}

// Turn is one user message. Images are sent before the text.
type Turn struct {
	Text   string
	Images []Image
}

// Request is a single conversation sent to a Model: a system instruction and one or more user turns.
type Request struct {
	Instructions string
	Turns        []Turn
}

// Model is the vision-capable language model: image and text in, free text out.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}
