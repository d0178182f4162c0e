package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/theimaginaryfoundation/boxscore-o-bot/extraction/telemetry"
)

type QueryConfig struct {
	// CallTimeout bounds one question. 0 means DefaultCallTimeout; negative disables it.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// QueryEngine answers free-form questions against a consolidated dataset. It keeps no state
// between questions.
type QueryEngine struct {
	model   Model
	timeout time.Duration
	logger  *slog.Logger
}

func NewQueryEngine(model Model, cfg QueryConfig) *QueryEngine {
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	return &QueryEngine{model: model, timeout: timeout, logger: loggerOrDiscard(cfg.Logger)}
}

// Ask sends the whole table and the question in one call and returns the answer unmodified.
func (q *QueryEngine) Ask(ctx context.Context, ds *Dataset, question string) (QueryAnswer, error) {
	if ds == nil {
		telemetry.QueriesTotal.WithLabelValues("unavailable").Inc()
		return QueryAnswer{}, ErrNoDataset
	}
	if strings.TrimSpace(question) == "" {
		return QueryAnswer{}, errors.New("empty query")
	}

	ctx, span := telemetry.Tracer("extraction").Start(ctx, "query")
	span.SetAttributes(attribute.Int("rows", ds.Len()))

	table, err := ds.MarshalJSON()
	if err != nil {
		telemetry.EndSpan(span, err)
		return QueryAnswer{}, fmt.Errorf("marshal dataset: %w", err)
	}

	callCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	req := Request{
		Instructions: queryInstructions,
		Turns: []Turn{
			{Text: buildQueryTurn(table, question)},
			{Text: queryFollowUp},
		},
	}
	start := time.Now()
	answer, err := q.model.Generate(callCtx, req)
	telemetry.ObserveModelCall("query", start)
	if err != nil {
		q.logger.Warn("query failed", "err", err)
		telemetry.QueriesTotal.WithLabelValues("error").Inc()
		telemetry.EndSpan(span, err)
		return QueryAnswer{}, &QueryInvocationError{Query: question, Err: err}
	}
	telemetry.QueriesTotal.WithLabelValues("ok").Inc()
	telemetry.EndSpan(span, nil)
	return QueryAnswer{Query: question, Answer: answer}, nil
}
