package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poliom/hrqa/answer"
	"github.com/poliom/hrqa/store"
)

// ErrInvalidQuestion is returned when a question fails the coordinator's
// input validation: empty, or longer than the configured cap.
var ErrInvalidQuestion = errors.New("query: invalid question")

// Retriever is the subset of retrieval.Engine the coordinator needs.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]store.RetrievalResult, error)
}

// Answerer is the subset of answer.Engine the coordinator needs.
type Answerer interface {
	Answer(ctx context.Context, question string, chunks []store.RetrievalResult) (answer.Answer, error)
}

// QueryLogger persists an audit row per ask() call. *store.Store satisfies
// this; tests can fake it.
type QueryLogger interface {
	LogQuery(ctx context.Context, e store.QueryLogEntry) error
}

// Config bounds the coordinator's input validation.
type Config struct {
	// MaxQuestionLen caps question length in runes; 0 uses a sane default.
	MaxQuestionLen int
}

// Coordinator is the public entry point of the engine: question in, Answer
// out. It implements no retrieval or generation logic itself — only
// validation, instrumentation, and delegation.
type Coordinator struct {
	retriever Retriever
	answerer  Answerer
	logger    QueryLogger
	cfg       Config
	metrics   *coordinatorMetrics
}

// New returns a Coordinator. reg may be nil, in which case metrics register
// against prometheus's default registry.
func New(retriever Retriever, answerer Answerer, logger QueryLogger, cfg Config, reg prometheus.Registerer) *Coordinator {
	if cfg.MaxQuestionLen <= 0 {
		cfg.MaxQuestionLen = 2000
	}
	return &Coordinator{
		retriever: retriever,
		answerer:  answerer,
		logger:    logger,
		cfg:       cfg,
		metrics:   newCoordinatorMetrics(reg),
	}
}

// Ask validates question, retrieves relevant chunks, and assembles an
// Answer. It never returns a bare error to callers up the chain for
// recoverable failures — a retrieval failure or an answerer error turns into
// an Answer with OK=false (LLM failures are absorbed by the answer engine,
// which returns a canned or not-found answer with OK=true) — except for the
// one genuinely caller-fixable case, an invalid question, which is returned as an error so HTTP layers can map
// it to 400.
func (c *Coordinator) Ask(ctx context.Context, question string, userID *int64) (answer.Answer, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		c.metrics.requestsTotal.WithLabelValues("invalid_input").Inc()
		return answer.Answer{}, fmt.Errorf("%w: question must not be empty", ErrInvalidQuestion)
	}
	if len([]rune(question)) > c.cfg.MaxQuestionLen {
		c.metrics.requestsTotal.WithLabelValues("invalid_input").Inc()
		return answer.Answer{}, fmt.Errorf("%w: question exceeds %d characters", ErrInvalidQuestion, c.cfg.MaxQuestionLen)
	}

	chunks, err := c.retriever.Retrieve(ctx, question)
	if err != nil {
		c.metrics.requestsTotal.WithLabelValues("error").Inc()
		slog.Error("query: retrieval failed", "error", err)
		ans := answer.Answer{Text: "Извините, произошла ошибка при поиске информации.", OK: false}
		c.logQuery(ctx, question, ans, userID, time.Since(start), nil)
		return ans, nil
	}

	ans, err := c.answerer.Answer(ctx, question, chunks)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.requestsTotal.WithLabelValues("error").Inc()
		slog.Error("query: answer assembly failed", "error", err)
		ans = answer.Answer{Text: "Извините, произошла ошибка при генерации ответа.", OK: false}
	} else if ans.OK {
		c.metrics.requestsTotal.WithLabelValues("ok").Inc()
	} else {
		c.metrics.requestsTotal.WithLabelValues("error").Inc()
	}

	c.metrics.durationSeconds.Observe(elapsed.Seconds())
	c.metrics.chunksFound.Observe(float64(len(chunks)))
	c.logQuery(ctx, question, ans, userID, elapsed, chunks)

	return ans, nil
}

// logQuery writes the audit row for one ask() call. Logging failures are
// warned, never surfaced — the answer already reached the caller.
func (c *Coordinator) logQuery(ctx context.Context, question string, ans answer.Answer, userID *int64, elapsed time.Duration, chunks []store.RetrievalResult) {
	if c.logger == nil {
		return
	}

	searchTypes := make([]string, 0, len(chunks))
	seen := make(map[string]bool, 4)
	for _, ch := range chunks {
		if seen[ch.SearchType] {
			continue
		}
		seen[ch.SearchType] = true
		searchTypes = append(searchTypes, ch.SearchType)
	}

	entry := store.QueryLogEntry{
		Question:    question,
		Answer:      ans.Text,
		OK:          ans.OK,
		Sources:     ans.Sources,
		SearchTypes: searchTypes,
		TokensUsed:  ans.TokensUsed,
		ElapsedMS:   elapsed.Milliseconds(),
		UserID:      userID,
	}
	if err := c.logger.LogQuery(ctx, entry); err != nil {
		slog.Warn("query: failed to write query log", "error", err)
	}
}
