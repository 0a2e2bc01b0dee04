// Package answer implements the answer engine: context formatting,
// prompt assembly, LLM invocation, and the response-validation + domain
// post-check that decides whether the LLM's text is trustworthy enough to
// return as-is.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/poliom/hrqa/domain"
	"github.com/poliom/hrqa/llmclient"
	"github.com/poliom/hrqa/store"
)

// Generator is the subset of llmclient.Client the answer engine needs,
// narrowed so it can be faked in tests without a real HTTP backend.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (llmclient.Response, error)
}

// NotFoundTemplate is returned when retrieval finds nothing relevant.
const NotFoundTemplate = "К сожалению, я не нашел информации по вашему вопросу в корпоративной базе знаний. Попробуйте переформулировать вопрос или обратитесь к HR-отделу."

// Source describes one document a returned answer drew from.
type Source struct {
	Title      string `json:"title"`
	ChunkIndex int    `json:"chunk_index"`
	DocumentID int64  `json:"document_id"`
}

// Answer is the result of answering one question.
type Answer struct {
	Text        string   `json:"text"`
	Sources     []Source `json:"sources,omitempty"`
	OK          bool     `json:"ok"`
	TokensUsed  int      `json:"tokens_used,omitempty"`
	ChunksFound int      `json:"chunks_found"`
}

// Config controls prompt assembly and LLM call parameters.
type Config struct {
	MaxTokens               int
	Temperature             float64
	BlockedResponsePatterns []string
	DomainRules             []domain.Rule
}

// Engine turns retrieved chunks and a question into a validated Answer.
type Engine struct {
	llm Generator
	cfg Config
}

// New returns an Engine that calls llm to generate answers, validated and
// overridden according to cfg.
func New(llm Generator, cfg Config) *Engine {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	return &Engine{llm: llm, cfg: cfg}
}

// Answer turns question and its retrieved chunks into a validated Answer.
func (e *Engine) Answer(ctx context.Context, question string, chunks []store.RetrievalResult) (Answer, error) {
	if len(chunks) == 0 {
		return Answer{Text: NotFoundTemplate, OK: true}, nil
	}

	// A rule without required tokens is a hard override: it answers the
	// question directly and the LLM is never consulted. A rule with required
	// tokens lets the LLM try first and post-checks the result below.
	rule, matched := domain.Match(question, e.cfg.DomainRules)
	if matched && len(rule.RequiredTokens) == 0 {
		return e.canned(rule, chunks), nil
	}

	contextBlock := FormatContext(chunks)
	prompt := buildPrompt(contextBlock, question)

	resp, err := e.llm.Generate(ctx, prompt, e.cfg.MaxTokens, e.cfg.Temperature)
	if err != nil || !resp.OK {
		// An LLM failure is treated the same as an invalid response: the
		// matched canned answer if any, otherwise the not-found template.
		return e.fallbackFor(question, chunks), nil
	}

	if e.isBlocked(resp.Text) {
		return e.fallbackFor(question, chunks), nil
	}

	if matched && !domain.RequiresToken(rule, resp.Text) {
		return e.canned(rule, chunks), nil
	}

	return Answer{
		Text:        resp.Text,
		Sources:     dedupeSources(sourcesFrom(chunks)),
		OK:          true,
		TokensUsed:  resp.TokensUsed,
		ChunksFound: len(chunks),
	}, nil
}

// canned builds the Answer for a matched domain rule.
func (e *Engine) canned(rule domain.Rule, chunks []store.RetrievalResult) Answer {
	return Answer{Text: rule.CannedAnswer, Sources: dedupeSources(sourcesFrom(chunks)), OK: true, ChunksFound: len(chunks)}
}

// fallbackFor returns a rule's canned answer if the question matches one,
// otherwise the generic "could not find" template.
func (e *Engine) fallbackFor(question string, chunks []store.RetrievalResult) Answer {
	if rule, matched := domain.Match(question, e.cfg.DomainRules); matched {
		return e.canned(rule, chunks)
	}
	return Answer{Text: NotFoundTemplate, OK: true, ChunksFound: len(chunks)}
}

// isBlocked reports whether text matches any configured refusal pattern.
func (e *Engine) isBlocked(text string) bool {
	for _, phrase := range e.cfg.BlockedResponsePatterns {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// FormatContext renders chunks as "[Source i: title]\ncontent\n" blocks in
// retrieval-ranked order, separated by blank lines. The LLM never sees
// chunk IDs, document IDs, or embeddings — only titles and content.
func FormatContext(chunks []store.RetrievalResult) string {
	if len(chunks) == 0 {
		return "Информация не найдена."
	}
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		parts = append(parts, fmt.Sprintf("[Source %d: %s]\n%s\n", i+1, c.DocumentTitle, c.Content))
	}
	return strings.Join(parts, "\n")
}

const promptHeader = `Ты - корпоративный помощник по кадровым вопросам. Отвечай на вопросы сотрудников строго на основе предоставленного контекста, на русском языке.

ИНСТРУКЦИИ:
- Отвечай только на основе предоставленного контекста
- Если информации недостаточно, скажи об этом честно
- Будь вежливым и профессиональным`

func buildPrompt(contextBlock, question string) string {
	return fmt.Sprintf("%s\n\nКОНТЕКСТ:\n%s\n\nВОПРОС: %s\n\nОТВЕТ:", promptHeader, contextBlock, question)
}

func sourcesFrom(chunks []store.RetrievalResult) []Source {
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		out[i] = Source{Title: c.DocumentTitle, ChunkIndex: c.ChunkIndex, DocumentID: c.DocumentID}
	}
	return out
}

// dedupeSources removes duplicate titles, preserving order, and caps the
// result at 3 entries.
func dedupeSources(sources []Source) []Source {
	seen := make(map[string]bool, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		if seen[s.Title] {
			continue
		}
		seen[s.Title] = true
		out = append(out, s)
		if len(out) == 3 {
			break
		}
	}
	return out
}
