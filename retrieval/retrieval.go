// Package retrieval implements the hybrid retriever: vector search
// widened by keyword text search, falling back to a naive substring match
// when both come up empty.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/poliom/hrqa/embedding"
	"github.com/poliom/hrqa/store"
)

// Config controls keyword extraction and retrieval thresholds.
type Config struct {
	Limit                 int
	VectorThreshold       float64
	TextFallbackThreshold int // trigger text-augmentation when vector matches fall below this
	Stopwords             map[string]struct{}
	Synonyms              map[string][]string
}

// Engine performs hybrid vector + text retrieval over a document store.
type Engine struct {
	store    *store.Store
	embedder embedding.Provider
	cfg      Config
}

// New returns an Engine backed by s and embedder, configured by cfg.
func New(s *store.Store, embedder embedding.Provider, cfg Config) *Engine {
	if cfg.Limit == 0 {
		cfg.Limit = 15
	}
	if cfg.VectorThreshold == 0 {
		cfg.VectorThreshold = 0.55
	}
	return &Engine{store: s, embedder: embedder, cfg: cfg}
}

// Retrieve runs the vector → text-augmentation → fallback state machine of
// the retrieval contract and returns up to cfg.Limit chunks sorted by
// similarity descending, with no duplicates.
func (e *Engine) Retrieve(ctx context.Context, question string) ([]store.RetrievalResult, error) {
	qvec, err := e.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding question: %w", err)
	}

	vecResults, err := e.store.SearchVector(ctx, qvec, 3*e.cfg.Limit, e.cfg.VectorThreshold)
	if err != nil {
		slog.Warn("retrieval: vector search failed", "error", err)
		vecResults = nil
	}

	seen := make(map[int64]bool, len(vecResults))
	combined := make([]store.RetrievalResult, 0, len(vecResults))
	for _, r := range vecResults {
		r.SearchType = "vector"
		combined = append(combined, r)
		seen[r.ChunkID] = true
	}

	textThreshold := e.cfg.TextFallbackThreshold
	if textThreshold == 0 {
		textThreshold = e.cfg.Limit / 2
	}
	if len(combined) < textThreshold {
		keywords := ExtractKeywords(question, e.cfg.Stopwords, e.cfg.Synonyms)
		if len(keywords) > 0 {
			textResults, err := e.store.SearchText(ctx, keywords, e.cfg.Limit)
			if err != nil {
				slog.Warn("retrieval: text search failed", "error", err)
			}
			for _, r := range textResults {
				if seen[r.ChunkID] {
					continue
				}
				r.SearchType = "text"
				r.Score = 0.7
				combined = append(combined, r)
				seen[r.ChunkID] = true
			}
		}
	}

	if len(combined) == 0 {
		tokens := fallbackTokens(question)
		if len(tokens) > 0 {
			fallbackResults, err := e.store.SearchSubstring(ctx, tokens, e.cfg.Limit)
			if err != nil {
				slog.Warn("retrieval: fallback substring search failed", "error", err)
			}
			for _, r := range fallbackResults {
				if seen[r.ChunkID] {
					continue
				}
				r.SearchType = "fallback"
				r.Score = 0.5
				combined = append(combined, r)
				seen[r.ChunkID] = true
			}
		}
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Score > combined[j].Score
	})
	if len(combined) > e.cfg.Limit {
		combined = combined[:e.cfg.Limit]
	}
	return combined, nil
}

var tokenPattern = regexp.MustCompile(`[0-9A-Za-zА-Яа-яЁё]+`)

// ExtractKeywords tokenizes question on non-word characters, lowercases,
// drops short tokens and stopwords, expands via synonyms, retains 1-2 digit
// numeric tokens, and caps the result at 10 keywords.
func ExtractKeywords(question string, stopwords map[string]struct{}, synonyms map[string][]string) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(question), -1)

	seen := make(map[string]struct{})
	var keywords []string
	add := func(tok string) {
		if tok == "" {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}

	for _, tok := range tokens {
		if len(keywords) >= 10 {
			break
		}
		if isNumericToken(tok) {
			add(tok)
			continue
		}
		if len([]rune(tok)) < 4 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		add(tok)
		for _, syn := range synonyms[tok] {
			if len(keywords) >= 10 {
				break
			}
			add(syn)
		}
	}

	if len(keywords) > 10 {
		keywords = keywords[:10]
	}
	return keywords
}

// isNumericToken reports whether tok is 1-2 ASCII digits (a date fragment).
func isNumericToken(tok string) bool {
	if len(tok) < 1 || len(tok) > 2 {
		return false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// fallbackTokens returns the top ≤3 whole-word tokens of length > 2 from
// question, for the naive substring fallback phase.
func fallbackTokens(question string) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(question), -1)
	var out []string
	for _, tok := range tokens {
		if len([]rune(tok)) <= 2 {
			continue
		}
		out = append(out, tok)
		if len(out) == 3 {
			break
		}
	}
	return out
}
