// Package hrqa is the top-level library facade for the HR retrieval-augmented
// question-answering engine: it wires the ingestion pipeline, hybrid
// retriever, and answer engine together behind one Engine interface the chat
// bot and admin UI integrate against.
package hrqa

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poliom/hrqa/answer"
	"github.com/poliom/hrqa/config"
	"github.com/poliom/hrqa/domain"
	"github.com/poliom/hrqa/embedding"
	"github.com/poliom/hrqa/ingest"
	"github.com/poliom/hrqa/llmclient"
	"github.com/poliom/hrqa/query"
	"github.com/poliom/hrqa/retrieval"
	"github.com/poliom/hrqa/store"
)

// UploadMeta describes a document being uploaded through upload_document.
type UploadMeta struct {
	OriginalFilename string
	Title            string
	Description      string
}

// Engine is the public surface the chat bot and admin UI collaborators
// integrate against. No method returns a bare error for a recoverable
// failure: Ask always returns a structured Answer and Ingest always returns
// a structured Report.
type Engine interface {
	// Ask answers a question, citing the documents it drew from.
	Ask(ctx context.Context, question string, userID *int64) (answer.Answer, error)

	// Ingest runs the ingestion pipeline for an already-uploaded document.
	Ingest(ctx context.Context, documentID int64) (ingest.Report, error)

	// UploadDocument stores bytes on disk under the configured uploads
	// directory with a timestamp-prefixed unique name, creates a pending
	// Document row, and returns its id. It does not ingest.
	UploadDocument(ctx context.Context, meta UploadMeta, data io.Reader) (int64, error)

	// DeleteDocument cascades: chunks, row, then file on disk.
	DeleteDocument(ctx context.Context, id int64) error

	// ListDocuments enumerates documents, optionally filtered by status.
	ListDocuments(ctx context.Context, status string) ([]store.Document, error)

	// GetDocument reads one document's metadata.
	GetDocument(ctx context.Context, id int64) (*store.Document, error)

	// HealthCheck reports whether the store, the embedding provider and the
	// LLM backend are all reachable.
	HealthCheck(ctx context.Context) bool

	// Close releases the underlying store connection.
	Close() error
}

type engine struct {
	cfg         config.Config
	store       *store.Store
	embedder    embedding.Provider
	llm         *llmclient.Client
	pipeline    *ingest.Pipeline
	coordinator *query.Coordinator
}

// New wires a complete Engine from cfg: opens (or creates) the store,
// constructs the embedding provider, LLM client, ingestion pipeline, hybrid
// retriever, answer engine, and query coordinator, and returns the whole
// thing behind the Engine interface. Callers own the returned Engine's
// lifetime and must call Close when done.
func New(cfg config.Config) (Engine, error) {
	s, err := store.New(cfg.DBPath, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("hrqa: opening store: %w", err)
	}

	embedder := embedding.New(embedding.Config{
		Endpoint:  cfg.Embedding.Endpoint,
		ModelID:   cfg.Embedding.ModelID,
		Dimension: cfg.Embedding.Dimension,
		MaxTokens: cfg.Embedding.MaxTokens,
	})

	llm := llmclient.New(llmclient.Config{
		Endpoint:           cfg.LLM.Endpoint,
		AuthEndpoint:       cfg.LLM.AuthEndpoint,
		Credential:         cfg.LLM.Credential,
		Scope:              cfg.LLM.Scope,
		Model:              cfg.LLM.Model,
		MaxTokens:          cfg.LLM.MaxTokens,
		Temperature:        cfg.LLM.Temperature,
		Timeout:            time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		TokenRefreshMargin: time.Duration(cfg.LLM.TokenRefreshMarginSec) * time.Second,
	})

	pipeline := ingest.New(s, embedder, ingest.Config{
		ChunkSize:    cfg.Chunk.Size,
		ChunkOverlap: cfg.Chunk.Overlap,
		SoftDeadline: time.Duration(cfg.Ingest.SoftDeadlineSec) * time.Second,
		HardDeadline: time.Duration(cfg.Ingest.HardDeadlineSec) * time.Second,
	})

	retriever := retrieval.New(s, embedder, retrieval.Config{
		Limit:                 cfg.Retriever.Limit,
		VectorThreshold:       cfg.Retriever.VectorThreshold,
		TextFallbackThreshold: cfg.Retriever.TextFallbackThreshold,
		Stopwords:             toStopwordSet(cfg.Retriever.Stopwords),
		Synonyms:              cfg.Retriever.Synonyms,
	})

	answerer := answer.New(llm, answer.Config{
		MaxTokens:               cfg.LLM.MaxTokens,
		Temperature:             cfg.LLM.Temperature,
		BlockedResponsePatterns: cfg.BlockedResponsePatterns,
		DomainRules:             toDomainRules(cfg.DomainRules),
	})

	coordinator := query.New(retriever, answerer, s, query.Config{}, prometheus.DefaultRegisterer)

	return &engine{
		cfg:         cfg,
		store:       s,
		embedder:    embedder,
		llm:         llm,
		pipeline:    pipeline,
		coordinator: coordinator,
	}, nil
}

func (e *engine) Ask(ctx context.Context, question string, userID *int64) (answer.Answer, error) {
	return e.coordinator.Ask(ctx, question, userID)
}

func (e *engine) Ingest(ctx context.Context, documentID int64) (ingest.Report, error) {
	return e.pipeline.Run(ctx, documentID)
}

func (e *engine) UploadDocument(ctx context.Context, meta UploadMeta, data io.Reader) (int64, error) {
	if meta.OriginalFilename == "" {
		return 0, fmt.Errorf("%w: original filename is required", ErrInputInvalid)
	}

	dir := e.cfg.Uploads.Dir
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("hrqa: creating uploads dir: %w", err)
	}

	safeName := filepath.Base(meta.OriginalFilename)
	storedName := fmt.Sprintf("%d_%s", time.Now().Unix(), safeName)
	fullPath := filepath.Join(dir, storedName)

	maxBytes := e.cfg.Uploads.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}

	dst, err := os.Create(fullPath)
	if err != nil {
		return 0, fmt.Errorf("hrqa: creating upload file: %w", err)
	}
	written, err := io.Copy(dst, io.LimitReader(data, maxBytes+1))
	closeErr := dst.Close()
	if err != nil || closeErr != nil {
		os.Remove(fullPath)
		if err == nil {
			err = closeErr
		}
		return 0, fmt.Errorf("hrqa: writing upload file: %w", err)
	}
	if written > maxBytes {
		os.Remove(fullPath)
		return 0, fmt.Errorf("%w: file exceeds %d byte upload cap", ErrInputInvalid, maxBytes)
	}

	fileType := fileTypeFromName(safeName)
	title := meta.Title
	if title == "" {
		title = safeName
	}

	id, err := e.store.CreateDocument(ctx, store.Document{
		StoredFilename:   storedName,
		OriginalFilename: safeName,
		FilePath:         fullPath,
		FileSize:         written,
		FileType:         fileType,
		Title:            title,
		Description:      meta.Description,
	})
	if err != nil {
		os.Remove(fullPath)
		return 0, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return id, nil
}

func (e *engine) DeleteDocument(ctx context.Context, id int64) error {
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return nil
}

func (e *engine) ListDocuments(ctx context.Context, status string) ([]store.Document, error) {
	docs, err := e.store.ListDocuments(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return docs, nil
}

func (e *engine) GetDocument(ctx context.Context, id int64) (*store.Document, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentNotFound, err)
	}
	return doc, nil
}

// HealthCheck aggregates the store ping, the embedding provider, and the LLM
// backend, mirroring the production bot's three-way health_check().
func (e *engine) HealthCheck(ctx context.Context) bool {
	if err := e.store.DB().PingContext(ctx); err != nil {
		slog.Warn("hrqa: health check: store unreachable", "error", err)
		return false
	}
	if _, err := e.embedder.EmbedOne(ctx, "ping"); err != nil {
		slog.Warn("hrqa: health check: embedding provider unreachable", "error", err)
		return false
	}
	return e.llm.HealthCheck(ctx)
}

func (e *engine) Close() error {
	return e.store.Close()
}

func toStopwordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func toDomainRules(rules []config.DomainRule) []domain.Rule {
	out := make([]domain.Rule, len(rules))
	for i, r := range rules {
		out[i] = domain.Rule{
			Name:           r.Name,
			IntentKeywords: r.IntentKeywords,
			CannedAnswer:   r.CannedAnswer,
			RequiredTokens: r.RequiredTokens,
		}
	}
	return out
}

func fileTypeFromName(name string) string {
	ext := filepath.Ext(name)
	if len(ext) > 1 {
		return strings.ToLower(ext[1:])
	}
	return ""
}
