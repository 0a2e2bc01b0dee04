// Package ingest implements the ingestion pipeline: load a document,
// extract its text, split it into chunks, embed each chunk, and persist the
// result — converging to a clean completed or failed status on every run.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/poliom/hrqa/chunker"
	"github.com/poliom/hrqa/embedding"
	"github.com/poliom/hrqa/extractor"
	"github.com/poliom/hrqa/store"
)

// Report summarizes the outcome of a single Run.
type Report struct {
	Status        string
	ChunksCreated int
	Error         string
}

// Config controls chunking and embedding concurrency for the pipeline.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// EmbedWorkers bounds how many chunks are embedded concurrently.
	EmbedWorkers int
	// BatchSize bounds how many chunks are persisted per insert call.
	BatchSize int
	// SoftDeadline, when non-zero, logs a warning if a single Run is still
	// in flight past this duration; it does not cancel anything.
	SoftDeadline time.Duration
	// HardDeadline, when non-zero, bounds the whole Run: past it the
	// pipeline's context is cancelled and the document is marked failed
	// with "deadline exceeded".
	HardDeadline time.Duration
}

// Pipeline runs the ingestion algorithm against a store, embedder, and
// extractor dispatch.
type Pipeline struct {
	store    *store.Store
	embedder embedding.Provider
	cfg      Config
}

// New returns a Pipeline backed by s and embedder, configured by cfg.
func New(s *store.Store, embedder embedding.Provider, cfg Config) *Pipeline {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1500
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.SoftDeadline == 0 {
		cfg.SoftDeadline = 25 * time.Minute
	}
	if cfg.HardDeadline == 0 {
		cfg.HardDeadline = 30 * time.Minute
	}
	return &Pipeline{store: s, embedder: embedder, cfg: cfg}
}

// Run ingests the document identified by documentID: it is idempotent and,
// regardless of starting state, converges to a completed or failed status
// with no orphan chunks. The source file is never mutated.
func (p *Pipeline) Run(ctx context.Context, documentID int64) (Report, error) {
	if p.cfg.HardDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.HardDeadline)
		defer cancel()
	}
	if p.cfg.SoftDeadline > 0 {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-time.After(p.cfg.SoftDeadline):
				slog.Warn("ingest: soft deadline exceeded", "document_id", documentID, "deadline", p.cfg.SoftDeadline)
			case <-done:
			}
		}()
	}

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return Report{}, fmt.Errorf("ingest: loading document %d: %w", documentID, err)
	}

	changed, err := p.store.SetStatus(ctx, documentID, store.StatusProcessing, "",
		store.StatusPending, store.StatusFailed, store.StatusCompleted)
	if err != nil {
		return Report{}, fmt.Errorf("ingest: transitioning to processing: %w", err)
	}
	if !changed {
		return Report{Status: store.StatusProcessing}, nil
	}

	if _, err := p.store.DeleteChunks(ctx, documentID); err != nil {
		return p.fail(ctx, documentID, fmt.Sprintf("clearing old chunks: %v", err))
	}

	text, err := extractor.Extract(ctx, doc.FilePath, doc.FileType)
	if err != nil {
		return p.fail(ctx, documentID, fmt.Sprintf("extracting text: %v", err))
	}

	pieces := chunker.Split(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(pieces) == 0 {
		return p.fail(ctx, documentID, "chunking produced no output")
	}

	embedded, failed := p.embedChunks(ctx, pieces)
	if len(embedded) == 0 {
		return p.fail(ctx, documentID, "no chunks embedded")
	}
	if failed > 0 {
		slog.Warn("ingest: some chunks failed embedding", "document_id", documentID, "failed", failed, "total", len(pieces))
	}

	count, err := p.persist(ctx, documentID, embedded)
	if err != nil {
		return p.fail(ctx, documentID, fmt.Sprintf("persisting chunks: %v", err))
	}

	if err := p.store.SetChunksCount(ctx, documentID, count); err != nil {
		return p.fail(ctx, documentID, fmt.Sprintf("recording chunk count: %v", err))
	}
	if _, err := p.store.SetStatus(ctx, documentID, store.StatusCompleted, "", store.StatusProcessing); err != nil {
		return p.fail(ctx, documentID, fmt.Sprintf("finalizing status: %v", err))
	}

	return Report{Status: store.StatusCompleted, ChunksCreated: count}, nil
}

func (p *Pipeline) fail(ctx context.Context, documentID int64, message string) (Report, error) {
	if ctx.Err() != nil {
		message = "deadline exceeded"
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if _, err := p.store.SetStatus(ctx, documentID, store.StatusFailed, message, store.StatusProcessing); err != nil {
		slog.Warn("ingest: failed to record failure status", "document_id", documentID, "error", err)
	}
	return Report{Status: store.StatusFailed, Error: message}, nil
}

type embeddedChunk struct {
	index     int
	content   string
	embedding []float32
}

// embedChunks embeds every piece concurrently, bounded by cfg.EmbedWorkers,
// and returns the survivors sorted by original index — a per-chunk failure
// is logged and skipped rather than failing the whole document.
func (p *Pipeline) embedChunks(ctx context.Context, pieces []string) ([]embeddedChunk, int) {
	jobs := make(chan int)
	results := make(chan embeddedChunk, len(pieces))
	var failed counter

	var wg sync.WaitGroup
	for w := 0; w < p.cfg.EmbedWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				vec, err := p.embedder.EmbedOne(ctx, pieces[i])
				if err != nil {
					slog.Warn("ingest: embedding chunk failed, skipping", "index", i, "error", err)
					failed.add(1)
					continue
				}
				results <- embeddedChunk{index: i, content: pieces[i], embedding: vec}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range pieces {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]embeddedChunk, 0, len(pieces))
	for r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	// Re-sequence so chunk_index stays a contiguous 0..N-1 run even when
	// some original pieces were skipped for failing to embed.
	for i := range out {
		out[i].index = i
	}
	return out, failed.get()
}

// persist writes chunks to the store in batches of cfg.BatchSize, committing
// each batch separately, and returns the total number persisted.
func (p *Pipeline) persist(ctx context.Context, documentID int64, chunks []embeddedChunk) (int, error) {
	total := 0
	for i := 0; i < len(chunks); i += p.cfg.BatchSize {
		end := i + p.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		batch := make([]store.ChunkInput, end-i)
		for j := i; j < end; j++ {
			batch[j-i] = store.ChunkInput{
				Index:     chunks[j].index,
				Content:   chunks[j].content,
				Embedding: chunks[j].embedding,
			}
		}

		if _, err := p.store.InsertChunks(ctx, documentID, batch); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}

// counter is a tiny mutex-guarded counter for tallying embedding failures
// across workers without a data race.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) add(delta int) {
	c.mu.Lock()
	c.n += delta
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
