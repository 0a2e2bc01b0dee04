//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDoc(path string) Document {
	return Document{
		StoredFilename:   "upload.txt",
		OriginalFilename: "Salary Policy.txt",
		FilePath:         path,
		FileSize:         1024,
		FileType:         "txt",
		Title:            "Salary Policy",
	}
}

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestCreateAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/tmp/salary.txt")
	id, err := s.CreateDocument(ctx, doc)
	if err != nil {
		t.Fatalf("creating document: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero document id")
	}

	got, err := s.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("getting document: %v", err)
	}
	if got.ProcessingStatus != StatusPending {
		t.Errorf("status: got %q, want %q", got.ProcessingStatus, StatusPending)
	}
	if got.Title != doc.Title {
		t.Errorf("title: got %q, want %q", got.Title, doc.Title)
	}
}

func TestSetStatusCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateDocument(ctx, sampleDoc("/tmp/a.txt"))

	changed, err := s.SetStatus(ctx, id, StatusProcessing, "", StatusPending, StatusFailed)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if !changed {
		t.Fatal("expected CAS to succeed from pending")
	}

	// A second CAS attempt from pending|failed must now fail, since the
	// document is already processing — this is the mutual-exclusion
	// guarantee the ingestion pipeline relies on.
	changed, err = s.SetStatus(ctx, id, StatusProcessing, "", StatusPending, StatusFailed)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if changed {
		t.Fatal("expected CAS to be rejected while already processing")
	}
}

func TestInsertChunksAndDeleteChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	docID, _ := s.CreateDocument(ctx, sampleDoc("/tmp/b.txt"))

	inputs := []ChunkInput{
		{Index: 0, Content: "Salary is paid twice a month.", Embedding: []float32{1, 0, 0, 0}},
		{Index: 1, Content: "Payment days are the 12th and 27th.", Embedding: []float32{0, 1, 0, 0}},
	}
	ids, err := s.InsertChunks(ctx, docID, inputs)
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 chunk ids, got %d", len(ids))
	}

	chunks, err := s.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("getting chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d: expected index %d, got %d", i, i, c.ChunkIndex)
		}
	}

	count, err := s.DeleteChunks(ctx, docID)
	if err != nil {
		t.Fatalf("deleting chunks: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 chunks deleted, got %d", count)
	}

	chunks, err = s.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("getting chunks after delete: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks after delete, got %d", len(chunks))
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	docID, _ := s.CreateDocument(ctx, sampleDoc("/tmp/c.txt"))
	_, err := s.InsertChunks(ctx, docID, []ChunkInput{
		{Index: 0, Content: "Some content here.", Embedding: []float32{1, 1, 0, 0}},
	})
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	if err := s.DeleteDocument(ctx, docID); err != nil {
		t.Fatalf("deleting document: %v", err)
	}

	if _, err := s.GetDocument(ctx, docID); err == nil {
		t.Fatal("expected document to be gone")
	}
	chunks, err := s.GetChunksByDocument(ctx, docID)
	if err != nil {
		t.Fatalf("getting chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no orphan chunks, got %d", len(chunks))
	}
}

func TestSearchVectorThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	docID, _ := s.CreateDocument(ctx, sampleDoc("/tmp/d.txt"))
	_, err := s.SetStatus(ctx, docID, StatusCompleted, "", StatusPending, StatusProcessing)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}

	long := make([]byte, 150)
	for i := range long {
		long[i] = 'a'
	}
	_, err = s.InsertChunks(ctx, docID, []ChunkInput{
		{Index: 0, Content: string(long), Embedding: []float32{1, 0, 0, 0}},
	})
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	results, err := s.SearchVector(ctx, []float32{1, 0, 0, 0}, 5, 0.55)
	if err != nil {
		t.Fatalf("search vector: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("expected near-1.0 similarity for identical vectors, got %f", results[0].Score)
	}
}

func TestSearchTextConstantScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	docID, _ := s.CreateDocument(ctx, sampleDoc("/tmp/e.txt"))
	_, err := s.SetStatus(ctx, docID, StatusCompleted, "", StatusPending, StatusProcessing)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	_, err = s.InsertChunks(ctx, docID, []ChunkInput{
		{Index: 0, Content: "Salary payment schedule details.", Embedding: nil},
	})
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	results, err := s.SearchText(ctx, []string{"salary"}, 5)
	if err != nil {
		t.Fatalf("search text: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Score != 0.7 {
		t.Errorf("expected constant score 0.7, got %f", results[0].Score)
	}
}
