//go:build cgo

package hrqa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poliom/hrqa/answer"
	"github.com/poliom/hrqa/config"
	"github.com/poliom/hrqa/store"
)

// newFakeEmbeddingServer returns the same fixed all-ones vector for every input,
// so cosine similarity between question and chunk embeddings is always 1.0
// and vector search never depends on a real model's notion of relatedness.
func newFakeEmbeddingServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = 1
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Embedding: vec, Index: i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newFakeLLMServer returns an auth endpoint and a chat endpoint that always
// answers with answerText.
func newFakeLLMServer(t *testing.T, answerText string) (auth, chat *httptest.Server) {
	t.Helper()
	auth = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"expires_at":   time.Now().Add(time.Hour).Unix(),
		})
	}))
	t.Cleanup(auth.Close)

	chat = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": answerText}},
			},
			"model": "test-model",
			"usage": map[string]any{"total_tokens": 42},
		})
	}))
	t.Cleanup(chat.Close)
	return auth, chat
}

func newTestConfig(t *testing.T, embedURL, llmURL, authURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "hrqa.db")
	cfg.Embedding.Endpoint = embedURL
	cfg.Embedding.Dimension = 8
	cfg.LLM.Endpoint = llmURL
	cfg.LLM.AuthEndpoint = authURL
	cfg.LLM.Credential = "dGVzdDp0ZXN0"
	cfg.Uploads.Dir = filepath.Join(t.TempDir(), "uploads")
	return cfg
}

func TestEngineUploadIngestAndAsk(t *testing.T) {
	embed := newFakeEmbeddingServer(t, 8)
	auth, chat := newFakeLLMServer(t, "Зарплата выплачивается дважды в месяц.")

	cfg := newTestConfig(t, embed.URL, chat.URL, auth.URL)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	content := strings.Repeat("Правила внутреннего трудового распорядка описывают порядок работы. ", 30)
	docID, err := e.UploadDocument(ctx, UploadMeta{OriginalFilename: "handbook.txt", Title: "Handbook"}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}

	report, err := e.Ingest(ctx, docID)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Status != store.StatusCompleted {
		t.Fatalf("expected completed ingest, got %+v", report)
	}

	ans, err := e.Ask(ctx, "Как описан порядок работы?", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ans.OK || ans.Text == "" {
		t.Fatalf("expected a usable answer, got %+v", ans)
	}

	docs, err := e.ListDocuments(ctx, "")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}

	if err := e.DeleteDocument(ctx, docID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := e.GetDocument(ctx, docID); err == nil {
		t.Fatal("expected error fetching deleted document")
	}
}

func TestEngineAskWithNoDocumentsReturnsNotFoundTemplate(t *testing.T) {
	embed := newFakeEmbeddingServer(t, 8)
	auth, chat := newFakeLLMServer(t, "irrelevant")

	cfg := newTestConfig(t, embed.URL, chat.URL, auth.URL)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	ans, err := e.Ask(context.Background(), "Когда выплата отпускных?", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ans.OK || ans.Text != answer.NotFoundTemplate {
		t.Fatalf("expected OK not-found answer with no documents, got %+v", ans)
	}
}

func TestEngineHealthCheck(t *testing.T) {
	embed := newFakeEmbeddingServer(t, 8)
	auth, chat := newFakeLLMServer(t, "pong")

	cfg := newTestConfig(t, embed.URL, chat.URL, auth.URL)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if !e.HealthCheck(context.Background()) {
		t.Fatal("expected healthy engine")
	}
}
