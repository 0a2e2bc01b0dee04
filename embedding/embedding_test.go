package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Config) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, Config{Endpoint: srv.URL, ModelID: "test-model", Dimension: 4, MaxTokens: 8}
}

func TestEmbedOne(t *testing.T) {
	srv, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 1 {
			t.Errorf("expected 1 input, got %d", len(req.Input))
		}
		json.NewEncoder(w).Encode(embedResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{{Embedding: []float32{1, 0, 0, 0}, Index: 0}},
		})
	})
	_ = srv

	p := New(cfg)
	vec, err := p.EmbedOne(context.Background(), "salary payment schedule")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("expected dim 4, got %d", len(vec))
	}
}

func TestEmbedBatchOrderingPreserved(t *testing.T) {
	srv, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := embedResponse{}
		for i := range req.Input {
			// Respond out of order to verify the client re-sorts by index.
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i), 0, 0, 0}, Index: i})
		}
		resp.Data[0], resp.Data[len(resp.Data)-1] = resp.Data[len(resp.Data)-1], resp.Data[0]
		json.NewEncoder(w).Encode(resp)
	})
	_ = srv

	p := New(cfg)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
}

func TestEmbedBatchRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{{Embedding: []float32{1, 1, 1, 1}, Index: 0}},
		})
	})
	_ = srv

	p := New(cfg)
	vecs, err := p.EmbedBatch(context.Background(), []string{"text"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
}

func TestEmbedBatchNonRetryableFails(t *testing.T) {
	srv, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_ = srv

	p := New(cfg)
	_, err := p.EmbedBatch(context.Background(), []string{"text"})
	if err == nil {
		t.Fatal("expected error for non-retryable status")
	}
}

func TestSimilarityOrdering(t *testing.T) {
	t1 := []float32{1, 1, 0, 0}
	t2 := []float32{0.9, 1, 0.1, 0}
	t3 := []float32{0, 0, 1, 1}

	simT1T2 := Similarity(t1, t2)
	simT1T3 := Similarity(t1, t3)
	if simT1T2 <= simT1T3 {
		t.Errorf("expected similar vectors to score higher: sim(t1,t2)=%f, sim(t1,t3)=%f", simT1T2, simT1T3)
	}
}

func TestSimilarityMismatchedLength(t *testing.T) {
	if s := Similarity([]float32{1, 2}, []float32{1}); s != 0 {
		t.Errorf("expected 0 for mismatched lengths, got %f", s)
	}
}
