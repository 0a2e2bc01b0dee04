package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestBackend(t *testing.T, chatHandler http.HandlerFunc) (*httptest.Server, *httptest.Server, *int32) {
	t.Helper()
	var authCalls int32

	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&authCalls, 1)
		if r.Header.Get("RqUID") == "" {
			t.Error("missing RqUID header")
		}
		if got := r.Header.Get("Authorization"); got == "" {
			t.Error("missing Authorization header")
		}
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "tok-123",
			ExpiresAt:   time.Now().Add(time.Hour).Unix(),
		})
	}))
	t.Cleanup(auth.Close)

	chat := httptest.NewServer(chatHandler)
	t.Cleanup(chat.Close)

	return auth, chat, &authCalls
}

func TestGenerateAuthenticatesOnFirstCall(t *testing.T) {
	auth, chat, authCalls := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "hello"}}},
		})
	})

	c := New(Config{Endpoint: chat.URL, AuthEndpoint: auth.URL, Credential: "xyz", Scope: "TEST"})
	resp, err := c.Generate(context.Background(), "hi", 10, 0.3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !resp.OK || resp.Text != "hello" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if atomic.LoadInt32(authCalls) != 1 {
		t.Fatalf("expected exactly 1 auth call, got %d", *authCalls)
	}
}

func TestGenerateRefreshesOn401(t *testing.T) {
	var chatCalls int32
	auth, chat, authCalls := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&chatCalls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "recovered"}}},
		})
	})

	c := New(Config{Endpoint: chat.URL, AuthEndpoint: auth.URL, Credential: "xyz", Scope: "TEST"})
	resp, err := c.Generate(context.Background(), "hi", 10, 0.3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "recovered" {
		t.Fatalf("expected recovered response, got %+v", resp)
	}
	if atomic.LoadInt32(authCalls) != 2 {
		t.Fatalf("expected 2 auth calls (initial + forced refresh), got %d", *authCalls)
	}
}

func TestConcurrentRefreshesAreSingleFlighted(t *testing.T) {
	auth, chat, authCalls := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "ok"}}},
		})
	})

	c := New(Config{Endpoint: chat.URL, AuthEndpoint: auth.URL, Credential: "xyz", Scope: "TEST"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Generate(context.Background(), "hi", 10, 0.3); err != nil {
				t.Errorf("Generate: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(authCalls) != 1 {
		t.Fatalf("expected exactly 1 auth call across concurrent callers, got %d", *authCalls)
	}
}

func TestHealthCheck(t *testing.T) {
	auth, chat, _ := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "pong"}}},
		})
	})

	c := New(Config{Endpoint: chat.URL, AuthEndpoint: auth.URL, Credential: "xyz", Scope: "TEST"})
	if !c.HealthCheck(context.Background()) {
		t.Fatal("expected health check to succeed")
	}
}
