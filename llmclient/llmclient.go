// Package llmclient implements the chat-completion client: a
// two-step-auth state machine over an OAuth2 client-credentials flow, plus
// the retriable chat-completion call itself.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnavailable covers network failures and exhausted retries.
	// Callers should treat it as retriable.
	ErrUnavailable = errors.New("llmclient: backend unavailable")

	// ErrRequestFailed covers non-retriable 4xx responses (other than the
	// 401 the client already handles via a forced refresh).
	ErrRequestFailed = errors.New("llmclient: request rejected")
)

// state is the client's authentication state.
type state int

const (
	stateUnauthenticated state = iota
	stateAuthenticated
	stateRefreshing
)

// Config configures the OAuth-style backend.
type Config struct {
	Endpoint           string // chat-completion endpoint
	AuthEndpoint       string // OAuth token endpoint
	Credential         string // Base64 client_id:client_secret
	Scope              string
	Model              string
	MaxTokens          int
	Temperature        float64
	Timeout            time.Duration
	TokenRefreshMargin time.Duration
}

// Response is the result of a generate call.
type Response struct {
	Text       string
	TokensUsed int
	Model      string
	OK         bool
	Error      string
}

// Client is a single logical connection to the chat-completion backend. It
// is safe for concurrent use: token refreshes are serialized via
// singleflight so concurrent callers never race to refresh at once.
type Client struct {
	cfg  Config
	http *http.Client
	sf   singleflight.Group

	mu        sync.Mutex
	state     state
	token     string
	expiresAt time.Time
}

// New returns a Client for cfg. The client starts Unauthenticated; the
// first call to Generate acquires a token.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TokenRefreshMargin == 0 {
		cfg.TokenRefreshMargin = 5 * time.Minute
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		state: stateUnauthenticated,
	}
}

// Generate issues one chat-completion request, authenticating or refreshing
// the cached token as needed. On a 401-equivalent response it forces one
// token refresh and retries the request exactly once.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (Response, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return Response{}, err
	}

	resp, status, err := c.chatCompletion(ctx, token, prompt, maxTokens, temperature)
	if err == nil {
		return resp, nil
	}
	if status != http.StatusUnauthorized {
		return Response{}, err
	}

	token, err = c.forceRefresh(ctx)
	if err != nil {
		return Response{}, err
	}
	resp, _, err = c.chatCompletion(ctx, token, prompt, maxTokens, temperature)
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// HealthCheck issues a trivial prompt and reports whether the backend
// responded successfully.
func (c *Client) HealthCheck(ctx context.Context) bool {
	resp, err := c.Generate(ctx, "ping", 8, 0)
	return err == nil && resp.OK
}

// accessToken returns a valid token, acquiring or refreshing it as needed.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	needsRefresh := c.state == stateUnauthenticated || time.Until(c.expiresAt) < c.cfg.TokenRefreshMargin
	token := c.token
	c.mu.Unlock()

	if !needsRefresh {
		return token, nil
	}
	return c.forceRefresh(ctx)
}

// forceRefresh acquires a fresh token, collapsing concurrent refreshes into
// one in-flight request via singleflight.
func (c *Client) forceRefresh(ctx context.Context) (string, error) {
	v, err, _ := c.sf.Do("refresh", func() (any, error) {
		c.mu.Lock()
		c.state = stateRefreshing
		c.mu.Unlock()

		token, expiresIn, err := c.authenticate(ctx)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.state = stateUnauthenticated
			return "", err
		}
		c.token = token
		c.expiresAt = time.Now().Add(expiresIn)
		c.state = stateAuthenticated
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix seconds, per GigaChat's OAuth response
}

// authenticate POSTs the client credential and desired scope to the OAuth
// token endpoint, Basic-authenticated, with a fresh RqUID per request.
func (c *Client) authenticate(ctx context.Context) (token string, expiresIn time.Duration, err error) {
	form := url.Values{"scope": {c.cfg.Scope}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Basic "+c.cfg.Credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: auth request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: reading auth response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: auth status %d: %s", ErrUnavailable, resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("%w: decoding auth response: %v", ErrUnavailable, err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: auth response missing access_token", ErrUnavailable)
	}

	if tr.ExpiresAt > 0 {
		return tr.AccessToken, time.Until(time.Unix(tr.ExpiresAt, 0)), nil
	}
	return tr.AccessToken, 30 * time.Minute, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

const (
	maxRetries     = 4
	baseRetryDelay = time.Second
)

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// chatCompletion issues one chat-completion POST with retry/backoff on
// 429, 502, 503 and 504 responses. It returns the HTTP status code
// alongside the error so callers can detect a 401 and force a token refresh.
func (c *Client) chatCompletion(ctx context.Context, token, prompt string, maxTokens int, temperature float64) (Response, int, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Response{}, 0, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("llmclient: retrying chat completion", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Response{}, 0, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(data))
		if err != nil {
			return Response{}, 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, 0, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var cr chatResponse
			if err := json.Unmarshal(respBody, &cr); err != nil {
				return Response{}, resp.StatusCode, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
			}
			if len(cr.Choices) == 0 {
				return Response{}, resp.StatusCode, fmt.Errorf("%w: no choices in response", ErrUnavailable)
			}
			return Response{
				Text:       cr.Choices[0].Message.Content,
				TokensUsed: cr.Usage.TotalTokens,
				Model:      cr.Model,
				OK:         true,
			}, resp.StatusCode, nil
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return Response{}, resp.StatusCode, fmt.Errorf("%w: status 401", ErrRequestFailed)
		}

		lastErr = fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, respBody)
		if !retryableStatusCode(resp.StatusCode) {
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return Response{}, resp.StatusCode, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, respBody)
			}
			return Response{}, resp.StatusCode, lastErr
		}
	}
	return Response{}, 0, fmt.Errorf("%w: retries exhausted: %v", ErrUnavailable, lastErr)
}
