package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"sortd/internal/logging"
)

// ErrUpstreamUnavailable marks completion failures the session can recover
// from locally (timeout, refused connection, server not running). The caller
// turns these into a diagnostic chat reply instead of an aborted request.
var ErrUpstreamUnavailable = errors.New("completion service unavailable")

// Completer is the single call the pipeline makes against a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OllamaClient talks to a local Ollama server's generate endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	numCtx     int
	httpClient *http.Client
}

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	BaseURL string
	Model   string
	NumCtx  int
	Timeout time.Duration
}

// DefaultOllamaConfig returns sensible defaults for a local server.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL: "http://localhost:11434",
		Model:   "llama3.2",
		NumCtx:  4096,
		Timeout: 30 * time.Second,
	}
}

// NewOllamaClient creates a client from config, filling blanks from defaults.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	def := DefaultOllamaConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.NumCtx <= 0 {
		config.NumCtx = def.NumCtx
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}

	return &OllamaClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		model:   config.Model,
		numCtx:  config.NumCtx,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// ollamaRequest is the generate endpoint's request body.
type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumCtx int `json:"num_ctx"`
}

// ollamaResponse is the subset of the response body we consume.
type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Complete sends one synchronous generate call and returns the raw text.
// Network-level failures come back wrapped in ErrUpstreamUnavailable.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: ollamaOptions{NumCtx: c.numCtx},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	logging.API("generate: model=%s prompt=%d bytes", c.model, len(prompt))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.APIError("generate failed after %v: %v", time.Since(start), err)
		if isRecoverable(err) {
			return "", fmt.Errorf("%v: %w", err, ErrUpstreamUnavailable)
		}
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.APIError("generate: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("server status %d: %w", resp.StatusCode, ErrUpstreamUnavailable)
		}
		return "", fmt.Errorf("completion status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("completion error: %s", parsed.Error)
	}

	logging.API("generate: %d bytes in %v", len(parsed.Response), time.Since(start))
	return parsed.Response, nil
}

// isRecoverable classifies transport errors that should degrade to a chat
// diagnostic rather than fail the session.
func isRecoverable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true // refused, reset, unreachable
	}
	// http.Client wraps transport errors in url.Error; the above As calls
	// unwrap through it, but a plain closed-connection error does not
	// implement net.Error.
	return strings.Contains(err.Error(), "connection refused")
}
