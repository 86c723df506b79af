package perception

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaComplete(t *testing.T) {
	var gotReq ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaResponse{Response: "CONVERSATION:\nhi\nCOMMAND:\n{\"action\":\"chat\"}", Done: true})
	}))
	defer srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "test-model"})
	out, err := client.Complete(context.Background(), "the prompt")
	require.NoError(t, err)

	assert.Contains(t, out, "CONVERSATION:")
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "the prompt", gotReq.Prompt)
	assert.False(t, gotReq.Stream)
	assert.Equal(t, 4096, gotReq.Options.NumCtx)
}

func TestOllamaConnectionRefusedIsRecoverable(t *testing.T) {
	// Nothing listens on this port.
	client := NewOllamaClient(OllamaConfig{BaseURL: "http://127.0.0.1:1", Timeout: 2 * time.Second})
	_, err := client.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestOllamaTimeoutIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestOllamaServerErrorIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestOllamaClientErrorIsNotRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestOllamaBodyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Error: "out of memory"})
	}))
	defer srv.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	_, err := client.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}
