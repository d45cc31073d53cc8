package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/s4jith/ncert-working/internal/config"
	"github.com/s4jith/ncert-working/internal/logger"
)

func newTestGemini(t *testing.T, baseURL string, maxRetries int) *GeminiProvider {
	t.Helper()
	_ = logger.Init("debug", "console", "stdout")
	return NewGeminiProvider(config.GeminiConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gemini-2.5-flash",
	}, maxRetries, time.Millisecond, 5*time.Second)
}

func TestGeminiGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.URL.Path, "gemini-2.5-flash:generateContent")
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Photosynthesis converts "},{"text":"light into energy."}]}}]}`))
	}))
	defer server.Close()

	p := newTestGemini(t, server.URL, 3)
	answer, err := p.Generate(context.Background(), "What is photosynthesis?")
	require.NoError(t, err)
	require.Equal(t, "Photosynthesis converts light into energy.", answer)
}

func TestGeminiGenerateRateLimitFallback(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := newTestGemini(t, server.URL, 3)
	answer, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, MsgHighDemand, answer)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestGeminiGenerateBadRequestNoRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid argument"}}`))
	}))
	defer server.Close()

	p := newTestGemini(t, server.URL, 3)
	answer, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, MsgRephrase, answer)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGeminiGenerateServerErrorThenRecover(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer server.Close()

	p := newTestGemini(t, server.URL, 3)
	answer, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "ok", answer)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGeminiGenerateServerErrorExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := newTestGemini(t, server.URL, 2)
	_, err := p.Generate(context.Background(), "hello")
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	require.Equal(t, ErrorTypeServer, provErr.Type)
	require.True(t, provErr.IsRetryable())
}

func TestGeminiGenerateEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	p := newTestGemini(t, server.URL, 3)
	answer, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, MsgEmptyResponse, answer)
}

func TestGeminiMissingKeyNoNetworkCall(t *testing.T) {
	_ = logger.Init("debug", "console", "stdout")
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	p := NewGeminiProvider(config.GeminiConfig{BaseURL: server.URL}, 3, time.Millisecond, time.Second)
	answer, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	require.Contains(t, answer, "GEMINI_API_KEY")
	require.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestGeminiGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, ":streamGenerateContent")
		require.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hello \"}]}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"world\"}]}}]}\n\n"))
	}))
	defer server.Close()

	p := newTestGemini(t, server.URL, 3)
	chunks, errs := p.GenerateStream(context.Background(), "hello")

	var got string
	for chunk := range chunks {
		got += chunk
	}
	require.NoError(t, <-errs)
	require.Equal(t, "Hello world", got)
}
