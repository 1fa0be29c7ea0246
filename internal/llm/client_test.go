package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphaforge/internal/config"
)

func chatOK(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return b
}

func newTestClient(url string, retries int) *Client {
	return NewClient(config.LLMModelConfig{
		ID:         "test",
		BaseURL:    url,
		APIKey:     "sk-test-1234567890",
		Model:      "test-model",
		MaxRetries: retries,
	}, 0.7)
}

func TestChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test-1234567890", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Messages, 2)

		w.Write(chatOK("回复内容"))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 1).Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "回复内容", out)
}

func TestChatRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(chatOK("ok"))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 2).Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestChatNoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Chat(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Chat(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "空回复")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, float64(5), parseRetryAfter("5").Seconds())
	assert.Equal(t, float64(0), parseRetryAfter("").Seconds())
	assert.Equal(t, float64(0), parseRetryAfter("garbage").Seconds())
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "***", maskKey("short"))
	assert.Equal(t, "sk-t...7890", maskKey("sk-test-1234567890"))
}
