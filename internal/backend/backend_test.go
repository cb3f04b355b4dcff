package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAIBackend_Chat(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  hello there  "}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-test"}, zap.NewNop())
	reply, err := b.Chat(context.Background(), "Current message: hi")
	require.NoError(t, err)
	require.Equal(t, "  hello there  ", reply)

	require.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, DefaultSystemPrompt, got.Messages[0].Content)
	require.Equal(t, "user", got.Messages[1].Role)
	require.Equal(t, "Current message: hi", got.Messages[1].Content)
}

func TestOpenAIBackend_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m"}, zap.NewNop())
	_, err := b.Chat(context.Background(), "x")
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIBackend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m"}, zap.NewNop())
	_, err := b.Chat(context.Background(), "x")
	require.Error(t, err)
}

func TestHTTPBackend_Chat(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/generate", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"text":"generated"}]}`))
	}))
	defer srv.Close()

	b := NewHTTPBackend(HTTPConfig{Endpoint: srv.URL + "/generate", APIKey: "key", MaxTokens: 1000, Temperature: 0.7}, zap.NewNop())
	reply, err := b.Chat(context.Background(), "prompt text")
	require.NoError(t, err)
	require.Equal(t, "generated", reply)
	require.Equal(t, generateRequest{Prompt: "prompt text", MaxTokens: 1000, Temperature: 0.7}, got)
}

func TestHTTPBackend_TopLevelText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"plain\n"}`))
	}))
	defer srv.Close()

	reply, err := NewHTTPBackend(HTTPConfig{Endpoint: srv.URL}, zap.NewNop()).Chat(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "plain\n", reply)
}

func TestHTTPBackend_Failures(t *testing.T) {
	serve := func(status int, body string) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	down := serve(http.StatusBadGateway, `upstream down`)
	_, err := NewHTTPBackend(HTTPConfig{Endpoint: down.URL}, zap.NewNop()).Chat(context.Background(), "p")
	require.ErrorContains(t, err, "status 502")

	blank := serve(http.StatusOK, `{"choices":[{"text":"   "}]}`)
	_, err = NewHTTPBackend(HTTPConfig{Endpoint: blank.URL}, zap.NewNop()).Chat(context.Background(), "p")
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNew(t *testing.T) {
	b, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &OpenAIBackend{}, b)

	b, err = New(Config{Provider: ProviderHTTP, HTTP: HTTPConfig{Endpoint: "http://localhost/generate"}}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &HTTPBackend{}, b)

	_, err = New(Config{Provider: ProviderHTTP}, zap.NewNop())
	require.Error(t, err)

	_, err = New(Config{Provider: "carrier-pigeon"}, zap.NewNop())
	require.Error(t, err)
}

func TestFunc(t *testing.T) {
	var f Backend = Func(func(_ context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	})
	reply, err := f.Chat(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "echo: x", reply)
}
