package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarexio/ragblade/rag"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{errors.New("API returned unexpected status code: 429: slow down"), rag.ErrRateLimited},
		{errors.New("API returned unexpected status code: 401: Incorrect API key provided"), rag.ErrAuth},
		{errors.New("API returned unexpected status code: 400: This model's maximum context length is 8192 tokens"), rag.ErrContextTooLarge},
		{errors.New("API returned unexpected status code: 400: bad request"), rag.ErrInvalidInput},
		{errors.New("API returned unexpected status code: 503: overloaded"), rag.ErrUnavailable},
		{fmt.Errorf("post: %w", context.DeadlineExceeded), rag.ErrTimeout},
		{errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), rag.ErrConnection},
		{errors.New("something odd"), rag.ErrUnavailable},
	}

	for _, c := range cases {
		assert.ErrorIs(t, classify(c.err), c.kind, c.err.Error())
	}

	assert.NoError(t, classify(nil))
	assert.Equal(t, context.Canceled, classify(context.Canceled))
}

func TestNewValidates(t *testing.T) {
	assert := assert.New(t)

	_, err := New(Config{Type: OpenAI, ChatModel: "gpt-4o-mini"})
	assert.ErrorIs(err, rag.ErrInvalidInput)

	_, err = New(Config{Type: "bedrock", EmbeddingModel: "e", ChatModel: "c"})
	assert.ErrorIs(err, rag.ErrInvalidInput)

	_, err = New(Config{Type: Azure, EmbeddingModel: "e", ChatModel: "c", Token: "t"})
	assert.ErrorIs(err, rag.ErrInvalidInput)
}

func TestNewOllama(t *testing.T) {
	client, err := New(Config{
		Type:           Ollama,
		BaseURL:        "http://localhost:11434",
		EmbeddingModel: "nomic-embed-text",
		ChatModel:      "llama3.2",
	})

	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", client.Model())
}

type fakeOpenAI struct {
	status int
	inputs [][]string
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		fmt.Fprintf(w, `{"error":{"message":"fake failure","type":"fake"}}`)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.inputs = append(f.inputs, req.Input)

		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(text)), 1},
			}
		}

		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "text-embedding-3-small",
		})

	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": "It tows 9,500 pounds.",
				},
			}},
		})

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeOpenAI) *Client {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := New(Config{
		Type:           OpenAI,
		BaseURL:        server.URL + "/v1",
		Token:          "test-token",
		EmbeddingModel: "text-embedding-3-small",
		ChatModel:      "gpt-4o-mini",
	})
	require.NoError(t, err)

	return client
}

func TestOpenAIRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fake := new(fakeOpenAI)
	client := newTestClient(t, fake)

	vecs, err := client.EmbedBatch(ctx, []string{"tow", "hybrid"})
	require.NoError(t, err)
	assert.Equal([][]float32{{3, 1}, {6, 1}}, vecs)

	vec, err := client.Embed(ctx, "torque")
	require.NoError(t, err)
	assert.Equal([]float32{6, 1}, vec)

	answer, err := client.Generate(ctx, "How much can it tow?")
	require.NoError(t, err)
	assert.Equal("It tows 9,500 pounds.", answer)
}

func TestOpenAIErrorsAreClassified(t *testing.T) {
	ctx := context.Background()

	limited := newTestClient(t, &fakeOpenAI{status: http.StatusTooManyRequests})
	_, err := limited.EmbedBatch(ctx, []string{"tow"})
	assert.ErrorIs(t, err, rag.ErrRateLimited)
	assert.True(t, rag.IsTransient(err))

	denied := newTestClient(t, &fakeOpenAI{status: http.StatusUnauthorized})
	_, err = denied.Generate(ctx, "q")
	assert.ErrorIs(t, err, rag.ErrAuth)
	assert.False(t, rag.IsTransient(err))
}
