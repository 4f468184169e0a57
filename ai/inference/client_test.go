package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.InferenceConfig{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		Model:             "openai/gpt-4o-mini",
		RequestsPerMinute: 600,
	}, nil, nil)
}

func completionResponse(content string, promptTokens, completionTokens int) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": content}},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

func TestAnalyzeParsesStructuredResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "openai/gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)

		json.NewEncoder(w).Encode(completionResponse(
			`{"signal_strength":0.82,"uniqueness":0.7,"confidence":0.9,"summary":"strong signal"}`,
			500, 100))
	})

	analysis, usage, err := client.Analyze(context.Background(), Article{
		ID:          "art-1",
		Title:       "Quantum chip breakthrough",
		Content:     "long article body",
		PublishedAt: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, 0.82, analysis.SignalStrength)
	assert.Equal(t, "strong signal", analysis.Summary)
	assert.Equal(t, 600, usage.TotalTokens)
	assert.InDelta(t, CalculateCost("openai/gpt-4o-mini", 500, 100), usage.CostUSD, 1e-12)
}

func TestChatStripsCodeFences(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse(
			"```json\n{\"article_ids\":[\"a\",\"b\"],\"rationale\":\"top stories\"}\n```",
			10, 10))
	})

	selection, _, err := client.Select(context.Background(), []Candidate{{ArticleID: "a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, selection.ArticleIDs)
}

func TestGatewayErrorMapsToAgentFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "rate limit exceeded"},
		})
	})

	_, _, err := client.Analyze(context.Background(), Article{ID: "art-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAgentFailure))
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestMalformedModelOutputMapsToAgentFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse("this is not JSON", 5, 5))
	})

	_, usage, err := client.Analyze(context.Background(), Article{ID: "art-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAgentFailure))
	// usage is still reported so the spend can be reconciled
	require.NotNil(t, usage)
	assert.Equal(t, 10, usage.TotalTokens)
}

func TestValidateTimeoutMapsToValidationTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client.validationTimeout = 50 * time.Millisecond

	_, _, err := client.Validate(context.Background(), Candidate{ArticleID: "art-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidationTimeout))
}

func TestForEntityDoesNotMutateParent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	scoped := client.ForEntity("batch_session", "sess-1").(*Client)
	assert.Equal(t, "sess-1", scoped.entityID)
	assert.Empty(t, client.entityID)
}
