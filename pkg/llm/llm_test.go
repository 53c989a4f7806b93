package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/txlens/txlens/pkg/logger"
)

func TestLLM_ExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"raw", `{"intent":"list"}`, `{"intent":"list"}`},
		{"json block", "Here:\n```json\n{\"intent\":\"trend\"}\n```", `{"intent":"trend"}`},
		{"generic block", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Sure! {"a":"}{","b":{"c":2}} hope that helps`, `{"a":"}{","b":{"c":2}}`},
		{"unbalanced", `{"a":1`, ""},
		{"none", "no json here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ExtractJSON(tt.response))
		})
	}
}

func TestLLM_ExtractSQL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SELECT 1", ExtractSQL("```sql\nSELECT 1;\n```"))
	require.Equal(t, "WITH x AS (SELECT 1) SELECT * FROM x", ExtractSQL("```\nWITH x AS (SELECT 1) SELECT * FROM x\n```"))
	require.Equal(t, "select 2", ExtractSQL("select 2;;"))
	require.Empty(t, ExtractSQL("DROP TABLE x"))
	require.Empty(t, ExtractSQL("I cannot help with that"))
}

func TestLLM_OllamaComplete(t *testing.T) {
	t.Parallel()

	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Message: ollamaMessage{Role: "assistant", Content: "hello"}, Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(logger.Discard(), srv.URL+"/", nil, "llama3", 256)
	out, err := c.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	require.Equal(t, "hello", out)
	require.Equal(t, "llama3", got.Model)
	require.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.EqualValues(t, 256, got.Options["num_predict"])
}

func TestLLM_OllamaErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(logger.Discard(), srv.URL, nil, "missing", 0)
	_, err := c.Complete(context.Background(), "sys", "user")
	require.ErrorContains(t, err, "status 404")
	require.ErrorContains(t, err, "model not found")
}
