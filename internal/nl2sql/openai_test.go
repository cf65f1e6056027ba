package nl2sql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStripMarkdownSQL(t *testing.T) {
	got := stripMarkdownSQL("```sql\nSELECT 1;\n```")
	if got != "SELECT 1;" {
		t.Fatalf("stripMarkdownSQL() = %q", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	got := collapseWhitespace("SELECT *\n  FROM orders\n WHERE total > 10")
	if got != "SELECT * FROM orders WHERE total > 10" {
		t.Fatalf("collapseWhitespace() = %q", got)
	}
}

func TestOpenAIGeneratorGenerate(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "```sql\nSELECT COUNT(*)\n  AS count FROM customers;\n```"}},
			},
		})
	}))
	defer server.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}

	result, err := generator.Generate(context.Background(), Request{
		Question: "How many customers?",
		Schema:   "Table: customers",
		Tables:   []string{"customers"},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.SQL != "SELECT COUNT(*) AS count FROM customers;" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Provider != "openai-compatible" || result.Model != "test-model" {
		t.Fatalf("result = %+v", result)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotPayload["model"] != "test-model" {
		t.Fatalf("payload model = %v", gotPayload["model"])
	}
}

func TestOpenAIGeneratorPropagatesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	_, err = generator.Generate(context.Background(), Request{Question: "anything"})
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestNewOpenAIGeneratorRequiresConfig(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatal("missing base URL accepted")
	}
	if _, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatal("missing api key accepted")
	}
}
