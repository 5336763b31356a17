package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/susu3304/qarzbot/internal/intent"
)

func completionServer(t *testing.T, status int, content string) (*httptest.Server, *openai.ChatCompletionRequest) {
	t.Helper()
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestExtractSimpleDebt(t *testing.T) {
	srv, req := completionServer(t, http.StatusOK,
		"```json\n{\"amount\": \"50 ming\", \"direction\": \"owe_me\", \"debtor_name\": \"Alisher\", \"reason\": \"lunch\"}\n```")
	c := NewClient("test", srv.URL+"/v1", WithModel("test-model"))

	d, err := c.Extract(context.Background(), "Alisher owes me 50 ming for lunch")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Amount.Valid || d.Amount.Value.IntPart() != 50000 {
		t.Errorf("amount = %+v", d.Amount)
	}
	if d.Direction != "owe_me" || d.DebtorName != "Alisher" {
		t.Errorf("draft = %+v", d)
	}
	if req.Model != "test-model" || len(req.Messages) != 2 || req.Messages[1].Content != "Alisher owes me 50 ming for lunch" {
		t.Errorf("request = %+v", req)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Errorf("response format = %+v", req.ResponseFormat)
	}
}

func TestExtractGarbage(t *testing.T) {
	srv, _ := completionServer(t, http.StatusOK, "I am not sure what you mean")
	c := NewClient("test", srv.URL+"/v1")

	_, err := c.Extract(context.Background(), "hello")
	if !errors.Is(err, intent.ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
}

func TestExtractServiceError(t *testing.T) {
	srv, _ := completionServer(t, http.StatusServiceUnavailable, "")
	c := NewClient("test", srv.URL+"/v1")

	_, err := c.Extract(context.Background(), "hello")
	if err == nil || errors.Is(err, intent.ErrExtraction) {
		t.Fatalf("err = %v, want a transport error", err)
	}
}
