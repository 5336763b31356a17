package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		if header.Filename != "voice.ogg" || string(body) != "OggS" {
			t.Errorf("upload = %s %q", header.Filename, body)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" Alisher owes me 50 ming "}`))
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL+"/v1")
	text, err := c.Transcribe(context.Background(), []byte("OggS"), "voice.ogg")
	if err != nil {
		t.Fatal(err)
	}
	if text != "Alisher owes me 50 ming" {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL+"/v1")
	if _, err := c.Transcribe(context.Background(), []byte("x"), "voice.ogg"); err == nil {
		t.Fatal("expected an error")
	}
}
