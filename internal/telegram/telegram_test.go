package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/susu3304/qarzbot/internal/bot"
	"github.com/susu3304/qarzbot/internal/dialogue"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	fileURL  string
	updates  chan tgbotapi.Update
	stopped  bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL + "/" + fileID, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func privateChat() *tgbotapi.Chat { return &tgbotapi.Chat{ID: 7, Type: "private"} }

func TestInboundFrom(t *testing.T) {
	from := &tgbotapi.User{ID: 7, UserName: "Aziza_K", FirstName: "Aziza", LastName: "K"}
	tests := []struct {
		name  string
		upd   tgbotapi.Update
		ok    bool
		check func(t *testing.T, in bot.Inbound)
	}{
		{
			name: "private text",
			upd:  tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: privateChat(), Text: "Alisher owes me 5000"}},
			ok:   true,
			check: func(t *testing.T, in bot.Inbound) {
				if in.Text != "Alisher owes me 5000" || in.User.Handle != "aziza_k" || in.User.DisplayName != "Aziza K" {
					t.Fatalf("got %+v", in)
				}
			},
		},
		{
			name: "group text ignored",
			upd:  tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: &tgbotapi.Chat{ID: -5, Type: "group"}, Text: "hi"}},
		},
		{
			name: "empty message ignored",
			upd:  tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: privateChat()}},
		},
		{
			name: "callback",
			upd:  tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q", From: from, Data: "d:confirm"}},
			ok:   true,
			check: func(t *testing.T, in bot.Inbound) {
				if in.Callback != "d:confirm" {
					t.Fatalf("callback = %q", in.Callback)
				}
			},
		},
		{
			name: "contact",
			upd: tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: privateChat(),
				Contact: &tgbotapi.Contact{FirstName: "Sardor", UserID: 42}}},
			ok: true,
			check: func(t *testing.T, in bot.Inbound) {
				if in.Contact == nil || in.Contact.Name != "Sardor" || in.Contact.UserID == nil || *in.Contact.UserID != 42 {
					t.Fatalf("contact = %+v", in.Contact)
				}
			},
		},
		{
			name: "voice",
			upd: tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: privateChat(),
				Voice: &tgbotapi.Voice{FileID: "f1"}}},
			ok: true,
			check: func(t *testing.T, in bot.Inbound) {
				if in.VoiceName != "voice.ogg" || in.Text != "" {
					t.Fatalf("voice = %+v", in)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ok := inboundFrom(tt.upd)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && tt.check != nil {
				tt.check(t, in)
			}
		})
	}
}

func TestMessageForKeyboard(t *testing.T) {
	msg := messageFor(dialogue.Reply{To: 7, Text: "Save?", Choices: [][]dialogue.Choice{
		{{Label: "Confirm", Data: "d:confirm"}, {Label: "Cancel", Data: "d:cancel"}},
		{},
	}})
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("markup = %T", msg.ReplyMarkup)
	}
	if len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("keyboard = %+v", kb.InlineKeyboard)
	}
	if got := *kb.InlineKeyboard[0][1].CallbackData; got != "d:cancel" {
		t.Fatalf("data = %q", got)
	}

	plain := messageFor(dialogue.Reply{To: 7, Text: "hi"})
	if plain.ReplyMarkup != nil {
		t.Fatalf("unexpected markup %+v", plain.ReplyMarkup)
	}
}

func TestRunDownloadsVoiceAndAnswersCallbacks(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/f1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("OggS-audio"))
	}))
	defer files.Close()

	api := &fakeAPI{fileURL: files.URL, updates: make(chan tgbotapi.Update, 2)}
	tr := NewWithAPI(api, nil)
	from := &tgbotapi.User{ID: 7, FirstName: "Aziza"}
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: privateChat(), Voice: &tgbotapi.Voice{FileID: "f1"}}}
	api.updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q1", From: from, Data: "m:help"}}

	var mu sync.Mutex
	var got []bot.Inbound
	done := make(chan struct{}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- tr.Run(ctx, func(ctx context.Context, in bot.Inbound) {
			mu.Lock()
			got = append(got, in)
			mu.Unlock()
			done <- struct{}{}
		})
	}()
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("update not handled")
		}
	}
	cancel()
	if err := <-runErr; err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	var voice, callback bool
	for _, in := range got {
		if string(in.Voice) == "OggS-audio" {
			voice = true
		}
		if in.Callback == "m:help" {
			callback = true
		}
	}
	if !voice || !callback {
		t.Fatalf("handled = %+v", got)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.requests) != 1 {
		t.Fatalf("callback answers = %d, want 1", len(api.requests))
	}
	if !api.stopped {
		t.Fatal("updates not stopped")
	}
}

func TestSendSkipsCancelledContext(t *testing.T) {
	api := &fakeAPI{}
	tr := NewWithAPI(api, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Send(ctx, dialogue.Reply{To: 1, Text: "x"}); err == nil {
		t.Fatal("want error for cancelled context")
	}
	if err := tr.Send(context.Background(), dialogue.Reply{To: 1, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent = %d", len(api.sent))
	}
}
