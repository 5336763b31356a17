// Package telegram connects the bot to the Telegram Bot API. Only private
// chats are served.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/susu3304/qarzbot/internal/bot"
	"github.com/susu3304/qarzbot/internal/dialogue"
	"github.com/susu3304/qarzbot/internal/users"
)

// maxVoiceBytes is the largest voice file that is downloaded.
const maxVoiceBytes = 20 << 20

var ErrVoiceTooLarge = errors.New("voice message too large")

// API is the part of *tgbotapi.BotAPI the transport uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler processes one inbound update.
type Handler func(ctx context.Context, in bot.Inbound)

type Transport struct {
	api  API
	http *http.Client
	log  *slog.Logger
}

// New logs in with token.
func New(token string, log *slog.Logger) (*Transport, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("telegram bot ready", "username", api.Self.UserName)
	return NewWithAPI(api, log), nil
}

func NewWithAPI(api API, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		api:  api,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

// RegisterCommands publishes the command list shown in the Telegram menu.
func (t *Transport) RegisterCommands() error {
	cmds := make([]tgbotapi.BotCommand, 0, len(bot.CommandList))
	for _, c := range bot.CommandList {
		cmds = append(cmds, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	if _, err := t.api.Request(tgbotapi.NewSetMyCommands(cmds...)); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

// Send implements bot.Sender. Private chat ids equal user ids.
func (t *Transport) Send(ctx context.Context, r dialogue.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.Send(messageFor(r)); err != nil {
		return fmt.Errorf("telegram send to %d: %w", r.To, err)
	}
	return nil
}

func messageFor(r dialogue.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(r.To, r.Text)
	if kb, ok := keyboard(r.Choices); ok {
		msg.ReplyMarkup = kb
	}
	return msg
}

func keyboard(rows [][]dialogue.Choice) (tgbotapi.InlineKeyboardMarkup, bool) {
	var out [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, c := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
		}
		out = append(out, buttons)
	}
	if len(out) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...), true
}

// Run long-polls for updates until ctx is done. Each update is handled on
// its own goroutine; Run waits for them before returning.
func (t *Transport) Run(ctx context.Context, handle Handler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := t.api.GetUpdatesChan(cfg)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func(upd tgbotapi.Update) {
				defer wg.Done()
				t.dispatch(ctx, upd, handle)
			}(upd)
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, upd tgbotapi.Update, handle Handler) {
	if cq := upd.CallbackQuery; cq != nil {
		// Stops the spinner on the pressed button.
		if _, err := t.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			t.log.Warn("answer callback", "err", err)
		}
	}
	in, ok := inboundFrom(upd)
	if !ok {
		return
	}
	if id := voiceFileID(upd.Message); id != "" {
		audio, err := t.download(ctx, id)
		if err != nil {
			t.log.Error("download voice", "user_id", in.User.ID, "err", err)
			_ = t.Send(ctx, dialogue.Reply{To: in.User.ID, Text: "I could not download that voice message. Please try again or type it."})
			return
		}
		in.Voice = audio
	}
	handle(ctx, in)
}

// inboundFrom converts an update into an Inbound. Voice audio is filled
// in later since it needs a download.
func inboundFrom(upd tgbotapi.Update) (bot.Inbound, bool) {
	if cq := upd.CallbackQuery; cq != nil {
		if cq.From == nil || cq.Data == "" {
			return bot.Inbound{}, false
		}
		if cq.Message != nil && cq.Message.Chat != nil && !cq.Message.Chat.IsPrivate() {
			return bot.Inbound{}, false
		}
		return bot.Inbound{User: userFrom(cq.From), Callback: cq.Data}, true
	}

	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return bot.Inbound{}, false
	}
	in := bot.Inbound{User: userFrom(msg.From)}
	switch {
	case msg.Contact != nil:
		in.Contact = contactFrom(msg.Contact)
	case voiceFileID(msg) != "":
		in.VoiceName = "voice.ogg"
		if msg.Audio != nil && msg.Audio.FileName != "" {
			in.VoiceName = msg.Audio.FileName
		}
	case strings.TrimSpace(msg.Text) != "":
		in.Text = msg.Text
	default:
		return bot.Inbound{}, false
	}
	return in, true
}

func voiceFileID(msg *tgbotapi.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.Voice != nil:
		return msg.Voice.FileID
	case msg.Audio != nil:
		return msg.Audio.FileID
	}
	return ""
}

func userFrom(u *tgbotapi.User) users.User {
	return users.User{
		ID:          u.ID,
		Handle:      users.NormalizeHandle(u.UserName),
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
	}
}

// contactFrom maps a shared contact card. Telegram cards carry no
// username, only the account id when the contact uses Telegram.
func contactFrom(c *tgbotapi.Contact) *dialogue.ContactShared {
	out := &dialogue.ContactShared{Name: strings.TrimSpace(c.FirstName + " " + c.LastName)}
	if c.UserID != 0 {
		id := c.UserID
		out.UserID = &id
	}
	return out
}

func (t *Transport) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxVoiceBytes {
		return nil, ErrVoiceTooLarge
	}
	return data, nil
}
