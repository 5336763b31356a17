// Package discord connects the bot to Discord. Users talk to it in direct
// messages, with buttons and slash commands.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/susu3304/qarzbot/internal/bot"
	"github.com/susu3304/qarzbot/internal/dialogue"
	"github.com/susu3304/qarzbot/internal/users"
)

const (
	maxVoiceBytes  = 25 << 20
	buttonsPerRow  = 5
	rowsPerMessage = 5
	maxLabel       = 80
)

var ErrVoiceTooLarge = errors.New("voice attachment too large")

// Handler processes one inbound update.
type Handler func(ctx context.Context, in bot.Inbound)

// session is the part of *discordgo.Session used to talk back.
type session interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

type Transport struct {
	dg       *discordgo.Session
	session  session
	http     *http.Client
	log      *slog.Logger
	channels sync.Map // user id -> DM channel id
}

func New(token string, log *slog.Logger) (*Transport, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	t := newTransport(dg, log)
	t.dg = dg
	return t, nil
}

func newTransport(s session, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		session: s,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// Run connects the gateway and handles events until ctx is done.
func (t *Transport) Run(ctx context.Context, handle Handler) error {
	var wg sync.WaitGroup
	spawn := func(in bot.Inbound) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle(ctx, in)
		}()
	}

	t.dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		t.log.Info("discord bot connected", "username", r.User.Username)
		if err := t.registerCommands(s, r.User.ID); err != nil {
			t.log.Error("register commands", "err", err)
		}
	})
	t.dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		in, ok := t.messageInbound(ctx, m.Message)
		if ok {
			spawn(in)
		}
	})
	t.dg.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		in, ok := interactionInbound(i.Interaction)
		if !ok {
			return
		}
		if err := t.acknowledge(i.Interaction, in); err != nil {
			t.log.Warn("acknowledge interaction", "user_id", in.User.ID, "err", err)
		}
		spawn(in)
	})

	if err := t.dg.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	<-ctx.Done()
	err := t.dg.Close()
	wg.Wait()
	return err
}

// registerCommands overwrites the global slash commands with the bot's
// command list.
func (t *Transport) registerCommands(s *discordgo.Session, appID string) error {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(bot.CommandList))
	for _, c := range bot.CommandList {
		cmds = append(cmds, &discordgo.ApplicationCommand{
			Name:         c.Name,
			Description:  c.Description,
			DMPermission: boolPtr(true),
		})
	}
	if _, err := s.ApplicationCommandBulkOverwrite(appID, "", cmds); err != nil {
		return err
	}
	t.log.Info("registered application commands", "count", len(cmds))
	return nil
}

// acknowledge answers an interaction within Discord's deadline. The real
// replies follow as regular direct messages.
func (t *Transport) acknowledge(i *discordgo.Interaction, in bot.Inbound) error {
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	if in.Callback == "" {
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: in.Text},
		}
	}
	return t.session.InteractionRespond(i, resp)
}

// messageInbound converts a direct message. Guild messages and bots are
// ignored.
func (t *Transport) messageInbound(ctx context.Context, m *discordgo.Message) (bot.Inbound, bool) {
	in, ok := messageInbound(m)
	if !ok {
		return in, false
	}
	if a := voiceAttachment(m); a != nil {
		audio, err := t.download(ctx, a)
		if err != nil {
			t.log.Error("download voice", "user_id", in.User.ID, "err", err)
			_ = t.Send(ctx, dialogue.Reply{To: in.User.ID, Text: "I could not download that voice message. Please try again or type it."})
			return in, false
		}
		in.Voice = audio
	}
	return in, true
}

func messageInbound(m *discordgo.Message) (bot.Inbound, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return bot.Inbound{}, false
	}
	u, ok := userFrom(m.Author)
	if !ok {
		return bot.Inbound{}, false
	}
	in := bot.Inbound{User: u}
	if a := voiceAttachment(m); a != nil {
		in.VoiceName = a.Filename
		return in, true
	}
	if strings.TrimSpace(m.Content) == "" {
		return bot.Inbound{}, false
	}
	in.Text = m.Content
	return in, true
}

// interactionInbound turns slash commands into command text and button
// presses into callbacks.
func interactionInbound(i *discordgo.Interaction) (bot.Inbound, bool) {
	author := i.User
	if author == nil && i.Member != nil {
		author = i.Member.User
	}
	if author == nil {
		return bot.Inbound{}, false
	}
	u, ok := userFrom(author)
	if !ok {
		return bot.Inbound{}, false
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		return bot.Inbound{User: u, Text: "/" + i.ApplicationCommandData().Name}, true
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData().CustomID
		if data == "" {
			return bot.Inbound{}, false
		}
		return bot.Inbound{User: u, Callback: data}, true
	}
	return bot.Inbound{}, false
}

func voiceAttachment(m *discordgo.Message) *discordgo.MessageAttachment {
	for _, a := range m.Attachments {
		if a != nil && strings.HasPrefix(a.ContentType, "audio/") {
			return a
		}
	}
	return nil
}

func userFrom(u *discordgo.User) (users.User, bool) {
	id, err := strconv.ParseInt(u.ID, 10, 64)
	if err != nil {
		return users.User{}, false
	}
	return users.User{ID: id, Handle: users.NormalizeHandle(u.Username), DisplayName: u.Username}, true
}

// Send implements bot.Sender through the user's DM channel.
func (t *Transport) Send(ctx context.Context, r dialogue.Reply) error {
	channelID, err := t.dmChannel(ctx, r.To)
	if err != nil {
		return err
	}
	msg := &discordgo.MessageSend{Content: r.Text, Components: components(r.Choices)}
	if _, err := t.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send to %d: %w", r.To, err)
	}
	return nil
}

func (t *Transport) dmChannel(ctx context.Context, userID int64) (string, error) {
	if id, ok := t.channels.Load(userID); ok {
		return id.(string), nil
	}
	ch, err := t.session.UserChannelCreate(strconv.FormatInt(userID, 10), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open dm with %d: %w", userID, err)
	}
	t.channels.Store(userID, ch.ID)
	return ch.ID, nil
}

// components lays choices out as button rows. Long rows are wrapped and
// anything past Discord's row limit is dropped.
func components(rows [][]dialogue.Choice) []discordgo.MessageComponent {
	var out []discordgo.MessageComponent
	for _, row := range rows {
		for start := 0; start < len(row); start += buttonsPerRow {
			end := start + buttonsPerRow
			if end > len(row) {
				end = len(row)
			}
			buttons := make([]discordgo.MessageComponent, 0, end-start)
			for _, c := range row[start:end] {
				buttons = append(buttons, discordgo.Button{
					Label:    truncate(c.Label, maxLabel),
					Style:    discordgo.PrimaryButton,
					CustomID: c.Data,
				})
			}
			if len(out) == rowsPerMessage {
				return out
			}
			out = append(out, discordgo.ActionsRow{Components: buttons})
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (t *Transport) download(ctx context.Context, a *discordgo.MessageAttachment) ([]byte, error) {
	if a.Size > maxVoiceBytes {
		return nil, ErrVoiceTooLarge
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch attachment: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > maxVoiceBytes {
		return nil, ErrVoiceTooLarge
	}
	return data, nil
}

func boolPtr(b bool) *bool {
	return &b
}
