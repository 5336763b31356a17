// Package bot routes inbound chat messages, commands and button presses
// to the dialogue engine and the ledger, independent of the transport.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/dialogue"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/users"
)

// Sender delivers one reply to its recipient.
type Sender interface {
	Send(ctx context.Context, r dialogue.Reply) error
}

// WebLinker issues a sign-in link for the web view.
type WebLinker interface {
	LinkURL(u users.User) (string, error)
}

// Inbound is one update from a transport. Exactly one of Text, Voice,
// Callback or Contact is set.
type Inbound struct {
	User      users.User
	Text      string
	Voice     []byte
	VoiceName string
	Callback  string
	Contact   *dialogue.ContactShared
}

type Deps struct {
	Engine    *dialogue.Engine
	Ledger    *ledger.Service
	Directory *contacts.Directory
	Users     users.Store
	Sender    Sender
	Web       WebLinker
	Logger    *slog.Logger
}

type Bot struct {
	engine    *dialogue.Engine
	ledger    *ledger.Service
	directory *contacts.Directory
	users     users.Store
	sender    Sender
	web       WebLinker
	log       *slog.Logger
	sweeper   *sweepWorker
}

func New(d Deps) *Bot {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		engine:    d.Engine,
		ledger:    d.Ledger,
		directory: d.Directory,
		users:     d.Users,
		sender:    d.Sender,
		web:       d.Web,
		log:       log,
	}
}

// Start runs the session sweeper every interval.
func (b *Bot) Start(interval time.Duration) {
	b.sweeper = newSweepWorker(b.engine, b.sender, b.log, interval)
	b.sweeper.start()
}

func (b *Bot) Stop() {
	b.sweeper.stop()
}

// Handle processes one inbound update and delivers every resulting reply.
func (b *Bot) Handle(ctx context.Context, in Inbound) {
	if err := b.register(ctx, in.User); err != nil {
		b.log.Error("register user", "user_id", in.User.ID, "err", err)
		b.deliver(ctx, []dialogue.Reply{{To: in.User.ID, Text: msgInternal}})
		return
	}
	replies, err := b.route(ctx, in)
	if err != nil {
		b.log.Error("handle update", "user_id", in.User.ID, "err", err)
		replies = append(replies, dialogue.Reply{To: in.User.ID, Text: msgInternal})
	}
	b.deliver(ctx, replies)
}

func (b *Bot) route(ctx context.Context, in Inbound) ([]dialogue.Reply, error) {
	u := in.User
	switch {
	case in.Callback != "":
		return b.callback(ctx, u, in.Callback)
	case in.Contact != nil:
		return b.engine.Handle(ctx, u, *in.Contact)
	case len(in.Voice) > 0:
		return b.engine.Handle(ctx, u, dialogue.VoiceReply{Audio: in.Voice, Filename: in.VoiceName})
	}

	text := strings.TrimSpace(in.Text)
	if name, ok := parseCommand(text); ok {
		return b.command(ctx, u, name)
	}
	if text == "" {
		return nil, nil
	}
	return b.engine.Handle(ctx, u, dialogue.TextReply{Text: text})
}

func (b *Bot) callback(ctx context.Context, u users.User, data string) ([]dialogue.Reply, error) {
	if strings.HasPrefix(data, dialogue.ChoicePrefix) {
		return b.engine.Handle(ctx, u, dialogue.ChoicePicked{Choice: strings.TrimPrefix(data, dialogue.ChoicePrefix)})
	}
	if strings.HasPrefix(data, menuPrefix) {
		return b.command(ctx, u, strings.TrimPrefix(data, menuPrefix))
	}
	action, id, ok := dialogue.ParseAction(data)
	if !ok {
		b.log.Warn("unknown callback", "user_id", u.ID, "data", data)
		return []dialogue.Reply{say(u.ID, msgUnknownButton)}, nil
	}
	return b.action(ctx, u, action, id)
}

// parseCommand accepts "/name", "/name@botname" and "/name args".
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return "", false
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	return strings.ToLower(cmd), true
}

// register records the sender and attaches any debts or circle members
// that were waiting for their handle.
func (b *Bot) register(ctx context.Context, u users.User) error {
	if err := b.users.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	if u.Handle == "" {
		return nil
	}
	if _, err := b.directory.Link(ctx, u.Handle, u.ID); err != nil {
		return err
	}
	n, err := b.ledger.Link(ctx, u.Handle, u.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		b.deliver(ctx, b.awaitingConfirmation(ctx, u))
	}
	return nil
}

// awaitingConfirmation lists pending debts whose confirmation is up to u.
func (b *Bot) awaitingConfirmation(ctx context.Context, u users.User) []dialogue.Reply {
	debts, err := b.ledger.Debts(ctx, u.ID, ledger.Filter{Statuses: []ledger.Status{ledger.StatusPending}})
	if err != nil {
		b.log.Error("list pending debts", "user_id", u.ID, "err", err)
		return nil
	}
	var out []dialogue.Reply
	for _, d := range debts {
		mine := (d.Creditor.Is(u.ID) && !d.ConfirmedByCreditor) || (d.Debtor.Is(u.ID) && !d.ConfirmedByDebtor)
		if !mine {
			continue
		}
		creator, err := b.users.GetUser(ctx, d.CreatorID)
		if err != nil {
			b.log.Warn("load debt creator", "debt_id", d.ID, "err", err)
			continue
		}
		out = append(out, say(u.ID, dialogue.NewDebtNotice(*creator, d), dialogue.AcceptDisputeRow(d.ID)))
	}
	return out
}

func (b *Bot) deliver(ctx context.Context, replies []dialogue.Reply) {
	for _, r := range replies {
		if err := sendWithRetry(ctx, b.sender, r); err != nil {
			b.log.Error("send reply", "to", r.To, "err", err)
		}
	}
}

func say(to int64, text string, rows ...[]dialogue.Choice) dialogue.Reply {
	return dialogue.Reply{To: to, Text: text, Choices: rows}
}
