package bot_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/bot"
	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/dialogue"
	"github.com/susu3304/qarzbot/internal/intent"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/memstore"
	"github.com/susu3304/qarzbot/internal/users"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []dialogue.Reply
}

func (s *recordingSender) Send(ctx context.Context, r dialogue.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, r)
	return nil
}

// take returns and clears everything sent so far.
func (s *recordingSender) take() []dialogue.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

type noExtractor struct{}

func (noExtractor) Extract(ctx context.Context, text string) (intent.Draft, error) {
	return intent.Draft{}, fmt.Errorf("%w: %q", intent.ErrExtraction, text)
}

type fakeLinker struct{}

func (fakeLinker) LinkURL(u users.User) (string, error) {
	return fmt.Sprintf("https://debts.example/login?u=%d", u.ID), nil
}

var (
	aziza  = users.User{ID: 1, Handle: "aziza", DisplayName: "Aziza"}
	sardor = users.User{ID: 2, Handle: "sardor", DisplayName: "Sardor"}
)

type fixture struct {
	t      *testing.T
	bot    *bot.Bot
	store  *memstore.Store
	ledger *ledger.Service
	dir    *contacts.Directory
	out    *recordingSender
}

func newFixture(t *testing.T, web bot.WebLinker) *fixture {
	t.Helper()
	f := &fixture{t: t, store: memstore.New(), out: &recordingSender{}}
	f.ledger = ledger.NewService(f.store, nil)
	f.dir = contacts.NewDirectory(f.store)
	eng := dialogue.New(dialogue.Deps{
		Sessions:  f.store,
		Ledger:    f.ledger,
		Directory: f.dir,
		Users:     f.store,
		Extractor: noExtractor{},
	}, dialogue.Options{SessionTTL: time.Hour})
	f.bot = bot.New(bot.Deps{
		Engine:    eng,
		Ledger:    f.ledger,
		Directory: f.dir,
		Users:     f.store,
		Sender:    f.out,
		Web:       web,
	})
	return f
}

func (f *fixture) handle(in bot.Inbound) []dialogue.Reply {
	f.t.Helper()
	f.bot.Handle(context.Background(), in)
	return f.out.take()
}

// press finds the button labelled label among replies addressed to u and
// presses it as u.
func (f *fixture) press(u users.User, replies []dialogue.Reply, label string) []dialogue.Reply {
	f.t.Helper()
	for _, r := range replies {
		if r.To != u.ID {
			continue
		}
		for _, row := range r.Choices {
			for _, c := range row {
				if c.Label == label {
					return f.handle(bot.Inbound{User: u, Callback: c.Data})
				}
			}
		}
	}
	f.t.Fatalf("no %q button for user %d in %+v", label, u.ID, replies)
	return nil
}

func (f *fixture) createDebt(creditor, debtor ledger.Party, creator int64, amount string) ledger.Debt {
	f.t.Helper()
	d, err := f.ledger.Create(context.Background(), ledger.NewDebt{
		CreatorID: creator,
		Creditor:  creditor,
		Debtor:    debtor,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "so'm",
		Reason:    "lunch",
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return d
}

func textsFor(replies []dialogue.Reply, to int64) string {
	var parts []string
	for _, r := range replies {
		if r.To == to {
			parts = append(parts, r.Text)
		}
	}
	return strings.Join(parts, "\n---\n")
}

func TestParseCommandForms(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		in   string
		want string
	}{
		{"/help", "/owe - debts you owe"},
		{"/HELP@qarz_bot", "Just tell me about a debt"},
		{"/nope", "Unknown command"},
		{"/web", "not enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := textsFor(f.handle(bot.Inbound{User: aziza, Text: tt.in}), aziza.ID)
			if !strings.Contains(got, tt.want) {
				t.Fatalf("reply to %q = %q, want it to contain %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStartRunsOnboardingOnce(t *testing.T) {
	f := newFixture(t, nil)
	replies := f.handle(bot.Inbound{User: aziza, Text: "/start"})
	got := textsFor(replies, aziza.ID)
	if !strings.Contains(got, "Hi Aziza") {
		t.Fatalf("greeting missing: %q", got)
	}
	if _, _, err := f.dir.File(context.Background(), aziza.ID, "Friends", []contacts.Member{{Name: "Murod"}}); err != nil {
		t.Fatal(err)
	}
	f.handle(bot.Inbound{User: aziza, Text: "/cancel"})

	replies = f.handle(bot.Inbound{User: aziza, Text: "/start"})
	if len(replies) != 1 || len(replies[0].Choices) == 0 {
		t.Fatalf("want a single menu message, got %+v", replies)
	}
	menu := f.press(aziza, replies, "Statistics")
	if !strings.Contains(textsFor(menu, aziza.ID), "Pending: 0") {
		t.Fatalf("menu button did not run stats: %+v", menu)
	}
}

func TestPlaceholderLinkedOnFirstMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.store.UpsertUser(ctx, aziza); err != nil {
		t.Fatal(err)
	}
	d := f.createDebt(ledger.UserParty(aziza.ID, "Aziza"), ledger.PlaceholderParty("sardor", "Sardor"), aziza.ID, "50000")

	replies := f.handle(bot.Inbound{User: sardor, Text: "/owe"})
	if !strings.Contains(textsFor(replies, sardor.ID), "Aziza recorded a debt with you") {
		t.Fatalf("linked debt not announced: %+v", replies)
	}

	replies = f.press(sardor, replies, "Accept")
	if !strings.Contains(textsFor(replies, sardor.ID), "now active") {
		t.Fatalf("accept reply = %q", textsFor(replies, sardor.ID))
	}
	if !strings.Contains(textsFor(replies, aziza.ID), "Sardor confirmed debt") {
		t.Fatalf("creator not told: %+v", replies)
	}
	got, err := f.ledger.Get(ctx, d.ID, sardor.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	notes, err := f.ledger.Notifications(ctx, aziza.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Type != ledger.NotifyDebtConfirmed {
		t.Fatalf("creator notifications = %+v", notes)
	}
}

func TestRemindPayAndConfirm(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, u := range []users.User{aziza, sardor} {
		if err := f.store.UpsertUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	d := f.createDebt(ledger.UserParty(aziza.ID, "Aziza"), ledger.UserParty(sardor.ID, "Sardor"), aziza.ID, "100000")
	if _, err := f.ledger.Accept(ctx, d.ID, sardor.ID); err != nil {
		t.Fatal(err)
	}

	owed := f.handle(bot.Inbound{User: aziza, Text: "/owed"})
	reminded := f.press(aziza, owed, "Remind")
	if !strings.Contains(textsFor(reminded, sardor.ID), "Reminder from Aziza") {
		t.Fatalf("debtor not reminded: %+v", reminded)
	}

	asked := f.press(sardor, reminded, "Pay")
	if !strings.Contains(textsFor(asked, sardor.ID), "How much was paid?") {
		t.Fatalf("pay prompt = %+v", asked)
	}
	recorded := f.handle(bot.Inbound{User: sardor, Text: "60000"})
	if !strings.Contains(textsFor(recorded, sardor.ID), "asked to confirm") {
		t.Fatalf("payment reply = %+v", recorded)
	}

	confirmed := f.press(aziza, recorded, "Confirm payment")
	if !strings.Contains(textsFor(confirmed, aziza.ID), "Remaining: 40,000") {
		t.Fatalf("creditor reply = %q", textsFor(confirmed, aziza.ID))
	}
	if !strings.Contains(textsFor(confirmed, sardor.ID), "confirmed your payment") {
		t.Fatalf("payer not told: %+v", confirmed)
	}

	// Pressing the same button twice does not pay twice.
	again := f.press(aziza, recorded, "Confirm payment")
	if !strings.Contains(textsFor(again, aziza.ID), "Remaining: 40,000") {
		t.Fatalf("second confirmation = %+v", again)
	}
}

func TestActionErrorsBecomeReplies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, u := range []users.User{aziza, sardor} {
		if err := f.store.UpsertUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	d := f.createDebt(ledger.UserParty(aziza.ID, "Aziza"), ledger.PlaceholderParty("", "Alisher"), aziza.ID, "10000")
	stranger := users.User{ID: 3, DisplayName: "Stranger"}

	tests := []struct {
		name string
		user users.User
		data string
		want string
	}{
		{"stranger dispute", stranger, dialogue.ActionData(dialogue.ActionDispute, d.ID), "could not find that debt"},
		{"creator dispute", aziza, dialogue.ActionData(dialogue.ActionDispute, d.ID), "Debt can not be disputed"},
		{"missing payment", aziza, dialogue.ActionData(dialogue.ActionConfirmPayment, 999), "could not find that payment"},
		{"remind placeholder", aziza, dialogue.ActionData(dialogue.ActionRemind, d.ID), "nothing to remind"},
		{"garbage", aziza, "zzz", "no longer valid"},
		{"unknown action", aziza, dialogue.ActionData("explode", d.ID), "no longer valid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := textsFor(f.handle(bot.Inbound{User: tt.user, Callback: tt.data}), tt.user.ID)
			if !strings.Contains(got, tt.want) {
				t.Fatalf("reply = %q, want %q", got, tt.want)
			}
		})
	}

	got := textsFor(f.handle(bot.Inbound{User: aziza, Callback: dialogue.ActionData(dialogue.ActionCancel, d.ID)}), aziza.ID)
	if !strings.Contains(got, "cancelled") {
		t.Fatalf("cancel reply = %q", got)
	}
}

func TestWebLink(t *testing.T) {
	f := newFixture(t, fakeLinker{})
	got := textsFor(f.handle(bot.Inbound{User: aziza, Text: "/web"}), aziza.ID)
	if !strings.Contains(got, "https://debts.example/login?u=1") {
		t.Fatalf("web reply = %q", got)
	}
}
