package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/intent"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/money"
	"github.com/susu3304/qarzbot/internal/split"
	"github.com/susu3304/qarzbot/internal/users"
)

func (e *Engine) stepIdle(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	switch v := ev.(type) {
	case TextReply:
		return e.parse(ctx, u, v.Text)
	case VoiceReply:
		text, err := e.transcribe(ctx, v)
		if err != nil {
			return s, nil, err
		}
		return e.parse(ctx, u, text)
	}
	return s, nil, &apperr.StateError{State: string(s.State), Msg: "no entry in progress"}
}

// parse sends text to the extractor and routes on the normalized intent.
func (e *Engine) parse(ctx context.Context, u users.User, text string) (Session, []Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Session{State: StateIdle}, []Reply{say(u.ID, msgNotUnderstood)}, nil
	}
	draft, err := e.extract(ctx, text)
	if err != nil {
		return Session{}, nil, err
	}
	in, err := intent.Normalize(draft, e.opts.DefaultCurrency)
	if err != nil {
		return Session{}, nil, err
	}

	switch v := in.(type) {
	case intent.Clarification:
		return withDraft(StateClarifying, Draft{Text: text}), []Reply{say(u.ID, v.Question)}, nil
	case intent.SimpleDebt:
		d := Draft{Text: text, Simple: &v, AskReason: len(v.Missing()) > 0 && v.Reason == ""}
		return e.nextSlot(ctx, u, d)
	case intent.GroupExpense:
		plan, err := split.NewPlan(v)
		if errors.Is(err, split.ErrNoDebtors) {
			return Session{State: StateIdle}, []Reply{say(u.ID, msgNoDebtors)}, nil
		}
		if err != nil {
			return Session{}, nil, err
		}
		d := Draft{Text: text, Group: &plan}
		rows := [][]Choice{
			{choice("Equally", valEqual), choice("Unequally", valUnequal)},
			{choice("Cancel", valCancel)},
		}
		return withDraft(StateSplitChoice, d), []Reply{say(u.ID, groupChoiceSummary(plan), rows...)}, nil
	}
	return Session{}, nil, fmt.Errorf("%w: unexpected intent %T", intent.ErrExtraction, in)
}

// stepClarifying appends the answer to the original text and parses again.
func (e *Engine) stepClarifying(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	v, ok := ev.(TextReply)
	if !ok {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "expected a text answer"}
	}
	return e.parse(ctx, u, s.Draft.Text+"\n"+v.Text)
}

func slots(d Draft) []intent.Field {
	if d.Simple == nil {
		return nil
	}
	f := d.Simple.Missing()
	if d.AskReason && d.Simple.Reason == "" {
		f = append(f, intent.FieldReason)
	}
	return f
}

func (e *Engine) nextSlot(ctx context.Context, u users.User, d Draft) (Session, []Reply, error) {
	f := slots(d)
	if len(f) == 0 {
		return e.prepareSimple(ctx, u, d)
	}
	q, rows := slotQuestion(f[0])
	return withDraft(StateSlotFilling, d), []Reply{say(u.ID, q, rows...)}, nil
}

func (e *Engine) stepSlotFilling(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	pending := slots(s.Draft)
	if len(pending) == 0 || s.Draft.Simple == nil {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no field to fill"}
	}
	field := pending[0]
	d := s.Draft.clone()

	var value string
	switch v := ev.(type) {
	case TextReply:
		value = v.Text
	case ChoicePicked:
		if field != intent.FieldDirection || !strings.HasPrefix(v.Choice, dirPrefix) {
			return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected choice"}
		}
		value = strings.TrimPrefix(v.Choice, dirPrefix)
	case ContactShared:
		if field != intent.FieldCounterparty {
			return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected contact"}
		}
		p := e.contactPerson(ctx, u, v, v.Name)
		d.Counterparty = &p
		value = p.Name
	default:
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected event"}
	}

	filled, err := d.Simple.Fill(field, value)
	if err != nil {
		return s, nil, err
	}
	d.Simple = &filled
	return e.nextSlot(ctx, u, d)
}

// prepareSimple resolves the counter-party and asks for confirmation.
func (e *Engine) prepareSimple(ctx context.Context, u users.User, d Draft) (Session, []Reply, error) {
	if d.Counterparty == nil {
		p, err := e.resolveName(ctx, u, d.Simple.Counterparty())
		if err != nil {
			return Session{}, nil, err
		}
		d.Counterparty = &p
	}
	return e.confirmSimple(u, d)
}

func (e *Engine) confirmSimple(u users.User, d Draft) (Session, []Reply, error) {
	rows := [][]Choice{confirmCancelRow()}
	if d.Counterparty.UserID == nil {
		rows = append(rows, []Choice{choice("Add @username", valHandle)})
	}
	text := simpleSummary(u, *d.Simple, *d.Counterparty)
	return withDraft(StateConfirmingSimple, d), []Reply{say(u.ID, text, rows...)}, nil
}

// resolveName looks a typed name up as a handle or in the user's circles.
// A name that matches nothing, or more than one member, stays a bare name.
func (e *Engine) resolveName(ctx context.Context, u users.User, name string) (Person, error) {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "@") {
		return e.lookupHandle(ctx, u, name, name)
	}
	matches, err := e.directory.Search(ctx, u.ID, name)
	if err != nil {
		return Person{}, err
	}
	if len(matches) == 1 {
		m := matches[0]
		return e.personFromMatch(u, name, m), nil
	}
	return Person{Name: name}, nil
}

// lookupHandle resolves handle to a known user, or keeps it as a
// placeholder for when that user joins.
func (e *Engine) lookupHandle(ctx context.Context, u users.User, name, handle string) (Person, error) {
	if !users.ValidHandle(handle) {
		return Person{}, apperr.Validation("username", "%q is not a valid @username", handle)
	}
	h := users.NormalizeHandle(handle)
	if strings.HasPrefix(strings.TrimSpace(name), "@") {
		name = ""
	}
	found, err := e.users.FindUserByHandle(ctx, h)
	if errors.Is(err, users.ErrNotFound) {
		return Person{Name: name, Handle: h}, nil
	}
	if err != nil {
		return Person{}, fmt.Errorf("find user @%s: %w", h, err)
	}
	if found.ID == u.ID {
		return Person{}, apperr.Validation("username", "that is your own username")
	}
	if name == "" {
		name = found.Label()
	}
	id := found.ID
	return Person{Name: name, UserID: &id, Handle: h}, nil
}

func (e *Engine) personFromMatch(u users.User, name string, m contacts.Match) Person {
	p := Person{Name: m.Member.Name, Handle: m.Handle(), FromDirectory: true}
	if p.Name == "" {
		p.Name = name
	}
	if m.Member.UserID != nil && *m.Member.UserID != u.ID {
		id := *m.Member.UserID
		p.UserID = &id
	}
	return p
}

func (e *Engine) contactPerson(ctx context.Context, u users.User, c ContactShared, fallback string) Person {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = fallback
	}
	p := Person{Name: name, Handle: users.NormalizeHandle(c.Handle)}
	if c.UserID != nil && *c.UserID != u.ID {
		id := *c.UserID
		p.UserID = &id
		return p
	}
	if p.Handle != "" {
		if found, err := e.lookupHandle(ctx, u, name, p.Handle); err == nil {
			return found
		}
	}
	return p
}

func (e *Engine) stepConfirmingSimple(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	if s.Draft.Simple == nil || s.Draft.Counterparty == nil {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no pending debt"}
	}
	switch v := ev.(type) {
	case ChoicePicked:
		switch v.Choice {
		case valConfirm:
			return e.commitSimple(ctx, u, s.Draft)
		case valCancel:
			return Session{State: StateIdle}, []Reply{say(u.ID, msgCancelled)}, nil
		case valHandle:
			q, _ := e.prompt(Session{State: StateCollectingHandle})
			return withDraft(StateCollectingHandle, s.Draft.clone()), []Reply{say(u.ID, q)}, nil
		}
	case ContactShared:
		d := s.Draft.clone()
		p := e.contactPerson(ctx, u, v, d.Counterparty.Name)
		d.Counterparty = &p
		return e.confirmSimple(u, d)
	}
	return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected action"}
}

func (e *Engine) stepCollectingHandle(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	if s.Draft.Simple == nil || s.Draft.Counterparty == nil {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no pending debt"}
	}
	d := s.Draft.clone()
	switch v := ev.(type) {
	case TextReply:
		text := strings.TrimSpace(v.Text)
		if text != skipMarker {
			p, err := e.lookupHandle(ctx, u, d.Counterparty.Name, text)
			if err != nil {
				return s, nil, err
			}
			d.Counterparty = &p
		}
	case ContactShared:
		p := e.contactPerson(ctx, u, v, d.Counterparty.Name)
		d.Counterparty = &p
	default:
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected action"}
	}
	return e.confirmSimple(u, d)
}

// commitSimple stores the debt, confirms the creator's side and asks the
// counter-party to confirm theirs.
func (e *Engine) commitSimple(ctx context.Context, u users.User, d Draft) (Session, []Reply, error) {
	sd := *d.Simple
	me := ledger.UserParty(u.ID, u.Label())
	other := d.Counterparty.Party()

	n := ledger.NewDebt{
		CreatorID: u.ID,
		Creditor:  me,
		Debtor:    other,
		Amount:    sd.Amount,
		Currency:  sd.Currency,
		Reason:    reasonOrDefault(sd.Reason),
	}
	if sd.Direction == intent.IOwe {
		n.Creditor, n.Debtor = other, me
	}

	debt, err := e.ledger.Create(ctx, n)
	if err != nil {
		return Session{}, nil, err
	}

	text := fmt.Sprintf("Saved debt #%d: %s.", debt.ID, money.Format(debt.Amount, debt.Currency))
	switch {
	case other.Resolved():
		text += fmt.Sprintf("\nI asked %s to confirm it.", other.Label())
	case other.Handle != "":
		text += fmt.Sprintf("\n@%s will be asked to confirm when they start the bot.", other.Handle)
	default:
		text += "\nThe other person is not linked, so only you can see this debt for now."
	}
	replies := []Reply{say(u.ID, text)}
	replies = append(replies, e.notifyParties(ctx, u, debt, ledger.NotifyDebtCreated)...)
	return Session{State: StateIdle}, replies, nil
}

// notifyParties records a notification for every resolved party other
// than the creator and returns the messages asking them to confirm.
func (e *Engine) notifyParties(ctx context.Context, creator users.User, debt ledger.Debt, kind string) []Reply {
	var out []Reply
	for _, p := range []ledger.Party{debt.Creditor, debt.Debtor} {
		if !p.Resolved() || p.Is(creator.ID) {
			continue
		}
		text := NewDebtNotice(creator, debt)
		if err := e.ledger.Notify(ctx, *p.UserID, debt.ID, kind, text); err != nil {
			e.log.Error("store notification", "debt_id", debt.ID, "user_id", *p.UserID, "err", err)
		}
		out = append(out, say(*p.UserID, text, AcceptDisputeRow(debt.ID)))
	}
	return out
}
