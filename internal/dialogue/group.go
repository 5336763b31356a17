package dialogue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/intent"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/money"
	"github.com/susu3304/qarzbot/internal/split"
	"github.com/susu3304/qarzbot/internal/users"
)

func (e *Engine) stepSplitChoice(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	v, ok := ev.(ChoicePicked)
	if !ok || s.Draft.Group == nil {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no group expense"}
	}
	switch v.Choice {
	case valCancel:
		return Session{State: StateIdle}, []Reply{say(u.ID, msgCancelled)}, nil
	case valEqual, valUnequal:
	default:
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "unknown split policy"}
	}

	d := s.Draft.clone()
	d.Policy = v.Choice
	d.Names = namesToResolve(*d.Group)
	d.NameIndex = 0
	d.People = nil
	return e.resolveNext(ctx, u, d)
}

// namesToResolve lists every participant other than the user, payer
// included when someone else paid.
func namesToResolve(p split.Plan) []string {
	var out []string
	if !intent.IsSelf(p.Payer) {
		out = append(out, p.Payer)
	}
	for _, n := range p.Debtors {
		if !intent.IsSelf(n) {
			out = append(out, n)
		}
	}
	return out
}

// resolveNext resolves participants in order until one needs the user's
// help, then offers to file new people into a circle and finally computes
// the split.
func (e *Engine) resolveNext(ctx context.Context, u users.User, d Draft) (Session, []Reply, error) {
	for d.NameIndex < len(d.Names) {
		name := d.currentName()
		if strings.HasPrefix(strings.TrimSpace(name), "@") {
			p, err := e.lookupHandle(ctx, u, name, name)
			if err != nil {
				p = Person{Name: name}
			}
			p.Key, p.Name = name, name
			d.People = append(d.People, p)
			d.NameIndex++
			continue
		}

		matches, err := e.directory.Search(ctx, u.ID, name)
		if err != nil {
			return Session{}, nil, err
		}
		if len(matches) > maxMatches {
			matches = matches[:maxMatches]
		}
		d.Candidates = matches

		switch len(matches) {
		case 0:
			s := withDraft(StateCollectingHandles, d)
			q, _ := e.prompt(s)
			return s, []Reply{say(u.ID, q)}, nil
		case 1:
			text := fmt.Sprintf("Is %q %s?", name, matchLabel(matches[0]))
			row := []Choice{choice("Yes", valYes), choice("No", valNo)}
			return withDraft(StateConfirmingMatch, d), []Reply{say(u.ID, text, row)}, nil
		default:
			var rows [][]Choice
			for i, m := range matches {
				rows = append(rows, []Choice{choice(matchLabel(m), pickPrefix+strconv.Itoa(i))})
			}
			rows = append(rows, []Choice{choice("None of these", valNone)})
			text := fmt.Sprintf("Which %s do you mean?", name)
			return withDraft(StateSelectingMatch, d), []Reply{say(u.ID, text, rows...)}, nil
		}
	}
	d.Candidates = nil

	if !d.CircleAsked && hasNewPeople(d.People) {
		refs := make([]contacts.Ref, 0, len(d.People))
		for _, p := range d.People {
			refs = append(refs, p.Ref())
		}
		covered, err := e.directory.Covered(ctx, u.ID, refs)
		if err != nil {
			return Session{}, nil, err
		}
		if !covered {
			s := withDraft(StateNamingCircle, d)
			q, rows := e.prompt(s)
			return s, []Reply{say(u.ID, q, rows...)}, nil
		}
	}
	return e.computeSplit(u, d, nil)
}

func hasNewPeople(people []Person) bool {
	for _, p := range people {
		if !p.FromDirectory {
			return true
		}
	}
	return false
}

// accept stores p under the current name and moves on.
func (e *Engine) accept(ctx context.Context, u users.User, d Draft, p Person) (Session, []Reply, error) {
	p.Key = d.currentName()
	d.People = append(d.People, p)
	d.NameIndex++
	d.Candidates = nil
	return e.resolveNext(ctx, u, d)
}

func (e *Engine) askHandle(u users.User, d Draft) (Session, []Reply, error) {
	d.Candidates = nil
	s := withDraft(StateCollectingHandles, d)
	q, _ := e.prompt(s)
	return s, []Reply{say(u.ID, q)}, nil
}

func (e *Engine) stepConfirmingMatch(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	v, ok := ev.(ChoicePicked)
	if !ok || len(s.Draft.Candidates) != 1 {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no match to confirm"}
	}
	d := s.Draft.clone()
	switch v.Choice {
	case valYes:
		return e.accept(ctx, u, d, e.personFromMatch(u, d.currentName(), d.Candidates[0]))
	case valNo:
		return e.askHandle(u, d)
	}
	return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected choice"}
}

func (e *Engine) stepSelectingMatch(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	v, ok := ev.(ChoicePicked)
	if !ok || len(s.Draft.Candidates) == 0 {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no matches to pick from"}
	}
	d := s.Draft.clone()
	if v.Choice == valNone {
		return e.askHandle(u, d)
	}
	i, err := strconv.Atoi(strings.TrimPrefix(v.Choice, pickPrefix))
	if !strings.HasPrefix(v.Choice, pickPrefix) || err != nil || i < 0 || i >= len(d.Candidates) {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "unknown match"}
	}
	return e.accept(ctx, u, d, e.personFromMatch(u, d.currentName(), d.Candidates[i]))
}

func (e *Engine) stepCollectingHandles(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	name := s.Draft.currentName()
	if name == "" {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no participant to resolve"}
	}
	d := s.Draft.clone()
	switch v := ev.(type) {
	case TextReply:
		text := strings.TrimSpace(v.Text)
		if text == skipMarker {
			return e.accept(ctx, u, d, Person{Name: name})
		}
		p, err := e.lookupHandle(ctx, u, name, text)
		if err != nil {
			return s, nil, err
		}
		p.Name = name
		return e.accept(ctx, u, d, p)
	case ContactShared:
		p := e.contactPerson(ctx, u, v, name)
		p.Name = name
		return e.accept(ctx, u, d, p)
	}
	return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected action"}
}

func (e *Engine) stepNamingCircle(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	var name string
	switch v := ev.(type) {
	case ChoicePicked:
		switch {
		case v.Choice == valSkip:
		case strings.HasPrefix(v.Choice, circlePref):
			name = strings.TrimPrefix(v.Choice, circlePref)
		default:
			return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected choice"}
		}
	case TextReply:
		if t := strings.TrimSpace(v.Text); t != skipMarker {
			name = t
		}
	default:
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected action"}
	}

	d := s.Draft.clone()
	d.CircleAsked = true
	var replies []Reply
	if name != "" {
		var members []contacts.Member
		for _, p := range d.People {
			if !p.FromDirectory {
				members = append(members, p.Member())
			}
		}
		circle, added, err := e.directory.File(ctx, u.ID, name, members)
		if err != nil {
			return s, nil, err
		}
		replies = append(replies, say(u.ID, fmt.Sprintf("Saved %d people to %s.", added, circle.Name)))
	}
	return e.computeSplit(u, d, replies)
}

func (e *Engine) computeSplit(u users.User, d Draft, replies []Reply) (Session, []Reply, error) {
	plan := *d.Group
	if d.Policy == valUnequal {
		col := split.NewUnequal(plan)
		d.Unequal = &col
		s := withDraft(StateCollectingSplit, d)
		intro := fmt.Sprintf("Your share is %s, so the others owe you %s in total.",
			money.Format(plan.PayerShare(), plan.Currency), money.Format(plan.ExpectedOwed(), plan.Currency))
		if !intent.IsSelf(plan.Payer) {
			intro = fmt.Sprintf("%s's share is %s, so the others owe %s in total.",
				plan.Payer, money.Format(plan.PayerShare(), plan.Currency), money.Format(plan.ExpectedOwed(), plan.Currency))
		}
		q, _ := e.prompt(s)
		return s, append(replies, say(u.ID, intro+"\n"+q)), nil
	}
	d.Debts = plan.Equal()
	return e.confirmGroup(u, d, replies)
}

func (e *Engine) confirmGroup(u users.User, d Draft, replies []Reply) (Session, []Reply, error) {
	text := groupSummary(*d.Group, d.Debts)
	return withDraft(StateConfirmingGroup, d), append(replies, say(u.ID, text, confirmCancelRow())), nil
}

func (e *Engine) stepCollectingSplit(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	v, ok := ev.(TextReply)
	if !ok || s.Draft.Unequal == nil {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no split in progress"}
	}
	amount, err := intent.ParseAmount(v.Text)
	if err != nil {
		return s, nil, err
	}
	next, outcome, err := s.Draft.Unequal.Answer(amount)
	if err != nil {
		return s, nil, err
	}

	d := s.Draft.clone()
	d.Unequal = &next
	plan := next.Plan
	switch outcome {
	case split.Next:
		ns := withDraft(StateCollectingSplit, d)
		q, _ := e.prompt(ns)
		return ns, []Reply{say(u.ID, q)}, nil
	case split.Restarted:
		ns := withDraft(StateCollectingSplit, d)
		q, _ := e.prompt(ns)
		text := fmt.Sprintf("The amounts add up to %s but should be %s. Let's start again.\n%s",
			money.Format(s.Draft.Unequal.Entered().Add(amount), plan.Currency),
			money.Format(plan.ExpectedOwed(), plan.Currency), q)
		return ns, []Reply{say(u.ID, text)}, nil
	}
	d.Debts = next.Drafts()
	if len(d.Debts) == 0 {
		return Session{State: StateIdle}, []Reply{say(u.ID, "Nobody owes anything, so there is nothing to save.")}, nil
	}
	return e.confirmGroup(u, d, nil)
}

func (e *Engine) stepConfirmingGroup(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	v, ok := ev.(ChoicePicked)
	if !ok || s.Draft.Group == nil || len(s.Draft.Debts) == 0 {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no group split to confirm"}
	}
	switch v.Choice {
	case valConfirm:
		return e.commitGroup(ctx, u, s.Draft)
	case valCancel:
		return Session{State: StateIdle}, []Reply{say(u.ID, msgCancelled)}, nil
	}
	return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected choice"}
}

func (e *Engine) partyFor(u users.User, d Draft, name string) ledger.Party {
	if intent.IsSelf(name) {
		return ledger.UserParty(u.ID, u.Label())
	}
	if p, ok := d.person(name); ok {
		return p.Party()
	}
	return ledger.Party{Name: name}
}

// commitGroup creates one debt per draft. On failure the debts already
// saved stay and their notices are still sent.
func (e *Engine) commitGroup(ctx context.Context, u users.User, d Draft) (Session, []Reply, error) {
	var (
		notices []Reply
		ids     []string
	)
	for i, dd := range d.Debts {
		n := ledger.NewDebt{
			CreatorID: u.ID,
			Creditor:  e.partyFor(u, d, dd.CreditorName),
			Debtor:    e.partyFor(u, d, dd.DebtorName),
			Amount:    dd.Amount,
			Currency:  dd.Currency,
			Reason:    dd.Reason,
		}
		debt, err := e.ledger.Create(ctx, n)
		if err != nil {
			return Session{}, notices, &commitError{saved: i, total: len(d.Debts), err: err}
		}
		ids = append(ids, "#"+strconv.FormatInt(debt.ID, 10))
		notices = append(notices, e.notifyParties(ctx, u, debt, ledger.NotifyGroupDebtCreated)...)
	}
	text := fmt.Sprintf("Saved %d debts (%s). Everyone linked to the bot was asked to confirm.", len(ids), strings.Join(ids, ", "))
	return Session{State: StateIdle}, append([]Reply{say(u.ID, text)}, notices...), nil
}
