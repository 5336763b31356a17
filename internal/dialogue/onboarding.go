package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/users"
)

// BeginOnboarding asks a new user to set up their first circle.
func (e *Engine) BeginOnboarding(ctx context.Context, u users.User) ([]Reply, error) {
	return e.begin(ctx, u, func(ctx context.Context) (Session, []Reply, error) {
		s := withDraft(StateOnboardingCircle, Draft{})
		q, rows := e.prompt(s)
		text := "Let's add the people you usually share expenses with.\n" + q
		return s, []Reply{say(u.ID, text, rows...)}, nil
	})
}

func (e *Engine) stepOnboardingCircle(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	var name string
	switch v := ev.(type) {
	case ChoicePicked:
		switch {
		case v.Choice == valSkip:
			return Session{State: StateIdle}, []Reply{say(u.ID, "Skipped. Just tell me about a debt whenever you are ready.")}, nil
		case strings.HasPrefix(v.Choice, circlePref):
			name = strings.TrimPrefix(v.Choice, circlePref)
		default:
			return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected choice"}
		}
	case TextReply:
		name = strings.TrimSpace(v.Text)
		if name == "" || name == skipMarker {
			return Session{State: StateIdle}, []Reply{say(u.ID, "Skipped. Just tell me about a debt whenever you are ready.")}, nil
		}
	default:
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected action"}
	}
	ns := withDraft(StateOnboardingNames, Draft{CircleName: name})
	q, _ := e.prompt(ns)
	return ns, []Reply{say(u.ID, q)}, nil
}

func (e *Engine) stepOnboardingNames(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	v, ok := ev.(TextReply)
	if !ok {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "expected names"}
	}
	var names []string
	for _, n := range strings.Split(v.Text, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return s, nil, apperr.Validation("names", "send at least one name")
	}
	d := s.Draft.clone()
	d.Names = names
	d.NameIndex = 0
	d.People = nil
	ns := withDraft(StateOnboardingHandles, d)
	q, _ := e.prompt(ns)
	return ns, []Reply{say(u.ID, q)}, nil
}

func (e *Engine) stepOnboardingHandles(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error) {
	name := s.Draft.currentName()
	if name == "" {
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "no name to ask about"}
	}
	d := s.Draft.clone()
	p := Person{Name: name}
	switch v := ev.(type) {
	case TextReply:
		t := strings.TrimSpace(v.Text)
		if t != skipMarker && !strings.EqualFold(t, valSkip) {
			found, err := e.lookupHandle(ctx, u, name, t)
			if err != nil {
				return s, nil, err
			}
			p = found
			p.Name = name
		}
	case ContactShared:
		p = e.contactPerson(ctx, u, v, name)
		p.Name = name
	default:
		return s, nil, &apperr.StateError{State: string(s.State), Msg: "unexpected action"}
	}
	d.People = append(d.People, p)
	d.NameIndex++

	if d.NameIndex < len(d.Names) {
		ns := withDraft(StateOnboardingHandles, d)
		q, _ := e.prompt(ns)
		return ns, []Reply{say(u.ID, q)}, nil
	}

	members := make([]contacts.Member, 0, len(d.People))
	for _, p := range d.People {
		members = append(members, p.Member())
	}
	circle, added, err := e.directory.File(ctx, u.ID, d.CircleName, members)
	if err != nil {
		return Session{}, nil, err
	}
	text := fmt.Sprintf("Saved %d people to %s. Now just tell me about a debt, for example: \"Murod owes me 50 ming for lunch\".", added, circle.Name)
	return Session{State: StateIdle}, []Reply{say(u.ID, text)}, nil
}
