package dialogue

import (
	"context"
	"strings"
	"time"

	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/intent"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/split"
)

type State string

const (
	StateIdle              State = "idle"
	StateClarifying        State = "clarifying"
	StateSlotFilling       State = "slot_filling"
	StateConfirmingSimple  State = "confirming_simple"
	StateCollectingHandle  State = "collecting_handle"
	StateSplitChoice       State = "split_choice"
	StateConfirmingMatch   State = "confirming_match"
	StateSelectingMatch    State = "selecting_match"
	StateCollectingHandles State = "collecting_handles"
	StateNamingCircle      State = "naming_circle"
	StateCollectingSplit   State = "collecting_split"
	StateConfirmingGroup   State = "confirming_group"
	StateEnteringPayment   State = "entering_payment"
	StateOnboardingCircle  State = "onboarding_circle"
	StateOnboardingNames   State = "onboarding_names"
	StateOnboardingHandles State = "onboarding_handles"
)

// awaitsText lists states whose next text message is an answer. In any
// other state a text message starts a new entry.
var awaitsText = map[State]bool{
	StateClarifying:        true,
	StateSlotFilling:       true,
	StateCollectingHandle:  true,
	StateCollectingHandles: true,
	StateNamingCircle:      true,
	StateCollectingSplit:   true,
	StateEnteringPayment:   true,
	StateOnboardingCircle:  true,
	StateOnboardingNames:   true,
	StateOnboardingHandles: true,
}

// Session is the persisted conversation of one user.
type Session struct {
	UserID    int64     `json:"user_id"`
	State     State     `json:"state"`
	Draft     Draft     `json:"draft"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Person is a participant name and what it resolved to. Key is the name
// as it appears in the entry; Name is what the debt is recorded under.
type Person struct {
	Key           string `json:"key,omitempty"`
	Name          string `json:"name"`
	UserID        *int64 `json:"user_id,omitempty"`
	Handle        string `json:"handle,omitempty"`
	FromDirectory bool   `json:"from_directory,omitempty"`
}

func (p Person) Party() ledger.Party {
	return ledger.Party{UserID: p.UserID, Handle: p.Handle, Name: p.Name}
}

func (p Person) Ref() contacts.Ref {
	return contacts.Ref{Name: p.Name, UserID: p.UserID, Handle: p.Handle}
}

func (p Person) Member() contacts.Member {
	return contacts.Member{Name: p.Name, UserID: p.UserID, Handle: p.Handle}
}

// Draft is the in-progress entry. Steps never modify a Draft in place:
// they work on clone() and store the copy.
type Draft struct {
	Text string `json:"text,omitempty"`

	Simple       *intent.SimpleDebt `json:"simple,omitempty"`
	AskReason    bool               `json:"ask_reason,omitempty"`
	Counterparty *Person            `json:"counterparty,omitempty"`

	Group       *split.Plan       `json:"group,omitempty"`
	Policy      string            `json:"policy,omitempty"`
	Names       []string          `json:"names,omitempty"`
	NameIndex   int               `json:"name_index,omitempty"`
	Candidates  []contacts.Match  `json:"candidates,omitempty"`
	People      []Person          `json:"people,omitempty"`
	CircleAsked bool              `json:"circle_asked,omitempty"`
	Unequal     *split.Unequal    `json:"unequal,omitempty"`
	Debts       []split.DraftDebt `json:"debts,omitempty"`

	DebtID     int64  `json:"debt_id,omitempty"`
	CircleName string `json:"circle_name,omitempty"`
}

func (d Draft) clone() Draft {
	c := d
	c.Names = append([]string(nil), d.Names...)
	c.Candidates = append([]contacts.Match(nil), d.Candidates...)
	c.People = append([]Person(nil), d.People...)
	c.Debts = append([]split.DraftDebt(nil), d.Debts...)
	return c
}

// currentName is the participant being resolved.
func (d Draft) currentName() string {
	if d.NameIndex < len(d.Names) {
		return d.Names[d.NameIndex]
	}
	return ""
}

// person finds a resolved participant by the name used in the entry.
func (d Draft) person(name string) (Person, bool) {
	name = strings.TrimSpace(name)
	for _, p := range d.People {
		key := p.Key
		if key == "" {
			key = p.Name
		}
		if strings.EqualFold(key, name) {
			return p, true
		}
	}
	return Person{}, false
}

// SessionStore persists sessions. GetSession returns nil, nil when the
// user has none.
type SessionStore interface {
	GetSession(ctx context.Context, userID int64) (*Session, error)
	SaveSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, userID int64) error
	// ExpiredSessions lists users whose session was last updated before
	// the given time.
	ExpiredSessions(ctx context.Context, before time.Time) ([]int64, error)
}
