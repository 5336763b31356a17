// Package dialogue runs the per-user conversation that turns free text,
// voice and button presses into ledger entries.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/intent"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/users"
)

// Extractor turns free text into a structured draft.
type Extractor interface {
	Extract(ctx context.Context, text string) (intent.Draft, error)
}

// Transcriber turns a voice message into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

type Options struct {
	// ExternalTimeout bounds each extractor and transcriber call.
	ExternalTimeout time.Duration
	// SessionTTL is how long an untouched session stays alive. Zero
	// disables expiry.
	SessionTTL      time.Duration
	DefaultCurrency string
}

type Deps struct {
	Sessions    SessionStore
	Ledger      *ledger.Service
	Directory   *contacts.Directory
	Users       users.Store
	Extractor   Extractor
	Transcriber Transcriber
	Logger      *slog.Logger
}

type Engine struct {
	sessions    SessionStore
	ledger      *ledger.Service
	directory   *contacts.Directory
	users       users.Store
	extractor   Extractor
	transcriber Transcriber
	opts        Options
	log         *slog.Logger
	locks       *userLocks
	now         func() time.Time
}

func New(d Deps, opts Options) *Engine {
	if opts.ExternalTimeout <= 0 {
		opts.ExternalTimeout = 20 * time.Second
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "so'm"
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		sessions:    d.Sessions,
		ledger:      d.Ledger,
		directory:   d.Directory,
		users:       d.Users,
		extractor:   d.Extractor,
		transcriber: d.Transcriber,
		opts:        opts,
		log:         log,
		locks:       newUserLocks(),
		now:         time.Now,
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

type stepFunc func(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply, error)

func (e *Engine) handlers() map[State]stepFunc {
	return map[State]stepFunc{
		StateIdle:              e.stepIdle,
		StateClarifying:        e.stepClarifying,
		StateSlotFilling:       e.stepSlotFilling,
		StateConfirmingSimple:  e.stepConfirmingSimple,
		StateCollectingHandle:  e.stepCollectingHandle,
		StateSplitChoice:       e.stepSplitChoice,
		StateConfirmingMatch:   e.stepConfirmingMatch,
		StateSelectingMatch:    e.stepSelectingMatch,
		StateCollectingHandles: e.stepCollectingHandles,
		StateNamingCircle:      e.stepNamingCircle,
		StateCollectingSplit:   e.stepCollectingSplit,
		StateConfirmingGroup:   e.stepConfirmingGroup,
		StateEnteringPayment:   e.stepEnteringPayment,
		StateOnboardingCircle:  e.stepOnboardingCircle,
		StateOnboardingNames:   e.stepOnboardingNames,
		StateOnboardingHandles: e.stepOnboardingHandles,
	}
}

// Handle runs one event for u and returns the messages to deliver.
func (e *Engine) Handle(ctx context.Context, u users.User, ev Event) ([]Reply, error) {
	unlock := e.locks.lock(u.ID)
	defer unlock()

	cur, err := e.load(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	next, replies := e.step(ctx, u, cur, ev)
	if err := e.save(ctx, cur, next); err != nil {
		return replies, err
	}
	return replies, nil
}

// State returns the user's current state.
func (e *Engine) State(ctx context.Context, userID int64) (State, error) {
	s, err := e.load(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.State, nil
}

func (e *Engine) load(ctx context.Context, userID int64) (Session, error) {
	s, err := e.sessions.GetSession(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return Session{UserID: userID, State: StateIdle}, nil
	}
	if e.expired(*s) {
		if err := e.sessions.DeleteSession(ctx, userID); err != nil {
			return Session{}, fmt.Errorf("delete session: %w", err)
		}
		e.log.Info("session expired", "user_id", userID, "state", s.State)
		return Session{UserID: userID, State: StateIdle}, nil
	}
	return *s, nil
}

func (e *Engine) expired(s Session) bool {
	return e.opts.SessionTTL > 0 && e.now().Sub(s.UpdatedAt) > e.opts.SessionTTL
}

func (e *Engine) save(ctx context.Context, prev, next Session) error {
	if next.State == StateIdle || next.State == "" {
		if prev.State == StateIdle {
			return nil
		}
		if err := e.sessions.DeleteSession(ctx, next.UserID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	}
	next.UpdatedAt = e.now()
	if err := e.sessions.SaveSession(ctx, next); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// step runs the handler for the current state and turns errors into user
// messages. Validation errors keep the state and ask again; every other
// error returns the user to idle.
func (e *Engine) step(ctx context.Context, u users.User, s Session, ev Event) (Session, []Reply) {
	idle := Session{UserID: u.ID, State: StateIdle}

	if _, ok := ev.(Cancel); ok {
		if s.State == StateIdle {
			return idle, []Reply{say(u.ID, msgNothingToCancel)}
		}
		e.log.Info("session cancelled", "user_id", u.ID, "state", s.State)
		return idle, []Reply{say(u.ID, msgCancelled)}
	}

	if v, ok := ev.(VoiceReply); ok && s.State != StateIdle && awaitsText[s.State] {
		text, err := e.transcribe(ctx, v)
		if err != nil {
			return idle, e.failure(u, s, err, nil)
		}
		ev = TextReply{Text: text}
	}

	switch ev.(type) {
	case TextReply, VoiceReply:
		if s.State != StateIdle && !awaitsText[s.State] {
			e.log.Info("session overwritten by new entry", "user_id", u.ID, "state", s.State)
			s = idle
		}
	}

	h, ok := e.handlers()[s.State]
	if !ok {
		return idle, e.failure(u, s, &apperr.StateError{State: string(s.State), Msg: "unknown state"}, nil)
	}
	next, replies, err := h(ctx, u, s, ev)
	if err != nil {
		var ve *apperr.ValidationError
		if errors.As(err, &ve) && s.State != StateIdle {
			return s, append(replies, e.reprompt(u, s, ve)...)
		}
		return idle, e.failure(u, s, err, replies)
	}
	next.UserID = u.ID
	return next, replies
}

// failure reports err to the user. replies already produced by the step
// are kept so partial commits still reach counter-parties.
func (e *Engine) failure(u users.User, s Session, err error, replies []Reply) []Reply {
	var (
		ve *apperr.ValidationError
		nf *apperr.NotFoundError
		se *apperr.StateError
		xe *apperr.ExternalServiceError
	)
	var (
		text string
		up   *ledger.UnconfirmedPaymentError
	)
	switch {
	case errors.As(err, &up):
		e.log.Error("confirm own payment", "user_id", u.ID, "payment_id", up.PaymentID, "err", up.Err)
		row := []Choice{{Label: "Confirm payment", Data: ActionData(ActionConfirmPayment, up.PaymentID)}}
		return append(replies, say(u.ID, fmt.Sprintf(msgPaymentPending, up.PaymentID), row))
	case errors.As(err, &xe):
		e.log.Warn("external service failed", "user_id", u.ID, "service", xe.Service, "err", xe.Err)
		text = msgServiceDown
	case errors.Is(err, intent.ErrExtraction):
		e.log.Info("extraction rejected", "user_id", u.ID, "err", err)
		text = msgNotUnderstood
	case errors.As(err, &se):
		e.log.Info("unexpected action", "user_id", u.ID, "state", s.State, "err", err)
		text = msgNoContext
	case errors.As(err, &nf):
		text = fmt.Sprintf(msgNotFound, nf.Kind)
	case errors.As(err, &ve):
		text = ve.Msg
	default:
		e.log.Error("dialogue step failed", "user_id", u.ID, "state", s.State, "err", err)
		text = msgInternal
	}
	var ce *commitError
	if errors.As(err, &ce) {
		text = fmt.Sprintf(msgPartialCommit, ce.saved, ce.total) + "\n" + text
	}
	return append(replies, say(u.ID, text))
}

// commitError reports how far a multi-debt commit got.
type commitError struct {
	saved, total int
	err          error
}

func (c *commitError) Error() string {
	return fmt.Sprintf("saved %d of %d debts: %v", c.saved, c.total, c.err)
}

func (c *commitError) Unwrap() error { return c.err }

func (e *Engine) extract(ctx context.Context, text string) (intent.Draft, error) {
	if e.extractor == nil {
		return intent.Draft{}, apperr.External("extractor", errors.New("not configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.ExternalTimeout)
	defer cancel()
	d, err := e.extractor.Extract(ctx, text)
	if err != nil {
		if errors.Is(err, intent.ErrExtraction) {
			return intent.Draft{}, err
		}
		return intent.Draft{}, apperr.External("extractor", err)
	}
	return d, nil
}

func (e *Engine) transcribe(ctx context.Context, v VoiceReply) (string, error) {
	if e.transcriber == nil {
		return "", apperr.External("transcriber", errors.New("not configured"))
	}
	if len(v.Audio) == 0 {
		return "", apperr.Validation("voice", "empty voice message")
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.ExternalTimeout)
	defer cancel()
	name := v.Filename
	if name == "" {
		name = "voice.ogg"
	}
	text, err := e.transcriber.Transcribe(ctx, v.Audio, name)
	if err != nil {
		return "", apperr.External("transcriber", err)
	}
	if text == "" {
		return "", apperr.External("transcriber", errors.New("empty transcription"))
	}
	return text, nil
}

// Expire closes sessions idle for longer than the TTL and returns the
// notices for their users.
func (e *Engine) Expire(ctx context.Context) ([]Reply, error) {
	if e.opts.SessionTTL <= 0 {
		return nil, nil
	}
	ids, err := e.sessions.ExpiredSessions(ctx, e.now().Add(-e.opts.SessionTTL))
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	var out []Reply
	for _, id := range ids {
		closed, err := e.expireOne(ctx, id)
		if err != nil {
			return out, err
		}
		if closed {
			out = append(out, say(id, msgExpired))
		}
	}
	return out, nil
}

func (e *Engine) expireOne(ctx context.Context, userID int64) (bool, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	s, err := e.sessions.GetSession(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if s == nil || !e.expired(*s) {
		return false, nil
	}
	if err := e.sessions.DeleteSession(ctx, userID); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	e.log.Info("session expired", "user_id", userID, "state", s.State)
	return true, nil
}

// begin replaces the user's session with one started outside of free
// text, such as a payment button or the first /start.
func (e *Engine) begin(ctx context.Context, u users.User, start func(ctx context.Context) (Session, []Reply, error)) ([]Reply, error) {
	unlock := e.locks.lock(u.ID)
	defer unlock()

	cur, err := e.load(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	next, replies, err := start(ctx)
	if err != nil {
		next = Session{UserID: u.ID, State: StateIdle}
		replies = e.failure(u, cur, err, replies)
	}
	next.UserID = u.ID
	if err := e.save(ctx, cur, next); err != nil {
		return replies, err
	}
	return replies, nil
}

func say(to int64, text string, rows ...[]Choice) Reply {
	return Reply{To: to, Text: text, Choices: rows}
}

func choice(label, value string) Choice {
	return Choice{Label: label, Data: ChoicePrefix + value}
}

func withDraft(state State, d Draft) Session {
	return Session{State: state, Draft: d}
}
