package dialogue

import (
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

const (
	msgCancelled       = "Cancelled. Nothing was saved."
	msgNothingToCancel = "There is nothing to cancel."
	msgServiceDown     = "I could not process that right now. Please try again in a moment."
	msgNotUnderstood   = "Sorry, I did not understand. Try something like: \"Alisher owes me 50 ming for lunch\"."
	msgNoContext       = "Context not found. Please start again."
	msgNotFound        = "That %s was not found."
	msgInternal        = "Something went wrong. Please try again."
	msgPartialCommit   = "Saved %d of %d debts before an error."
	msgExpired         = "Your unfinished entry expired and was closed."
	msgNoDebtors       = "I could not find anyone else to split with. Please name the other participants."
	msgPaymentPending  = "Payment #%d was saved but could not be confirmed yet."
)

// Button values handled by the engine.
const (
	valConfirm = "confirm"
	valCancel  = "cancel"
	valHandle  = "handle"
	valEqual   = "equal"
	valUnequal = "unequal"
	valYes     = "yes"
	valNo      = "no"
	valNone    = "none"
	valSkip    = "skip"
	pickPrefix = "pick:"
	circlePref = "circle:"
	dirPrefix  = "dir:"
	maxMatches = 8
	skipMarker = "-"
)

// Debt actions are routed by the bot, not by the engine.
const (
	ActionAccept         = "accept"
	ActionDispute        = "dispute"
	ActionCancel         = "cancel"
	ActionPay            = "pay"
	ActionRemind         = "remind"
	ActionConfirmPayment = "payok"
)

// ActionData builds the button data for a debt or payment action.
func ActionData(action string, id int64) string {
	return action + ":" + strconv.FormatInt(id, 10)
}

// ParseAction splits button data built by ActionData.
func ParseAction(data string) (string, int64, bool) {
	action, raw, ok := strings.Cut(data, ":")
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return action, id, true
}

// AcceptDisputeRow is shown to a counter-party of a new debt.
func AcceptDisputeRow(debtID int64) []Choice {
	return []Choice{
		{Label: "Accept", Data: ActionData(ActionAccept, debtID)},
		{Label: "Dispute", Data: ActionData(ActionDispute, debtID)},
	}
}

func confirmCancelRow() []Choice {
	return []Choice{choice("Confirm", valConfirm), choice("Cancel", valCancel)}
}

func circleRows() [][]Choice {
	var row []Choice
	for _, name := range contacts.PresetCircles {
		row = append(row, choice(name, circlePref+name))
	}
	return [][]Choice{row[:2], row[2:], {choice("Skip", valSkip)}}
}

func slotQuestion(f intent.Field) (string, [][]Choice) {
	switch f {
	case intent.FieldAmount:
		return "How much? (for example: 50000 or 50 ming)", nil
	case intent.FieldDirection:
		return "Who owes whom?", [][]Choice{{
			choice("I owe them", dirPrefix+string(intent.IOwe)),
			choice("They owe me", dirPrefix+string(intent.OweMe)),
		}}
	case intent.FieldCounterparty:
		return "Who is the other person? Send a name or @username.", nil
	case intent.FieldReason:
		return "What was it for? Send \"-\" to skip.", nil
	}
	return "Please send the missing detail.", nil
}

func simpleSummary(u users.User, s intent.SimpleDebt, other Person) string {
	creditor, debtor := u.Label(), other.Party().Label()
	if s.Direction == intent.IOwe {
		creditor, debtor = debtor, creditor
	}
	var b strings.Builder
	b.WriteString("Please confirm:\n\n")
	fmt.Fprintf(&b, "Amount: %s\n", money.Format(s.Amount, s.Currency))
	fmt.Fprintf(&b, "Reason: %s\n", reasonOrDefault(s.Reason))
	fmt.Fprintf(&b, "Lender: %s\n", creditor)
	fmt.Fprintf(&b, "Borrower: %s\n", debtor)
	if other.UserID == nil {
		b.WriteString("\nThis person is not on the bot yet. Add their @username or share their contact so they can confirm.\n")
	}
	return b.String()
}

func groupChoiceSummary(p split.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shared expense: %s\n", money.Format(p.Total, p.Currency))
	fmt.Fprintf(&b, "Paid by: %s\n", displayName(p.Payer))
	fmt.Fprintf(&b, "Participants: %d (%s, %s)\n", p.N, displayName(p.Payer), strings.Join(p.Debtors, ", "))
	b.WriteString("\nHow should it be split?")
	return b.String()
}

func groupSummary(p split.Plan, debts []split.DraftDebt) string {
	var b strings.Builder
	b.WriteString("Please confirm the split:\n\n")
	fmt.Fprintf(&b, "Total paid: %s\n", money.Format(p.Total, p.Currency))
	fmt.Fprintf(&b, "Participants: %d\n", p.N)
	fmt.Fprintf(&b, "Payer's share: %s\n", money.Format(p.PayerShare(), p.Currency))
	b.WriteString("\nOwed to " + displayName(p.Payer) + ":\n")
	for _, d := range debts {
		fmt.Fprintf(&b, "- %s: %s\n", displayName(d.DebtorName), money.Format(d.Amount, d.Currency))
	}
	return b.String()
}

func matchLabel(m contacts.Match) string {
	var details []string
	if h := m.Handle(); h != "" {
		details = append(details, "@"+h)
	}
	if m.CircleName != "" {
		details = append(details, m.CircleName)
	}
	if len(details) == 0 {
		return m.Member.Name
	}
	return m.Member.Name + " (" + strings.Join(details, ", ") + ")"
}

// NewDebtNotice is the message a counter-party receives for a new debt.
func NewDebtNotice(creator users.User, d ledger.Debt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s recorded a debt with you.\n\n", creator.Label())
	fmt.Fprintf(&b, "Amount: %s\n", money.Format(d.Amount, d.Currency))
	fmt.Fprintf(&b, "Reason: %s\n", reasonOrDefault(d.Reason))
	fmt.Fprintf(&b, "Lender: %s\n", d.Creditor.Label())
	fmt.Fprintf(&b, "Borrower: %s\n", d.Debtor.Label())
	b.WriteString("\nIs this correct?")
	return b.String()
}

func displayName(name string) string {
	if intent.IsSelf(name) {
		return "you"
	}
	return name
}

func reasonOrDefault(r string) string {
	if r == "" {
		return intent.DefaultReason
	}
	return r
}

// reprompt repeats the current question after a validation error.
func (e *Engine) reprompt(u users.User, s Session, ve *apperr.ValidationError) []Reply {
	text := "Sorry, " + ve.Error() + "."
	p, rows := e.prompt(s)
	if p != "" {
		text += "\n" + p
	}
	return []Reply{say(u.ID, text, rows...)}
}

// prompt is the question the given state is waiting on.
func (e *Engine) prompt(s Session) (string, [][]Choice) {
	d := s.Draft
	switch s.State {
	case StateSlotFilling:
		if f := slots(d); len(f) > 0 {
			return slotQuestion(f[0])
		}
	case StateCollectingHandle:
		return "Send their @username or share their contact. Send \"-\" to go back.", nil
	case StateCollectingHandles:
		return fmt.Sprintf("I don't know %s yet. Send their @username, share their contact, or send \"-\" to skip.", d.currentName()), nil
	case StateNamingCircle:
		return "Save these people as a circle? Pick a name or type one.", circleRows()
	case StateCollectingSplit:
		if d.Unequal != nil {
			return fmt.Sprintf("How much should %s pay back?", d.Unequal.Current()), nil
		}
	case StateEnteringPayment:
		return "How much was paid?", nil
	case StateOnboardingCircle:
		return "Which circle do you want to set up?", circleRows()
	case StateOnboardingNames:
		return fmt.Sprintf("Send the names in %s, separated by commas.", d.CircleName), nil
	case StateOnboardingHandles:
		return fmt.Sprintf("@username of %s? Send \"-\" to skip.", d.currentName()), nil
	}
	return "", nil
}
