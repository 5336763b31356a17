package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/dialogue"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/money"
	"github.com/susu3304/qarzbot/internal/users"
)

const (
	msgInternal      = "Something went wrong. Please try again."
	msgUnknownButton = "This button is no longer valid."
	msgUnknownCmd    = "Unknown command. Send /help to see what I can do."
	msgWebDisabled   = "The web view is not enabled on this bot."
)

const menuPrefix = "m:"

// Commands understood by the bot, also used as menu values.
const (
	CmdStart   = "start"
	CmdHelp    = "help"
	CmdCancel  = "cancel"
	CmdIOwe    = "owe"
	CmdOwed    = "owed"
	CmdDebts   = "debts"
	CmdHistory = "history"
	CmdStats   = "stats"
	CmdWeb     = "web"
)

// CommandList describes every command for transports that register them.
var CommandList = []struct{ Name, Description string }{
	{CmdStart, "Start and show the menu"},
	{CmdHelp, "How to use the bot"},
	{CmdIOwe, "Debts you owe"},
	{CmdOwed, "Debts owed to you"},
	{CmdDebts, "Balance per person"},
	{CmdHistory, "Your latest debts"},
	{CmdStats, "Statistics"},
	{CmdWeb, "Open the web view"},
	{CmdCancel, "Cancel the current entry"},
}

const helpText = `Just tell me about a debt in your own words, by text or voice:
- "Alisher owes me 50 ming for lunch"
- "I owe @sardor 120000 for the taxi"
- "Paid 230000 for dinner with Murod and Ibrohim"

I will ask for anything that is missing and show a summary before saving. The other person confirms the debt on their side.

/owe - debts you owe
/owed - debts owed to you
/debts - balance per person
/history - your latest debts
/stats - statistics
/web - open the web view
/cancel - stop the current entry`

func menuRows() [][]dialogue.Choice {
	item := func(label, cmd string) dialogue.Choice {
		return dialogue.Choice{Label: label, Data: menuPrefix + cmd}
	}
	return [][]dialogue.Choice{
		{item("I owe", CmdIOwe), item("Owed to me", CmdOwed)},
		{item("By person", CmdDebts), item("History", CmdHistory)},
		{item("Statistics", CmdStats), item("Help", CmdHelp)},
	}
}

func (b *Bot) command(ctx context.Context, u users.User, name string) ([]dialogue.Reply, error) {
	switch name {
	case CmdStart:
		return b.start(ctx, u)
	case CmdHelp:
		return []dialogue.Reply{say(u.ID, helpText, menuRows()...)}, nil
	case CmdCancel:
		return b.engine.Handle(ctx, u, dialogue.Cancel{})
	case CmdIOwe:
		return b.iOwe(ctx, u)
	case CmdOwed:
		return b.owedToMe(ctx, u)
	case CmdDebts:
		return b.byPerson(ctx, u)
	case CmdHistory:
		return b.history(ctx, u)
	case CmdStats:
		return b.stats(ctx, u)
	case CmdWeb:
		return b.webLink(u)
	}
	return []dialogue.Reply{say(u.ID, msgUnknownCmd)}, nil
}

// start greets the user and runs onboarding while they have no circles.
func (b *Bot) start(ctx context.Context, u users.User) ([]dialogue.Reply, error) {
	greeting := fmt.Sprintf("Hi %s! I keep track of who owes whom.", u.Label())
	circles, err := b.directory.Circles(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(circles) == 0 {
		replies, err := b.engine.BeginOnboarding(ctx, u)
		return append([]dialogue.Reply{say(u.ID, greeting)}, replies...), err
	}
	return []dialogue.Reply{say(u.ID, greeting+"\n\n"+helpText, menuRows()...)}, nil
}

func (b *Bot) iOwe(ctx context.Context, u users.User) ([]dialogue.Reply, error) {
	debts, err := b.ledger.IOwe(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(debts) == 0 {
		return []dialogue.Reply{say(u.ID, "You don't owe anyone.")}, nil
	}
	out := []dialogue.Reply{say(u.ID, fmt.Sprintf("You owe %d debts, %s in total.", len(debts), totalBalance(debts)))}
	for _, d := range debts {
		out = append(out, say(u.ID, debtLine(d, u.ID), debtButtons(d, u.ID)...))
	}
	return out, nil
}

func (b *Bot) owedToMe(ctx context.Context, u users.User) ([]dialogue.Reply, error) {
	debts, err := b.ledger.OwedToMe(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(debts) == 0 {
		return []dialogue.Reply{say(u.ID, "Nobody owes you anything.")}, nil
	}
	out := []dialogue.Reply{say(u.ID, fmt.Sprintf("You are owed %d debts, %s in total.", len(debts), totalBalance(debts)))}
	for _, d := range debts {
		out = append(out, say(u.ID, debtLine(d, u.ID), debtButtons(d, u.ID)...))
	}
	return out, nil
}

func (b *Bot) byPerson(ctx context.Context, u users.User) ([]dialogue.Reply, error) {
	people, err := b.ledger.ByPerson(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(people) == 0 {
		return []dialogue.Reply{say(u.ID, "You have no open debts.")}, nil
	}
	var sb strings.Builder
	sb.WriteString("Balance per person:\n")
	for _, p := range people {
		net := p.Net()
		switch {
		case net.IsPositive():
			fmt.Fprintf(&sb, "\n%s owes you %s", p.Party.Label(), money.Format(net, ""))
		case net.IsNegative():
			fmt.Fprintf(&sb, "\nYou owe %s %s", p.Party.Label(), money.Format(net.Neg(), ""))
		default:
			fmt.Fprintf(&sb, "\n%s: settled", p.Party.Label())
		}
		fmt.Fprintf(&sb, " (%d debts)", p.Debts)
	}
	return []dialogue.Reply{say(u.ID, sb.String())}, nil
}

func (b *Bot) history(ctx context.Context, u users.User) ([]dialogue.Reply, error) {
	debts, err := b.ledger.History(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(debts) == 0 {
		return []dialogue.Reply{say(u.ID, "No debts yet.")}, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your last %d debts:\n", len(debts))
	for _, d := range debts {
		fmt.Fprintf(&sb, "\n%s %s", statusMark(d.Status), debtLine(d, u.ID))
	}
	return []dialogue.Reply{say(u.ID, sb.String())}, nil
}

func (b *Bot) stats(ctx context.Context, u users.User) ([]dialogue.Reply, error) {
	st, err := b.ledger.Stats(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf(`Statistics:

Pending: %d
Active: %d
Paid: %d
Cancelled: %d

You owe: %s
Owed to you: %s
Net: %s`,
		st.Pending, st.Active, st.Paid, st.Cancelled,
		money.Format(st.Owe, ""), money.Format(st.Owed, ""), money.Format(st.Net(), ""))
	return []dialogue.Reply{say(u.ID, text)}, nil
}

func (b *Bot) webLink(u users.User) ([]dialogue.Reply, error) {
	if b.web == nil {
		return []dialogue.Reply{say(u.ID, msgWebDisabled)}, nil
	}
	link, err := b.web.LinkURL(u)
	if err != nil {
		return nil, fmt.Errorf("issue web link: %w", err)
	}
	return []dialogue.Reply{say(u.ID, "Open your debts in the browser (the link works for one day):\n"+link)}, nil
}

func statusMark(s ledger.Status) string {
	switch s {
	case ledger.StatusPending:
		return "[pending]"
	case ledger.StatusActive:
		return "[active]"
	case ledger.StatusPaid:
		return "[paid]"
	case ledger.StatusCancelled:
		return "[cancelled]"
	}
	return "[" + string(s) + "]"
}

// debtLine describes d from the point of view of userID.
func debtLine(d ledger.Debt, userID int64) string {
	other := d.Counterparty(userID).Label()
	var who string
	if d.Debtor.Is(userID) {
		who = "you owe " + other
	} else if d.Creditor.Is(userID) {
		who = other + " owes you"
	} else {
		who = d.Debtor.Label() + " owes " + d.Creditor.Label()
	}
	line := fmt.Sprintf("#%d %s %s (%s)", d.ID, who, money.Format(d.Balance(), d.Currency), d.Reason)
	if d.Status == ledger.StatusActive && d.Paid.IsPositive() {
		line += fmt.Sprintf(", paid %s of %s", money.Format(d.Paid, ""), money.Format(d.Amount, ""))
	}
	return line
}

// debtButtons are the actions userID can take on d.
func debtButtons(d ledger.Debt, userID int64) [][]dialogue.Choice {
	btn := func(label, action string) dialogue.Choice {
		return dialogue.Choice{Label: label, Data: dialogue.ActionData(action, d.ID)}
	}
	var row []dialogue.Choice
	switch d.Status {
	case ledger.StatusPending:
		waitingOnMe := (d.Creditor.Is(userID) && !d.ConfirmedByCreditor) || (d.Debtor.Is(userID) && !d.ConfirmedByDebtor)
		if waitingOnMe {
			return [][]dialogue.Choice{dialogue.AcceptDisputeRow(d.ID)}
		}
	case ledger.StatusActive:
		row = append(row, btn("Pay", dialogue.ActionPay))
		if d.Creditor.Is(userID) && d.Debtor.Resolved() {
			row = append(row, btn("Remind", dialogue.ActionRemind))
		}
	}
	if d.CreatorID == userID && !d.Status.Terminal() {
		row = append(row, btn("Cancel", dialogue.ActionCancel))
	}
	if len(row) == 0 {
		return nil
	}
	return [][]dialogue.Choice{row}
}

// totalBalance sums remaining balances, grouped by currency.
func totalBalance(debts []ledger.Debt) string {
	var order []string
	sums := map[string]decimal.Decimal{}
	for _, d := range debts {
		if _, ok := sums[d.Currency]; !ok {
			order = append(order, d.Currency)
		}
		sums[d.Currency] = sums[d.Currency].Add(d.Balance())
	}
	parts := make([]string, 0, len(order))
	for _, c := range order {
		parts = append(parts, money.Format(sums[c], c))
	}
	return strings.Join(parts, " + ")
}
