package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/apperr"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/memstore"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const (
	creator int64 = 1
	alisher int64 = 2
)

func newService() (*ledger.Service, *memstore.Store) {
	store := memstore.New()
	return ledger.NewService(store, nil), store
}

func activeDebt(t *testing.T, svc *ledger.Service, amount string) ledger.Debt {
	t.Helper()
	ctx := context.Background()
	d, err := svc.Create(ctx, ledger.NewDebt{
		CreatorID: creator,
		Creditor:  ledger.UserParty(creator, "Me"),
		Debtor:    ledger.UserParty(alisher, "Alisher"),
		Amount:    dec(amount),
		Currency:  "so'm",
	})
	if err != nil {
		t.Fatal(err)
	}
	d, err = svc.Accept(ctx, d.ID, alisher)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != ledger.StatusActive {
		t.Fatalf("status = %s, want active", d.Status)
	}
	return d
}

func TestCreateAutoConfirmsCreatorSide(t *testing.T) {
	svc, _ := newService()
	d, err := svc.Create(context.Background(), ledger.NewDebt{
		CreatorID: creator,
		Creditor:  ledger.UserParty(creator, "Me"),
		Debtor:    ledger.Party{Name: "Alisher"},
		Amount:    dec("50000"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != ledger.StatusPending || !d.ConfirmedByCreditor || d.ConfirmedByDebtor {
		t.Errorf("unexpected debt %+v", d)
	}
}

func TestCreateRejectsBadAmount(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Create(context.Background(), ledger.NewDebt{
		CreatorID: creator,
		Creditor:  ledger.UserParty(creator, "Me"),
		Debtor:    ledger.Party{Name: "Alisher"},
		Amount:    dec("-1"),
	})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestOverpaymentRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	d := activeDebt(t, svc, "100000")

	p, _, err := svc.Pay(ctx, d.ID, alisher, dec("60000"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Confirmed {
		t.Fatal("debtor payments wait for the creditor")
	}
	if _, d, err = svc.ConfirmPayment(ctx, p.ID, creator); err != nil {
		t.Fatal(err)
	}
	if !d.Balance().Equal(dec("40000")) {
		t.Fatalf("balance = %s, want 40000", d.Balance())
	}

	_, _, err = svc.Pay(ctx, d.ID, alisher, dec("50000"))
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestPaidOnlyWhenSettled(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	d := activeDebt(t, svc, "100")

	_, d, err := svc.Pay(ctx, d.ID, creator, dec("40"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != ledger.StatusActive || !d.Balance().Equal(dec("60")) {
		t.Fatalf("after creditor payment: %s %s", d.Status, d.Balance())
	}
	_, d, err = svc.Pay(ctx, d.ID, creator, dec("60"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != ledger.StatusPaid || !d.Balance().IsZero() {
		t.Fatalf("after full payment: %s %s", d.Status, d.Balance())
	}
	if _, _, err := svc.Pay(ctx, d.ID, creator, dec("1")); err == nil {
		t.Error("payment on a paid debt accepted")
	}
}

type confirmFailStore struct {
	*memstore.Store
}

func (confirmFailStore) ConfirmPayment(ctx context.Context, paymentID int64) (ledger.Debt, error) {
	return ledger.Debt{}, errors.New("connection reset")
}

func TestCreditorPaymentLeftPendingWhenConfirmFails(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := ledger.NewService(confirmFailStore{store}, nil)
	d := activeDebt(t, svc, "100000")

	p, got, err := svc.Pay(ctx, d.ID, creator, dec("40000"))
	var up *ledger.UnconfirmedPaymentError
	if !errors.As(err, &up) {
		t.Fatalf("err = %v, want UnconfirmedPaymentError", err)
	}
	if up.PaymentID == 0 || p.ID != up.PaymentID || p.Confirmed {
		t.Errorf("payment = %+v, error id = %d", p, up.PaymentID)
	}
	if got.ID != d.ID || !got.Amount.Equal(dec("100000")) {
		t.Errorf("debt = %+v, want the debt as before the payment", got)
	}

	stored, err := store.GetPayment(ctx, up.PaymentID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Confirmed || !stored.Amount.Equal(dec("40000")) {
		t.Errorf("stored payment = %+v", stored)
	}
}

func TestConfirmPaymentOnlyByCreditor(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	d := activeDebt(t, svc, "100")

	p, _, err := svc.Pay(ctx, d.ID, alisher, dec("10"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.ConfirmPayment(ctx, p.ID, alisher); !ledger.IsNotFound(err) {
		t.Errorf("debtor confirmed own payment: %v", err)
	}
}

func TestConcurrentPaymentsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	d := activeDebt(t, svc, "100")

	var ids []int64
	for i := 0; i < 3; i++ {
		p, _, err := svc.Pay(ctx, d.ID, alisher, dec("40"))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _, _ = svc.ConfirmPayment(ctx, id, creator)
		}(id)
	}
	wg.Wait()

	got, err := svc.Get(ctx, d.ID, creator)
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance().IsNegative() {
		t.Fatalf("balance went negative: %s", got.Balance())
	}
	if !got.Balance().Equal(dec("20")) {
		t.Errorf("balance = %s, want 20 (two of three payments fit)", got.Balance())
	}
}

func TestConcurrentConfirmations(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		svc, store := newService()
		id, err := store.CreateDebt(ctx, ledger.NewDebt{
			CreatorID: creator,
			Creditor:  ledger.UserParty(creator, "Me"),
			Debtor:    ledger.UserParty(alisher, "Alisher"),
			Amount:    dec("5"),
		})
		if err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		for _, u := range []int64{creator, alisher} {
			wg.Add(1)
			go func(u int64) {
				defer wg.Done()
				_, _ = store.ConfirmDebt(ctx, id, u)
			}(u)
		}
		wg.Wait()
		d, _ := svc.Get(ctx, id, creator)
		if d.Status != ledger.StatusActive {
			t.Fatalf("run %d: status = %s, want active", i, d.Status)
		}
	}
}

func TestCancelAndDispute(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	d := activeDebt(t, svc, "10")
	if _, err := svc.Cancel(ctx, d.ID, alisher); err == nil {
		t.Error("non-creator cancelled")
	}
	d, err := svc.Cancel(ctx, d.ID, creator)
	if err != nil || d.Status != ledger.StatusCancelled {
		t.Fatalf("cancel: %v %s", err, d.Status)
	}

	d2 := activeDebt(t, svc, "10")
	if _, err := svc.Dispute(ctx, d2.ID, creator); err == nil {
		t.Error("creator disputed")
	}
	d2, err = svc.Dispute(ctx, d2.ID, alisher)
	if err != nil || d2.Status != ledger.StatusCancelled {
		t.Fatalf("dispute: %v %s", err, d2.Status)
	}

	if _, err := svc.Get(ctx, d2.ID, 99); !ledger.IsNotFound(err) {
		t.Errorf("stranger saw debt: %v", err)
	}
}

func TestLinkPlaceholder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	d, err := svc.Create(ctx, ledger.NewDebt{
		CreatorID: creator,
		Creditor:  ledger.UserParty(creator, "Me"),
		Debtor:    ledger.PlaceholderParty("@Murod", "Murod"),
		Amount:    dec("5"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Accept(ctx, d.ID, 30); !ledger.IsNotFound(err) {
		t.Fatalf("unlinked user confirmed: %v", err)
	}

	n, err := svc.Link(ctx, "murod", 30)
	if err != nil || n != 1 {
		t.Fatalf("Link = %d, %v", n, err)
	}
	d, err = svc.Accept(ctx, d.ID, 30)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != ledger.StatusActive || d.Debtor.Handle != "" {
		t.Errorf("debt after link: %+v", d)
	}

	owe, _ := svc.IOwe(ctx, 30)
	if len(owe) != 1 {
		t.Errorf("IOwe = %d debts, want 1", len(owe))
	}
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	if err := svc.Notify(ctx, alisher, 1, ledger.NotifyReminder, "pay up"); err != nil {
		t.Fatal(err)
	}
	list, _ := svc.Notifications(ctx, alisher, true)
	if len(list) != 1 || list[0].Type != ledger.NotifyReminder {
		t.Fatalf("notifications = %+v", list)
	}
	if err := svc.MarkRead(ctx, list[0].ID, creator); !ledger.IsNotFound(err) {
		t.Errorf("other user marked read: %v", err)
	}
	if err := svc.MarkRead(ctx, list[0].ID, alisher); err != nil {
		t.Fatal(err)
	}
	if list, _ := svc.Notifications(ctx, alisher, true); len(list) != 0 {
		t.Error("notification still unread")
	}
}

func TestViews(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	activeDebt(t, svc, "100")
	activeDebt(t, svc, "50")

	owed, _ := svc.OwedToMe(ctx, creator)
	if len(owed) != 2 || owed[0].ID < owed[1].ID {
		t.Errorf("OwedToMe = %+v, want newest first", owed)
	}
	st, _ := svc.Stats(ctx, creator)
	if st.Active != 2 || !st.Owed.Equal(dec("150")) {
		t.Errorf("stats = %+v", st)
	}
	people, _ := svc.ByPerson(ctx, alisher)
	if len(people) != 1 || !people[0].Net().Equal(dec("-150")) {
		t.Errorf("by person = %+v", people)
	}
	hist, _ := svc.History(ctx, creator)
	if len(hist) != 2 {
		t.Errorf("history = %d", len(hist))
	}
}
