package split

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/susu3304/qarzbot/internal/intent"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEqualSplitScenario(t *testing.T) {
	plan, err := NewPlan(intent.GroupExpense{
		Participants: []string{"Murod", "Ibrohim", "Men"},
		PayerName:    "Men",
		TotalAmount:  dec("230000"),
		Currency:     "so'm",
	})
	if err != nil {
		t.Fatal(err)
	}
	if plan.N != 3 {
		t.Fatalf("N = %d, want 3", plan.N)
	}
	if !plan.PerPerson.Equal(dec("76666.67")) {
		t.Fatalf("per person = %s", plan.PerPerson)
	}

	drafts := plan.Equal()
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	for i, name := range []string{"Murod", "Ibrohim"} {
		d := drafts[i]
		if d.DebtorName != name || d.CreditorName != "Men" || !d.Amount.Equal(dec("76666.67")) {
			t.Errorf("draft %d = %+v", i, d)
		}
	}
}

func TestEqualSplitConservation(t *testing.T) {
	tests := []struct {
		total        string
		participants []string
	}{
		{"100", []string{"A", "B", "C"}},
		{"230000", []string{"A", "B"}},
		{"99.99", []string{"A", "B", "C", "D", "E", "F"}},
		{"1", []string{"A"}},
	}
	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			plan, err := NewPlan(intent.GroupExpense{Participants: tt.participants, PayerName: "Men", TotalAmount: dec(tt.total)})
			if err != nil {
				t.Fatal(err)
			}
			if plan.N != len(tt.participants)+1 {
				t.Fatalf("payer missing from participants must still count: N=%d", plan.N)
			}
			sum := plan.PayerShare()
			for _, d := range plan.Equal() {
				sum = sum.Add(d.Amount)
			}
			// rounding to cents leaves at most half a cent per person
			slack := dec("0.005").Mul(decimal.NewFromInt(int64(plan.N)))
			if sum.Sub(dec(tt.total)).Abs().GreaterThan(slack) {
				t.Errorf("N*per_person = %s, total %s", sum, tt.total)
			}
		})
	}
}

func TestNewPlanDedup(t *testing.T) {
	plan, err := NewPlan(intent.GroupExpense{
		Participants: []string{"murod", "Murod", "man", "Dilnoza"},
		PayerName:    "Men",
		TotalAmount:  dec("150000"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(plan.Debtors, []string{"murod", "Dilnoza"}) {
		t.Errorf("debtors = %v", plan.Debtors)
	}
	if plan.Reason != "Shared expense" {
		t.Errorf("reason = %q", plan.Reason)
	}
}

func TestNewPlanOtherPayer(t *testing.T) {
	plan, err := NewPlan(intent.GroupExpense{
		Participants: []string{"Murod", "Men"},
		PayerName:    "Murod",
		TotalAmount:  dec("100"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(plan.Debtors, []string{"Men"}) || plan.Payer != "Murod" {
		t.Errorf("plan = %+v", plan)
	}
}

func TestNewPlanNoDebtors(t *testing.T) {
	_, err := NewPlan(intent.GroupExpense{Participants: []string{"Men"}, PayerName: "men", TotalAmount: dec("300000")})
	if !errors.Is(err, ErrNoDebtors) {
		t.Fatalf("err = %v, want ErrNoDebtors", err)
	}
}

func unequalPlan(t *testing.T) Plan {
	t.Helper()
	// total 135000 among 3 people: payer share 45000, others owe 90000
	plan, err := NewPlan(intent.GroupExpense{
		Participants: []string{"Murod", "Ibrohim"},
		PayerName:    "Men",
		TotalAmount:  dec("135000"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !plan.ExpectedOwed().Equal(dec("90000")) {
		t.Fatalf("expected owed = %s", plan.ExpectedOwed())
	}
	return plan
}

func TestUnequalRestartsOnMismatch(t *testing.T) {
	u := NewUnequal(unequalPlan(t))

	u, out, err := u.Answer(dec("40000"))
	if err != nil || out != Next || u.Current() != "Ibrohim" {
		t.Fatalf("first answer: out=%v err=%v current=%s", out, err, u.Current())
	}
	u, out, err = u.Answer(dec("40000"))
	if err != nil {
		t.Fatal(err)
	}
	if out != Restarted {
		t.Fatalf("outcome = %v, want Restarted", out)
	}
	if u.Index != 0 || u.Current() != "Murod" || !u.Entered().IsZero() || u.Restarts != 1 {
		t.Errorf("collector not reset: %+v", u)
	}
}

func TestUnequalDoneWithinTolerance(t *testing.T) {
	u := NewUnequal(unequalPlan(t))
	u, _, _ = u.Answer(dec("50000"))
	u, out, err := u.Answer(dec("39999.5"))
	if err != nil || out != Done {
		t.Fatalf("out=%v err=%v", out, err)
	}
	drafts := u.Drafts()
	if len(drafts) != 2 || !drafts[1].Amount.Equal(dec("39999.5")) {
		t.Errorf("drafts = %+v", drafts)
	}
}

func TestUnequalZeroAndImmutability(t *testing.T) {
	u := NewUnequal(unequalPlan(t))
	first, _, _ := u.Answer(dec("90000"))
	if !u.Amounts[0].IsZero() {
		t.Fatal("Answer must not modify the receiver")
	}
	done, out, _ := first.Answer(dec("0"))
	if out != Done {
		t.Fatalf("out = %v", out)
	}
	if len(done.Drafts()) != 1 {
		t.Errorf("zero share must not produce a debt: %+v", done.Drafts())
	}
	if _, _, err := first.Answer(dec("-1")); err == nil {
		t.Error("negative amount accepted")
	}
}
