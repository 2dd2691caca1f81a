package schedule_test

import (
	"fmt"
	"testing"

	"github.com/rawblock/persona-engine/internal/bank/banktest"
	"github.com/rawblock/persona-engine/internal/rng"
	"github.com/rawblock/persona-engine/internal/schedule"
	"github.com/rawblock/persona-engine/pkg/models"
)

func TestBuild_SizeLaw(t *testing.T) {
	b := banktest.Load(t)

	for n := 0; n <= 7; n++ {
		t.Run(fmt.Sprintf("%d picks", n), func(t *testing.T) {
			picks, err := schedule.ValidatePicks(b, b.Families[:n])
			if err != nil {
				t.Fatalf("ValidatePicks: %v", err)
			}
			items := schedule.Build(b, picks, rng.New("size-law", b.Meta.BankHash, "default"))

			want := 21 - n
			if n == 0 {
				want = 21
			}
			if len(items) != want {
				t.Fatalf("|picks|=%d built %d screens, want %d", n, len(items), want)
			}

			perFamily := make(map[string]int)
			for _, it := range items {
				perFamily[it.FamilyScreen]++
			}
			for _, fam := range b.Families {
				wantFam := 3
				if n > 0 && picks[fam] {
					wantFam = 2
				}
				if perFamily[fam] != wantFam {
					t.Errorf("family %s has %d screens, want %d", fam, perFamily[fam], wantFam)
				}
			}
		})
	}
}

func TestBuild_SlotOrderWithinFamily(t *testing.T) {
	b := banktest.Load(t)
	picks, _ := schedule.ValidatePicks(b, []string{"Pace", "Truth"})
	items := schedule.Build(b, picks, rng.New("slot-order", b.Meta.BankHash, "default"))

	slotRank := map[models.LineCOF]int{models.LineC: 0, models.LineO: 1, models.LineF: 2}
	last := make(map[string]int)
	for _, it := range items {
		rank := slotRank[it.OrderSlot]
		if prev, seen := last[it.FamilyScreen]; seen && rank <= prev {
			t.Fatalf("family %s presents slot %s after rank %d", it.FamilyScreen, it.OrderSlot, prev)
		}
		last[it.FamilyScreen] = rank
		if picks[it.FamilyScreen] && it.OrderSlot == models.LineF {
			t.Fatalf("picked family %s kept its F screen", it.FamilyScreen)
		}
	}
}

func TestBuild_FamiliesAreContiguous(t *testing.T) {
	b := banktest.Load(t)
	items := schedule.Build(b, nil, rng.New("contiguous", b.Meta.BankHash, "default"))

	done := make(map[string]bool)
	current := ""
	for _, it := range items {
		if it.FamilyScreen != current {
			if done[it.FamilyScreen] {
				t.Fatalf("family %s appears in two separate runs", it.FamilyScreen)
			}
			if current != "" {
				done[current] = true
			}
			current = it.FamilyScreen
		}
	}
}

func TestBuild_SameSeedSameSchedule(t *testing.T) {
	b := banktest.Load(t)
	picks, _ := schedule.ValidatePicks(b, []string{"Control"})

	a := schedule.Build(b, picks, rng.New("stable", b.Meta.BankHash, "default"))
	c := schedule.Build(b, picks, rng.New("stable", b.Meta.BankHash, "default"))
	if len(a) != len(c) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(c))
	}
	for i := range a {
		if a[i] != c[i] {
			t.Fatalf("schedules diverge at %d: %+v vs %+v", i, a[i], c[i])
		}
	}

	d := schedule.Build(b, picks, rng.New("stable-2", b.Meta.BankHash, "default"))
	same := len(a) == len(d)
	if same {
		for i := range a {
			if a[i] != d[i] {
				same = false
				break
			}
		}
	}
	if same {
		t.Error("different seeds produced an identical schedule order")
	}
}

func TestValidatePicks_Errors(t *testing.T) {
	b := banktest.Load(t)

	tests := []struct {
		name  string
		picks []string
		code  models.ErrorCode
	}{
		{"too many", append(append([]string(nil), b.Families...), "Control"), models.ErrPickCount},
		{"unknown family", []string{"Chaos"}, models.ErrInvalidFamily},
		{"duplicate", []string{"Pace", "Pace"}, models.ErrDuplicateFamily},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := schedule.ValidatePicks(b, tt.picks); models.CodeOf(err) != tt.code {
				t.Errorf("got %v, want %s", err, tt.code)
			}
		})
	}
}

func TestFamilyOrder(t *testing.T) {
	b := banktest.Load(t)
	items := schedule.Build(b, nil, rng.New("order", b.Meta.BankHash, "default"))
	order := schedule.FamilyOrder(items)

	if len(order) != 7 {
		t.Fatalf("family order has %d entries", len(order))
	}
	if order[0] != items[0].FamilyScreen {
		t.Errorf("order starts with %s, schedule starts with %s", order[0], items[0].FamilyScreen)
	}
	seen := make(map[string]bool)
	for _, fam := range order {
		if seen[fam] {
			t.Fatalf("family %s repeated in visit order", fam)
		}
		seen[fam] = true
	}
}
