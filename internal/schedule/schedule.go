// Package schedule derives a session's question order from its bank, its
// picks, and its deterministic RNG stream.
package schedule

import (
	"github.com/rawblock/persona-engine/internal/rng"
	"github.com/rawblock/persona-engine/pkg/models"
)

// ValidatePicks checks a pick list against a bank: at most seven families,
// all known, no duplicates. Returns the pick set on success.
func ValidatePicks(b *models.Bank, picks []string) (map[string]bool, error) {
	if len(picks) > len(b.Families) {
		return nil, models.Errf(models.ErrPickCount, "%d picks exceed the %d families",
			len(picks), len(b.Families))
	}
	set := make(map[string]bool, len(picks))
	for _, p := range picks {
		if !b.HasFamily(p) {
			return nil, models.Errf(models.ErrInvalidFamily, "unknown family %q", p)
		}
		if set[p] {
			return nil, models.Errf(models.ErrDuplicateFamily, "family %q picked twice", p)
		}
		set[p] = true
	}
	return set, nil
}

// Build produces the ordered schedule. The seven families are visited in a
// single RNG shuffle of the canonical order; within a family the authored
// C, O, F screens run in order. Picked families drop their F-slot screen —
// except when nothing is picked, in which case every family keeps all
// three. Totals: 21 at zero picks, 21−|picks| for 1..6, 14 at seven.
func Build(b *models.Bank, picks map[string]bool, stream *rng.Stream) []models.ScheduleItem {
	order := stream.ShuffleStrings(b.Families)

	items := make([]models.ScheduleItem, 0, 21)
	for _, fam := range order {
		for _, q := range b.Questions[fam] {
			if picks[fam] && q.OrderInFamily == models.LineF {
				continue
			}
			items = append(items, models.ScheduleItem{
				QID:          q.QID,
				FamilyScreen: fam,
				OrderSlot:    q.OrderInFamily,
			})
		}
	}
	return items
}

// FamilyOrder recovers the shuffled family visit order from a built
// schedule. The finalizer uses it as the anchor tiebreak.
func FamilyOrder(items []models.ScheduleItem) []string {
	var order []string
	seen := make(map[string]bool, 7)
	for _, it := range items {
		if !seen[it.FamilyScreen] {
			seen[it.FamilyScreen] = true
			order = append(order, it.FamilyScreen)
		}
	}
	return order
}
