package engine

import (
	"testing"

	"github.com/rawblock/persona-engine/internal/rng"
	"github.com/rawblock/persona-engine/pkg/models"
)

// ledgerInput describes a hand-built ledger compactly: counts per qid, per
// screen family, per signature qid, then the context split.
type ledgerInput struct {
	hits     map[string]int
	families map[string]int
	sig      map[string]int
	clean    int
	bent     int
	broken   int
	contrast int
}

func buildLedger(in ledgerInput) *models.FaceLedger {
	fl := models.NewFaceLedger()
	for k, v := range in.hits {
		fl.QuestionHits[k] = v
	}
	for k, v := range in.families {
		fl.PerFamily[k] = v
	}
	for k, v := range in.sig {
		fl.SignatureQIDs[k] = v
	}
	fl.Clean, fl.Bent, fl.Broken = in.clean, in.bent, in.broken
	fl.ContrastHits = in.contrast
	return fl
}

func TestClassify_Ladder(t *testing.T) {
	c := models.DefaultConstants()

	tests := []struct {
		name string
		in   ledgerInput
		want models.FaceState
	}{
		{
			// 10 instances over 4 families, max share 3/10, contrast seen.
			name: "lit",
			in: ledgerInput{
				hits:     map[string]int{"Q1": 2, "Q2": 2, "Q3": 2, "Q4": 2, "Q5": 1, "Q6": 1},
				families: map[string]int{"Control": 3, "Pace": 3, "Truth": 2, "Bonding": 2},
				sig:      map[string]int{"Q1": 1, "Q2": 1},
				clean:    8, bent: 1, broken: 1,
				contrast: 1,
			},
			want: models.FaceLit,
		},
		{
			// Meets every other gate but no contrast tell ever landed.
			name: "lit blocked by missing contrast",
			in: ledgerInput{
				hits:     map[string]int{"Q1": 2, "Q2": 2, "Q3": 2, "Q4": 2, "Q5": 1, "Q6": 1},
				families: map[string]int{"Control": 3, "Pace": 3, "Truth": 2, "Bonding": 2},
				sig:      map[string]int{"Q1": 1, "Q2": 1},
				clean:    8, bent: 1, broken: 1,
			},
			want: models.FaceLean,
		},
		{
			// Max family share 6/10 breaches the 40% cap; everything else is
			// LIT-grade, so the face drops to LEAN.
			name: "lit blocked by screen concentration",
			in: ledgerInput{
				hits:     map[string]int{"Q1": 2, "Q2": 2, "Q3": 2, "Q4": 2, "Q5": 1, "Q6": 1},
				families: map[string]int{"Control": 6, "Pace": 2, "Truth": 1, "Bonding": 1},
				sig:      map[string]int{"Q1": 1, "Q2": 1},
				clean:    8, bent: 1, broken: 1,
				contrast: 1,
			},
			want: models.FaceLean,
		},
		{
			name: "lean",
			in: ledgerInput{
				hits:     map[string]int{"Q1": 1, "Q2": 1, "Q3": 1, "Q4": 1},
				families: map[string]int{"Control": 2, "Pace": 1, "Truth": 1},
				sig:      map[string]int{"Q1": 1},
				clean:    2, bent: 1, broken: 1,
			},
			want: models.FaceLean,
		},
		{
			// Six questions but everything lands on two screens.
			name: "ghost by concentration",
			in: ledgerInput{
				hits:     map[string]int{"Q1": 1, "Q2": 1, "Q3": 1, "Q4": 1, "Q5": 1, "Q6": 1},
				families: map[string]int{"Control": 3, "Pace": 3},
				sig:      map[string]int{"Q1": 1, "Q2": 1},
				clean:    6,
				contrast: 1,
			},
			want: models.FaceGhost,
		},
		{
			name: "ghost by broken context",
			in: ledgerInput{
				hits:     map[string]int{"Q1": 1, "Q2": 1, "Q3": 1, "Q4": 1},
				families: map[string]int{"Control": 2, "Pace": 1, "Truth": 1},
				sig:      map[string]int{"Q1": 1},
				clean:    1, broken: 3,
			},
			want: models.FaceGhost,
		},
		{
			// No signature hit keeps it out of LEAN; 5/7 share trips the cap.
			name: "ghost by over-cap without lean",
			in: ledgerInput{
				hits:     map[string]int{"Q1": 2, "Q2": 2, "Q3": 2, "Q4": 1},
				families: map[string]int{"Control": 5, "Pace": 1, "Truth": 1},
				clean:    5, bent: 2,
			},
			want: models.FaceGhost,
		},
		{
			name: "cold",
			in: ledgerInput{
				hits:     map[string]int{"Q1": 2, "Q2": 1, "Q3": 1},
				families: map[string]int{"Control": 2, "Pace": 2},
				clean:    3, bent: 1,
			},
			want: models.FaceCold,
		},
		{
			name: "absent on one touch",
			in: ledgerInput{
				hits:     map[string]int{"Q1": 1},
				families: map[string]int{"Control": 1},
				clean:    1,
			},
			want: models.FaceAbsent,
		},
		{
			name: "absent on empty ledger",
			in:   ledgerInput{},
			want: models.FaceAbsent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(c, buildLedger(tt.in)); got != tt.want {
				t.Errorf("classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassify_MoreCleanEvidenceNeverDowngrades(t *testing.T) {
	c := models.DefaultConstants()

	in := ledgerInput{
		hits:     map[string]int{"Q1": 2, "Q2": 2, "Q3": 2, "Q4": 2, "Q5": 1, "Q6": 1},
		families: map[string]int{"Control": 3, "Pace": 3, "Truth": 2, "Bonding": 2},
		sig:      map[string]int{"Q1": 1, "Q2": 1},
		clean:    8, bent: 1, broken: 1,
		contrast: 1,
	}
	fl := buildLedger(in)
	if classify(c, fl) != models.FaceLit {
		t.Fatal("baseline ledger should classify LIT")
	}

	// A clean signature hit on a fresh question in the least-loaded family
	// only strengthens the record.
	fl.QuestionHits["Q7"] = 1
	fl.PerFamily["Bonding"]++
	fl.SignatureQIDs["Q7"] = 1
	fl.Clean++
	if got := classify(c, fl); got != models.FaceLit {
		t.Errorf("added clean evidence downgraded LIT to %s", got)
	}
}

func TestTiebreak_DiscriminatorChain(t *testing.T) {
	mk := func(id string, in ledgerInput) sibling {
		return sibling{id: id, ledger: buildLedger(in)}
	}
	stream := func() *rng.Stream { return rng.New("tiebreak", "hash", "default") }

	tests := []struct {
		name string
		a, b sibling
		want string
	}{
		{
			name: "higher signature wins",
			a:    mk("FACE/X/A", ledgerInput{sig: map[string]int{"Q1": 1, "Q2": 1}}),
			b:    mk("FACE/X/B", ledgerInput{sig: map[string]int{"Q1": 1}}),
			want: "FACE/X/A",
		},
		{
			name: "equal signature, more families wins",
			a:    mk("FACE/X/A", ledgerInput{sig: map[string]int{"Q1": 1}, families: map[string]int{"Control": 1}}),
			b:    mk("FACE/X/B", ledgerInput{sig: map[string]int{"Q1": 1}, families: map[string]int{"Control": 1, "Pace": 1}}),
			want: "FACE/X/B",
		},
		{
			name: "equal coverage, more clean wins",
			a:    mk("FACE/X/A", ledgerInput{clean: 3}),
			b:    mk("FACE/X/B", ledgerInput{clean: 2}),
			want: "FACE/X/A",
		},
		{
			name: "equal clean, less broken wins",
			a:    mk("FACE/X/A", ledgerInput{clean: 2, broken: 2}),
			b:    mk("FACE/X/B", ledgerInput{clean: 2, broken: 1}),
			want: "FACE/X/B",
		},
		{
			// 3/4 share vs 2/4 share; the flatter profile wins.
			name: "equal context, lower concentration wins",
			a:    mk("FACE/X/A", ledgerInput{families: map[string]int{"Control": 3, "Pace": 1}, clean: 4}),
			b:    mk("FACE/X/B", ledgerInput{families: map[string]int{"Control": 2, "Pace": 2}, clean: 4}),
			want: "FACE/X/B",
		},
		{
			name: "all equal, lower face id wins",
			a:    mk("FACE/X/B", ledgerInput{clean: 1}),
			b:    mk("FACE/X/A", ledgerInput{clean: 1}),
			want: "FACE/X/A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tiebreak(stream(), tt.a, tt.b); got.id != tt.want {
				t.Errorf("tiebreak chose %s, want %s", got.id, tt.want)
			}
			// The chain is symmetric: swapping the arguments must not change
			// the winner.
			if got := tiebreak(stream(), tt.b, tt.a); got.id != tt.want {
				t.Errorf("swapped tiebreak chose %s, want %s", got.id, tt.want)
			}
		})
	}
}

func TestTiebreak_IdenticalTwinsUseTheStream(t *testing.T) {
	a := sibling{id: "FACE/X/A", ledger: buildLedger(ledgerInput{clean: 1})}
	b := sibling{id: "FACE/X/A", ledger: buildLedger(ledgerInput{clean: 1})}

	first := tiebreak(rng.New("twins", "hash", "default"), a, b)
	again := tiebreak(rng.New("twins", "hash", "default"), a, b)
	if first.ledger != again.ledger {
		t.Error("identical inputs with the same stream must resolve identically")
	}
}

func TestVerdictRank(t *testing.T) {
	if !(verdictRank(models.LineC) < verdictRank(models.LineO) &&
		verdictRank(models.LineO) < verdictRank(models.LineF)) {
		t.Error("anchor preference must order C before O before F")
	}
}
