package engine

import (
	"encoding/json"

	"github.com/rawblock/persona-engine/internal/canonical"
	"github.com/rawblock/persona-engine/internal/rng"
	"github.com/rawblock/persona-engine/pkg/models"
)

// classify derives a face's presence state from its ledger against the
// threshold lattice. First match wins; the order is the contract.
//
// The per-screen share comparisons use integer cross-multiplication against
// the percentage cap, so classification never touches floating point.
func classify(c models.Constants, fl *models.FaceLedger) models.FaceState {
	q := fl.QuestionsHit()
	fam := fl.FamiliesHit()
	sig := fl.SignatureHits()
	clean, broken := fl.Clean, fl.Broken
	mfsNum, mfsDen := fl.MaxFamilyShare()

	underCap := mfsDen == 0 || mfsNum*100 <= c.PerScreenCapPct*mfsDen
	overCap := mfsDen > 0 && mfsNum*100 > c.PerScreenCapPct*mfsDen

	switch {
	case q >= c.LitMinQuestions &&
		fam >= c.LitMinFamilies &&
		sig >= c.LitMinSignature &&
		clean >= c.LitMinClean &&
		broken <= c.LitMaxBroken &&
		broken < clean &&
		underCap &&
		fl.ContrastSeen():
		return models.FaceLit

	case q >= c.LeanMinQuestions &&
		fam >= c.LeanMinFamilies &&
		sig >= c.LeanMinSignature &&
		clean >= c.LeanMinClean &&
		broken < clean:
		return models.FaceLean

	case (q >= c.GhostMinQuestions && fam <= c.GhostMaxFamilies) ||
		(broken >= clean && q >= c.LeanMinQuestions) ||
		(overCap && q >= c.LeanMinQuestions):
		return models.FaceGhost

	case q >= c.ColdMinQuestions && q <= c.ColdMaxQuestions && fam >= c.ColdMinFamilies:
		return models.FaceCold

	default:
		return models.FaceAbsent
	}
}

// sibling is one candidate in a family's representative resolution.
type sibling struct {
	id     string
	state  models.FaceState
	ledger *models.FaceLedger
}

// tiebreak ranks two siblings with the fixed discriminator chain: higher
// signature hits, higher families hit, higher Clean, lower Broken, lower
// per-screen share, lower face id, and finally a deterministic RNG choice.
// Returns the winner.
func tiebreak(stream *rng.Stream, a, b sibling) sibling {
	if a.ledger.SignatureHits() != b.ledger.SignatureHits() {
		if a.ledger.SignatureHits() > b.ledger.SignatureHits() {
			return a
		}
		return b
	}
	if a.ledger.FamiliesHit() != b.ledger.FamiliesHit() {
		if a.ledger.FamiliesHit() > b.ledger.FamiliesHit() {
			return a
		}
		return b
	}
	if a.ledger.Clean != b.ledger.Clean {
		if a.ledger.Clean > b.ledger.Clean {
			return a
		}
		return b
	}
	if a.ledger.Broken != b.ledger.Broken {
		if a.ledger.Broken < b.ledger.Broken {
			return a
		}
		return b
	}
	aNum, aDen := shareRatio(a.ledger)
	bNum, bDen := shareRatio(b.ledger)
	// Compare aNum/aDen against bNum/bDen exactly.
	if aNum*bDen != bNum*aDen {
		if aNum*bDen < bNum*aDen {
			return a
		}
		return b
	}
	if a.id != b.id {
		if a.id < b.id {
			return a
		}
		return b
	}
	if stream.Choice(2) == 0 {
		return a
	}
	return b
}

func shareRatio(fl *models.FaceLedger) (int, int) {
	num, den := fl.MaxFamilyShare()
	if den == 0 {
		return 0, 1
	}
	return num, den
}

// resolveRep picks the representative face of a family per the precedence
// LIT > LEAN > (non-GHOST over GHOST), with the tiebreak chain inside each
// tier.
func resolveRep(stream *rng.Stream, a, b sibling) models.RepResult {
	rep := func(w sibling) models.RepResult {
		return models.RepResult{
			Face:      w.id,
			CoPresent: a.state == b.state && a.state != models.FaceAbsent,
		}
	}

	aLit, bLit := a.state == models.FaceLit, b.state == models.FaceLit
	switch {
	case aLit && !bLit:
		return rep(a)
	case bLit && !aLit:
		return rep(b)
	case aLit && bLit:
		return rep(tiebreak(stream, a, b))
	}

	aLean, bLean := a.state == models.FaceLean, b.state == models.FaceLean
	switch {
	case aLean && !bLean:
		return rep(a)
	case bLean && !aLean:
		return rep(b)
	case aLean && bLean:
		return rep(tiebreak(stream, a, b))
	}

	aGhost, bGhost := a.state == models.FaceGhost, b.state == models.FaceGhost
	switch {
	case aGhost && !bGhost:
		return rep(b)
	case bGhost && !aGhost:
		return rep(a)
	}
	return rep(tiebreak(stream, a, b))
}

// verdictRank orders line verdicts by anchor preference: C before O before F.
func verdictRank(v models.LineCOF) int {
	switch v {
	case models.LineC:
		return 0
	case models.LineO:
		return 1
	default:
		return 2
	}
}

// buildSnapshot computes the full finalized result. It reads the line
// state and ledgers and consumes the session RNG only through the sibling
// tiebreak chain, so equal inputs produce byte-identical snapshots.
func (s *session) buildSnapshot() *models.FinalSnapshot {
	snap := &models.FinalSnapshot{
		SessionID:        s.id,
		BankID:           s.bank.Meta.BankID,
		BankHash:         s.bank.Meta.BankHash,
		ConstantsProfile: s.profile,
		Picks:            []string{},
		LineVerdicts:     make(map[string]models.LineCOF, len(s.bank.Families)),
		FaceStates:       make(map[string]models.FaceResult, len(s.bank.Faces)),
		FamilyReps:       make(map[string]models.RepResult, len(s.bank.Families)),
	}

	for _, fam := range s.bank.Families {
		if s.picks[fam] {
			snap.Picks = append(snap.Picks, fam)
		}
		snap.LineVerdicts[fam] = s.line[fam].Verdict()
	}

	states := make(map[string]models.FaceState, len(s.bank.Faces))
	for id, fl := range s.ledger {
		st := classify(s.constants, fl)
		states[id] = st
		snap.FaceStates[id] = models.FaceResult{
			State:         st,
			QuestionsHit:  fl.QuestionsHit(),
			FamiliesHit:   fl.FamiliesHit(),
			SignatureHits: fl.SignatureHits(),
			Clean:         fl.Clean,
			Bent:          fl.Bent,
			Broken:        fl.Broken,
			ContrastSeen:  fl.ContrastSeen(),
		}
	}

	// Representatives resolve in canonical family order so RNG consumption
	// is identical across runs.
	for _, fam := range s.bank.Families {
		fa, fb := s.siblings(fam)
		a := sibling{id: fa, state: states[fa], ledger: s.ledger[fa]}
		b := sibling{id: fb, state: states[fb], ledger: s.ledger[fb]}
		snap.FamilyReps[fam] = resolveRep(s.stream, a, b)
	}

	snap.AnchorFamily = s.selectAnchor(snap.LineVerdicts)
	return snap
}

// siblings returns a family's two face ids in lexicographic order.
func (s *session) siblings(fam string) (string, string) {
	var ids []string
	for id, f := range s.bank.Faces {
		if f.Family == fam {
			ids = append(ids, id)
		}
	}
	if len(ids) != 2 {
		// The loader guarantees two siblings per family.
		panic("engine: family without two siblings: " + fam)
	}
	if ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return ids[0], ids[1]
}

// selectAnchor picks the anchor family among the complement of the picks:
// best verdict first (C over O over F), ties broken by the session's
// shuffled family visit order. Nil when every family was picked.
func (s *session) selectAnchor(verdicts map[string]models.LineCOF) *string {
	shufflePos := make(map[string]int, len(s.familyOrder))
	for i, fam := range s.familyOrder {
		shufflePos[fam] = i
	}

	var best string
	bestRank, bestPos := -1, -1
	for _, fam := range s.bank.Families {
		if s.picks[fam] {
			continue
		}
		rank := verdictRank(verdicts[fam])
		pos := shufflePos[fam]
		if bestRank == -1 || rank < bestRank || (rank == bestRank && pos < bestPos) {
			best, bestRank, bestPos = fam, rank, pos
		}
	}
	if bestRank == -1 {
		return nil
	}
	return &best
}

// SnapshotHash computes the canonical replay comparison key of a snapshot.
func SnapshotHash(snap *models.FinalSnapshot) (string, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", models.Errf(models.ErrInternalCorrupted, "snapshot not serializable: %v", err)
	}
	return canonical.HashJSON(raw)
}
