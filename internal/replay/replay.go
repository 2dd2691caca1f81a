// Package replay reconstructs sessions from replay descriptors and checks
// that the engine still produces the recorded result. Replay is not a
// special mode: a descriptor runs through the exact init/pick/answer/
// finalize path a live session takes.
package replay

import (
	"fmt"

	"github.com/rawblock/persona-engine/internal/bank"
	"github.com/rawblock/persona-engine/internal/engine"
	"github.com/rawblock/persona-engine/pkg/models"
)

// Result reports one replay execution.
type Result struct {
	Match        bool                  `json:"match"`
	ComputedHash string                `json:"computedHash"`
	ExpectedHash string                `json:"expectedHash,omitempty"`
	Snapshot     *models.FinalSnapshot `json:"snapshot"`
	Diff         []string              `json:"diff,omitempty"`
}

// Run executes a descriptor against a fresh engine over the given bank
// registry. When the descriptor carries an expected hash, the result says
// MATCH or MISMATCH; expected (when non-nil) additionally produces a
// structured field-by-field diff.
func Run(banks *bank.Registry, desc models.ReplayDescriptor, expected *models.FinalSnapshot) (*Result, error) {
	if desc.Schema != models.ReplaySchemaV1 {
		return nil, models.Errf(models.ErrReplaySchemaUnsupported,
			"unsupported replay schema %q", desc.Schema)
	}

	eng := engine.New(engine.Config{Banks: banks})
	init, err := eng.InitSession(desc.SessionSeed, desc.BankHash)
	if err != nil {
		return nil, err
	}
	if _, err := eng.SetPicks(init.SessionID, desc.Picks); err != nil {
		return nil, err
	}
	for _, a := range desc.Answers {
		if _, err := eng.SubmitAnswer(init.SessionID, a.QID, a.Key); err != nil {
			return nil, err
		}
	}
	fin, err := eng.FinalizeSession(init.SessionID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ComputedHash: fin.SnapshotHash,
		ExpectedHash: desc.ExpectedHash,
		Snapshot:     fin.Snapshot,
	}
	res.Match = desc.ExpectedHash == "" || desc.ExpectedHash == fin.SnapshotHash
	if expected != nil {
		res.Diff = diff(expected, fin.Snapshot)
		if len(res.Diff) > 0 {
			res.Match = false
		}
	}
	return res, nil
}

// Describe builds a replay descriptor from a finished run's inputs.
func Describe(bankID, bankHash, profile, seed string, picks []string,
	answers []models.ReplayAnswer, expectedHash string) models.ReplayDescriptor {
	return models.ReplayDescriptor{
		Schema:           models.ReplaySchemaV1,
		SessionSeed:      seed,
		BankID:           bankID,
		BankHash:         bankHash,
		ConstantsProfile: profile,
		Picks:            picks,
		Answers:          answers,
		ExpectedHash:     expectedHash,
	}
}

// diff lists human-readable field disagreements between two snapshots:
// line verdicts, per-face states, representatives, and the anchor.
func diff(want, got *models.FinalSnapshot) []string {
	var out []string

	for fam, wv := range want.LineVerdicts {
		if gv := got.LineVerdicts[fam]; gv != wv {
			out = append(out, fmt.Sprintf("line_verdict[%s]: want %s, got %s", fam, wv, gv))
		}
	}
	for face, wf := range want.FaceStates {
		gf, ok := got.FaceStates[face]
		if !ok {
			out = append(out, fmt.Sprintf("face_state[%s]: missing", face))
			continue
		}
		if gf != wf {
			out = append(out, fmt.Sprintf("face_state[%s]: want %+v, got %+v", face, wf, gf))
		}
	}
	for fam, wr := range want.FamilyReps {
		if gr := got.FamilyReps[fam]; gr != wr {
			out = append(out, fmt.Sprintf("family_rep[%s]: want %+v, got %+v", fam, wr, gr))
		}
	}
	wa, ga := "", ""
	if want.AnchorFamily != nil {
		wa = *want.AnchorFamily
	}
	if got.AnchorFamily != nil {
		ga = *got.AnchorFamily
	}
	if wa != ga {
		out = append(out, fmt.Sprintf("anchor_family: want %q, got %q", wa, ga))
	}
	return out
}
