package replay_test

import (
	"testing"

	"github.com/rawblock/persona-engine/internal/bank/banktest"
	"github.com/rawblock/persona-engine/internal/engine"
	"github.com/rawblock/persona-engine/internal/replay"
	"github.com/rawblock/persona-engine/pkg/models"
)

// record runs a live session and captures the descriptor a collaborator
// would persist alongside the finalized hash.
func record(t *testing.T, seed string, picks []string, key string) (models.ReplayDescriptor, *engine.FinalizeResult) {
	t.Helper()
	reg, b := banktest.Registry(t)
	eng := engine.New(engine.Config{Banks: reg})

	init, err := eng.InitSession(seed, b.Meta.BankHash)
	if err != nil {
		t.Fatalf("InitSession: %v", err)
	}
	if _, err := eng.SetPicks(init.SessionID, picks); err != nil {
		t.Fatalf("SetPicks: %v", err)
	}
	var answers []models.ReplayAnswer
	for {
		nq, err := eng.NextQuestion(init.SessionID)
		if models.CodeOf(err) == models.ErrQuizComplete {
			break
		}
		if err != nil {
			t.Fatalf("NextQuestion: %v", err)
		}
		if _, err := eng.SubmitAnswer(init.SessionID, nq.QID, key); err != nil {
			t.Fatalf("SubmitAnswer: %v", err)
		}
		answers = append(answers, models.ReplayAnswer{QID: nq.QID, Key: key})
	}
	fin, err := eng.FinalizeSession(init.SessionID)
	if err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}

	desc := replay.Describe(b.Meta.BankID, b.Meta.BankHash, b.Meta.ConstantsProfile,
		seed, picks, answers, fin.SnapshotHash)
	return desc, fin
}

func TestRun_Match(t *testing.T) {
	desc, fin := record(t, "audit-1", []string{"Control", "Truth"}, "A")

	reg, _ := banktest.Registry(t)
	res, err := replay.Run(reg, desc, fin.Snapshot)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Match {
		t.Fatalf("replay of a recorded run must match; diff: %v", res.Diff)
	}
	if res.ComputedHash != fin.SnapshotHash {
		t.Errorf("computed %s, recorded %s", res.ComputedHash, fin.SnapshotHash)
	}
	if len(res.Diff) != 0 {
		t.Errorf("unexpected diff: %v", res.Diff)
	}
}

func TestRun_MatchWithoutExpectedHash(t *testing.T) {
	desc, _ := record(t, "audit-2", nil, "B")
	desc.ExpectedHash = ""

	reg, _ := banktest.Registry(t)
	res, err := replay.Run(reg, desc, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Match || res.ComputedHash == "" {
		t.Errorf("hashless descriptor should report its computed hash as a match: %+v", res)
	}
}

func TestRun_MismatchProducesDiff(t *testing.T) {
	desc, fin := record(t, "audit-3", nil, "A")

	// The operator recorded a different outcome: flip one answer so the
	// recomputed snapshot disagrees with the stored one.
	desc.Answers[0].Key = "B"

	reg, _ := banktest.Registry(t)
	res, err := replay.Run(reg, desc, fin.Snapshot)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Match {
		t.Fatal("diverging descriptor must not match")
	}
	if res.ComputedHash == desc.ExpectedHash {
		t.Error("computed hash should differ from the recorded one")
	}
	if len(res.Diff) == 0 {
		t.Error("mismatch against a stored snapshot must produce a field diff")
	}
}

func TestRun_UnsupportedSchema(t *testing.T) {
	desc, _ := record(t, "audit-4", nil, "A")
	desc.Schema = "replay.v2"

	reg, _ := banktest.Registry(t)
	if _, err := replay.Run(reg, desc, nil); models.CodeOf(err) != models.ErrReplaySchemaUnsupported {
		t.Errorf("schema v2: got %v, want %s", err, models.ErrReplaySchemaUnsupported)
	}
}

func TestRun_UnknownBank(t *testing.T) {
	desc, _ := record(t, "audit-5", nil, "A")
	desc.BankHash = "0000000000000000000000000000000000000000000000000000000000000000"

	reg, _ := banktest.Registry(t)
	if _, err := replay.Run(reg, desc, nil); models.CodeOf(err) != models.ErrBankNotFound {
		t.Errorf("unknown bank: got %v, want %s", err, models.ErrBankNotFound)
	}
}

func TestRun_IncompleteDescriptor(t *testing.T) {
	desc, _ := record(t, "audit-6", nil, "A")
	desc.Answers = desc.Answers[:len(desc.Answers)-1]

	reg, _ := banktest.Registry(t)
	if _, err := replay.Run(reg, desc, nil); models.CodeOf(err) != models.ErrIncompleteQuiz {
		t.Errorf("truncated answers: got %v, want %s", err, models.ErrIncompleteQuiz)
	}
}
