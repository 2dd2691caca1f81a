package bank_test

import (
	"bytes"
	"testing"

	"github.com/rawblock/persona-engine/internal/bank"
	"github.com/rawblock/persona-engine/internal/bank/banktest"
	"github.com/rawblock/persona-engine/pkg/models"
)

func TestLoad_BalancedFixture(t *testing.T) {
	b := banktest.Load(t)

	if b.Meta.BankID != "bank.balanced.v1" {
		t.Errorf("bank id = %q", b.Meta.BankID)
	}
	if len(b.Families) != 7 || len(b.Faces) != 14 {
		t.Errorf("frozen bank has %d families / %d faces", len(b.Families), len(b.Faces))
	}
	for _, fam := range b.Families {
		qs := b.Questions[fam]
		if len(qs) != 3 {
			t.Fatalf("family %s froze with %d questions", fam, len(qs))
		}
		for i, want := range []models.LineCOF{models.LineC, models.LineO, models.LineF} {
			if qs[i].OrderInFamily != want {
				t.Errorf("family %s slot %d = %s, want %s", fam, i, qs[i].OrderInFamily, want)
			}
		}
	}
	// Both contrast tells of every family land in the fast-lookup set.
	if len(b.ContrastTells) != 14 {
		t.Errorf("contrast tell set has %d entries, want 14", len(b.ContrastTells))
	}
}

func TestLoad_DeterministicHash(t *testing.T) {
	a, _ := bank.ComputeHash(banktest.SignedJSON(t))
	b, _ := bank.ComputeHash(banktest.SignedJSON(t))
	if a != b {
		t.Fatalf("same artifact hashed differently: %s vs %s", a, b)
	}
}

func TestLoad_SignatureFailures(t *testing.T) {
	raw := banktest.SignedJSON(t)

	if _, err := bank.Load(raw, []byte("some-other-key")); models.CodeOf(err) != models.ErrBankSignatureInvalid {
		t.Errorf("wrong key: got %v, want %s", err, models.ErrBankSignatureInvalid)
	}

	art := banktest.Artifact()
	signed := banktest.SignArtifact(t, art)
	// Flip the signature field without touching the payload; the hash still
	// verifies, so this must fail on the signature check specifically.
	mutated := bytes.Replace(signed, []byte(`"signature":"`), []byte(`"signature":"00`), 1)
	if _, err := bank.Load(mutated, banktest.SigningKey); models.CodeOf(err) != models.ErrBankSignatureInvalid {
		t.Errorf("mutated signature: got %v, want %s", err, models.ErrBankSignatureInvalid)
	}
}

func TestLoad_PayloadTamperIsADefect(t *testing.T) {
	raw := banktest.SignedJSON(t)
	tampered := bytes.Replace(raw, []byte(`"steady"`), []byte(`"steadyy"`), 1)
	if !bytes.Contains(raw, []byte(`"steady"`)) {
		t.Fatal("fixture changed shape, tamper target missing")
	}
	if _, err := bank.Load(tampered, banktest.SigningKey); models.CodeOf(err) != models.ErrBankDefect {
		t.Errorf("payload tamper: got %v, want %s", err, models.ErrBankDefect)
	}
}

func TestLoad_NotJSON(t *testing.T) {
	if _, err := bank.Load([]byte(`{"meta":`), banktest.SigningKey); models.CodeOf(err) != models.ErrBankCorrupted {
		t.Errorf("truncated artifact: got %v, want %s", err, models.ErrBankCorrupted)
	}
}

func TestLoad_VersionMismatch(t *testing.T) {
	art := banktest.Artifact()
	art.Meta.Version = "2.0.0"
	raw := banktest.SignArtifact(t, art)
	if _, err := bank.Load(raw, banktest.SigningKey); models.CodeOf(err) != models.ErrBankVersionMismatch {
		t.Errorf("version 2.0.0: got %v, want %s", err, models.ErrBankVersionMismatch)
	}
}

func TestLoad_StructuralDefects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.BankArtifact)
	}{
		{"missing family", func(a *models.BankArtifact) {
			a.Registries.Families = a.Registries.Families[:6]
		}},
		{"family order violated", func(a *models.BankArtifact) {
			a.Registries.Families[0], a.Registries.Families[1] =
				a.Registries.Families[1], a.Registries.Families[0]
		}},
		{"missing face", func(a *models.BankArtifact) {
			a.Registries.Faces = a.Registries.Faces[:13]
		}},
		{"duplicate face", func(a *models.BankArtifact) {
			a.Registries.Faces[13] = a.Registries.Faces[0]
		}},
		{"missing question", func(a *models.BankArtifact) {
			a.Questions["Control"] = a.Questions["Control"][:2]
		}},
		{"slot order violated", func(a *models.BankArtifact) {
			qs := a.Questions["Pace"]
			qs[0].OrderInFamily, qs[1].OrderInFamily = qs[1].OrderInFamily, qs[0].OrderInFamily
		}},
		{"question under wrong family", func(a *models.BankArtifact) {
			a.Questions["Truth"][0].Family = "Pace"
		}},
		{"duplicate qid", func(a *models.BankArtifact) {
			a.Questions["Bonding"][2].QID = a.Questions["Bonding"][0].QID
		}},
		{"single option", func(a *models.BankArtifact) {
			q := &a.Questions["Stress"][0]
			q.Options = q.Options[:1]
		}},
		{"repeated option key", func(a *models.BankArtifact) {
			a.Questions["Stress"][1].Options[1].Key = "A"
		}},
		{"invalid lineCOF", func(a *models.BankArtifact) {
			a.Questions["Control"][0].Options[0].LineCOF = "X"
		}},
		{"four tells on one option", func(a *models.BankArtifact) {
			opt := &a.Questions["Boundary"][0].Options[0]
			opt.Tells = append(opt.Tells, banktest.TellID("Stress", 0, "drift"))
		}},
		{"two tells for one face", func(a *models.BankArtifact) {
			opt := &a.Questions["Boundary"][1].Options[0]
			opt.Tells = []string{
				banktest.TellID("Boundary", 0, "core"),
				banktest.TellID("Boundary", 0, "edge"),
			}
		}},
		{"unknown tell reference", func(a *models.BankArtifact) {
			a.Questions["Recognition"][0].Options[0].Tells = []string{"TELL/Nope/Nope/none"}
		}},
		{"contrast matrix crosses families", func(a *models.BankArtifact) {
			e := a.Registries.ContrastMatrix["Control"]
			e.Tells = []string{banktest.TellID("Pace", 0, "core")}
			a.Registries.ContrastMatrix["Control"] = e
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art := banktest.Artifact()
			tt.mutate(&art)
			raw := banktest.SignArtifact(t, art)
			if _, err := bank.Load(raw, banktest.SigningKey); models.CodeOf(err) != models.ErrBankDefect {
				t.Errorf("got %v, want %s", err, models.ErrBankDefect)
			}
		})
	}
}

func TestRegistry_WhitelistAndLookup(t *testing.T) {
	b := banktest.Load(t)

	open := bank.NewRegistry(nil)
	open.Register(b)
	if got, err := open.Get(b.Meta.BankHash); err != nil || got != b {
		t.Fatalf("open registry lookup: %v", err)
	}
	if _, err := open.Get("deadbeef"); models.CodeOf(err) != models.ErrBankNotFound {
		t.Errorf("unknown hash: got %v, want %s", err, models.ErrBankNotFound)
	}

	closed := bank.NewRegistry([]string{"another-hash"})
	closed.Register(b)
	if _, err := closed.Get(b.Meta.BankHash); models.CodeOf(err) != models.ErrBankNotFound {
		t.Errorf("non-whitelisted hash: got %v, want %s", err, models.ErrBankNotFound)
	}

	if hashes := closed.Hashes(); len(hashes) != 1 || hashes[0] != b.Meta.BankHash {
		t.Errorf("Hashes() = %v", hashes)
	}
}
