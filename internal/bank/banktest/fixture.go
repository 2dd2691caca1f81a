// Package banktest builds the signed "balanced" bank fixture shared by the
// test suites. The fixture is generated, not stored: every structural rule
// of the loader holds by construction, and defect tests mutate a copy and
// re-sign (or deliberately don't) to hit specific failures.
package banktest

import (
	"fmt"
	"testing"

	"github.com/rawblock/persona-engine/internal/bank"
	"github.com/rawblock/persona-engine/pkg/models"
)

// SigningKey is the per-environment HMAC key of the test environment.
var SigningKey = []byte("banktest-signing-key-0001")

// FamilyCodes maps each canonical family to its qid prefix.
var FamilyCodes = map[string]string{
	"Control":     "CTRL",
	"Pace":        "PACE",
	"Boundary":    "BOUND",
	"Truth":       "TRUTH",
	"Recognition": "RECOG",
	"Bonding":     "BOND",
	"Stress":      "STRESS",
}

// faceNames lists the two sibling archetypes per family, index 0 and 1.
var faceNames = map[string][2]string{
	"Control":     {"Sovereign", "Rebel"},
	"Pace":        {"Visionary", "Navigator"},
	"Boundary":    {"Equalizer", "Guardian"},
	"Truth":       {"Seeker", "Architect"},
	"Recognition": {"Spotlight", "Diplomat"},
	"Bonding":     {"Partner", "Provider"},
	"Stress":      {"Catalyst", "Artisan"},
}

// tellSlugs are the four tells every face owns; "core" is the contrast tell.
var tellSlugs = []string{"core", "edge", "drift", "echo"}

// FaceID returns the fixture face id for a family and sibling index.
func FaceID(family string, sibling int) string {
	return fmt.Sprintf("FACE/%s/%s", family, faceNames[family][sibling])
}

// TellID returns the fixture tell id for a face's slug.
func TellID(family string, sibling int, slug string) string {
	return fmt.Sprintf("TELL/%s/%s/%s", family, faceNames[family][sibling], slug)
}

// QID returns the fixture qid for a family and question index 0..2.
func QID(family string, q int) string {
	return fmt.Sprintf("%s_Q%d", FamilyCodes[family], q+1)
}

// Artifact builds the unsigned balanced artifact.
//
// Option A of every question is the "steady" choice (lineCOF C, O, C across
// the three slots); option B is always Broken, so a run that always takes B
// floods every touched ledger with Broken context. Tells fan out so each
// sibling-0 face collects hits from four families on an all-A run.
func Artifact() models.BankArtifact {
	fams := models.CanonicalFamilies

	var faces []models.Face
	var tells []models.Tell
	contrast := make(map[string]models.ContrastEntry, len(fams))
	for _, fam := range fams {
		for s := 0; s < 2; s++ {
			faces = append(faces, models.Face{ID: FaceID(fam, s), Family: fam})
			for _, slug := range tellSlugs {
				tells = append(tells, models.Tell{
					ID:       TellID(fam, s, slug),
					Face:     FaceID(fam, s),
					Family:   fam,
					Contrast: slug == "core",
				})
			}
		}
		contrast[fam] = models.ContrastEntry{
			Faces: []string{FaceID(fam, 0), FaceID(fam, 1)},
			Tells: []string{TellID(fam, 0, "core"), TellID(fam, 1, "core")},
		}
	}

	// ownSlug picks which of the face's tells surfaces on its own screen.
	ownSlug := []string{"core", "edge", "drift"}
	aLine := []models.LineCOF{models.LineC, models.LineO, models.LineC}
	slots := []models.LineCOF{models.LineC, models.LineO, models.LineF}

	questions := make(map[string][]models.Question, len(fams))
	for i, fam := range fams {
		qs := make([]models.Question, 3)
		for q := 0; q < 3; q++ {
			crossA1 := fams[(i+1+q)%7]
			crossA2 := fams[(i+2+q)%7]
			crossB1 := fams[(i+3+q)%7]
			crossB2 := fams[(i+4+q)%7]
			qs[q] = models.Question{
				QID:           QID(fam, q),
				Family:        fam,
				OrderInFamily: slots[q],
				Text:          fmt.Sprintf("%s screen %d", fam, q+1),
				Options: []models.Option{
					{
						Key:     "A",
						Text:    "steady",
						LineCOF: aLine[q],
						Tells: []string{
							TellID(fam, 0, ownSlug[q]),
							TellID(crossA1, 0, "echo"),
							TellID(crossA2, 1, "echo"),
						},
					},
					{
						Key:     "B",
						Text:    "strained",
						LineCOF: models.LineF,
						Tells: []string{
							TellID(fam, 1, ownSlug[q]),
							TellID(crossB1, 1, "echo"),
							TellID(crossB2, 0, "echo"),
						},
					},
				},
			}
		}
		questions[fam] = qs
	}

	return models.BankArtifact{
		Meta: models.BankMeta{
			BankID:           "bank.balanced.v1",
			Version:          "1.0.0",
			ConstantsProfile: "default",
		},
		Registries: models.Registries{
			Families:       append([]string(nil), fams...),
			Faces:          faces,
			Tells:          tells,
			ContrastMatrix: contrast,
		},
		Constants: models.DefaultConstants(),
		Questions: questions,
	}
}

// SignedJSON returns the serialized, signed balanced artifact.
func SignedJSON(tb testing.TB) []byte {
	tb.Helper()
	raw, err := bank.Sign(Artifact(), SigningKey, "banktest")
	if err != nil {
		tb.Fatalf("signing fixture bank: %v", err)
	}
	return raw
}

// SignArtifact signs an arbitrary (possibly mutated) artifact with the
// fixture key.
func SignArtifact(tb testing.TB, art models.BankArtifact) []byte {
	tb.Helper()
	raw, err := bank.Sign(art, SigningKey, "banktest")
	if err != nil {
		tb.Fatalf("signing artifact: %v", err)
	}
	return raw
}

// Load returns the frozen balanced bank.
func Load(tb testing.TB) *models.Bank {
	tb.Helper()
	b, err := bank.Load(SignedJSON(tb), SigningKey)
	if err != nil {
		tb.Fatalf("loading fixture bank: %v", err)
	}
	return b
}

// Registry returns a registry holding the balanced bank, no whitelist.
func Registry(tb testing.TB) (*bank.Registry, *models.Bank) {
	tb.Helper()
	b := Load(tb)
	reg := bank.NewRegistry(nil)
	reg.Register(b)
	return reg, b
}
