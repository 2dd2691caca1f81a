package models

// LineCOF is the option tag recorded into the line state:
// C (Clean), O (Bent), F (Broken).
type LineCOF string

const (
	LineC LineCOF = "C"
	LineO LineCOF = "O"
	LineF LineCOF = "F"
)

// CanonicalFamilies is the authored family order of every bank. The schedule
// shuffle permutes a copy of this list; the list itself never changes.
var CanonicalFamilies = []string{
	"Control", "Pace", "Boundary", "Truth", "Recognition", "Bonding", "Stress",
}

// BankMeta identifies and authenticates a bank package.
type BankMeta struct {
	BankID           string `json:"bank_id"`
	Version          string `json:"version"`
	ConstantsProfile string `json:"constants_profile"`
	BankHash         string `json:"bank_hash"`  // 64 lowercase hex, canonical SHA-256
	Signature        string `json:"signature"`  // HMAC-SHA-256 hex over the canonical payload
	SignedBy         string `json:"signed_by"`
}

// Face is one of the two sibling archetypes inside a family.
type Face struct {
	ID     string `json:"id"`     // FACE/<Family>/<Name>
	Family string `json:"family"`
}

// Tell is an atomic evidence unit owned by exactly one face. Contrast tells
// additionally appear in the family's contrast matrix and gate the LIT state.
type Tell struct {
	ID       string `json:"id"` // TELL/<Family>/<Face>/<slug>
	Face     string `json:"face"`
	Family   string `json:"family"`
	Contrast bool   `json:"contrast"`
}

// Option is one of the two answers of a question. It carries between zero
// and three tells, at most one per face.
type Option struct {
	Key     string   `json:"key"` // "A" or "B"
	Text    string   `json:"text"`
	LineCOF LineCOF  `json:"lineCOF"`
	Tells   []string `json:"tells"`
}

// Question is an authored screen. OrderInFamily is the authored slot
// (C, O or F) and fixes the within-family serving order.
type Question struct {
	QID           string   `json:"qid"` // e.g. CTRL_Q1
	Family        string   `json:"family"`
	OrderInFamily LineCOF  `json:"order_in_family"`
	Text          string   `json:"text"`
	Options       []Option `json:"options"`
}

// ContrastEntry lists, per family, the two sibling faces and the tells the
// bank considers contrast-bearing for that family.
type ContrastEntry struct {
	Faces []string `json:"faces"`
	Tells []string `json:"tells"`
}

// Constants is the threshold lattice the finalizer classifies against.
// PerScreenCapPct is an integer percentage (40 means a 0.40 cap) so the
// bank stays float-free and cap comparisons stay exact.
type Constants struct {
	LitMinQuestions   int `json:"LIT_MIN_QUESTIONS"`
	LitMinFamilies    int `json:"LIT_MIN_FAMILIES"`
	LitMinSignature   int `json:"LIT_MIN_SIGNATURE"`
	LitMinClean       int `json:"LIT_MIN_CLEAN"`
	LitMaxBroken      int `json:"LIT_MAX_BROKEN"`
	PerScreenCapPct   int `json:"PER_SCREEN_CAP_PCT"`
	LeanMinQuestions  int `json:"LEAN_MIN_QUESTIONS"`
	LeanMinFamilies   int `json:"LEAN_MIN_FAMILIES"`
	LeanMinSignature  int `json:"LEAN_MIN_SIGNATURE"`
	LeanMinClean      int `json:"LEAN_MIN_CLEAN"`
	GhostMinQuestions int `json:"GHOST_MIN_QUESTIONS"`
	GhostMaxFamilies  int `json:"GHOST_MAX_FAMILIES"`
	ColdMinQuestions  int `json:"COLD_MIN_QUESTIONS"`
	ColdMaxQuestions  int `json:"COLD_MAX_QUESTIONS"`
	ColdMinFamilies   int `json:"COLD_MIN_FAMILIES"`
}

// DefaultConstants returns the stock threshold profile.
func DefaultConstants() Constants {
	return Constants{
		LitMinQuestions:   6,
		LitMinFamilies:    4,
		LitMinSignature:   2,
		LitMinClean:       4,
		LitMaxBroken:      1,
		PerScreenCapPct:   40,
		LeanMinQuestions:  4,
		LeanMinFamilies:   3,
		LeanMinSignature:  1,
		LeanMinClean:      2,
		GhostMinQuestions: 6,
		GhostMaxFamilies:  2,
		ColdMinQuestions:  2,
		ColdMaxQuestions:  3,
		ColdMinFamilies:   2,
	}
}

// Registries holds the bank's identifier registries as serialized.
type Registries struct {
	Families       []string                 `json:"families"`
	Faces          []Face                   `json:"faces"`
	Tells          []Tell                   `json:"tells"`
	ContrastMatrix map[string]ContrastEntry `json:"contrast_matrix"`
}

// BankArtifact is the on-disk serialized form of a bank package.
type BankArtifact struct {
	Meta       BankMeta              `json:"meta"`
	Registries Registries            `json:"registries"`
	Constants  Constants             `json:"constants"`
	Questions  map[string][]Question `json:"questions"`
}

// Bank is the loaded, validated, frozen form. All maps are private to the
// loader after construction; callers treat a *Bank as immutable.
type Bank struct {
	Meta      BankMeta
	Families  []string             // exactly 7, canonical order
	Faces     map[string]Face      // face id -> face
	Tells     map[string]Tell      // tell id -> tell
	Questions map[string][]Question // family -> 3 questions in C,O,F order
	Constants Constants
	Contrast  map[string]ContrastEntry // family -> contrast entry

	// ContrastTells is the flattened contrast-tell membership, precomputed
	// at load so the applicator does a single map probe per tell instance.
	ContrastTells map[string]bool
}

// QuestionByID resolves a qid, returning nil when the bank has no such screen.
func (b *Bank) QuestionByID(qid string) *Question {
	for fam := range b.Questions {
		qs := b.Questions[fam]
		for i := range qs {
			if qs[i].QID == qid {
				return &qs[i]
			}
		}
	}
	return nil
}

// OptionByKey resolves an option on a question, nil when absent.
func (q *Question) OptionByKey(key string) *Option {
	for i := range q.Options {
		if q.Options[i].Key == key {
			return &q.Options[i]
		}
	}
	return nil
}

// HasFamily reports whether name is one of the bank's seven families.
func (b *Bank) HasFamily(name string) bool {
	for _, f := range b.Families {
		if f == name {
			return true
		}
	}
	return false
}
