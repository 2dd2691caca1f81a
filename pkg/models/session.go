package models

import "time"

// SessionState is the lifecycle state of a session record.
type SessionState string

const (
	StateInit       SessionState = "INIT"
	StatePicked     SessionState = "PICKED"
	StateInProgress SessionState = "IN_PROGRESS"
	StatePaused     SessionState = "PAUSED"
	StateFinalizing SessionState = "FINALIZING"
	StateFinalized  SessionState = "FINALIZED"
	StateAborted    SessionState = "ABORTED"
)

// FaceState is the finalized presence classification of a face.
type FaceState string

const (
	FaceLit    FaceState = "LIT"
	FaceLean   FaceState = "LEAN"
	FaceGhost  FaceState = "GHOST"
	FaceCold   FaceState = "COLD"
	FaceAbsent FaceState = "ABSENT"
)

// ScheduleItem is one served screen of the precomputed question order.
type ScheduleItem struct {
	QID          string  `json:"qid"`
	FamilyScreen string  `json:"family_screen"`
	OrderSlot    LineCOF `json:"order_slot"`
}

// Answer is the accepted record for a qid. Replacing an answer for the same
// qid reverts this record's ledger effects first, so the stored tells
// snapshot must be exactly what was applied.
type Answer struct {
	QID         string    `json:"qid"`
	Key         string    `json:"key"`
	LineCOF     LineCOF   `json:"lineCOF"`
	Tells       []string  `json:"tells"`
	SubmittedAt time.Time `json:"submitted_at"`
	LatencyMS   int64     `json:"latency_ms"`
}

// LineState aggregates per-family answer effects. Seen flags are derived
// from counts so reverting an answer is exact subtraction.
type LineState struct {
	C      int `json:"c"`
	OCount int `json:"o_count"`
	FCount int `json:"f_count"`
}

// OSeen reports whether any currently-accepted answer in the family is Bent.
func (l LineState) OSeen() bool { return l.OCount > 0 }

// FSeen reports whether any currently-accepted answer in the family is Broken.
func (l LineState) FSeen() bool { return l.FCount > 0 }

// Verdict derives the family line verdict: Broken dominates Bent dominates
// Clean. The +1 C seed on picked families guarantees C is never undercut.
func (l LineState) Verdict() LineCOF {
	switch {
	case l.FCount > 0:
		return LineF
	case l.OCount > 0:
		return LineO
	default:
		return LineC
	}
}

// FaceLedger tracks all evidence for a single face. Every field is a count
// so that the applicator can subtract an answer's exact delta; the set-like
// views (questions hit, families hit, contrast seen) are derived.
type FaceLedger struct {
	QuestionHits  map[string]int `json:"question_hits"`   // qid -> tell instances
	PerFamily     map[string]int `json:"per_family"`      // screen family -> tell instances
	SignatureQIDs map[string]int `json:"signature_qids"`  // qid on own family screen -> instances
	Clean         int            `json:"clean"`
	Bent          int            `json:"bent"`
	Broken        int            `json:"broken"`
	ContrastHits  int            `json:"contrast_hits"`
}

// NewFaceLedger returns an empty ledger with allocated maps.
func NewFaceLedger() *FaceLedger {
	return &FaceLedger{
		QuestionHits:  make(map[string]int),
		PerFamily:     make(map[string]int),
		SignatureQIDs: make(map[string]int),
	}
}

// QuestionsHit is |{qid : hits > 0}|.
func (fl *FaceLedger) QuestionsHit() int { return len(fl.QuestionHits) }

// FamiliesHit is |{family : instances > 0}|.
func (fl *FaceLedger) FamiliesHit() int { return len(fl.PerFamily) }

// SignatureHits counts distinct qids where a tell landed on the face's own
// family screen.
func (fl *FaceLedger) SignatureHits() int { return len(fl.SignatureQIDs) }

// ContrastSeen reports whether any applied tell was contrast-bearing.
func (fl *FaceLedger) ContrastSeen() bool { return fl.ContrastHits > 0 }

// ContextTotal is the number of applied tell instances.
func (fl *FaceLedger) ContextTotal() int { return fl.Clean + fl.Bent + fl.Broken }

// MaxFamilyShare returns the numerator and denominator of the max-family
// share (MFS): max(per-family count) over total instances. Returned as a
// ratio so callers compare against the cap with integer cross-multiplication.
func (fl *FaceLedger) MaxFamilyShare() (num, den int) {
	den = fl.ContextTotal()
	for _, n := range fl.PerFamily {
		if n > num {
			num = n
		}
	}
	return num, den
}

// FaceResult is the finalized, serialized view of one face.
type FaceResult struct {
	State         FaceState `json:"state"`
	QuestionsHit  int       `json:"questions_hit"`
	FamiliesHit   int       `json:"families_hit"`
	SignatureHits int       `json:"signature_hits"`
	Clean         int       `json:"clean"`
	Bent          int       `json:"bent"`
	Broken        int       `json:"broken"`
	ContrastSeen  bool      `json:"contrast_seen"`
}

// RepResult names the representative face chosen for a family and whether
// its sibling co-presents in the same non-absent state.
type RepResult struct {
	Face      string `json:"face"`
	CoPresent bool   `json:"co_present"`
}

// FinalSnapshot is the write-once result of finalization. Its canonical
// hash is the replay comparison key, so the struct holds only ints, bools
// and strings.
type FinalSnapshot struct {
	SessionID        string                `json:"session_id"`
	BankID           string                `json:"bank_id"`
	BankHash         string                `json:"bank_hash"`
	ConstantsProfile string                `json:"constants_profile"`
	Picks            []string              `json:"picks"` // canonical family order
	LineVerdicts     map[string]LineCOF    `json:"line_verdicts"`
	FaceStates       map[string]FaceResult `json:"face_states"`
	FamilyReps       map[string]RepResult  `json:"family_reps"`
	AnchorFamily     *string               `json:"anchor_family"` // nil when picks cover all families
}

// ReplayDescriptor reconstructs a session deterministically.
type ReplayDescriptor struct {
	Schema           string         `json:"schema"` // "replay.v1"
	SessionSeed      string         `json:"session_seed"`
	BankID           string         `json:"bank_id"`
	BankHash         string         `json:"bank_hash_sha256"`
	ConstantsProfile string         `json:"constants_profile"`
	Picks            []string       `json:"picks"`
	Answers          []ReplayAnswer `json:"answers"` // in submission order
	ExpectedHash     string         `json:"expected_hash,omitempty"`
}

// ReplayAnswer is one (qid, key) submission of a replay descriptor.
type ReplayAnswer struct {
	QID string `json:"qid"`
	Key string `json:"key"`
}

// ReplaySchemaV1 is the only descriptor schema this engine understands.
const ReplaySchemaV1 = "replay.v1"
