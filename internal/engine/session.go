package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rawblock/persona-engine/internal/rng"
	"github.com/rawblock/persona-engine/pkg/models"
)

// session is the mutable record owned by the store for the session's
// lifetime. A single mutex serializes every operation on it; between
// operations the record is always a coherent fold of its accepted answers.
type session struct {
	mu sync.Mutex

	id        string
	seed      string
	bank      *models.Bank
	constants models.Constants // cloned at init so profile swaps never leak in
	profile   string
	state     models.SessionState
	startedAt time.Time

	picks     map[string]bool
	picksList []string // canonical family order

	schedule    []models.ScheduleItem
	scheduleIdx map[string]int // qid -> schedule position
	familyOrder []string       // shuffled visit order, anchor tiebreak

	answers map[string]*models.Answer
	deltas  map[string]answerDelta
	line    map[string]*models.LineState
	ledger  map[string]*models.FaceLedger

	stream      *rng.Stream
	presentedAt map[string]time.Time

	abortReason string
	final       *models.FinalSnapshot
	finalHash   string
}

// SessionID derives the deterministic 16-hex-char id from the identity
// triple. Equal (seed, bank, profile) always names the same session.
func SessionID(seed, bankHash, constantsProfile string) string {
	sum := sha256.Sum256([]byte("session|" + seed + "|" + bankHash + "|" + constantsProfile))
	return hex.EncodeToString(sum[:8])
}

func newSession(seed string, b *models.Bank, now time.Time) *session {
	s := &session{
		id:          SessionID(seed, b.Meta.BankHash, b.Meta.ConstantsProfile),
		seed:        seed,
		bank:        b,
		constants:   b.Constants,
		profile:     b.Meta.ConstantsProfile,
		state:       models.StateInit,
		startedAt:   now,
		answers:     make(map[string]*models.Answer),
		deltas:      make(map[string]answerDelta),
		line:        make(map[string]*models.LineState),
		ledger:      make(map[string]*models.FaceLedger),
		presentedAt: make(map[string]time.Time),
		stream:      rng.New(seed, b.Meta.BankHash, b.Meta.ConstantsProfile),
	}
	for _, fam := range b.Families {
		s.line[fam] = &models.LineState{}
	}
	for id := range b.Faces {
		s.ledger[id] = models.NewFaceLedger()
	}
	return s
}

// requireState returns E_STATE unless the session is in one of the wanted
// states. FINALIZED gets its dedicated code so callers can distinguish a
// finished session from a merely mis-sequenced call.
func (s *session) requireState(want ...models.SessionState) error {
	for _, w := range want {
		if s.state == w {
			return nil
		}
	}
	if s.state == models.StateFinalized {
		return models.Errf(models.ErrSessionAlreadyFinalized,
			"session %s is already finalized", s.id)
	}
	return models.Errf(models.ErrState,
		"operation not allowed in state %s", s.state)
}

// nextUnanswered returns the first schedule position without an accepted
// answer, or -1 when the quiz is complete.
func (s *session) nextUnanswered() int {
	for i, it := range s.schedule {
		if _, ok := s.answers[it.QID]; !ok {
			return i
		}
	}
	return -1
}
