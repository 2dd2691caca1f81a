package engine

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/rawblock/persona-engine/internal/rng"
	"github.com/rawblock/persona-engine/pkg/models"
)

// store is the in-memory session map. The map lock covers only lookup and
// insertion; per-session serialization is the session's own mutex.
type store struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newStore() *store {
	return &store{sessions: make(map[string]*session)}
}

// add inserts a session, failing when the id is already live.
func (st *store) add(s *session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.sessions[s.id]; exists {
		return false
	}
	st.sessions[s.id] = s
	return true
}

func (st *store) get(id string) (*session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, models.Errf(models.ErrSessionNotFound, "no session %s", id)
	}
	return s, nil
}

// put inserts or replaces a session (restore path).
func (st *store) put(s *session) {
	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()
}

// SessionRecord is the fully serialized form of a session. Collaborators
// persist it and hand it back to RestoreSession; a restored session
// continues behaving identically, including its RNG stream.
type SessionRecord struct {
	SessionID        string                        `json:"session_id"`
	SessionSeed      string                        `json:"session_seed"`
	BankHash         string                        `json:"bank_hash"`
	ConstantsProfile string                        `json:"constants_profile"`
	State            models.SessionState           `json:"state"`
	StartedAt        time.Time                     `json:"started_at"`
	Picks            []string                      `json:"picks"`
	Schedule         []models.ScheduleItem         `json:"schedule"`
	FamilyOrder      []string                      `json:"family_order"`
	Answers          map[string]*models.Answer     `json:"answers"`
	LineState        map[string]*models.LineState  `json:"line_state"`
	FaceLedger       map[string]*models.FaceLedger `json:"face_ledger"`
	RNGState         json.RawMessage               `json:"rng_state"`
	AbortReason      string                        `json:"abort_reason,omitempty"`
	FinalSnapshot    *models.FinalSnapshot         `json:"final_snapshot,omitempty"`
	SnapshotHash     string                        `json:"snapshot_hash,omitempty"`
}

// SnapshotSession serializes a session's complete state.
func (e *Engine) SnapshotSession(sessionID string) (*SessionRecord, error) {
	s, err := e.store.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rngState, err := json.Marshal(s.stream)
	if err != nil {
		return nil, models.Errf(models.ErrInternalCorrupted, "rng state not serializable: %v", err)
	}

	rec := &SessionRecord{
		SessionID:        s.id,
		SessionSeed:      s.seed,
		BankHash:         s.bank.Meta.BankHash,
		ConstantsProfile: s.profile,
		State:            s.state,
		StartedAt:        s.startedAt,
		Picks:            append([]string(nil), s.picksList...),
		Schedule:         append([]models.ScheduleItem(nil), s.schedule...),
		FamilyOrder:      append([]string(nil), s.familyOrder...),
		Answers:          make(map[string]*models.Answer, len(s.answers)),
		LineState:        make(map[string]*models.LineState, len(s.line)),
		FaceLedger:       make(map[string]*models.FaceLedger, len(s.ledger)),
		RNGState:         rngState,
		AbortReason:      s.abortReason,
		FinalSnapshot:    s.final,
		SnapshotHash:     s.finalHash,
	}
	for qid, a := range s.answers {
		cp := *a
		cp.Tells = append([]string(nil), a.Tells...)
		rec.Answers[qid] = &cp
	}
	for fam, ls := range s.line {
		cp := *ls
		rec.LineState[fam] = &cp
	}
	for id, fl := range s.ledger {
		rec.FaceLedger[id] = copyLedger(fl)
	}
	return rec, nil
}

// RestoreSession rebuilds a session from a serialized record and installs
// it in the store. The serialized ledger must equal the fold of the
// record's answers over the bank; a disagreement is corruption.
func (e *Engine) RestoreSession(rec *SessionRecord) error {
	b, err := e.banks.Get(rec.BankHash)
	if err != nil {
		return err
	}
	if rec.ConstantsProfile != b.Meta.ConstantsProfile {
		return models.Errf(models.ErrBankVersionMismatch,
			"record profile %q does not match bank profile %q",
			rec.ConstantsProfile, b.Meta.ConstantsProfile)
	}

	s := newSession(rec.SessionSeed, b, rec.StartedAt)
	if s.id != rec.SessionID {
		return models.Errf(models.ErrBankCorrupted,
			"record session id %s does not match derived id %s", rec.SessionID, s.id)
	}
	s.state = rec.State
	s.startedAt = rec.StartedAt
	s.abortReason = rec.AbortReason
	s.final = rec.FinalSnapshot
	s.finalHash = rec.SnapshotHash

	s.picks = make(map[string]bool, len(rec.Picks))
	for _, fam := range rec.Picks {
		if !b.HasFamily(fam) {
			return models.Errf(models.ErrInvalidFamily, "record picks unknown family %q", fam)
		}
		s.picks[fam] = true
		s.picksList = append(s.picksList, fam)
	}
	s.schedule = append([]models.ScheduleItem(nil), rec.Schedule...)
	s.familyOrder = append([]string(nil), rec.FamilyOrder...)
	s.scheduleIdx = make(map[string]int, len(s.schedule))
	for i, it := range s.schedule {
		s.scheduleIdx[it.QID] = i
	}

	for qid, a := range rec.Answers {
		idx, ok := s.scheduleIdx[qid]
		if !ok {
			return models.Errf(models.ErrBadQID, "record answers off-schedule qid %s", qid)
		}
		q := b.QuestionByID(qid)
		opt := q.OptionByKey(a.Key)
		if opt == nil {
			return models.Errf(models.ErrInvalidOption,
				"record answer for %s names unknown option %q", qid, a.Key)
		}
		cp := *a
		cp.Tells = append([]string(nil), a.Tells...)
		s.answers[qid] = &cp
		s.deltas[qid] = computeDelta(b, s.schedule[idx], opt)
	}

	// Rebuild the ledger as the fold of the answers, then verify the
	// serialized copy agrees. A record whose ledger is not the fold of its
	// answers would silently change behavior after restore.
	s.line, s.ledger = foldAnswers(b, s.picks, s.schedule, s.answers)
	if rec.LineState != nil || rec.FaceLedger != nil {
		if !jsonEqual(s.line, rec.LineState) || !jsonEqual(s.ledger, rec.FaceLedger) {
			return models.Errf(models.ErrInternalCorrupted,
				"serialized ledger disagrees with the fold of the answer set")
		}
	}

	s.stream = &rng.Stream{}
	if err := json.Unmarshal(rec.RNGState, s.stream); err != nil {
		return models.Errf(models.ErrBankCorrupted, "rng state does not restore: %v", err)
	}

	e.store.put(s)
	return nil
}

// jsonEqual compares two values by canonical encoding/json bytes (map keys
// sort, so this is order-insensitive).
func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}

func copyLedger(fl *models.FaceLedger) *models.FaceLedger {
	cp := models.NewFaceLedger()
	for k, v := range fl.QuestionHits {
		cp.QuestionHits[k] = v
	}
	for k, v := range fl.PerFamily {
		cp.PerFamily[k] = v
	}
	for k, v := range fl.SignatureQIDs {
		cp.SignatureQIDs[k] = v
	}
	cp.Clean, cp.Bent, cp.Broken, cp.ContrastHits = fl.Clean, fl.Bent, fl.Broken, fl.ContrastHits
	return cp
}
