// Package engine hosts the deterministic assessment core: the session
// store, the state machine, the answer applicator and the finalizer. The
// package does no I/O and never blocks; collaborators (HTTP surface, event
// sinks, persistence) sit on the other side of the Engine API.
package engine

import (
	"time"

	"github.com/rawblock/persona-engine/internal/bank"
	"github.com/rawblock/persona-engine/internal/schedule"
	"github.com/rawblock/persona-engine/pkg/models"
)

// Config wires an Engine. Everything configurable is explicit here — the
// engine holds no hidden globals.
type Config struct {
	Banks *bank.Registry
	// Clock supplies event timestamps. Defaults to time.Now; tests freeze
	// it. The finalized snapshot never depends on it.
	Clock func() time.Time
	// Events receives every emitted record, synchronously, under the
	// session lock. Nil disables emission.
	Events models.EventSink
}

// Engine owns all live sessions of a process.
type Engine struct {
	banks *bank.Registry
	clock func() time.Time
	emit  models.EventSink
	store *store
}

// New constructs an engine from its configuration.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	emit := cfg.Events
	if emit == nil {
		emit = func(models.Event) {}
	}
	return &Engine{
		banks: cfg.Banks,
		clock: clock,
		emit:  emit,
		store: newStore(),
	}
}

func (e *Engine) event(s *session, typ models.EventType, fields map[string]any) {
	e.emit(models.Event{
		Type:      typ,
		SessionID: s.id,
		BankHash:  s.bank.Meta.BankHash,
		At:        e.clock(),
		Fields:    fields,
	})
}

// InitResult is the reply to InitSession.
type InitResult struct {
	SessionID        string              `json:"sessionId"`
	State            models.SessionState `json:"state"`
	BankID           string              `json:"bankId"`
	ConstantsProfile string              `json:"constantsProfile"`
}

// InitSession creates a session bound to a registered bank.
func (e *Engine) InitSession(sessionSeed, bankHash string) (*InitResult, error) {
	if sessionSeed == "" || len(sessionSeed) > 128 {
		return nil, models.Errf(models.ErrInvalidSessionSeed,
			"session seed must be 1..128 bytes")
	}
	b, err := e.banks.Get(bankHash)
	if err != nil {
		return nil, err
	}

	s := newSession(sessionSeed, b, e.clock())
	if !e.store.add(s) {
		return nil, models.Errf(models.ErrInvalidSessionSeed,
			"seed already names live session %s for this bank", s.id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e.event(s, models.EventSessionStarted, map[string]any{
		"bankId":           b.Meta.BankID,
		"constantsProfile": s.profile,
	})
	return &InitResult{
		SessionID:        s.id,
		State:            s.state,
		BankID:           b.Meta.BankID,
		ConstantsProfile: s.profile,
	}, nil
}

// ScheduleSummary describes the precomputed question order.
type ScheduleSummary struct {
	State     models.SessionState `json:"state"`
	Total     int                 `json:"total"`
	PerFamily map[string]int      `json:"perFamily"`
}

// SetPicks records the families of interest and freezes the schedule.
// Allowed exactly once, from INIT.
func (e *Engine) SetPicks(sessionID string, picks []string) (*ScheduleSummary, error) {
	s, err := e.store.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(models.StateInit); err != nil {
		return nil, err
	}
	pickSet, err := schedule.ValidatePicks(s.bank, picks)
	if err != nil {
		return nil, err
	}

	s.picks = pickSet
	s.picksList = s.picksList[:0]
	for _, fam := range s.bank.Families {
		if pickSet[fam] {
			s.picksList = append(s.picksList, fam)
			s.line[fam].C++ // pick seed: a picked family never falls below C
		}
	}

	s.schedule = schedule.Build(s.bank, pickSet, s.stream)
	s.familyOrder = schedule.FamilyOrder(s.schedule)
	s.scheduleIdx = make(map[string]int, len(s.schedule))
	for i, it := range s.schedule {
		s.scheduleIdx[it.QID] = i
	}
	s.state = models.StatePicked

	perFamily := make(map[string]int, 7)
	for _, it := range s.schedule {
		perFamily[it.FamilyScreen]++
	}
	e.event(s, models.EventPicksSet, map[string]any{
		"picks":        append([]string(nil), s.picksList...),
		"scheduleSize": len(s.schedule),
	})
	return &ScheduleSummary{State: s.state, Total: len(s.schedule), PerFamily: perFamily}, nil
}

// OptionView is the served form of an option.
type OptionView struct {
	Key     string         `json:"key"`
	Text    string         `json:"text"`
	LineCOF models.LineCOF `json:"lineCOF"`
	Tells   []string       `json:"tells"`
}

// NextQuestion is the served form of the next unanswered screen.
type NextQuestion struct {
	QID          string         `json:"qid"`
	FamilyScreen string         `json:"familyScreen"`
	OrderSlot    models.LineCOF `json:"orderSlot"`
	Text         string         `json:"text"`
	Options      []OptionView   `json:"options"`
	Index        int            `json:"index"` // 0-based schedule position
	Total        int            `json:"total"`
}

// NextQuestion serves the first unanswered screen of the schedule.
func (e *Engine) NextQuestion(sessionID string) (*NextQuestion, error) {
	s, err := e.store.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(models.StatePicked, models.StateInProgress); err != nil {
		return nil, err
	}
	idx := s.nextUnanswered()
	if idx < 0 {
		return nil, models.Errf(models.ErrQuizComplete, "all %d questions answered", len(s.schedule))
	}

	item := s.schedule[idx]
	q := s.bank.QuestionByID(item.QID)
	if q == nil {
		return nil, models.Errf(models.ErrQuestionNotFound, "schedule names unknown qid %s", item.QID)
	}

	out := &NextQuestion{
		QID:          q.QID,
		FamilyScreen: item.FamilyScreen,
		OrderSlot:    item.OrderSlot,
		Text:         q.Text,
		Index:        idx,
		Total:        len(s.schedule),
	}
	for _, opt := range q.Options {
		out.Options = append(out.Options, OptionView{
			Key:     opt.Key,
			Text:    opt.Text,
			LineCOF: opt.LineCOF,
			Tells:   append([]string(nil), opt.Tells...),
		})
	}

	s.presentedAt[q.QID] = e.clock()
	e.event(s, models.EventQuestionPresented, map[string]any{
		"qid":   q.QID,
		"index": idx,
		"total": len(s.schedule),
	})
	return out, nil
}

// SubmitResult is the reply to SubmitAnswer.
type SubmitResult struct {
	Accepted     bool                `json:"accepted"`
	Idempotent   bool                `json:"idempotent,omitempty"`
	AnswersCount int                 `json:"answersCount"`
	Remaining    int                 `json:"remaining"`
	State        models.SessionState `json:"state"`
}

// SubmitAnswer records an answer. Resubmitting the same key is a no-op;
// a different key reverts the prior answer's exact delta first, so the
// ledger is always the fold of the currently accepted answer set.
func (e *Engine) SubmitAnswer(sessionID, qid, optionKey string) (*SubmitResult, error) {
	s, err := e.store.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(models.StatePicked, models.StateInProgress); err != nil {
		return nil, err
	}
	idx, ok := s.scheduleIdx[qid]
	if !ok {
		return nil, models.Errf(models.ErrBadQID, "qid %s is not on this session's schedule", qid)
	}
	item := s.schedule[idx]
	q := s.bank.QuestionByID(qid)
	opt := q.OptionByKey(optionKey)
	if opt == nil {
		return nil, models.Errf(models.ErrInvalidOption, "question %s has no option %q", qid, optionKey)
	}

	result := func(idempotent bool) *SubmitResult {
		return &SubmitResult{
			Accepted:     true,
			Idempotent:   idempotent,
			AnswersCount: len(s.answers),
			Remaining:    len(s.schedule) - len(s.answers),
			State:        s.state,
		}
	}

	prior, answered := s.answers[qid]
	if answered && prior.Key == optionKey {
		return result(true), nil
	}

	changed := false
	if answered {
		if err := s.revertDelta(s.deltas[qid]); err != nil {
			// Post-condition violation: freeze the session rather than
			// emit corrupt output.
			s.state = models.StateAborted
			s.abortReason = "internal ledger corruption"
			return nil, err
		}
		delete(s.answers, qid)
		delete(s.deltas, qid)
		changed = true
	}

	now := e.clock()
	var latency int64
	if t, ok := s.presentedAt[qid]; ok {
		latency = now.Sub(t).Milliseconds()
	}

	delta := computeDelta(s.bank, item, opt)
	s.applyDelta(delta)
	s.deltas[qid] = delta
	s.answers[qid] = &models.Answer{
		QID:         qid,
		Key:         optionKey,
		LineCOF:     opt.LineCOF,
		Tells:       append([]string(nil), opt.Tells...),
		SubmittedAt: now,
		LatencyMS:   latency,
	}
	if s.state == models.StatePicked {
		s.state = models.StateInProgress
	}

	evType := models.EventAnswerSubmitted
	if changed {
		evType = models.EventAnswerChanged
	}
	e.event(s, evType, map[string]any{
		"qid":          qid,
		"key":          optionKey,
		"answersCount": len(s.answers),
		"remaining":    len(s.schedule) - len(s.answers),
	})
	return result(false), nil
}

// FinalizeResult carries the write-once snapshot and its canonical hash.
type FinalizeResult struct {
	Snapshot     *models.FinalSnapshot `json:"snapshot"`
	SnapshotHash string                `json:"snapshotHash"`
}

// FinalizeSession computes verdicts, face states, representatives and the
// anchor, atomically: the session is FINALIZING during the computation and
// FINALIZED (with the snapshot written once) after.
func (e *Engine) FinalizeSession(sessionID string) (*FinalizeResult, error) {
	s, err := e.store.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == models.StateFinalized {
		return nil, models.Errf(models.ErrSessionAlreadyFinalized,
			"session %s is already finalized", s.id)
	}
	if err := s.requireState(models.StateInProgress); err != nil {
		return nil, err
	}
	if len(s.answers) != len(s.schedule) {
		return nil, models.Errf(models.ErrIncompleteQuiz,
			"%d of %d questions answered", len(s.answers), len(s.schedule))
	}

	s.state = models.StateFinalizing
	snap := s.buildSnapshot()
	hash, err := SnapshotHash(snap)
	if err != nil {
		s.state = models.StateAborted
		s.abortReason = "snapshot hashing failed"
		return nil, err
	}
	s.final = snap
	s.finalHash = hash
	s.state = models.StateFinalized

	e.event(s, models.EventFinalized, map[string]any{
		"snapshotHash": hash,
		"anchorFamily": snap.AnchorFamily,
	})
	return &FinalizeResult{Snapshot: snap, SnapshotHash: hash}, nil
}

// AbortSession irreversibly ends a session. Aborting an aborted session is
// a no-op; a finalized session cannot be aborted.
func (e *Engine) AbortSession(sessionID, reason string) (models.SessionState, error) {
	s, err := e.store.get(sessionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case models.StateAborted:
		return s.state, nil
	case models.StateFinalized:
		return "", models.Errf(models.ErrSessionAlreadyFinalized,
			"session %s is already finalized", s.id)
	}
	s.state = models.StateAborted
	s.abortReason = reason
	e.event(s, models.EventSessionAborted, map[string]any{"reason": reason})
	return s.state, nil
}

// Pause suspends answer ingestion. Idempotent.
func (e *Engine) Pause(sessionID string) (models.SessionState, error) {
	s, err := e.store.get(sessionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case models.StatePaused:
		return s.state, nil
	case models.StateInProgress:
		s.state = models.StatePaused
		e.event(s, models.EventSessionPaused, nil)
		return s.state, nil
	default:
		return "", models.Errf(models.ErrStateTransitionInvalid,
			"cannot pause from state %s", s.state)
	}
}

// Resume re-enables answer ingestion. Idempotent.
func (e *Engine) Resume(sessionID string) (models.SessionState, error) {
	s, err := e.store.get(sessionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case models.StateInProgress:
		return s.state, nil
	case models.StatePaused:
		s.state = models.StateInProgress
		e.event(s, models.EventSessionResumed, nil)
		return s.state, nil
	default:
		return "", models.Errf(models.ErrStateTransitionInvalid,
			"cannot resume from state %s", s.state)
	}
}

// SessionView is the read-only summary of a session.
type SessionView struct {
	SessionID        string                `json:"sessionId"`
	State            models.SessionState   `json:"state"`
	BankHash         string                `json:"bankHash"`
	ConstantsProfile string                `json:"constantsProfile"`
	Picks            []string              `json:"picks"`
	ScheduleTotal    int                   `json:"scheduleTotal"`
	AnswersCount     int                   `json:"answersCount"`
	AbortReason      string                `json:"abortReason,omitempty"`
	Snapshot         *models.FinalSnapshot `json:"snapshot,omitempty"`
	SnapshotHash     string                `json:"snapshotHash,omitempty"`
}

// Session returns a coherent point-in-time view of a session.
func (e *Engine) Session(sessionID string) (*SessionView, error) {
	s, err := e.store.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return &SessionView{
		SessionID:        s.id,
		State:            s.state,
		BankHash:         s.bank.Meta.BankHash,
		ConstantsProfile: s.profile,
		Picks:            append([]string(nil), s.picksList...),
		ScheduleTotal:    len(s.schedule),
		AnswersCount:     len(s.answers),
		AbortReason:      s.abortReason,
		Snapshot:         s.final,
		SnapshotHash:     s.finalHash,
	}, nil
}
