package engine

import (
	"github.com/rawblock/persona-engine/pkg/models"
)

// faceDelta is the effect of one tell instance on one face's ledger.
type faceDelta struct {
	Face      string         `json:"face"`
	QID       string         `json:"qid"`
	Screen    string         `json:"screen"`
	Signature bool           `json:"signature"`
	Context   models.LineCOF `json:"context"`
	Contrast  bool           `json:"contrast"`
}

// answerDelta is the full recorded effect of one accepted answer. Reversion
// is strict subtraction of this record — never recomputation — so replacing
// an answer restores the exact prior ledger.
type answerDelta struct {
	Family  string         `json:"family"`
	LineCOF models.LineCOF `json:"lineCOF"`
	Faces   []faceDelta    `json:"faces"`
}

// computeDelta derives the delta an option produces on a given screen.
func computeDelta(b *models.Bank, item models.ScheduleItem, opt *models.Option) answerDelta {
	d := answerDelta{Family: item.FamilyScreen, LineCOF: opt.LineCOF}
	for _, tid := range opt.Tells {
		tell := b.Tells[tid]
		d.Faces = append(d.Faces, faceDelta{
			Face:      tell.Face,
			QID:       item.QID,
			Screen:    item.FamilyScreen,
			Signature: tell.Family == item.FamilyScreen,
			Context:   opt.LineCOF,
			Contrast:  b.ContrastTells[tid],
		})
	}
	return d
}

// applyDelta folds a delta into the line state and face ledgers.
func (s *session) applyDelta(d answerDelta) {
	ls := s.line[d.Family]
	switch d.LineCOF {
	case models.LineC:
		ls.C++
	case models.LineO:
		ls.OCount++
	case models.LineF:
		ls.FCount++
	}
	for _, fd := range d.Faces {
		fl := s.ledger[fd.Face]
		fl.QuestionHits[fd.QID]++
		fl.PerFamily[fd.Screen]++
		if fd.Signature {
			fl.SignatureQIDs[fd.QID]++
		}
		switch fd.Context {
		case models.LineC:
			fl.Clean++
		case models.LineO:
			fl.Bent++
		case models.LineF:
			fl.Broken++
		}
		if fd.Contrast {
			fl.ContrastHits++
		}
	}
}

// revertDelta subtracts a previously applied delta. A counter crossing
// zero means the ledger no longer is the fold of the answer set; that is
// unrecoverable corruption, not a caller error.
func (s *session) revertDelta(d answerDelta) error {
	corrupt := func(what string) error {
		return models.Errf(models.ErrInternalCorrupted,
			"ledger underflow reverting %s on session %s", what, s.id)
	}

	ls := s.line[d.Family]
	switch d.LineCOF {
	case models.LineC:
		ls.C--
	case models.LineO:
		ls.OCount--
	case models.LineF:
		ls.FCount--
	}
	if ls.C < 0 || ls.OCount < 0 || ls.FCount < 0 {
		return corrupt("line state " + d.Family)
	}

	for _, fd := range d.Faces {
		fl := s.ledger[fd.Face]
		if fl.QuestionHits[fd.QID] == 0 || fl.PerFamily[fd.Screen] == 0 {
			return corrupt("face " + fd.Face)
		}
		dec(fl.QuestionHits, fd.QID)
		dec(fl.PerFamily, fd.Screen)
		if fd.Signature {
			if fl.SignatureQIDs[fd.QID] == 0 {
				return corrupt("signature counts for " + fd.Face)
			}
			dec(fl.SignatureQIDs, fd.QID)
		}
		switch fd.Context {
		case models.LineC:
			fl.Clean--
		case models.LineO:
			fl.Bent--
		case models.LineF:
			fl.Broken--
		}
		if fd.Contrast {
			fl.ContrastHits--
		}
		if fl.Clean < 0 || fl.Bent < 0 || fl.Broken < 0 || fl.ContrastHits < 0 {
			return corrupt("context counts for " + fd.Face)
		}
	}
	return nil
}

// dec decrements a count map entry, dropping the key at zero so derived
// set cardinalities (len) stay exact.
func dec(m map[string]int, k string) {
	m[k]--
	if m[k] <= 0 {
		delete(m, k)
	}
}

// foldAnswers recomputes line state and ledgers from scratch over an
// accepted answer set. Restore uses it to verify serialized state.
func foldAnswers(b *models.Bank, picks map[string]bool, schedule []models.ScheduleItem,
	answers map[string]*models.Answer) (map[string]*models.LineState, map[string]*models.FaceLedger) {

	line := make(map[string]*models.LineState, len(b.Families))
	for _, fam := range b.Families {
		line[fam] = &models.LineState{}
		if picks[fam] {
			line[fam].C++
		}
	}
	ledger := make(map[string]*models.FaceLedger, len(b.Faces))
	for id := range b.Faces {
		ledger[id] = models.NewFaceLedger()
	}

	tmp := &session{line: line, ledger: ledger}
	for _, it := range schedule {
		ans, ok := answers[it.QID]
		if !ok {
			continue
		}
		q := b.QuestionByID(it.QID)
		opt := q.OptionByKey(ans.Key)
		tmp.applyDelta(computeDelta(b, it, opt))
	}
	return line, ledger
}
