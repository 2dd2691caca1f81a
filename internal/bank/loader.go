// Package bank loads, authenticates and freezes bank packages. A loaded
// *models.Bank is the engine's trust root: every session binds to one by
// hash for its whole lifetime, so nothing here is mutable after Load
// returns.
package bank

import (
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rawblock/persona-engine/pkg/models"
)

var (
	reFamily   = regexp.MustCompile(`^[A-Z][a-z]+$`)
	reFace     = regexp.MustCompile(`^FACE/[A-Z][a-z]+/[A-Z][a-z]+$`)
	reTell     = regexp.MustCompile(`^TELL/[A-Z][a-z]+/[A-Z][a-z]+/[a-z][a-z0-9-]*$`)
	reQID      = regexp.MustCompile(`^[A-Z]{3,8}_Q[1-3]$`)
	reBankHash = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// slot order every family's three questions must follow.
var slotOrder = []models.LineCOF{models.LineC, models.LineO, models.LineF}

// Load parses, validates, authenticates and freezes a serialized bank
// artifact. key is the per-environment HMAC signing key.
func Load(raw []byte, key []byte) (*models.Bank, error) {
	if !json.Valid(raw) {
		return nil, models.Errf(models.ErrBankCorrupted, "artifact is not valid JSON")
	}

	// Canonicalization doubles as ingress validation: floats, non-NFC text
	// and trailing garbage are rejected here.
	payload, err := payloadBytes(raw)
	if err != nil {
		return nil, err
	}

	var art models.BankArtifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, models.Errf(models.ErrBankCorrupted, "artifact does not decode: %v", err)
	}

	if err := validate(&art); err != nil {
		return nil, err
	}

	wantHash, err := ComputeHash(raw)
	if err != nil {
		return nil, err
	}
	if art.Meta.BankHash != wantHash {
		return nil, models.Errf(models.ErrBankDefect,
			"bank_hash mismatch: artifact says %s, canonical bytes hash to %s",
			art.Meta.BankHash, wantHash)
	}

	sig := computeSignature(payload, key)
	got, decErr := hex.DecodeString(art.Meta.Signature)
	want, _ := hex.DecodeString(sig)
	if decErr != nil || !hmac.Equal(got, want) {
		return nil, models.Errf(models.ErrBankSignatureInvalid,
			"signature does not verify for signer %q", art.Meta.SignedBy)
	}

	return freeze(&art), nil
}

// validate enforces every structural invariant of the bank data model.
func validate(art *models.BankArtifact) error {
	defect := func(format string, args ...any) error {
		return models.Errf(models.ErrBankDefect, format, args...)
	}

	if art.Meta.BankID == "" {
		return defect("meta.bank_id is empty")
	}
	if !strings.HasPrefix(art.Meta.Version, "1.") && art.Meta.Version != "1" {
		return models.Errf(models.ErrBankVersionMismatch,
			"unsupported bank version %q", art.Meta.Version)
	}
	if art.Meta.ConstantsProfile == "" {
		return defect("meta.constants_profile is empty")
	}
	if !reBankHash.MatchString(art.Meta.BankHash) {
		return defect("meta.bank_hash is not 64 lowercase hex")
	}

	fams := art.Registries.Families
	if len(fams) != 7 {
		return defect("expected 7 families, got %d", len(fams))
	}
	famSet := make(map[string]bool, 7)
	for i, f := range fams {
		if !reFamily.MatchString(f) {
			return defect("family %q has invalid form", f)
		}
		if f != models.CanonicalFamilies[i] {
			return defect("family order violates canon: position %d is %q, want %q",
				i, f, models.CanonicalFamilies[i])
		}
		famSet[f] = true
	}

	if len(art.Registries.Faces) != 14 {
		return defect("expected 14 faces, got %d", len(art.Registries.Faces))
	}
	faceSet := make(map[string]models.Face, 14)
	perFamilyFaces := make(map[string]int, 7)
	for _, f := range art.Registries.Faces {
		if !reFace.MatchString(f.ID) {
			return defect("face id %q has invalid form", f.ID)
		}
		if !famSet[f.Family] {
			return defect("face %s references unknown family %q", f.ID, f.Family)
		}
		if _, dup := faceSet[f.ID]; dup {
			return defect("duplicate face id %s", f.ID)
		}
		faceSet[f.ID] = f
		perFamilyFaces[f.Family]++
	}
	for fam, n := range perFamilyFaces {
		if n != 2 {
			return defect("family %s has %d faces, want 2 siblings", fam, n)
		}
	}

	tellSet := make(map[string]models.Tell, len(art.Registries.Tells))
	for _, t := range art.Registries.Tells {
		if !reTell.MatchString(t.ID) {
			return defect("tell id %q has invalid form", t.ID)
		}
		face, ok := faceSet[t.Face]
		if !ok {
			return defect("tell %s owned by unknown face %q", t.ID, t.Face)
		}
		if t.Family != face.Family {
			return defect("tell %s family %q disagrees with owner face family %q",
				t.ID, t.Family, face.Family)
		}
		if _, dup := tellSet[t.ID]; dup {
			return defect("duplicate tell id %s", t.ID)
		}
		tellSet[t.ID] = t
	}

	if len(art.Questions) != 7 {
		return defect("questions cover %d families, want 7", len(art.Questions))
	}
	seenQID := make(map[string]bool)
	for fam, qs := range art.Questions {
		if !famSet[fam] {
			return defect("questions keyed by unknown family %q", fam)
		}
		if len(qs) != 3 {
			return defect("family %s has %d questions, want 3", fam, len(qs))
		}
		for i, q := range qs {
			if !reQID.MatchString(q.QID) {
				return defect("qid %q has invalid form", q.QID)
			}
			if seenQID[q.QID] {
				return defect("duplicate qid %s", q.QID)
			}
			seenQID[q.QID] = true
			if q.Family != fam {
				return defect("question %s carries family %q under key %q", q.QID, q.Family, fam)
			}
			if q.OrderInFamily != slotOrder[i] {
				return defect("question %s at position %d has slot %s, want %s",
					q.QID, i, q.OrderInFamily, slotOrder[i])
			}
			if len(q.Options) != 2 {
				return defect("question %s has %d options, want 2", q.QID, len(q.Options))
			}
			optKeys := make(map[string]bool, 2)
			for _, opt := range q.Options {
				if opt.Key == "" {
					return defect("question %s has an option with empty key", q.QID)
				}
				if optKeys[opt.Key] {
					return defect("question %s repeats option key %q", q.QID, opt.Key)
				}
				optKeys[opt.Key] = true
				switch opt.LineCOF {
				case models.LineC, models.LineO, models.LineF:
				default:
					return defect("question %s option %s has lineCOF %q", q.QID, opt.Key, opt.LineCOF)
				}
				if len(opt.Tells) > 3 {
					return defect("question %s option %s carries %d tells, max 3",
						q.QID, opt.Key, len(opt.Tells))
				}
				facesTouched := make(map[string]bool, len(opt.Tells))
				for _, tid := range opt.Tells {
					t, ok := tellSet[tid]
					if !ok {
						return defect("question %s option %s references unknown tell %q",
							q.QID, opt.Key, tid)
					}
					if facesTouched[t.Face] {
						return defect("question %s option %s carries two tells for face %s",
							q.QID, opt.Key, t.Face)
					}
					facesTouched[t.Face] = true
				}
			}
		}
	}

	for fam, entry := range art.Registries.ContrastMatrix {
		if !famSet[fam] {
			return defect("contrast matrix keyed by unknown family %q", fam)
		}
		if len(entry.Faces) != 2 {
			return defect("contrast matrix for %s lists %d faces, want 2", fam, len(entry.Faces))
		}
		for _, fid := range entry.Faces {
			face, ok := faceSet[fid]
			if !ok || face.Family != fam {
				return defect("contrast matrix for %s references face %q outside the family", fam, fid)
			}
		}
		for _, tid := range entry.Tells {
			t, ok := tellSet[tid]
			if !ok {
				return defect("contrast matrix for %s references unknown tell %q", fam, tid)
			}
			if t.Family != fam {
				return defect("contrast matrix for %s references tell %s of family %s",
					fam, tid, t.Family)
			}
		}
	}
	// Every tell marked contrast must be listed in its family's matrix.
	for id, t := range tellSet {
		if !t.Contrast {
			continue
		}
		listed := false
		for _, tid := range art.Registries.ContrastMatrix[t.Family].Tells {
			if tid == id {
				listed = true
				break
			}
		}
		if !listed {
			return defect("tell %s is marked contrast but absent from the %s matrix", id, t.Family)
		}
	}

	return nil
}

// freeze builds the immutable loaded form.
func freeze(art *models.BankArtifact) *models.Bank {
	b := &models.Bank{
		Meta:          art.Meta,
		Families:      append([]string(nil), art.Registries.Families...),
		Faces:         make(map[string]models.Face, len(art.Registries.Faces)),
		Tells:         make(map[string]models.Tell, len(art.Registries.Tells)),
		Questions:     make(map[string][]models.Question, len(art.Questions)),
		Constants:     art.Constants,
		Contrast:      make(map[string]models.ContrastEntry, len(art.Registries.ContrastMatrix)),
		ContrastTells: make(map[string]bool),
	}
	for _, f := range art.Registries.Faces {
		b.Faces[f.ID] = f
	}
	for _, t := range art.Registries.Tells {
		b.Tells[t.ID] = t
	}
	for fam, qs := range art.Questions {
		b.Questions[fam] = append([]models.Question(nil), qs...)
	}
	for fam, entry := range art.Registries.ContrastMatrix {
		b.Contrast[fam] = models.ContrastEntry{
			Faces: append([]string(nil), entry.Faces...),
			Tells: append([]string(nil), entry.Tells...),
		}
		for _, tid := range entry.Tells {
			b.ContrastTells[tid] = true
		}
	}
	return b
}
