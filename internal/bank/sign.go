package bank

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rawblock/persona-engine/internal/canonical"
	"github.com/rawblock/persona-engine/pkg/models"
)

// The hash and signature cover the canonical artifact with the
// authentication fields themselves removed, so signing is not circular.
var authFields = []string{"bank_hash", "signature", "signed_by"}

// payloadBytes returns the canonical bytes of the artifact minus the
// authentication metadata.
func payloadBytes(raw []byte) ([]byte, error) {
	v, err := canonical.FromJSON(raw)
	if err != nil {
		return nil, err
	}
	root, ok := v.(canonical.Map)
	if !ok {
		return nil, models.Errf(models.ErrBankDefect, "artifact root is not an object")
	}
	meta, ok := root["meta"].(canonical.Map)
	if !ok {
		return nil, models.Errf(models.ErrBankDefect, "artifact has no meta object")
	}
	stripped := make(canonical.Map, len(meta))
	for k, mv := range meta {
		stripped[k] = mv
	}
	for _, f := range authFields {
		delete(stripped, f)
	}
	// Shallow copy of the root so the caller's tree is untouched.
	payload := make(canonical.Map, len(root))
	for k, rv := range root {
		payload[k] = rv
	}
	payload["meta"] = stripped
	return canonical.Bytes(payload), nil
}

// ComputeHash returns the canonical bank hash for a serialized artifact.
func ComputeHash(raw []byte) (string, error) {
	payload, err := payloadBytes(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func computeSignature(payload, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign fills in bank_hash and signature on an artifact and returns the
// completed serialized form. Used by bank authoring and by test fixtures.
func Sign(artifact models.BankArtifact, key []byte, signedBy string) ([]byte, error) {
	artifact.Meta.BankHash = ""
	artifact.Meta.Signature = ""
	artifact.Meta.SignedBy = ""
	raw, err := json.Marshal(artifact)
	if err != nil {
		return nil, models.Errf(models.ErrBankDefect, "artifact not serializable: %v", err)
	}
	payload, err := payloadBytes(raw)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(payload)
	artifact.Meta.BankHash = hex.EncodeToString(sum[:])
	artifact.Meta.Signature = computeSignature(payload, key)
	artifact.Meta.SignedBy = signedBy
	return json.Marshal(artifact)
}
