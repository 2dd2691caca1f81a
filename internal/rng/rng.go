// Package rng implements the session-local deterministic random stream.
//
// The stream is SHA-256 in counter mode: the seed key is
// SHA-256(session_seed | bank_hash | constants_profile) and block i is
// SHA-256(key || big-endian(i)). The construction is fixed by contract —
// math/rand is not usable here because its sequences are not stable across
// Go releases and its state is not portable between processes, and replay
// requires both.
package rng

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Stream is a deterministic generator of uniform 64-bit words. It is not
// safe for concurrent use; each session owns exactly one.
type Stream struct {
	key     [32]byte
	counter uint64
	buf     []byte // unread remainder of the current block
}

// New derives a stream from the session identity triple.
func New(sessionSeed, bankHash, constantsProfile string) *Stream {
	key := sha256.Sum256([]byte(sessionSeed + "|" + bankHash + "|" + constantsProfile))
	return &Stream{key: key}
}

func (s *Stream) block(i uint64) []byte {
	var msg [40]byte
	copy(msg[:32], s.key[:])
	binary.BigEndian.PutUint64(msg[32:], i)
	sum := sha256.Sum256(msg[:])
	return sum[:]
}

// UniformU64 returns the next uniform 64-bit word of the stream.
func (s *Stream) UniformU64() uint64 {
	if len(s.buf) < 8 {
		s.buf = s.block(s.counter)
		s.counter++
	}
	v := binary.BigEndian.Uint64(s.buf[:8])
	s.buf = s.buf[8:]
	return v
}

// Bounded returns a uniform value in [0, n) using rejection sampling, so no
// modulo bias for any n up to 2^63. Panics on n <= 0: bound errors are
// programming defects, not runtime conditions.
func (s *Stream) Bounded(n uint64) uint64 {
	if n == 0 {
		panic("rng: Bounded(0)")
	}
	if n&(n-1) == 0 { // power of two
		return s.UniformU64() & (n - 1)
	}
	// Largest multiple of n that fits in 64 bits; values at or above it
	// would bias the low residues.
	limit := (^uint64(0) / n) * n
	for {
		v := s.UniformU64()
		if v < limit {
			return v % n
		}
	}
}

// Shuffle performs a Fisher–Yates shuffle over n elements.
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := int(s.Bounded(uint64(i + 1)))
		swap(i, j)
	}
}

// Choice returns a uniform index into a sequence of length n.
func (s *Stream) Choice(n int) int {
	if n <= 0 {
		panic("rng: Choice of empty sequence")
	}
	return int(s.Bounded(uint64(n)))
}

// ShuffleStrings shuffles a copy of the input, leaving the original intact.
func (s *Stream) ShuffleStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	s.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// streamState is the serialized form. The buffer is not stored: it is
// recomputed from the previous counter value on restore.
type streamState struct {
	Key       string `json:"key"`
	Counter   uint64 `json:"counter"`
	Remaining int    `json:"remaining"`
}

// MarshalJSON serializes the stream so a snapshotted session resumes with
// an identical word sequence.
func (s *Stream) MarshalJSON() ([]byte, error) {
	return json.Marshal(streamState{
		Key:       hex.EncodeToString(s.key[:]),
		Counter:   s.counter,
		Remaining: len(s.buf),
	})
}

// UnmarshalJSON restores a serialized stream.
func (s *Stream) UnmarshalJSON(raw []byte) error {
	var st streamState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	key, err := hex.DecodeString(st.Key)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("rng: bad key in serialized state")
	}
	if st.Remaining < 0 || st.Remaining > 32 {
		return fmt.Errorf("rng: bad remaining count %d", st.Remaining)
	}
	copy(s.key[:], key)
	s.counter = st.Counter
	s.buf = nil
	if st.Remaining > 0 {
		if st.Counter == 0 {
			return fmt.Errorf("rng: remainder with zero counter")
		}
		block := s.block(st.Counter - 1)
		s.buf = block[len(block)-st.Remaining:]
	}
	return nil
}
