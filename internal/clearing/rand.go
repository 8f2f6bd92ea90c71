package clearing

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// RandSource provides random numbers for the haggling roll. Injecting it
// keeps the tie break deterministic under test.
type RandSource interface {
	// Intn returns a random integer in [0, n). Panics if n <= 0.
	Intn(n int) int
}

// cryptoRandSource wraps crypto/rand for callers that do not need replay.
type cryptoRandSource struct{}

func (cryptoRandSource) Intn(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("cryptoRandSource.Intn: n must be positive, got %d", n))
	}
	nBig, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(nBig.Int64())
}

var defaultRandSource RandSource = cryptoRandSource{}

// seededSource is a PCG stream derived from a roll seed. Given the same seed
// it reproduces the same rolls, which is what makes a haggle replayable.
type seededSource struct {
	r *mrand.Rand
}

// NewSeededSource returns a RandSource driven by the 32-byte seed.
func NewSeededSource(seed []byte) RandSource {
	var buf [16]byte
	copy(buf[:], seed)
	return &seededSource{
		r: mrand.New(mrand.NewPCG(binary.LittleEndian.Uint64(buf[:8]), binary.LittleEndian.Uint64(buf[8:]))),
	}
}

func (s *seededSource) Intn(n int) int {
	return s.r.IntN(n)
}

// RollSeed derives the haggling seed of one listing in one cycle as a keyed
// BLAKE2b-256 over the cycle id, listing id and the sorted order ids. The
// secret keeps seeds unpredictable to bidders; publishing it lets an auditor
// recompute every roll.
func RollSeed(secret []byte, cycleID, listingID string, orderIDs []string) ([]byte, error) {
	key := secret
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, fmt.Errorf("clearing: roll seed: %w", err)
	}

	ids := append([]string(nil), orderIDs...)
	sort.Strings(ids)

	h.Write([]byte(cycleID))
	h.Write([]byte{0})
	h.Write([]byte(listingID))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return h.Sum(nil), nil
}

// EncodeSeed renders a seed for the audit record.
func EncodeSeed(seed []byte) string {
	return hex.EncodeToString(seed)
}
