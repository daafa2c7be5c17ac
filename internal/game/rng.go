package game

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
)

// NewRNG returns a ChaCha8 generator seeded from crypto/rand. It is owned by
// a single engine loop and is not safe for concurrent use.
func NewRNG() (*rand.Rand, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return rand.New(rand.NewChaCha8(seed)), nil
}
