package game

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

// selectAirdropWinners picks k distinct addresses from candidates using a
// partial Fisher-Yates shuffle seeded by the round's randomness. At step i
// the swap partner is i + (sha256(seed || i) mod (n-i)); after k steps the
// first k slots hold the winners. Deterministic for a fixed (seed,
// candidates) pair, exactly k distinct winners, no retry loop.
func selectAirdropWinners(seed []byte, candidates []string, k int64) []string {
	n := int64(len(candidates))
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}

	pool := make([]string, n)
	copy(pool, candidates)

	for i := int64(0); i < k; i++ {
		j := i + stepDraw(seed, i, n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	winners := make([]string, k)
	copy(winners, pool[:k])
	return winners
}

// stepDraw derives the step-i draw in [0, mod): sha256 over the seed
// followed by the big-endian step counter, interpreted as a big-endian
// integer, reduced modulo mod.
func stepDraw(seed []byte, step, mod int64) int64 {
	h := sha256.New()
	h.Write(seed)
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(step))
	h.Write(counter[:])
	digest := h.Sum(nil)

	v := new(big.Int).SetBytes(digest)
	v.Mod(v, big.NewInt(mod))
	return v.Int64()
}
