package mock

import (
	"crypto/md5"
	"encoding/binary"
	"math/rand/v2"
)

// stableSeed derives a 32-bit seed from s that is stable across processes
// and platforms.
func stableSeed(s string) uint64 {
	sum := md5.Sum([]byte(s))
	return uint64(binary.BigEndian.Uint32(sum[12:]))
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}
