package bridge

import "hash/fnv"

// magicNumberBase and magicNumberRange bound the attribution tag written
// by createMarketOrder into [100000, 999999] (spec §4.1, §4.6, §8).
const (
	magicNumberBase  = 100000
	magicNumberRange = 900000
)

// MagicNumber deterministically derives a 6-digit MT4 magic number from a
// user id. It is not cryptographic; collisions are tolerable at the scale
// of one broker account (spec §4.6).
func MagicNumber(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	sum := h.Sum32()
	return magicNumberBase + int(sum%magicNumberRange)
}
