package cryptoenv

import "crypto/sha256"

func sha256Sum(material string) []byte {
	sum := sha256.Sum256([]byte(material))
	return sum[:]
}
