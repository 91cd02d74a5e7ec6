package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
)

// GenerateCode returns a uniformly distributed decimal code of the given
// length without a leading zero, e.g. [100000, 999999] for six digits.
func GenerateCode(length int) (string, error) {
	if length < 1 || length > 18 {
		return "", fmt.Errorf("otp: unsupported code length %d", length)
	}
	low := pow10(length - 1)
	span := new(big.Int).SetInt64(pow10(length) - low)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("otp: random source: %w", err)
	}
	return strconv.FormatInt(low+n.Int64(), 10), nil
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
