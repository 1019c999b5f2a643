package orders

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

var otpPattern = regexp.MustCompile(`^\d{4}$`)

// generateOTP returns a fresh 4-digit delivery code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// isValidOTP reports whether s is exactly four digits.
func isValidOTP(s string) bool {
	return otpPattern.MatchString(s)
}
