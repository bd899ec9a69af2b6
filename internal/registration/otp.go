package registration

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	otpDigits = 6
	codeSpace = 1_000_000
)

// generateCode returns a random zero-padded numeric one-time code. Draws
// outside the largest multiple of the code space are rejected so every code
// is equally likely.
func generateCode() (string, error) {
	const limit = uint32((1 << 32) / codeSpace * codeSpace)
	for {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		n := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		if n >= limit {
			continue
		}
		return fmt.Sprintf("%0*d", otpDigits, n%codeSpace), nil
	}
}

// hashCode hashes a one-time code for storage; raw codes are never persisted.
func hashCode(code string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
}

// checkCode compares a submitted code against the stored hash. bcrypt's
// comparison is constant time with respect to the code.
func checkCode(hash []byte, code string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(code)) == nil
}
