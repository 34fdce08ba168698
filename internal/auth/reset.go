package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const resetTokenBytes = 20

// ResetToken is a freshly minted password-reset secret. Plaintext is mailed
// to the user; only Hash and Expiry are persisted.
type ResetToken struct {
	Plaintext string
	Hash      string
	Expiry    time.Time
}

func NewResetToken(now time.Time, ttl time.Duration) (ResetToken, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return ResetToken{}, fmt.Errorf("auth.NewResetToken: %w", err)
	}
	plaintext := hex.EncodeToString(buf)
	return ResetToken{
		Plaintext: plaintext,
		Hash:      HashResetToken(plaintext),
		Expiry:    now.Add(ttl),
	}, nil
}

// HashResetToken is deterministic so a presented token can be looked up by digest.
func HashResetToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
