package auth

import "golang.org/x/crypto/bcrypt"

// hashPassword derives a salted one-way hash at the configured cost.
func (a *API) hashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), a.cfg.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword reports whether plaintext matches the stored hash.
// A malformed or empty hash is a mismatch, never an error: OAuth-only
// accounts store no hash and must fail credential login uniformly.
func verifyPassword(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
