package auth

import "golang.org/x/crypto/bcrypt"

// HashCredential derives the stored credential hash from a plaintext secret.
// The rest of the system treats the result as an opaque string.
func HashCredential(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyCredential reports whether secret matches a stored hash.
func VerifyCredential(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
