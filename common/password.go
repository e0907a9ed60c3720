package common

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Password2Hash hashes a plaintext password with bcrypt.
func Password2Hash(password string) (string, error) {
	passwordBytes := []byte(password)
	hashedPassword, err := bcrypt.GenerateFromPassword(passwordBytes, bcrypt.DefaultCost)
	return string(hashedPassword), err
}

// ValidatePasswordAndHash accepts either a bcrypt hash (detected by the
// "$2" prefix) or a stored plaintext value.
func ValidatePasswordAndHash(password string, stored string) bool {
	if strings.HasPrefix(stored, "$2") {
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
		return err == nil
	}
	return stored != "" && stored == password
}
