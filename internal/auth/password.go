package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations は PBKDF2 の既定反復回数です。
	DefaultIterations = 150_000

	saltLength = 16
	keyLength  = sha256.Size
)

// HashPassword は PBKDF2-HMAC-SHA256 でパスワードをハッシュ化し、
// "反復回数$ソルト(hex)$導出鍵(hex)" の形式で返します。
func HashPassword(password string) (string, error) {
	return hashPasswordWithIterations(password, DefaultIterations)
}

func hashPasswordWithIterations(password string, iterations int) (string, error) {
	if iterations <= 0 {
		return "", fmt.Errorf("iterations must be positive")
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	dk := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
	return fmt.Sprintf("%d$%s$%s", iterations, hex.EncodeToString(salt), hex.EncodeToString(dk)), nil
}

// VerifyPassword は保存済みハッシュとパスワードを照合します。
// 形式が壊れているハッシュは常に不一致として扱います。
func VerifyPassword(stored, password string) bool {
	if strings.HasPrefix(stored, "$2") {
		// 旧システムから移行した bcrypt ハッシュ
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}

	parts := strings.Split(stored, "$")
	if len(parts) != 3 {
		return false
	}
	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(parts[2])
	if err != nil || len(expected) == 0 {
		return false
	}

	dk := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(dk, expected) == 1
}
