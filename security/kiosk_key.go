package security

import (
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/crypto/bcrypt"
)

const KioskKeyHeader = "X-Kiosk-Key"

func HashKioskKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// RequireKioskKey only lets registered kiosks issue tickets. An empty hash
// disables the check.
func RequireKioskKey(hash string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if hash == "" {
			return e.Next()
		}
		key := e.Request.Header.Get(KioskKeyHeader)
		if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
			return apis.NewUnauthorizedError("Invalid kiosk key", nil)
		}
		return e.Next()
	}
}
