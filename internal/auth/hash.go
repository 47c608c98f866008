package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// Hasher produces and verifies salted password hashes. The stored form is
// "salt:base64(hmac-sha256(text:salt, secret))"; the secret is a deployment
// constant, so hashes are only portable between installations sharing it.
type Hasher struct {
	secret string
}

func NewHasher(secret string) *Hasher {
	return &Hasher{secret: secret}
}

func (h *Hasher) hmac(text string) string {
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(text))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Hash returns the stored form of text under a fresh random salt.
func (h *Hasher) Hash(text string) string {
	salt := Alphanum(32)
	return salt + ":" + h.hmac(text+":"+salt)
}

// Verify reports whether text matches the stored hash.
func (h *Hasher) Verify(text, stored string) bool {
	salt, want, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	got := h.hmac(text + ":" + salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
