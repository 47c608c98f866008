package auth

import "crypto/rand"

const alphanumCharset = "0123456789QWERTYUIOPASDFGHJKLZXCVBNMqwertyuiopasdfghjklzxcvbnm"

// Alphanum returns a random alphanumeric token of the given length, suitable
// for session ids, secrets and generated passwords.
func Alphanum(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alphanumCharset[int(b)%len(alphanumCharset)]
	}
	return string(out)
}
