// Package idgen produces unguessable identifiers and secrets.
package idgen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const charset = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateSecureID returns prefix_ followed by length random alphanumeric characters.
func GenerateSecureID(prefix string, length int) (string, error) {
	s, err := randomString(length)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return s, nil
	}
	return fmt.Sprintf("%s_%s", prefix, s), nil
}

// GenerateToken returns n random bytes encoded as unpadded base64url.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func randomString(length int) (string, error) {
	// Rejection sampling keeps the distribution uniform over the charset.
	const maxByte = 252 // largest multiple of 36 below 256
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= maxByte {
				continue
			}
			out = append(out, charset[int(b)%len(charset)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
