// Package security implements the auth primitives the out-of-scope HTTP
// router calls into: constant-time API key comparison, bcrypt hashing for
// camera-node shared secrets, and HMAC-signed photo URLs.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CompareAPIKey reports whether provided matches expected using a
// constant-time comparison, so a timing side-channel can't leak the key
// byte by byte.
func CompareAPIKey(expected, provided string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// HashAPIKey bcrypt-hashes a camera node's shared secret for storage in
// camera_nodes.api_key_hash.
func HashAPIKey(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("security: hash api key: %w", err)
	}
	return string(hash), nil
}

// VerifyAPIKey reports whether secret matches the bcrypt hash stored for a
// camera node.
func VerifyAPIKey(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// SignPhotoURL builds the signed-URL token for a photo: an HMAC-SHA-256 of
// "{photoID}.{expires}" keyed on secret, where expires is a unix-seconds
// timestamp.
func SignPhotoURL(secret string, photoID int64, expires int64) string {
	msg := fmt.Sprintf("%d.%d", photoID, expires)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewPhotoURLToken signs a photo URL valid for ttl from now, returning the
// token and the expires value the caller embeds alongside it.
func NewPhotoURLToken(secret string, photoID int64, ttl time.Duration, now time.Time) (token string, expires int64) {
	expires = now.Add(ttl).Unix()
	return SignPhotoURL(secret, photoID, expires), expires
}

// VerifyPhotoURLToken checks a signed photo URL token: the signature must
// match and expires must not have passed as of now.
func VerifyPhotoURLToken(secret string, photoID int64, expires int64, token string, now time.Time) bool {
	if now.Unix() > expires {
		return false
	}
	want := SignPhotoURL(secret, photoID, expires)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(token)))
}

// ParseExpires parses the "expires" URL query value into a unix timestamp.
func ParseExpires(raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("security: invalid expires value %q: %w", raw, err)
	}
	return v, nil
}
