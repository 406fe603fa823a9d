package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompareAPIKeyMatchesAndRejects(t *testing.T) {
	require.True(t, CompareAPIKey("secret", "secret"))
	require.False(t, CompareAPIKey("secret", "wrong"))
	require.False(t, CompareAPIKey("", "anything"))
}

func TestHashAndVerifyAPIKeyRoundTrip(t *testing.T) {
	hash, err := HashAPIKey("shared-secret")
	require.NoError(t, err)
	require.NotEqual(t, "shared-secret", hash)

	require.True(t, VerifyAPIKey(hash, "shared-secret"))
	require.False(t, VerifyAPIKey(hash, "wrong-secret"))
}

func TestNewPhotoURLTokenVerifiesBeforeExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token, expires := NewPhotoURLToken("shh", 42, 10*time.Minute, now)

	require.True(t, VerifyPhotoURLToken("shh", 42, expires, token, now.Add(5*time.Minute)))
	require.False(t, VerifyPhotoURLToken("shh", 42, expires, token, now.Add(11*time.Minute)), "token must reject after expiry")
}

func TestVerifyPhotoURLTokenRejectsWrongPhotoOrSecret(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token, expires := NewPhotoURLToken("shh", 42, 10*time.Minute, now)

	require.False(t, VerifyPhotoURLToken("shh", 43, expires, token, now), "token must be bound to its photo id")
	require.False(t, VerifyPhotoURLToken("different", 42, expires, token, now), "token must be bound to its signing secret")
}

func TestParseExpiresRejectsNonNumeric(t *testing.T) {
	_, err := ParseExpires("not-a-number")
	require.Error(t, err)

	v, err := ParseExpires("1700000000")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), v)
}
