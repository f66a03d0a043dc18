package security

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplayProtectionRejectsDuplicateWithinWindow(t *testing.T) {
	rp := NewReplayProtection(time.Minute, nil)

	require.True(t, rp.ValidateAndMark("req-1"))
	require.False(t, rp.ValidateAndMark("req-1"))
}

func TestReplayProtectionAllowsAfterWindowExpires(t *testing.T) {
	rp := NewReplayProtection(10*time.Millisecond, nil)

	require.True(t, rp.ValidateAndMark("req-1"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, rp.ValidateAndMark("req-1"))
}

func TestReplayProtectionRejectsEmptyRequestID(t *testing.T) {
	rp := NewReplayProtection(time.Minute, nil)
	require.False(t, rp.ValidateAndMark(""))
}

func TestSanitizeStringMasksForbiddenFields(t *testing.T) {
	raw := `{"requestId":"r1","wrapKeySeed":"supersecret","prfOutput":"alsosecret"}`
	sanitized := SanitizeString(raw)

	require.NotContains(t, sanitized, "supersecret")
	require.NotContains(t, sanitized, "alsosecret")
	require.Contains(t, sanitized, "requestId")
}

func TestSanitizeErrorHandlesNil(t *testing.T) {
	require.Equal(t, "", SanitizeError(nil))
	require.Contains(t, SanitizeError(errors.New("failed: wrapKeySeed:\"x\"")), "failed")
}
