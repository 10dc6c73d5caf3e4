package flagkit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetUserAgent(t *testing.T) {
	// Given/When
	userAgent := getUserAgent()

	// Then - should return a non-empty string
	assert.NotEmpty(t, userAgent, "User-Agent should not be empty")
}

func TestGetUserAgentValidFormats(t *testing.T) {
	// Given/When
	userAgent := getUserAgent()

	// Then - should be either a valid version or "unknown"
	parts := strings.Split(userAgent, "/")
	assert.Equal(t, 2, len(parts), "User-Agent should have exactly two parts separated by '/'")
	assert.Equal(t, "flagkit-go-sdk", parts[0])

	versionPart := parts[1]
	isValid := versionPart == "unknown" || strings.HasPrefix(versionPart, "v")
	assert.True(t, isValid, "Version should be 'unknown' or start with 'v', got: %s", versionPart)
	assert.Equal(t, versionPart, sdkVersion())
}
