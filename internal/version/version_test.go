package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	v, sha, bt := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = v, sha, bt })

	assert.Equal(t, "canfd-gateway dev (unknown, built unknown)", String())

	Version, GitSHA, BuildTime = "1.2.0", "abc1234", "2025-05-01T08:30:00Z"
	assert.Equal(t, "canfd-gateway 1.2.0 (abc1234, built 2025-05-01T08:30:00Z)", String())
}
