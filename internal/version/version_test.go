package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyBuildInfo(t *testing.T) {
	oldVersion, oldRevision, oldDate := Version, Revision, BuildDate
	t.Cleanup(func() {
		Version, Revision, BuildDate = oldVersion, oldRevision, oldDate
	})

	Version, Revision, BuildDate = devVersion, "HEAD", ""
	applyBuildInfo("v1.2.3", map[string]string{
		"vcs.revision": "abc123",
		"vcs.modified": "true",
		"vcs.time":     "2025-01-01T00:00:00Z",
	})

	assert.Equal(t, "1.2.3", Version)
	assert.Equal(t, "abc123-dirty", Revision)
	assert.Equal(t, "2025-01-01T00:00:00Z", BuildDate)
}

func TestApplyBuildInfo_KeepsLdflags(t *testing.T) {
	oldVersion, oldRevision := Version, Revision
	t.Cleanup(func() {
		Version, Revision = oldVersion, oldRevision
	})

	Version, Revision = "2.0.0", "deadbeef"
	applyBuildInfo("(devel)", map[string]string{"vcs.revision": "abc123"})

	assert.Equal(t, "2.0.0", Version)
	assert.Equal(t, "deadbeef", Revision)
}

func TestUserAgent(t *testing.T) {
	assert.Contains(t, UserAgent(), AppName+"/")
}
