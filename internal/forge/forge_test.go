package forge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConclusion(t *testing.T) {
	assert.Equal(t, "failure", checkConclusion("REQUEST_CHANGES"))
	assert.Equal(t, "success", checkConclusion("APPROVE"))
	assert.Equal(t, "neutral", checkConclusion("COMMENT"))
	assert.Equal(t, "neutral", checkConclusion("unknown"))
}

func TestNewGitHubAppClientRejectsInvalidKey(t *testing.T) {
	_, err := NewGitHubAppClient(123, []byte("not a pem key"), "")
	require.Error(t, err)
}

func TestInstallationKeyIsStableAndDistinct(t *testing.T) {
	c := &GitHubAppClient{}
	assert.Equal(t, c.installationKey(1), c.installationKey(1))
	assert.NotEqual(t, c.installationKey(1), c.installationKey(2))
}
