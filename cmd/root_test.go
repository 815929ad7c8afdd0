// File: cmd/root_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "studypilot version Alpha")
}

func TestRootCmd_VersionCommandNeedsNoConfig(t *testing.T) {
	clearCredentialEnv(t)
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "studypilot version Alpha\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "StudyPilot works through the courses and practices of an e-learning site.")
	for _, sub := range []string{"run", "discover", "classify", "follow", "version"} {
		assert.Contains(t, out, sub)
	}
}
