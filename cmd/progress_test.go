package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressSkippedOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, isTerminal(&buf))

	stop := startSpinner(&buf, "working")
	stop()
	assert.Nil(t, newItemBar(&buf, 5))
	assert.Empty(t, buf.String())
}
