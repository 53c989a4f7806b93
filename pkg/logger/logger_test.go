package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogger_DropsEmptyStringAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Info("executor: attempt", "sql", "SELECT 1", "empty", "")

	out := buf.String()
	require.Contains(t, out, "executor: attempt")
	require.Contains(t, out, "SELECT 1")
	require.NotContains(t, out, "empty=")
}

func TestLogger_VerboseEnablesDebug(t *testing.T) {
	t.Parallel()

	var quiet, verbose bytes.Buffer
	NewWithWriter(&quiet, false).Debug("hidden")
	NewWithWriter(&verbose, true).Debug("shown")

	require.Empty(t, quiet.String())
	require.Contains(t, verbose.String(), "shown")
}
