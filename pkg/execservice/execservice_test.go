package execservice

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAndWait_CapturesStdout(t *testing.T) {
	s := New()

	result, err := s.RunAndWait([]string{"echo", "hello"})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello", strings.TrimSpace(result.Stdout))
	assert.Empty(t, result.Stderr)
}

func TestRunAndWait_NonzeroExitIsNotAnError(t *testing.T) {
	s := New()

	result, err := s.RunAndWait([]string{"false"})
	require.NoError(t, err)
	assert.NotEqual(t, 0, result.ExitCode)
}

func TestStart_ReturnsBeforeExitAndRecordsPid(t *testing.T) {
	s := New()

	execution, err := s.Start([]string{"sleep", "0.2"})
	require.NoError(t, err)
	assert.Greater(t, execution.Pid, 0)

	result, err := s.WaitFor(execution)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
}

func TestStart_FailsOnMissingExecutable(t *testing.T) {
	s := New()

	_, err := s.Start([]string{"/no/such/binary-anywhere"})
	assert.Error(t, err)
}

func TestStart_FailsOnEmptyCommand(t *testing.T) {
	s := New()

	_, err := s.Start(nil)
	assert.Error(t, err)
}
