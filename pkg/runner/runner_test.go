package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests rely on sh")
	}
}

func TestRunStreamsLinesToSinkAndFile(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out", "echo.txt")

	var lines []string
	path, code, err := Run(context.Background(), Command{
		Argv:       []string{"sh", "-c", "echo one; echo two 1>&2"},
		Dir:        dir,
		OutputPath: out,
	}, func(line string) { lines = append(lines, line) })

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, out, path)

	// stdout and stderr are merged into one stream.
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "one\n")
	assert.Contains(t, content, "two\n")

	// Sink saw the payload lines plus the completion line.
	require.GreaterOrEqual(t, len(lines), 3)
	last := lines[len(lines)-1]
	assert.True(t, strings.Contains(last, "finished with code 0"), "completion line missing: %s", last)
}

func TestRunNonZeroExitReturnsNoPath(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "fail.txt")

	path, code, err := Run(context.Background(), Command{
		Argv:       []string{"sh", "-c", "echo partial; exit 3"},
		Dir:        dir,
		OutputPath: out,
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Empty(t, path)

	// The file still holds whatever was produced before the failure.
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "partial")
}

func TestRunEnvOverrides(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "env.txt")

	path, code, err := Run(context.Background(), Command{
		Argv:       []string{"sh", "-c", "echo $SUBSENTRY_TEST_VAR"},
		Dir:        dir,
		OutputPath: out,
		Env:        map[string]string{"SUBSENTRY_TEST_VAR": "injected"},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "injected\n", string(data))
}

func TestRunEmptyCommand(t *testing.T) {
	_, _, err := Run(context.Background(), Command{OutputPath: filepath.Join(t.TempDir(), "x.txt")}, nil)
	assert.True(t, errors.Is(err, ErrEmptyCommand))
}

func TestRunMissingExecutable(t *testing.T) {
	_, _, err := Run(context.Background(), Command{
		Argv:       []string{"definitely-not-a-real-binary-1b2c3d"},
		Dir:        t.TempDir(),
		OutputPath: filepath.Join(t.TempDir(), "x.txt"),
	}, nil)
	require.Error(t, err)
}

func TestAvailable(t *testing.T) {
	skipOnWindows(t)
	assert.True(t, Available("sh"))
	assert.False(t, Available("definitely-not-a-real-binary-1b2c3d"))
}
