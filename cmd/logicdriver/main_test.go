package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doorYAML = `
name: Door
states:
  - name: Closed
    initial: true
  - name: Open
  - name: Locked
transitions:
  - from: Closed
    to: Open
  - from: Open
    to: Locked
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, _, err := execute(t, "validate", writeFile(t, doorYAML))
	require.NoError(t, err)
	assert.Equal(t, "Door: ok (5 nodes)\n", out)

	broken := writeFile(t, `
name: Broken
states:
  - name: A
transitions:
  - from: A
    to: Missing
`)
	_, _, err = execute(t, "validate", broken)
	assert.Error(t, err)

	_, _, err = execute(t, "validate", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDotCommand(t *testing.T) {
	path := writeFile(t, doorYAML)

	out, _, err := execute(t, "dot", path, "--rankdir", "LR")
	require.NoError(t, err)
	assert.Contains(t, out, `digraph "Door"`)
	assert.Contains(t, out, "rankdir=LR;")
	assert.Contains(t, out, `"Closed" -> "Open";`)

	target := filepath.Join(t.TempDir(), "door.dot")
	out, _, err = execute(t, "dot", path, "-o", target)
	require.NoError(t, err)
	assert.Empty(t, out)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "digraph")

	_, _, err = execute(t, "dot", path, "--machine", "Nope")
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	path := writeFile(t, doorYAML)

	t.Run("guards pass", func(t *testing.T) {
		out, _, err := execute(t, "run", path, "--all-true", "--ticks", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "machine: Door\n")
		assert.Contains(t, out, "active: Locked\n")
		assert.Contains(t, out, "Closed->Open: 1\n")
		assert.Contains(t, out, "Open->Locked: 1\n")
		assert.NotContains(t, out, "unvisited:")
		assert.NotContains(t, out, "violation:")
	})

	t.Run("guards block", func(t *testing.T) {
		out, _, err := execute(t, "run", path, "--ticks", "3")
		require.NoError(t, err)
		assert.Contains(t, out, "ticks: 3\n")
		assert.Contains(t, out, "active: Closed\n")
		assert.Contains(t, out, "unvisited: Locked, Open\n")
	})

	t.Run("replicated", func(t *testing.T) {
		out, _, err := execute(t, "run", path, "--all-true", "--replicate", "--ticks", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "replica: Locked [synced]\n")
	})

	t.Run("logs go to stderr", func(t *testing.T) {
		_, stderr, err := execute(t, "run", path, "--all-true", "--log-level", "info", "--log-format", "json")
		require.NoError(t, err)
		assert.Contains(t, stderr, `"msg":"transition taken"`)
		assert.Contains(t, stderr, `"component":"run"`)
	})

	t.Run("bad flags", func(t *testing.T) {
		_, _, err := execute(t, "run", path, "--ticks=-1")
		assert.Error(t, err)
		_, _, err = execute(t, "run", path, "--log-level", "loud")
		assert.Error(t, err)
		_, _, err = execute(t, "run", path, "--log-format", "xml")
		assert.Error(t, err)
	})
}
