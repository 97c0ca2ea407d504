package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: buf})
	return buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestWithComponentChains(t *testing.T) {
	buf := captureJSON(t)

	// call sites chain level methods off the helper directly
	WithComponent("sshpool").Warn().Str("cluster", "cA").Msg("evicting closed client")

	entry := lastEntry(t, buf)
	assert.Equal(t, "sshpool", entry["component"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "cA", entry["cluster"])
	assert.Equal(t, "evicting closed client", entry["message"])
}

func TestChildLoggerFields(t *testing.T) {
	buf := captureJSON(t)

	WithCluster("cA").Info().Msg("probe round")
	assert.Equal(t, "cA", lastEntry(t, buf)["cluster"])

	WithUser("alice").Info().Msg("acquired")
	assert.Equal(t, "alice", lastEntry(t, buf)["username"])

	WithJobID(42).Info().Msg("submitted")
	assert.EqualValues(t, 42, lastEntry(t, buf)["job_id"])
}

func TestChildLoggerReusable(t *testing.T) {
	buf := captureJSON(t)

	logger := WithComponent("streamer")
	logger.Info().Int("port", 30000).Msg("listening")
	logger.Info().Msg("peer connected")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		assert.Equal(t, "streamer", entry["component"])
	}
}

func TestBackendCommand(t *testing.T) {
	buf := captureJSON(t)

	BackendCommand("cA", "alice", "timeout 5 ls -l -- '/u/a'", 2)

	entry := lastEntry(t, buf)
	assert.Equal(t, "ssh", entry["component"])
	assert.Equal(t, "cA", entry["cluster"])
	assert.Equal(t, "alice", entry["username"])
	assert.Equal(t, "timeout 5 ls -l -- '/u/a'", entry["command"])
	assert.EqualValues(t, 2, entry["exit_status"])
	assert.Equal(t, "debug", entry["level"])
}

func TestBackendCommandTruncatesAtNewline(t *testing.T) {
	buf := captureJSON(t)

	BackendCommand("cA", "alice", "sbatch /dev/stdin\n#!/bin/bash\necho hi", 0)

	assert.Equal(t, "sbatch /dev/stdin", lastEntry(t, buf)["command"])
}
