package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenenazirov/gnn-trainconf/internal/schedule"
	"github.com/eugenenazirov/gnn-trainconf/internal/trainconfig"
)

const fixture = "../../internal/trainconfig/testdata/edge_only.yaml"

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--log-level=error"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// writeVariant stores a copy of the fixture with one substitution applied.
func writeVariant(t *testing.T, old, replacement string) string {
	t.Helper()
	data, err := os.ReadFile(fixture)
	require.NoError(t, err)
	require.Contains(t, string(data), old)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), old, replacement, 1)), 0o600))
	return path
}

func TestCheckValidDocument(t *testing.T) {
	code, stdout, stderr := execute(t, "check", fixture)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "ok: "+fixture)
	assert.Contains(t, stdout, "model cluster_gnn")
	assert.Contains(t, stdout, "1000 iterations")
	assert.NotContains(t, stdout, "warning:")
}

func TestCheckResolvesComponents(t *testing.T) {
	code, _, stderr := execute(t, "check", "--resolve", fixture)
	require.Equal(t, exitOK, code, stderr)

	path := writeVariant(t, "name: cluster_gnn", "name: my_gnn")
	code, _, stderr = execute(t, "check", "--resolve", path)
	require.Equal(t, exitInvalid, code)
	assert.Contains(t, stderr, "[unknown_identifier]")
	assert.Contains(t, stderr, "model.name")

	code, _, stderr = execute(t, "check", "--resolve", "--component", "model:my_gnn", path)
	assert.Equal(t, exitOK, code, stderr)
}

func TestCheckComponentImpliesResolve(t *testing.T) {
	path := writeVariant(t, "name: cluster_gnn", "name: my_gnn")

	code, _, stderr := execute(t, "check", "--component", "model:other_gnn", path)
	assert.Equal(t, exitInvalid, code)
	assert.Contains(t, stderr, "model.name")

	code, stdout, stderr := execute(t, "check", "--component", "model:my_gnn", path)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "model my_gnn")
}

func TestCheckRejectsBadComponentFlag(t *testing.T) {
	code, _, stderr := execute(t, "check", "--component", "widget:thing", fixture)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "want kind:name")

	code, _, stderr = execute(t, "check", "--component", "model:two words", fixture)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "two words")
}

func TestCheckReportsIssues(t *testing.T) {
	path := writeVariant(t, "batch_size: 8\n  shuffle", "batch_size: eight\n  shuffle")
	code, stdout, stderr := execute(t, "check", path)
	assert.Equal(t, exitInvalid, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "[type_mismatch]")
	assert.Contains(t, stderr, "iotool.batch_size")
}

func TestCheckStrictBatchSize(t *testing.T) {
	path := writeVariant(t, "name: RandomSequenceSampler\n    batch_size: 8", "name: RandomSequenceSampler\n    batch_size: 16")

	code, stdout, stderr := execute(t, "check", path)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "warning: iotool.sampler.batch_size")

	code, _, stderr = execute(t, "check", "--strict", path)
	assert.Equal(t, exitInvalid, code)
	assert.Contains(t, stderr, "iotool.sampler.batch_size")
}

func TestCheckPaths(t *testing.T) {
	code, _, stderr := execute(t, "check", "--check-paths", fixture)
	assert.Equal(t, exitInvalid, code)
	assert.Contains(t, stderr, "[invalid_path]")
}

func TestCheckMissingFile(t *testing.T) {
	code, _, stderr := execute(t, "check", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, exitInvalid, code)
	assert.Contains(t, stderr, "absent.yaml")
}

func TestDumpRoundTrips(t *testing.T) {
	code, stdout, stderr := execute(t, "dump", fixture)
	require.Equal(t, exitOK, code, stderr)

	original, err := trainconfig.Load(fixture)
	require.NoError(t, err)
	dumped, err := trainconfig.Parse([]byte(stdout))
	require.NoError(t, err)
	assert.Equal(t, original, dumped)
}

func TestPlanJSON(t *testing.T) {
	code, stdout, stderr := execute(t, "plan", "--format=json", "--events", "--limit=3", fixture)
	require.Equal(t, exitOK, code, stderr)

	var out struct {
		Plan   schedule.Plan    `json:"plan"`
		Events []schedule.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, 10, out.Plan.CheckpointCount)
	assert.Equal(t, "weights/edge_gnn/snapshot-999.ckpt", out.Plan.WeightFiles[9])
	assert.True(t, out.Plan.MinibatchDisabled)
	require.Len(t, out.Events, 3)
	assert.Equal(t, 1, out.Events[0].Step)
}

func TestPlanYAML(t *testing.T) {
	code, stdout, stderr := execute(t, "plan", fixture)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "checkpoint_count: 10")
	assert.NotContains(t, stdout, "events:")
}

func TestUsageErrors(t *testing.T) {
	code, _, _ := execute(t)
	assert.Equal(t, exitUsage, code)

	code, _, _ = execute(t, "plan", "--format=xml", fixture)
	assert.Equal(t, exitUsage, code)
}
