package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluvius-io/ordinal/internal/journal"
)

// execute runs the root command with args and returns stdout and the
// command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestRun_TextTraceMatchesGolden(t *testing.T) {
	out, err := execute(t,
		"run",
		"--rules", filepath.Join("testdata", "rules.yaml"),
		"--facts", filepath.Join("testdata", "facts.yaml"),
	)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_trace", []byte(out))
}

func TestRun_JSONOutput(t *testing.T) {
	out, err := execute(t,
		"run",
		"--format", "json",
		"--rules", filepath.Join("testdata", "rules.yaml"),
		"--facts", filepath.Join("testdata", "facts.yaml"),
	)
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Data.RunToken)
	assert.Equal(t, "idle", resp.Data.FinalState)
	assert.Equal(t, 2, resp.Data.Steps)
	assert.Equal(t, 2, resp.Data.Facts)
	require.Len(t, resp.Data.Firings, 2)
	assert.Equal(t, "priority-order", resp.Data.Firings[0].RuleID)
	assert.Equal(t, "count-escalations", resp.Data.Firings[1].RuleID)
	assert.NotEmpty(t, resp.Data.Firings[0].BindingKey)
}

func TestRun_MaxStepsHalts(t *testing.T) {
	out, err := execute(t,
		"run",
		"--format", "json",
		"--max-steps", "1",
		"--rules", filepath.Join("testdata", "rules.yaml"),
		"--facts", filepath.Join("testdata", "facts.yaml"),
	)
	require.NoError(t, err)

	var resp struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "halted", resp.Data.FinalState)
	assert.Equal(t, 1, resp.Data.Steps)
}

func TestRun_WritesJournal(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "run.db")

	_, err := execute(t,
		"run",
		"--rules", filepath.Join("testdata", "rules.yaml"),
		"--facts", filepath.Join("testdata", "facts.yaml"),
		"--journal", journalPath,
	)
	require.NoError(t, err)

	j, err := journal.Open(journalPath, nil)
	require.NoError(t, err)
	defer j.Close()

	runs, err := j.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "idle", runs[0].FinalState)
	assert.Equal(t, 2, runs[0].Steps)

	firings, err := j.Firings(runs[0].RunToken)
	require.NoError(t, err)
	require.Len(t, firings, 2)
	assert.Equal(t, "priority-order", firings[0].RuleID)
	assert.Equal(t, "count-escalations", firings[1].RuleID)
}

func TestRun_MissingRulesFile(t *testing.T) {
	_, err := execute(t, "run", "--rules", filepath.Join("testdata", "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_InvalidFormatFlag(t *testing.T) {
	_, err := execute(t, "run", "--format", "xml", "--rules", filepath.Join("testdata", "rules.yaml"))
	require.Error(t, err)
}
