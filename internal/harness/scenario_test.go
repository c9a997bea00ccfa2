package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: parsed
description: all fields
start: 2024-06-01T12:00:00Z
window: 1h
retention: 2h
steps:
  - name: one
    advance: 5m
    concurrent: 3
    policy:
      skip_if_pending: true
      retry_on_error: true
      retention: 10m
    descriptor:
      principal: u1
      resource: s9
      action: pay
      payload: {amount: 1000}
      window: 15m
    outcome:
      result: {ok: true}
    expect:
      outcomes: {executed: 1, ALREADY_IN_PROGRESS: 2}
      invocations: 1
      status: success
`))
	require.NoError(t, err)

	assert.Equal(t, "parsed", s.Name)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), s.Start.UTC())
	assert.Equal(t, time.Hour, s.Window)
	assert.Equal(t, 2*time.Hour, s.Retention)

	require.Len(t, s.Steps, 1)
	step := s.Steps[0]
	assert.Equal(t, 5*time.Minute, step.Advance)
	assert.Equal(t, 3, step.Concurrent)
	assert.Equal(t, PolicySpec{SkipIfPending: true, RetryOnError: true, Retention: 10 * time.Minute}, step.Policy)
	assert.Equal(t, "15m", step.Descriptor.Window)
	assert.Equal(t, map[string]any{"amount": 1000}, step.Descriptor.Payload)
	require.NotNil(t, step.Expect.Invocations)
	assert.Equal(t, 1, *step.Expect.Invocations)
	assert.Equal(t, map[string]int{"executed": 1, "ALREADY_IN_PROGRESS": 2}, step.Expect.Outcomes)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nstesp: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{name: a}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nsteps: [{name: a}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: d\nsteps: []\n",
			want: "steps list is required",
		},
		{
			name: "unnamed step",
			yaml: "name: x\ndescription: d\nsteps: [{advance: 1m}]\n",
			want: "steps[0]: name is required",
		},
		{
			name: "two outcomes",
			yaml: "name: x\ndescription: d\nsteps: [{name: a, outcome: {result: 1, error: e}}]\n",
			want: "at most one of result, error, panic",
		},
		{
			name: "negative advance",
			yaml: "name: x\ndescription: d\nsteps: [{name: a, advance: -1m}]\n",
			want: "advance must not be negative",
		},
		{
			name: "unknown source",
			yaml: "name: x\ndescription: d\nsteps: [{name: a, expect: {source: cached}}]\n",
			want: `unknown source "cached"`,
		},
		{
			name: "unknown error",
			yaml: "name: x\ndescription: d\nsteps: [{name: a, expect: {error: TIMEOUT}}]\n",
			want: `unknown error "TIMEOUT"`,
		},
		{
			name: "source and error",
			yaml: "name: x\ndescription: d\nsteps: [{name: a, expect: {source: executed, error: PANIC}}]\n",
			want: "mutually exclusive",
		},
		{
			name: "single-call expectation on concurrent step",
			yaml: "name: x\ndescription: d\nsteps: [{name: a, concurrent: 2, expect: {source: executed}}]\n",
			want: "use outcomes for concurrent steps",
		},
		{
			name: "unknown outcome label",
			yaml: "name: x\ndescription: d\nsteps: [{name: a, expect: {outcomes: {cached: 1}}}]\n",
			want: `unknown outcome label "cached"`,
		},
		{
			name: "unknown status",
			yaml: "name: x\ndescription: d\nsteps: [{name: a, expect: {status: done}}]\n",
			want: `unknown status "done"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	files, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, files)

	single, err := FindScenarios(files[0])
	require.NoError(t, err)
	assert.Equal(t, files[:1], single)
}

func TestFindScenarios_Errors(t *testing.T) {
	_, err := FindScenarios(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "scenario path")

	_, err = FindScenarios(t.TempDir())
	assert.ErrorIs(t, err, ErrNoScenarios)
}
