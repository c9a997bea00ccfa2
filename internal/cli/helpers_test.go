package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/idem/internal/app"
	"github.com/roach88/idem/internal/testutil"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// cliEnv runs commands against one sqlite file with a shared fake clock.
type cliEnv struct {
	db    string
	clock *testutil.FakeClock
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	return &cliEnv{
		db:    filepath.Join(t.TempDir(), "idem.db"),
		clock: testutil.NewFakeClock(t0),
	}
}

// run executes the root command with args after the global store flags.
func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	full := append([]string{"--store", "sqlite", "--db", e.db}, args...)
	return runCLI(t, &RootOptions{appOptions: []app.Option{app.WithClock(e.clock)}}, full...)
}

func runCLI(t *testing.T, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	return runCLIContext(t, context.Background(), opts, args...)
}

func runCLIContext(t *testing.T, ctx context.Context, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}
