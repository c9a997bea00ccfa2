package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/idem/internal/engine"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Descriptor    DescriptorFlags
	SkipIfPending bool
	RetryOnError  bool
	Retention     time.Duration
}

// ExecOutput is the exec command's JSON result.
type ExecOutput struct {
	Key    string `json:"key"`
	Source string `json:"source"`
	Result string `json:"result"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec [descriptor flags] -- <command> [args...]",
		Short: "Run a command at most once per request",
		Long: `Run a command at most once per logical request.

The command's stdout is stored as the request's result and printed. Running
exec again with the same descriptor inside the same time bucket prints the
stored output without running the command. A non-zero exit is recorded as
a failure; later calls report it unless --retry-on-error is given.

Exit codes:
  0 - Command ran (or was replayed) successfully
  1 - Command failed, previously failed, or is already in progress
  2 - Command error (invalid descriptor, store unreachable, etc.)

Examples:
  idem exec --principal u1 --resource s9 --action pay --payload '{"amount":1000}' -- ./charge.sh s9 1000
  idem exec -f nightly.yaml --retry-on-error -- make release`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, opts, args)
		},
	}

	opts.Descriptor.register(cmd.Flags())
	cmd.Flags().BoolVar(&opts.SkipIfPending, "skip-if-pending", false, "fail instead of waiting when the request is in progress")
	cmd.Flags().BoolVar(&opts.RetryOnError, "retry-on-error", false, "run again if the previous attempt failed")
	cmd.Flags().DurationVar(&opts.Retention, "retention", 0, "how long to keep the result (default from config)")

	return cmd
}

func runExec(cmd *cobra.Command, opts *ExecOptions, args []string) error {
	out := opts.formatter(cmd)

	d, err := opts.Descriptor.Descriptor()
	if err != nil {
		return wrapDescriptorError(out, err)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	policy := engine.Policy{
		SkipIfPending: opts.SkipIfPending,
		RetryOnError:  opts.RetryOnError,
		Retention:     opts.Retention,
	}
	res, err := a.Engine.Execute(ctx, d, commandOperation(args, cmd.ErrOrStderr()), policy)
	if err != nil {
		return out.Fail(err, map[string]string{"key": string(res.Key)})
	}

	var stdout string
	if len(res.Value) > 0 {
		if err := json.Unmarshal(res.Value, &stdout); err != nil {
			// Stored by something other than exec.
			stdout = string(res.Value)
		}
	}
	out.VerboseLog("%s (%s)", res.Key, res.Source)

	if out.Format == "json" {
		return out.Success(ExecOutput{Key: string(res.Key), Source: string(res.Source), Result: stdout})
	}
	_, err = io.WriteString(out.Writer, stdout)
	return err
}

// commandOperation runs args as a child process. Its stdout, as a JSON
// string, is the result; stderr streams to errOut.
func commandOperation(args []string, errOut io.Writer) engine.Operation {
	return func(ctx context.Context) (json.RawMessage, error) {
		var stdout bytes.Buffer
		c := exec.CommandContext(ctx, args[0], args[1:]...)
		c.Stdout = &stdout
		c.Stderr = errOut
		if err := c.Run(); err != nil {
			return nil, fmt.Errorf("%s: %w", args[0], err)
		}
		return json.Marshal(stdout.String())
	}
}
