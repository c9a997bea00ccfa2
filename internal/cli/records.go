package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/idem/internal/store"
)

// RecordOutput is the display form of a stored record.
type RecordOutput struct {
	Key       string           `json:"key"`
	Status    string           `json:"status"`
	CreatedAt string           `json:"created_at"`
	ExpiresAt string           `json:"expires_at"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     *store.ErrorInfo `json:"error,omitempty"`
	Attempt   string           `json:"attempt,omitempty"`
}

func recordOutput(rec store.Record) RecordOutput {
	return RecordOutput{
		Key:       rec.Key,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt: rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		Result:    rec.Result,
		Error:     rec.Error,
		Attempt:   rec.Attempt,
	}
}

func (r RecordOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "key:     %s\n", r.Key)
	fmt.Fprintf(&b, "status:  %s\n", r.Status)
	fmt.Fprintf(&b, "created: %s\n", r.CreatedAt)
	fmt.Fprintf(&b, "expires: %s\n", r.ExpiresAt)
	if r.Attempt != "" {
		fmt.Fprintf(&b, "attempt: %s\n", r.Attempt)
	}
	if len(r.Result) > 0 {
		fmt.Fprintf(&b, "result:  %s\n", r.Result)
	}
	if r.Error != nil {
		fmt.Fprintf(&b, "error:   %s\n", r.Error.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show one stored record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := openApp(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, found, err := a.Store.Get(cmd.Context(), args[0])
			if err != nil {
				return out.Fail(err, nil)
			}
			if !found {
				if ferr := out.Error("NOT_FOUND", fmt.Sprintf("no live record for %s", args[0]), nil); ferr != nil {
					return ferr
				}
				return NewExitError(ExitFailure, fmt.Sprintf("record %s not found", args[0]))
			}
			return out.Success(recordOutput(rec))
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := openApp(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.Store.List(cmd.Context())
			if err != nil {
				return out.Fail(err, nil)
			}
			if out.Format == "json" {
				items := make([]RecordOutput, 0, len(records))
				for _, rec := range records {
					items = append(items, recordOutput(rec))
				}
				return out.Success(items)
			}
			if len(records) == 0 {
				fmt.Fprintln(out.Writer, "No records.")
				return nil
			}
			rows := make([]table.Row, 0, len(records))
			for _, rec := range records {
				rows = append(rows, table.Row{
					rec.Key,
					rec.Status,
					rec.CreatedAt.UTC().Format(time.RFC3339),
					rec.ExpiresAt.UTC().Format(time.RFC3339),
				})
			}
			out.Table(table.Row{"Key", "Status", "Created", "Expires"}, rows)
			return nil
		},
	}
}

// NewForgetCommand creates the forget command.
func NewForgetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <key>...",
		Short: "Delete stored records so their requests run again",
		Long: `Delete stored records so their requests run again.

Use this to release a key left pending by a process that died mid-operation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := openApp(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, k := range args {
				if err := a.Engine.Forget(cmd.Context(), k); err != nil {
					return out.Fail(err, map[string]string{"key": k})
				}
				out.VerboseLog("forgot %s", k)
			}
			if out.Format == "json" {
				return out.Success(map[string]any{"forgotten": args})
			}
			return out.Success(fmt.Sprintf("Forgot %d record(s).", len(args)))
		},
	}
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, err := openApp(cmd.Context(), cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Engine.Sweep(cmd.Context())
			if err != nil {
				return out.Fail(err, map[string]int{"removed": n})
			}
			if out.Format == "json" {
				return out.Success(map[string]int{"removed": n})
			}
			return out.Success(fmt.Sprintf("Removed %d expired record(s).", n))
		},
	}
}
