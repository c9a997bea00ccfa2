package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/idem/internal/key"
)

// KeyOptions holds flags for the key command.
type KeyOptions struct {
	*RootOptions
	Descriptor DescriptorFlags
	Explain    bool
	At         string
}

// KeyOutput is the key command's result.
type KeyOutput struct {
	Key       string `json:"key"`
	Canonical string `json:"canonical,omitempty"`
	Bucket    *int64 `json:"bucket,omitempty"`
	Window    string `json:"window,omitempty"`
	At        string `json:"at,omitempty"`
}

func (o KeyOutput) String() string {
	if o.Bucket == nil {
		return o.Key
	}
	var b strings.Builder
	fmt.Fprintf(&b, "key:       %s\n", o.Key)
	fmt.Fprintf(&b, "canonical: %s\n", o.Canonical)
	fmt.Fprintf(&b, "bucket:    %d\n", *o.Bucket)
	fmt.Fprintf(&b, "window:    %s\n", o.Window)
	fmt.Fprintf(&b, "at:        %s", o.At)
	return b.String()
}

// NewKeyCommand creates the key command.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Derive the idempotency key for a request",
		Long: `Derive the idempotency key for a request without touching the store.

Examples:
  idem key --principal u1 --resource s9 --action pay --payload '{"amount":1000}'
  idem key -f pay.yaml --explain
  idem key -f pay.cue --at 2024-01-01T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKey(cmd, opts)
		},
	}

	opts.Descriptor.register(cmd.Flags())
	cmd.Flags().BoolVar(&opts.Explain, "explain", false, "show the canonical payload and time bucket")
	cmd.Flags().StringVar(&opts.At, "at", "", "evaluate at this RFC3339 time instead of now")

	return cmd
}

func runKey(cmd *cobra.Command, opts *KeyOptions) error {
	out := opts.formatter(cmd)

	cfg, err := loadConfig(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	d, err := opts.Descriptor.Descriptor()
	if err != nil {
		return wrapDescriptorError(out, err)
	}
	at := time.Now()
	if opts.At != "" {
		at, err = time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid --at %q: want RFC3339", opts.At))
		}
	}

	deriver := key.NewDeriver(key.WithDefaultWindow(cfg.Key.Window))
	exp, err := deriver.Explain(d, at)
	if err != nil {
		return out.Fail(err, nil)
	}

	result := KeyOutput{Key: string(exp.Key)}
	if opts.Explain {
		bucket := exp.Bucket
		result.Canonical = exp.Canonical
		result.Bucket = &bucket
		result.Window = exp.Window.String()
		result.At = exp.At.UTC().Format(time.RFC3339)
	}
	return out.Success(result)
}

// wrapDescriptorError reports a descriptor that could not be read or built.
func wrapDescriptorError(out *OutputFormatter, err error) error {
	if ferr := out.Error("INVALID_DESCRIPTOR", err.Error(), nil); ferr != nil {
		return ferr
	}
	return WrapExitError(ExitCommandError, "invalid descriptor", err)
}
