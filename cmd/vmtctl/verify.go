package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/joshuapare/vmtrack/internal/config"
	"github.com/joshuapare/vmtrack/nmt/verify"
)

func init() {
	rootCmd.AddCommand(newVerifyCmd())
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <stream>",
		Short: "Replay a stream and check tree invariants",
		Long: `The verify command replays an event stream and then checks every
tracking tree for structural problems and for accounting that disagrees
with the tree contents.

Example:
  vmtctl verify heap.events
  vmtctl verify heap.events --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runVerify(cmd.Context(), cfg, args)
		},
	}
	return cmd
}

func runVerify(ctx context.Context, cfg config.Config, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	path := args[0]
	printVerbose("Verifying stream: %s\n", path)

	res, err := replayStream(ctx, cfg, path, false)
	if err != nil {
		return err
	}
	defer func() { _ = res.tracker.Shutdown() }()

	verr := res.tracker.Verify()

	result := map[string]any{
		"stream": path,
		"events": res.Events,
		"valid":  verr == nil,
	}
	var ve *verify.ValidationError
	if errors.As(verr, &ve) {
		result["error"] = ve.Error()
		result["check"] = ve.Type
	} else if verr != nil {
		result["error"] = verr.Error()
	}

	if jsonOut {
		if err := printJSON(result); err != nil {
			return err
		}
		return verr
	}

	printInfo("\nVerifying %s (%d events)...\n\n", path, res.Events)
	if verr != nil {
		printInfo("  %s %v\n", colorize(ansiRed, "✗"), verr)
		printInfo("\nResult: %s\n", colorize(ansiRed, "✗ INVALID"))
		return verr
	}
	printInfo("  %s Tree structure valid\n", colorize(ansiGreen, "✓"))
	printInfo("  %s Accounting matches tree contents\n", colorize(ansiGreen, "✓"))
	printInfo("\nResult: %s\n", colorize(ansiGreen, "✓ VALID"))
	return nil
}
