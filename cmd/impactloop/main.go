// impactloop runs measure, evaluate, allocate and scale over a set of
// initiatives and reports predicted against realized returns.
//
// Usage:
//
//	impactloop run --config=<pipeline.yaml> [--format=ascii|markdown|json] [--db=<path>] [--metrics-out=<path>]
//	impactloop components
//	impactloop history [--db=<path>] [--limit=n] [--run=<id>]
//	impactloop serve [--db=<path>]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"impactloop/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:   "impactloop",
		Short: "Measure, evaluate, allocate and scale business initiatives",
		Long: "impactloop pilots every initiative, scores the pilot estimates, funds a\n" +
			"subset under the budget and measures the funded initiatives at scale.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(rf.logLevel)
			if err != nil {
				return err
			}
			if !logging.ValidFormat(rf.logFormat) {
				return fmt.Errorf("unknown log format %q (want text or json)", rf.logFormat)
			}
			logging.Init(level, rf.logFormat, cmd.ErrOrStderr())
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&rf.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&rf.logFormat, "log-format", "text", "Log format: text or json")

	root.AddCommand(newRunCmd())
	root.AddCommand(newComponentsCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newServeCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
