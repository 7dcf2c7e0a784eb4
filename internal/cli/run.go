package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/forgy/internal/config"
	"github.com/wesleyorama2/forgy/internal/performance/engine"
	"github.com/wesleyorama2/forgy/internal/performance/output"
)

type runOptions struct {
	noColor bool
	quiet   bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test against a URL",
		Long: `Run a ramp-up / hold / ramp-down load test against a single URL.

Every setting can also come from a config file (--config) or from FORGY_*
environment variables, e.g. FORGY_VUS=50. Flags win over the environment,
which wins over the config file.

Examples:
  forgy run --url http://localhost:8080/health --vus 50 --ramp-up 30s --hold 2m --ramp-down 30s

  forgy run --url https://api.example.com/orders -X POST \
    -H "Content-Type: application/json" -d '{"sku":"abc"}' \
    --remote-write-url http://prometheus:9090/api/v1/write --label orders-smoke

  forgy run --config load.yaml --output result.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, opts)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Print a one-line summary only")

	return cmd
}

func runLoadTest(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := config.NewLoader().Load(cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Once the first signal has been seen, restore default handling so a
	// second one terminates immediately.
	go func() {
		<-ctx.Done()
		stop()
	}()

	result, err := eng.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	output.NewSummary(output.SummaryConfig{
		Writer:  out,
		NoColor: opts.noColor,
		Quiet:   opts.quiet,
	}).Print(result)

	if cfg.Output != "" {
		if err := output.WriteFile(cfg.Output, result); err != nil {
			return err
		}
		if !opts.quiet {
			fmt.Fprintf(out, "Results written to: %s\n", cfg.Output)
		}
	}

	return nil
}

// runContext returns the command context, or Background when the command
// is executed outside of cobra's Execute.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
