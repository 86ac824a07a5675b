// Command runnerctl is a tiny inspection CLI: it loads a registration tree
// in dry-run mode and prints the resolved boot graph, the one outer surface
// explicitly allowed by spec.md §1. Grounded on hashmap-kz-katomik/cmd's
// cobra layout (a constructor returning *cobra.Command, subcommands added
// by separate constructors).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pumped-fn/runner"
	"github.com/pumped-fn/runner/builtins"
	"github.com/pumped-fn/runner/extensions/graphdebug"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the runnerctl command tree. The demo application loaded
// by graph/doctor wires the kernel's own built-in middleware resources
// (concurrency pool, rate limiter pool) so the CLI has
// something real to inspect without requiring an external app package.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "runnerctl",
		Short:         "Inspect a runner registration tree without executing tasks or hooks.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newDoctorCmd())
	return rootCmd
}

func demoApp() runner.ResourceDefinition {
	concurrencyPool := runner.Resource(runner.ResourceDefinition{
		ID: "builtins.concurrencyPool",
		Init: func(ctx context.Context, config any, deps map[string]any) (any, error) {
			return builtins.NewConcurrencyPool(), nil
		},
	})
	rateLimiterPool := runner.Resource(runner.ResourceDefinition{
		ID: "builtins.rateLimiterPool",
		Init: func(ctx context.Context, config any, deps map[string]any) (any, error) {
			return builtins.NewRateLimiterPool(), nil
		},
	})
	return runner.Resource(runner.ResourceDefinition{
		ID:           "app",
		Dependencies: runner.Deps(runner.Dep("concurrency", "builtins.concurrencyPool"), runner.Dep("rateLimit", "builtins.rateLimiterPool")),
		Init: func(ctx context.Context, config any, deps map[string]any) (any, error) {
			return "app", nil
		},
		Register: []any{concurrencyPool, rateLimiterPool},
	})
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the resolved dependency graph for the demo registration tree.",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runner.Run(cmd.Context(), demoApp(), runner.Options{DryRun: true})
			if err != nil {
				return err
			}
			return graphdebug.Render(cmd.OutOrStdout(), result.Store(), "app")
		},
	}
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Boot the demo registration tree in dry-run mode and report per-kind counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runner.Run(cmd.Context(), demoApp(), runner.Options{DryRun: true})
			if err != nil {
				return err
			}
			counts := graphdebug.Summary(result.Store())
			for kind, n := range counts {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %d\n", kind, n)
			}
			return nil
		},
	}
}
