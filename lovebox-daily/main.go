// Command lovebox-daily sends a freshly generated image to a Lovebox every
// time it runs and emails a report of how it went.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lovebox_automation/lovebox-daily/config"
	"lovebox_automation/lovebox-daily/cycle"
	"lovebox_automation/lovebox-daily/logger"
	"lovebox_automation/lovebox-daily/pipeline"
	"lovebox_automation/lovebox-daily/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		flags globalFlags
		alt   bool
	)

	root := &cobra.Command{
		Use:          "lovebox-daily",
		Short:        "Generate today's Lovebox image, deliver it and email a report",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaily(cmd.Context(), flags, alt)
		},
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "env file to load (default .env when present)")
	root.PersistentFlags().BoolVar(&flags.ephemeral, "ephemeral", false, "keep shuffle cycles in memory only")
	root.Flags().BoolVar(&alt, "alt", false, "send to the alternate recipient")

	root.AddCommand(newCyclesCmd(&flags), newServeCmd(&flags))
	return root
}

func runDaily(ctx context.Context, flags globalFlags, alt bool) error {
	cfg, log, err := setup(flags, true)
	if err != nil {
		return err
	}
	// Checked here so a missing recipient fails before the store is dialed.
	if _, err := cfg.RecipientFor(alt); err != nil {
		log.Error().Err(err).Bool("alt", alt).Msg("no Lovebox recipient configured")
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("could not open cycle store")
		return err
	}
	defer closeStore(context.Background())

	selector := cycle.NewSelector(store, cycle.WithLogger(logger.Component(log, "cycle")))
	runner, err := newRunner(ctx, cfg, log, selector)
	if err != nil {
		log.Error().Err(err).Msg("could not start run")
		return err
	}

	report, err := runner.Run(ctx, pipeline.Options{Alt: alt})
	if err != nil {
		return err
	}
	log.Info().Str(logger.FieldRunID, report.RunID).Str(logger.FieldStatus, string(report.Status)).Msg("run finished")
	return nil
}

func newCyclesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Inspect or reset stored shuffle cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listCycles(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored cycles and their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listCycles(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}, &cobra.Command{
		Use:   "reset KEY",
		Short: "Forget a cycle so the next run reshuffles it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resetCycle(cmd.Context(), *flags, args[0], cmd.OutOrStdout())
		},
	})
	return cmd
}

func listCycles(ctx context.Context, flags globalFlags, out io.Writer) error {
	selector, closeStore, err := openSelector(ctx, flags)
	if err != nil {
		return err
	}
	defer closeStore(context.Background())

	doc, err := selector.Entries(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPROGRESS\tREMAINING\tSIGNATURE")
	for _, key := range keys {
		entry := doc[key]
		sig := entry.Signature
		if len(sig) > 12 {
			sig = sig[:12]
		}
		fmt.Fprintf(w, "%s\t%d/%d\t%d\t%s\n", key, entry.Index, len(entry.Order), entry.Remaining(), sig)
	}
	return w.Flush()
}

func resetCycle(ctx context.Context, flags globalFlags, key string, out io.Writer) error {
	selector, closeStore, err := openSelector(ctx, flags)
	if err != nil {
		return err
	}
	defer closeStore(context.Background())

	existed, err := selector.Reset(ctx, key)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("no cycle stored for %q", key)
	}
	fmt.Fprintf(out, "Reset cycle %q\n", key)
	return nil
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run status and cycle state over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup(*flags, true)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			store, closeStore, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeStore(context.Background())

			selector := cycle.NewSelector(store, cycle.WithLogger(logger.Component(log, "cycle")))
			runner, err := newRunner(ctx, cfg, log, selector)
			if err != nil {
				return err
			}

			srv := server.New(ctx, runner, selector, logger.Component(log, "server"))
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8088)")
	return cmd
}

// setup loads configuration and builds the logger.
func setup(flags globalFlags, validate bool) (*config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig(flags, validate)
	if err != nil {
		log := logger.New(logger.Config{Output: "stderr"})
		log.Error().Err(err).Msg("invalid configuration")
		return nil, log, err
	}
	return cfg, logger.New(cfg.Logging), nil
}

func openSelector(ctx context.Context, flags globalFlags) (*cycle.Selector, func(context.Context) error, error) {
	cfg, log, err := setup(flags, false)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return cycle.NewSelector(store, cycle.WithLogger(log)), closeStore, nil
}
