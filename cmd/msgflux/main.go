package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/msgflux/internal/config"
	"github.com/stupiduntilnot/msgflux/internal/logging"
)

// app carries state shared by every subcommand once flags are parsed.
type app struct {
	dbPath string
	cfg    config.Config
	logger zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}
	root := &cobra.Command{
		Use:   "msgflux",
		Short: "Run module pipelines over a permissioned, route-tracked message",
		Long: `msgflux runs scripted module pipelines over a single message envelope.
Every write is checked against a per-module permission table and recorded
in the message route, which can be exported to SQLite and inspected later.

Configuration is read from MSGFLUX_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (default $MSGFLUX_DB_PATH)")

	root.AddCommand(newRunCmd(a), newRouteCmd(a), newCheckCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.dbPath == "" {
		a.dbPath = cfg.DBPath
	}
	logger, err := logging.New(cfg.LoggingConfig(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger.With().Str("command", cmd.Name()).Logger()
	return nil
}
