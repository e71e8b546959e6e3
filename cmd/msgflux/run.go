package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/msgflux/internal/config"
	"github.com/stupiduntilnot/msgflux/internal/db"
	"github.com/stupiduntilnot/msgflux/internal/exporter"
	"github.com/stupiduntilnot/msgflux/internal/message"
	"github.com/stupiduntilnot/msgflux/internal/metrics"
	"github.com/stupiduntilnot/msgflux/internal/permission"
	"github.com/stupiduntilnot/msgflux/internal/pipeline"
	"github.com/stupiduntilnot/msgflux/internal/script"
)

type runOptions struct {
	pipelinePath    string
	inputs          []string
	permissionsPath string
	only            string
	printMetrics    bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scripted pipeline over one message per input file",
		Long: `Builds a message from each --input file (or an empty message when none is
given), forwards it through the pipeline and prints the final message JSON.

Example:
  msgflux run --pipeline pipeline.yaml --input question.yaml --permissions perms.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.pipelinePath, "pipeline", "", "pipeline definition YAML")
	cmd.Flags().StringArrayVar(&opts.inputs, "input", nil, "input message YAML (repeatable)")
	cmd.Flags().StringVar(&opts.permissionsPath, "permissions", "", "permission table YAML (default $MSGFLUX_PERMISSIONS_FILE)")
	cmd.Flags().StringVar(&opts.only, "only", "", "run a single module of the pipeline instead of every stage")
	cmd.Flags().BoolVar(&opts.printMetrics, "metrics", false, "print collected metrics to stderr when done")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func (a *app) run(ctx context.Context, stdout, stderr io.Writer, opts runOptions) error {
	file, err := script.LoadPipelineFile(opts.pipelinePath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewWithRegistry(reg)

	guardFor, stop, err := a.permissions(ctx, opts.permissionsPath, collector)
	if err != nil {
		return err
	}
	defer stop()

	database, err := db.OpenDB(a.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if n, err := db.CleanupRunningExecutions(database); err != nil {
		return fmt.Errorf("cleanup running executions: %w", err)
	} else if n > 0 {
		a.logger.Warn().Int64("count", n).Msg("marked interrupted executions as failed")
	}

	exp, err := exporter.New(a.cfg.Exporter, a.logger, database)
	if err != nil {
		return err
	}
	modules := pipeline.NewRegistry()
	p, err := file.Build(modules,
		pipeline.WithPolicy(a.cfg.Policy()),
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(collector),
		pipeline.WithEventSink(pipeline.NewSQLSink(database)),
		pipeline.WithExporter(exp),
	)
	if err != nil {
		return err
	}

	inputs := opts.inputs
	if len(inputs) == 0 {
		inputs = []string{""}
	}
	var runErrs []error
	for _, input := range inputs {
		msg, err := a.newMessage(input, guardFor(), collector)
		if err != nil {
			return err
		}
		if opts.only != "" {
			err = a.runOne(ctx, database, exp, modules, opts.only, msg)
		} else {
			_, err = p.Run(ctx, msg)
		}
		if err != nil {
			runErrs = append(runErrs, fmt.Errorf("execution %s: %w", msg.ExecutionID(), err))
		}
		if err := printMessage(stdout, msg); err != nil {
			return err
		}
	}

	if opts.printMetrics {
		if err := writeMetrics(stderr, reg); err != nil {
			return err
		}
	}
	return errors.Join(runErrs...)
}

// permissions returns a function yielding the guard for the next message.
// With watching enabled the guard follows the file as it changes.
func (a *app) permissions(ctx context.Context, path string, collector *metrics.Collector) (func() *permission.Guard, func(), error) {
	if path == "" {
		path = a.cfg.PermissionsFile
	}
	if path == "" {
		guard := permission.DefaultGuard()
		return func() *permission.Guard { return guard }, func() {}, nil
	}

	holder, err := config.NewHolder(path, a.logger)
	if err != nil {
		return nil, nil, err
	}
	holder.OnReload(collector.ObserveReload)
	if !a.cfg.WatchPermissions {
		return holder.Guard, func() {}, nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	if err := holder.Watch(watchCtx); err != nil {
		cancel()
		return nil, nil, err
	}
	return holder.Guard, func() {
		cancel()
		holder.Wait()
	}, nil
}

func (a *app) newMessage(inputPath string, guard *permission.Guard, obs message.Observer) (*message.Message, error) {
	var opts []message.Option
	if inputPath != "" {
		fromFile, err := script.LoadInputFile(inputPath)
		if err != nil {
			return nil, err
		}
		opts = fromFile
	}
	opts = append(opts,
		message.WithGuard(guard),
		message.WithLogger(a.logger),
		message.WithObserver(obs),
	)
	return message.New(opts...)
}

// runOne forwards msg through a single registered module. It records the
// execution like a full run so the route can be inspected afterwards.
func (a *app) runOne(ctx context.Context, database *sql.DB, exp exporter.Exporter, modules *pipeline.Registry, name string, msg *message.Message) error {
	sink := pipeline.NewSQLSink(database)
	runEventID, err := sink.RunStarted(ctx, msg)
	if err != nil {
		return err
	}
	runErr := modules.RunOne(ctx, name, msg)

	status := db.ExecutionStatusCompleted
	if runErr != nil {
		status = db.ExecutionStatusFailed
	}
	if err := sink.RunFinished(context.WithoutCancel(ctx), msg, runEventID, status, runErr); err != nil {
		a.logger.Warn().Err(err).Msg("record run finish")
	}
	rec, err := exporter.NewRecord(msg, status, runErr)
	if err != nil {
		return err
	}
	if err := exp.Export(context.WithoutCancel(ctx), rec); err != nil {
		a.logger.Error().Err(err).Str("exporter", exp.Name()).Msg("export run")
	}
	return runErr
}

func printMessage(w io.Writer, msg *message.Message) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(msg); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
