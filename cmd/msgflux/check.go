package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/msgflux/internal/config"
	"github.com/stupiduntilnot/msgflux/internal/permission"
	"github.com/stupiduntilnot/msgflux/internal/pipeline"
	"github.com/stupiduntilnot/msgflux/internal/script"
)

type checkOptions struct {
	permissionsPath string
	pipelinePath    string
}

func newCheckCmd(a *app) *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a permission table and optionally a pipeline file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.check(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.permissionsPath, "permissions", "", "permission table YAML (default $MSGFLUX_PERMISSIONS_FILE)")
	cmd.Flags().StringVar(&opts.pipelinePath, "pipeline", "", "pipeline definition YAML")
	return cmd
}

func (a *app) check(w io.Writer, opts checkOptions) error {
	path := opts.permissionsPath
	if path == "" {
		path = a.cfg.PermissionsFile
	}
	if path == "" && opts.pipelinePath == "" {
		return fmt.Errorf("nothing to check: pass --permissions or --pipeline")
	}

	if path != "" {
		guard, err := config.LoadPermissions(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "permissions %s: ok\n", path)
		printRule(w, "(default)", ruleOf(guard, ""))
		for _, module := range guard.Modules() {
			printRule(w, module, ruleOf(guard, module))
		}
	}

	if opts.pipelinePath != "" {
		file, err := script.LoadPipelineFile(opts.pipelinePath)
		if err != nil {
			return err
		}
		p, err := file.Build(pipeline.NewRegistry())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "pipeline %s: ok\n", opts.pipelinePath)
		for i, st := range p.Stages() {
			mode := "sequential"
			if st.Parallel {
				mode = "parallel"
			}
			names := make([]string, len(st.Modules))
			for j, m := range st.Modules {
				names[j] = m.Name()
			}
			fmt.Fprintf(w, "  stage %d (%s): %s\n", i, mode, strings.Join(names, ", "))
		}
	}
	return nil
}

func ruleOf(g *permission.Guard, module string) permission.Rule {
	r, _ := g.RuleFor(module)
	return r
}

func printRule(w io.Writer, module string, r permission.Rule) {
	fmt.Fprintf(w, "  %-16s read=[%s] write=[%s]\n", module, strings.Join(r.Read, ","), strings.Join(r.Write, ","))
}
