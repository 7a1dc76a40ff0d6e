package main

import (
	"fmt"
	"io"

	"github.com/dusk-indust/pageboot/internal/builtin"
	"github.com/dusk-indust/pageboot/internal/condition"
	"github.com/dusk-indust/pageboot/internal/config"
	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/dusk-indust/pageboot/internal/plugin"
	"github.com/spf13/cobra"
)

func newCheckCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check <page.html>",
		Short: "Evaluate plugin conditions against a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			doc, err := parsePage(args[0])
			if err != nil {
				return err
			}
			return runCheck(cmd.OutOrStdout(), cfg, doc)
		},
	}
}

func runCheck(w io.Writer, cfg config.Config, doc *page.Document) error {
	fmt.Fprintln(w, "Conditions:")
	for _, name := range condition.Names() {
		f, _ := condition.Lookup(name)
		fmt.Fprintf(w, "  %-16s %t\n", name, condition.Safe(f)(doc))
	}

	decls := cfg.Plugins
	if len(decls) == 0 {
		decls = builtin.Defaults(cfg.Site.Host)
	}
	fmt.Fprintln(w, "Plugins:")
	for _, d := range decls {
		stage, err := plugin.ParseStage(d.Load)
		if err != nil {
			return err
		}
		active := true
		if d.Condition != "" {
			f, ok := condition.Lookup(d.Condition)
			if !ok {
				return fmt.Errorf("plugin %q: unknown condition %q", d.Name, d.Condition)
			}
			active = condition.Safe(f)(doc)
		}
		state := "active"
		if !active {
			state = "inactive"
		}
		fmt.Fprintf(w, "  %-16s %-8s %s\n", d.Name, stage, state)
	}
	return nil
}
