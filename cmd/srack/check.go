package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Evaluate the script and print the pipeline it builds",
		Long: `check evaluates the configuration script exactly as serve would, runs its
warmup, and prints the middleware layers and hook counts without listening.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			p, ok, err := rt.loader.Load(cmd.Context(), rt.server, cfg.Script.Path)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("script %s could not be read", cfg.Script.Path)
			}

			layers := "(none)"
			if len(p.Layers) > 0 {
				layers = strings.Join(p.Layers, " -> ")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "script:     %s\n", cfg.Script.Path)
			fmt.Fprintf(out, "layers:     %s\n", layers)
			fmt.Fprintf(out, "pre_hooks:  %d\n", len(p.PreHooks))
			fmt.Fprintf(out, "post_hooks: %d\n", len(p.PostHooks))
			return nil
		},
	}
}
