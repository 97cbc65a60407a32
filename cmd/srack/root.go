package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Suhaibinator/SRack/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions holds the flags every command shares.
type rootOptions struct {
	configPath string
	scriptPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "srack",
		Short: "srack serves HTTP through a scripted middleware pipeline",
		Long: `srack evaluates a Lua configuration script that declares middleware with use(),
hooks with run_before() and run_after(), and the application with run(),
then serves requests through the pipeline it describes.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "settings file (default "+config.DefaultFile+" if present)")
	cmd.PersistentFlags().StringVarP(&opts.scriptPath, "script", "s", "", "configuration script, overrides script.path")

	cmd.AddCommand(newServeCmd(opts), newCheckCmd(opts))
	return cmd
}

// load reads the settings and builds the process logger.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.scriptPath != "" {
		cfg.Script.Path = o.scriptPath
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
