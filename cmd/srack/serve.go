package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/Suhaibinator/SRack/pkg/loader"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Evaluate the script and serve its pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("watch") {
				cfg.Script.Watch = watch
			}

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			return rt.serve(cmd)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().BoolVar(&watch, "watch", false, "rebuild the pipeline when the script changes")
	return cmd
}

func (rt *runtime) serve(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := rt.config.Script.Path
	p, ok, err := rt.loader.Load(ctx, rt.server, path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("script %s could not be read", path)
	}
	if err := rt.server.Mount(p); err != nil {
		return err
	}

	if rt.config.Script.Watch {
		closer, err := rt.loader.Watch(ctx, rt.server, path, func(p *builder.Pipeline) {
			if err := rt.server.Mount(p); err != nil {
				rt.logger.Error("Failed to mount reloaded pipeline", zap.Error(err))
			}
		}, loader.WatchOptions{Debounce: rt.config.Script.Debounce})
		if err != nil {
			return err
		}
		defer closer.Close()
	}

	return rt.server.ListenAndServe(ctx)
}
