package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ghostbridge/internal/bridge"
	"github.com/roach88/ghostbridge/internal/coalesce"
	"github.com/roach88/ghostbridge/internal/config"
	"github.com/roach88/ghostbridge/internal/store"
	"github.com/roach88/ghostbridge/internal/toolui"
	"github.com/roach88/ghostbridge/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	URL    string
	NoSync bool

	// Sessions overrides the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Sessions bridge.SessionGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the engine and run the bridge",
		Long: `Connect to the engine's websocket endpoint and run the event channel.

Broadcasts are coalesced with the configured CUE rules and, when the
journal is enabled, recorded with every sent event. The rules file is
reloaded when the config file changes. On connect the tools tree is
requested unless --no-sync is given.

Example:
  ghostbridge run --config ghostbridge.toml
  ghostbridge run --url ws://127.0.0.1:7878/bridge --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "engine websocket URL (overrides config)")
	cmd.Flags().BoolVar(&opts.NoSync, "no-sync", false, "do not request the tools tree on connect")

	return cmd
}

func runBridge(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}
	if opts.URL != "" {
		cfg.Transport.URL = opts.URL
	}
	if cfg.Transport.URL == "" {
		return NewExitError(ExitCommandError, "no engine URL configured")
	}

	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	chOpts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithSessionEndEvent(cfg.Events.SessionEnd),
	}
	if opts.Sessions != nil {
		chOpts = append(chOpts, bridge.WithSessionGenerator(opts.Sessions))
	}

	var reg *coalesce.Registry
	if cfg.Coalesce.Rules != "" {
		var err error
		if reg, err = coalesce.LoadRulesFile(cfg.Coalesce.Rules); err != nil {
			return WrapExitError(ExitFailure, "failed to load rules", err)
		}
		logger.Info("rules loaded", "path", cfg.Coalesce.Rules, "names", len(reg.Names()))
	}
	chOpts = append(chOpts, bridge.WithCoalescer(toolui.Coalescer(reg)))

	if cfg.Journal.Enabled {
		st, err := store.Open(cfg.Journal.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		if keep := cfg.Journal.KeepSessions; keep > 0 {
			removed, err := st.Prune(parentContext(cmd), keep)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to prune journal", err)
			}
			if removed > 0 {
				logger.Info("journal pruned", "removed", removed, "kept", keep)
			}
		}
		logger.Info("journal ready", "path", cfg.Journal.Path)
		chOpts = append(chOpts, bridge.WithJournal(st))
	}

	ctx, cancel := context.WithCancel(parentContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	ws, err := transport.Dial(ctx, cfg.Transport.URL, transport.Options{
		WriteTimeout: cfg.WriteTimeout(),
		ReadLimit:    cfg.Transport.ReadLimit,
		Logger:       logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer ws.Close()

	ch := bridge.New(append(chOpts, bridge.WithTransport(ws))...)
	defer ch.Close()

	tools := toolui.New(ch, toolui.WithLogger(logger))
	defer tools.Close()

	if opts.Config != "" {
		loader := config.NewLoader(opts.Config, config.WithLoaderLogger(logger))
		defer loader.Close()
		watchRules(loader, ch, logger)
	}

	if !opts.NoSync {
		tools.RequestSync()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Bridge connected to %s (session %s).\n", cfg.Transport.URL, ch.Session())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	err = ch.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info("bridge stopped gracefully")
		return nil
	case bridge.IsTransportFailed(err):
		return WrapExitError(ExitFailure, "connection lost", err)
	default:
		return WrapExitError(ExitFailure, "bridge error", err)
	}
}

// watchRules swaps the channel's coalescer whenever the config file
// changes. A rules file that fails to compile keeps the previous rules.
func watchRules(loader *config.Loader, ch *bridge.Channel, logger *slog.Logger) {
	loader.OnChange(func(cfg *config.Config) {
		if cfg.Coalesce.Rules == "" {
			ch.SetCoalescer(toolui.Coalescer(nil))
			logger.Info("rules cleared")
			return
		}
		reg, err := coalesce.LoadRulesFile(cfg.Coalesce.Rules)
		if err != nil {
			logger.Warn("rules reload failed, keeping previous rules", "path", cfg.Coalesce.Rules, "error", err)
			return
		}
		ch.SetCoalescer(toolui.Coalescer(reg))
		logger.Info("rules reloaded", "path", cfg.Coalesce.Rules, "names", len(reg.Names()))
	})

	if err := loader.Watch(); err != nil {
		logger.Warn("config watch unavailable", "error", err)
	}
}
