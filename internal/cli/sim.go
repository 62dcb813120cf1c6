package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/sim"
	"github.com/roach88/ghostbridge/internal/transport"
)

// SimPath is the HTTP path the reference authority serves on.
const SimPath = "/bridge"

// SimOptions holds flags for the sim command.
type SimOptions struct {
	*RootOptions
	Listen string
	Tree   string

	// Ready, if set, receives the bound address once the server listens
	// (for testing).
	Ready func(addr net.Addr)
}

// NewSimCommand creates the sim command.
func NewSimCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Serve the reference authority",
		Long: `Serve an in-process engine that keeps an authoritative tools tree.

Tool events from clients are applied to the addressed element, which is
stamped with the event's id and broadcast back as a CASTLE_TOOLS_UPDATE
diff. Each client receives the full tree on connect and on
CASTLE_TOOLS_NEEDS_SYNC.

Example:
  ghostbridge sim --listen 127.0.0.1:7878
  ghostbridge sim --tree tools.json --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Tree, "tree", "", "JSON file with the initial tools tree")

	return cmd
}

func runSim(opts *SimOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}
	if opts.Listen != "" {
		cfg.Transport.Listen = opts.Listen
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	simOpts := []sim.Option{sim.WithLogger(logger)}
	if opts.Tree != "" {
		root, err := readObjectFile(opts.Tree)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read tree", err)
		}
		simOpts = append(simOpts, sim.WithRoot(root))
	}
	authority := sim.New(simOpts...)

	mux := http.NewServeMux()
	mux.Handle(SimPath, authority.Handler(transport.Options{
		WriteTimeout: cfg.WriteTimeout(),
		ReadLimit:    cfg.Transport.ReadLimit,
		Logger:       logger,
	}))

	ln, err := net.Listen("tcp", cfg.Transport.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	ctx, stop := signal.NotifyContext(parentContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Upgraded connections outlive Shutdown; they end when ctx does.
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	logger.Info("authority listening", "addr", ln.Addr().String(), "path", SimPath)
	fmt.Fprintf(cmd.OutOrStdout(), "Authority listening on ws://%s%s\n", ln.Addr(), SimPath)
	if opts.Ready != nil {
		opts.Ready(ln.Addr())
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	logger.Info("authority stopped")
	return nil
}

// readObjectFile reads a JSON object from path.
func readObjectFile(path string) (ir.IRObject, error) {
	v, err := readJSONFile(path)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("%s: want a JSON object, got %s", path, ir.Kind(v))
	}
	return obj, nil
}

// readJSONFile reads any JSON value from path; "-" reads stdin.
func readJSONFile(path string) (ir.IRValue, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	v, err := ir.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
