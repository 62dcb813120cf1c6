package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/ghostbridge/internal/bridge"
	"github.com/roach88/ghostbridge/internal/coalesce"
	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/store"
	"github.com/roach88/ghostbridge/internal/toolui"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional; defaults to the latest session
}

// ReplayResult is the channel state after re-dispatching a session.
type ReplayResult struct {
	Session        string                `json:"session"`
	Broadcasts     int                   `json:"broadcasts"`
	Dropped        int                   `json:"dropped"`
	Sends          int                   `json:"sends"`
	LastMutationID int64                 `json:"last_mutation_id"`
	NextMutationID int64                 `json:"next_mutation_id"`
	Cache          map[string]ir.IRValue `json:"cache"`
	Tools          ir.IRObject           `json:"tools,omitempty"`
}

// WriteText renders the result for humans.
func (r *ReplayResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Session %s: %d broadcasts (%d dropped), %d sends, last mutation id %d\n",
		r.Session, r.Broadcasts, r.Dropped, r.Sends, r.LastMutationID)

	names := make([]string, 0, len(r.Cache))
	for name := range r.Cache {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := ir.MarshalCanonical(r.Cache[name])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s = %s\n", name, data)
	}
	if r.Tools != nil {
		fmt.Fprintf(w, "  tools panes: %d\n", len(paneKeys(r.Tools)))
	}
	return nil
}

func paneKeys(root ir.IRObject) []string {
	panes, ok := root.Object("panes")
	if !ok {
		return nil
	}
	return panes.SortedKeys()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-dispatch a journaled session and print the final state",
		Long: `Replay the broadcasts journaled for one session through a fresh channel.

Broadcasts are coalesced with the configured rules exactly as they were
live, so the printed cache is what a UI would have read at the end of the
session. Sent events are counted but not re-sent.

Exit codes:
  0 - Replay completed
  2 - Command error (journal not found, unknown session, etc.)

Examples:
  ghostbridge replay --db ./ghostbridge.db
  ghostbridge replay --db ./ghostbridge.db --session 0190a6c2-...
  ghostbridge replay --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal (defaults to journal.path)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to replay (defaults to the latest)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConfig, "invalid config", err)
	}
	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Journal.Path
	}
	if _, err := os.Stat(dbPath); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, fmt.Sprintf("journal not found: %s", dbPath), err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer st.Close()

	var reg *coalesce.Registry
	if cfg.Coalesce.Rules != "" {
		reg, err = coalesce.LoadRulesFile(cfg.Coalesce.Rules)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeRules, "failed to load rules", err)
		}
	}

	ctx := parentContext(cmd)

	session := opts.Session
	if session == "" {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to list sessions", err)
		}
		if len(sessions) == 0 {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "journal has no sessions", nil)
		}
		session = sessions[len(sessions)-1].ID
	}
	formatter.VerboseLog("Replaying session %s from %s", session, dbPath)

	logger := newLogger(cfg, opts.Verbose, formatter.GetErrWriter())
	result, err := replaySession(ctx, st, session, reg, cfg.Events.SessionEnd, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "replay failed", err)
	}
	return formatter.Success(result)
}

// replaySession re-dispatches session's broadcasts into a channel without a
// transport.
func replaySession(ctx context.Context, st *store.Store, session string, reg *coalesce.Registry, sessionEnd string, logger *slog.Logger) (*ReplayResult, error) {
	timeline, err := st.ReadTimeline(ctx, session)
	if err != nil {
		return nil, err
	}
	if len(timeline) == 0 {
		return nil, fmt.Errorf("unknown session %q", session)
	}

	chOpts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithSessionEndEvent(sessionEnd),
		bridge.WithSessionGenerator(bridge.NewFixedGenerator(session)),
	}
	chOpts = append(chOpts, bridge.WithCoalescer(toolui.Coalescer(reg)))
	ch := bridge.New(chOpts...)
	defer ch.Close()
	tools := toolui.New(ch, toolui.WithLogger(logger))
	defer tools.Close()

	result := &ReplayResult{Session: session, Cache: make(map[string]ir.IRValue)}
	names := make(map[string]struct{})
	for _, entry := range timeline {
		switch entry.Kind {
		case store.EntryBroadcast:
			ev := entry.Broadcast.Event
			result.Broadcasts++
			names[ev.Name] = struct{}{}
			if !ch.Dispatch(ev.Name, ev.EventID, ev.Params) {
				result.Dropped++
			}
		case store.EntrySend:
			result.Sends++
			if id := int64(entry.Send.Event.MutationID); id > result.LastMutationID {
				result.LastMutationID = id
			}
		}
	}

	// A client resuming the session continues after the last journaled id.
	result.NextMutationID = int64(bridge.NewMinterAt(ir.MutationID(result.LastMutationID)).Next())

	for name := range names {
		if b, ok := ch.GetCached(name); ok {
			result.Cache[name] = b.Payload
		}
	}
	if root := tools.Root(); len(root) > 0 {
		result.Tools = root
	}
	return result, nil
}
