package cli

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ghostbridge/internal/ir"
	"github.com/roach88/ghostbridge/internal/sim"
	"github.com/roach88/ghostbridge/internal/store"
	"github.com/roach88/ghostbridge/internal/toolui"
	"github.com/roach88/ghostbridge/internal/transport"
)

func TestRun_Unreachable(t *testing.T) {
	_, err := execute(t, "run", "--url", "ws://127.0.0.1:1/bridge")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to connect")
}

func TestRun_InvalidConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.toml", "version = 7\n")
	_, err := execute(t, "--config", path, "run")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRun_BadRules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "rules.cue", `exact: { X: [{op: "explode"}] }`)
	path := writeFile(t, dir, "c.toml", "[coalesce]\nrules = \"rules.cue\"\n")
	_, err := execute(t, "--config", path, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load rules")
}

func TestRun_PrunesJournalOnOpen(t *testing.T) {
	dbPath := seedJournal(t)
	cfg := "[journal]\nenabled = true\nkeep_sessions = 1\npath = \"" + filepath.ToSlash(dbPath) + "\"\n"
	cfgPath := writeFile(t, t.TempDir(), "c.toml", cfg)

	// The journal is opened before dialing, so an unreachable engine still
	// leaves it pruned.
	_, err := execute(t, "--config", cfgPath, "run", "--url", "ws://127.0.0.1:1/bridge")
	require.Error(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].ID)
}

func TestRun_JournalsSessionAgainstAuthority(t *testing.T) {
	authority := sim.New(sim.WithRoot(ir.IRObject{
		"panes": ir.IRObject{"inspector": ir.IRObject{"type": ir.IRString("pane"), "pathId": ir.IRString("p2")}},
	}))
	srv := httptest.NewServer(authority.Handler(transport.Options{}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	cfgPath := writeFile(t, dir, "c.toml", "[journal]\nenabled = true\npath = \"journal.db\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := executeContext(t, ctx, "--config", cfgPath, "run", "--url", url)
		done <- err
	}()

	// Initial tree on connect, then the reply to the sync request.
	require.Eventually(t, func() bool {
		st, err := store.Open(dbPath)
		if err != nil {
			return false
		}
		defer st.Close()
		sessions, err := st.ListSessions(context.Background())
		return err == nil && len(sessions) == 1 && sessions[0].Broadcasts >= 2 && sessions[0].Sends == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	sends, err := st.ReadSends(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.Equal(t, toolui.NeedsSyncEvent, sends[0].Event.Name)
}
