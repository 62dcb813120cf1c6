package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadValidates(t *testing.T) {
	dir := t.TempDir()

	l := NewLoader(writeFile(t, dir, "ok.toml", "[logging]\nlevel = \"debug\"\n"))
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, l.Config())

	bad := NewLoader(writeFile(t, dir, "bad.toml", "[logging]\nformat = \"xml\"\n"))
	_, err = bad.Load()
	assert.ErrorContains(t, err, "validation failed")
	assert.Nil(t, bad.Config())
}

func TestLoader_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bridge.toml", "[events]\nsession_end = \"A\"\n")

	l := NewLoader(path, WithDebounce(10*time.Millisecond))
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	defer l.Close()

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("[events]\nsession_end = \"B\"\n"), 0o644))

	select {
	case c := <-changed:
		assert.Equal(t, "B", c.Events.SessionEnd)
		assert.Equal(t, "B", l.Config().Events.SessionEnd)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestLoader_InvalidReloadKeepsConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bridge.toml", "[events]\nsession_end = \"A\"\n")

	l := NewLoader(path, WithDebounce(10*time.Millisecond))
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nformat = \"xml\"\n"), 0o644))

	select {
	case err := <-l.Errors():
		assert.ErrorContains(t, err, "validate new config")
	case <-time.After(5 * time.Second):
		t.Fatal("no error after invalid write")
	}
	assert.Equal(t, "A", l.Config().Events.SessionEnd)
}

func TestLoader_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bridge.toml", "")

	l := NewLoader(path, WithDebounce(10*time.Millisecond))
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	defer l.Close()

	called := make(chan struct{}, 1)
	l.OnChange(func(*Config) { called <- struct{}{} })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1"), 0o644))

	select {
	case <-called:
		t.Fatal("reloaded for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLoader_CloseWithoutWatch(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "absent.toml"))
	assert.NoError(t, l.Close())
}
