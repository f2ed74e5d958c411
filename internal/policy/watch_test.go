package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForRegistry(t *testing.T, ch <-chan *Registry) *Registry {
	t.Helper()
	select {
	case reg := <-ch:
		return reg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for registry swap")
		return nil
	}
}

func TestWatchSwapsRegistryOnFileChange(t *testing.T) {
	dir := t.TempDir()
	loader, err := NewLoader(nil)
	require.NoError(t, err)

	swaps := make(chan *Registry, 4)
	watcher, err := loader.Watch(context.Background(), dir, nil, func(reg *Registry) {
		swaps <- reg
	}, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "20_new.cel"), []byte(`"allow"`), 0o600))

	reg := waitForRegistry(t, swaps)
	require.Len(t, reg.Modules(), 1)
	require.Equal(t, "20_new", reg.Modules()[0].Name)

	require.NoError(t, os.Remove(filepath.Join(dir, "20_new.cel")))
	reg = waitForRegistry(t, swaps)
	require.Empty(t, reg.Modules())
}

func TestWatchIgnoresIrrelevantFiles(t *testing.T) {
	dir := t.TempDir()
	loader, err := NewLoader(nil)
	require.NoError(t, err)

	swaps := make(chan *Registry, 4)
	watcher, err := loader.Watch(context.Background(), dir, nil, func(reg *Registry) {
		swaps <- reg
	}, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__draft.cel"), []byte(`"allow"`), 0o600))

	select {
	case <-swaps:
		t.Fatal("unexpected registry swap for irrelevant files")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchRequiresCallbackAndDir(t *testing.T) {
	loader, err := NewLoader(nil)
	require.NoError(t, err)

	_, err = loader.Watch(context.Background(), t.TempDir(), nil, nil, nil)
	require.Error(t, err)

	_, err = loader.Watch(context.Background(), "", nil, func(*Registry) {}, nil)
	require.Error(t, err)
}

func TestWatchStopIsIdempotent(t *testing.T) {
	loader, err := NewLoader(nil)
	require.NoError(t, err)

	watcher, err := loader.Watch(context.Background(), t.TempDir(), nil, func(*Registry) {}, nil)
	require.NoError(t, err)
	watcher.Stop()
	watcher.Stop()
}
