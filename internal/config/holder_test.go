package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stupiduntilnot/msgflux/internal/permission"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("os/signal.signal_recv"),
		goleak.IgnoreTopFunction("os/signal.loop"),
	)
}

const (
	permsV1 = "modules:\n  a: {read: [text], write: [outputs.a]}\n"
	permsV2 = "modules:\n  a: {read: [text], write: [outputs.a]}\n  b: {write: [outputs.b]}\n"
)

func writePerms(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newTestHolder(t *testing.T) (*Holder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perms.yaml")
	writePerms(t, path, permsV1)
	h, err := NewHolder(path, zerolog.Nop())
	require.NoError(t, err)
	return h, path
}

func TestHolder_Reload(t *testing.T) {
	h, path := newTestHolder(t)
	assert.Equal(t, []string{"a"}, h.Guard().Modules())
	assert.True(t, filepath.IsAbs(h.Path()))

	var changed []*permission.Guard
	var attempts []error
	h.OnChange(func(g *permission.Guard) { changed = append(changed, g) })
	h.OnReload(func(_ time.Time, err error) { attempts = append(attempts, err) })

	writePerms(t, path, permsV2)
	require.NoError(t, h.Reload())
	assert.Equal(t, []string{"a", "b"}, h.Guard().Modules())
	require.Len(t, changed, 1)
	assert.Same(t, h.Guard(), changed[0])

	writePerms(t, path, "modules: [\n")
	require.Error(t, h.Reload())
	assert.Equal(t, []string{"a", "b"}, h.Guard().Modules(), "failed reload keeps previous guard")
	assert.Len(t, changed, 1)
	require.Len(t, attempts, 2)
	assert.NoError(t, attempts[0])
	assert.Error(t, attempts[1])
}

func TestNewHolder_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perms.yaml")
	writePerms(t, path, "nope: true\n")
	_, err := NewHolder(path, zerolog.Nop())
	assert.Error(t, err)
}

func TestHolder_WatchFile(t *testing.T) {
	h, path := newTestHolder(t)
	var mu sync.Mutex
	reloads := 0
	h.OnChange(func(*permission.Guard) {
		mu.Lock()
		reloads++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Watch(ctx))

	writePerms(t, path, permsV2)
	require.Eventually(t, func() bool {
		return len(h.Guard().Modules()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// Unrelated files in the directory are ignored.
	writePerms(t, filepath.Join(filepath.Dir(path), "other.yaml"), "x: 1\n")

	cancel()
	h.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, reloads, 1)
}

func TestHolder_WatchSIGHUP(t *testing.T) {
	h, path := newTestHolder(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.Wait()
	}()
	require.NoError(t, h.Watch(ctx))

	writePerms(t, path, permsV2)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))
	require.Eventually(t, func() bool {
		return len(h.Guard().Modules()) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHolder_WaitWithoutWatch(t *testing.T) {
	h, _ := newTestHolder(t)
	h.Wait()
}
