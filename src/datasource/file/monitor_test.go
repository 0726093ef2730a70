package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestFileMonitorWatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	target := filepath.Join(dir, "KSI.csv")
	require.NoError(t, os.WriteFile(target, []byte("A\n1\n"), 0644))

	monitor, err := NewFileMonitor(target)
	require.NoError(t, err)

	changed := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- monitor.Watch(ctx, func(name string) { changed <- name })
	}()

	// 其它文件不触发
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.csv"), []byte("B\n"), 0644))
	require.NoError(t, os.WriteFile(target, []byte("A\n2\n"), 0644))

	select {
	case name := <-changed:
		assert.Equal(t, target, filepath.Clean(name))
	case <-time.After(5 * time.Second):
		t.Fatal("no change event for source file")
	}

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, monitor.Close())
}

// replaceFile 以改名方式替换 target, 并固定修改时间, 模拟秒级时间戳的文件系统
func replaceFile(t *testing.T, target string, data []byte, mod time.Time) {
	t.Helper()
	tmp := target + ".tmp"
	require.NoError(t, os.WriteFile(tmp, data, 0644))
	require.NoError(t, os.Chtimes(tmp, mod, mod))
	require.NoError(t, os.Rename(tmp, target))
}

func TestFileMonitorSameSecondReplacements(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	target := filepath.Join(dir, "KSI.csv")
	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.WriteFile(target, []byte("A\n1\n"), 0644))
	require.NoError(t, os.Chtimes(target, mod, mod))

	monitor, err := NewFileMonitor(target)
	require.NoError(t, err)

	changed := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- monitor.Watch(ctx, func(name string) { changed <- name })
	}()

	wait := func() {
		t.Helper()
		select {
		case <-changed:
		case <-time.After(5 * time.Second):
			t.Fatal("replacement not reported")
		}
	}

	// 两次替换的修改时间和大小都与原文件相同
	replaceFile(t, target, []byte("A\n2\n"), mod)
	wait()
	replaceFile(t, target, []byte("A\n3\n"), mod)
	wait()

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, monitor.Close())
}
