package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPid(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "ksi.pid")
	require.NoError(t, os.WriteFile(good, []byte("4242\n"), 0644))

	pid, err := readPid(good)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("abc"), 0644))
	_, err = readPid(bad)
	assert.Error(t, err)

	_, err = readPid(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)
}

func TestResolvePidFile(t *testing.T) {
	path, err := resolvePidFile("/run/ksi.pid", "unused")
	require.NoError(t, err)
	assert.Equal(t, "/run/ksi.pid", path)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"pid_file": "/tmp/ksi.pid"}`), 0644))
	path, err = resolvePidFile("", dir)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ksi.pid", path)

	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "config.json"), []byte(`{}`), 0644))
	_, err = resolvePidFile("", empty)
	assert.Error(t, err)
}
