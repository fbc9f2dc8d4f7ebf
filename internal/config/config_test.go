package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/snafus/cephsum-server/internal/config"
)

func TestLoadAppliesReadBlockSizeFloor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cephsumd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address: "0.0.0.0:9999"
auth_key_file: /etc/cephsumd/authkey
default_algorithm: adler32
read_block_size_mib: 0
max_pool_size: 5
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.MinReadBlockSizeMiB, cfg.ReadBlockSizeMiB)
	require.Equal(t, "0.0.0.0:9999", cfg.ListenAddress)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/cephsumd.yaml")
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestWatcherInvokesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authkey")
	require.NoError(t, os.WriteFile(path, []byte("first-key\n"), 0o600))

	changed := make(chan string, 1)
	log := logrus.NewEntry(logrus.New())
	w, err := config.NewWatcher(log, func(p string) { changed <- p }, path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("second-key\n"), 0o600))

	select {
	case p := <-changed:
		require.Equal(t, path, p)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher notification")
	}
}
