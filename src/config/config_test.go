package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestLoadConfig(t *testing.T) {
	t.Run("json with data config", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.json", `{
			"data_dir": "/srv/ksi",
			"source_file": "KSI.csv",
			"max_rows": 500,
			"email": {"check_interval": "2m", "target_subject": "KSI"}
		}`)
		writeFile(t, dir, "dataconfig.json", `{"columns": {"neighbourhood": "HOOD_158"}}`)

		cfg, dcfg, err := LoadConfig(dir, "config.json", "dataconfig.json")
		require.NoError(t, err)

		assert.Equal(t, 500, cfg.MaxRows)
		assert.Equal(t, "/srv/ksi/KSI.csv", cfg.SourcePath())
		assert.Equal(t, 2*time.Minute, time.Duration(cfg.Email.CheckInterval))
		assert.Equal(t, "HOOD_158", dcfg.GetColumn(ColNeighbourhood))
		assert.Equal(t, "LATITUDE", dcfg.GetColumn(ColLatitude))
	})

	t.Run("yaml without data config", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.yaml", "listen: \":9090\"\nlog_check_interval: 30s\nsource_file: ksi.xlsx\n")

		cfg, dcfg, err := LoadConfig(dir, "config.yaml", "")
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Listen)
		assert.Equal(t, 30*time.Second, time.Duration(cfg.LogCheckInterval))
		assert.Equal(t, filepath.Join("data", "ksi.xlsx"), cfg.SourcePath())
		assert.Equal(t, 18194, cfg.MaxRows)
		assert.Equal(t, "INVAGE", dcfg.GetColumn(ColAgeGroup))
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := LoadConfig(t.TempDir(), "config.json", "")
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.json", `{"log_check_interval": "soon"}`)
		_, _, err := LoadConfig(dir, "config.json", "")
		assert.Error(t, err)
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "app.log", cfg.LogName)
	assert.Equal(t, "10 * 1024 * 1024", cfg.LogMaxSize)
	assert.Equal(t, 5*time.Minute, time.Duration(cfg.Email.CheckInterval))

	dcfg := DefaultDataConfig()
	dcfg.SetColumn(ColHour, "HR")
	assert.Equal(t, "HR", dcfg.GetColumn(ColHour))
}
