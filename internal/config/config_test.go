package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	snapshot := map[string]interface{}{}
	for _, k := range viper.AllKeys() {
		snapshot[k] = viper.Get(k)
	}
	t.Cleanup(func() {
		for k, v := range snapshot {
			viper.Set(k, v)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultPreset, cfg.DefaultPreset)
	assert.InDelta(t, DefaultCaptureRPS, cfg.CaptureRPS, 1e-9)
	assert.Equal(t, DefaultCaptureBurst, cfg.CaptureBurst)
	assert.Equal(t, DefaultDailyQuota, cfg.DailyQuota)
	assert.Equal(t, DefaultSweepSchedule, cfg.SweepSchedule)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.False(t, cfg.OTelEnabled)
}

func TestLoadValidatesLimits(t *testing.T) {
	resetViper(t)

	viper.Set(KeyCaptureRPS, -1.0)
	_, err := Load()
	require.Error(t, err)
	viper.Set(KeyCaptureRPS, DefaultCaptureRPS)

	viper.Set(KeyDailyQuota, -5)
	_, err = Load()
	require.Error(t, err)
	viper.Set(KeyDailyQuota, DefaultDailyQuota)

	viper.Set(KeyLogLevel, "loud")
	_, err = Load()
	require.Error(t, err)
}

func TestDBPath(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	viper.Set(KeyDataDir, dir)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lodestar.db"), cfg.DBPath())
	require.NoError(t, cfg.EnsureDataDir())
}
