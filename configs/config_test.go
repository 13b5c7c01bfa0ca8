package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)

	assert.Equal(t, []int{8, 12, 18, 21}, cfg.Schedule.HourSlots)
	assert.Equal(t, time.Minute, cfg.Schedule.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.Posting.ReplyDelay)
	assert.Equal(t, 10*time.Second, cfg.Posting.InterAccountDelayMin)
	assert.Equal(t, 30*time.Second, cfg.Posting.InterAccountDelayMax)
	assert.Equal(t, 3, cfg.Posting.RecentDepth)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 9, cfg.Media.MaxContinuation)
	assert.Equal(t, []string{"utf-8", "shift_jis", "euc-jp"}, cfg.SourceEncodings)
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("THREADPOST_HOUR_SLOTS=7,19\nTHREADPOST_REPLY_DELAY=2s\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("THREADPOST_HOUR_SLOTS")
		os.Unsetenv("THREADPOST_REPLY_DELAY")
	})

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 19}, cfg.Schedule.HourSlots)
	assert.Equal(t, 2*time.Second, cfg.Posting.ReplyDelay)
}

func TestValidateRejectsBadSlots(t *testing.T) {
	t.Setenv("THREADPOST_HOUR_SLOTS", "8,24")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
	assert.Error(t, err)
}

func TestPathResolution(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/threadpost"}
	assert.Equal(t, "/var/lib/threadpost/contents.csv", cfg.Path("contents.csv"))
	assert.Equal(t, "/etc/proxies.txt", cfg.Path("/etc/proxies.txt"))
	assert.Equal(t, "/var/lib/threadpost/scheduler.json", cfg.SchedulerStateFile())
}
