package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maheshrc27/threadpost/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCLI(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--env", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("THREADPOST_SECRET_KEY", "cli-secret")
	t.Setenv("THREADPOST_DATA_DIR", t.TempDir())

	out, err := runCLI(t, "token", "--operator", "ops")
	require.NoError(t, err)

	claims, err := utils.ValidateToken("cli-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	t.Setenv("THREADPOST_SECRET_KEY", "")
	_, err := runCLI(t, "token")
	assert.Error(t, err)
}

func TestPostNeedsExactlyOneTarget(t *testing.T) {
	t.Setenv("THREADPOST_DATA_DIR", t.TempDir())

	_, err := runCLI(t, "post")
	assert.ErrorContains(t, err, "exactly one of")

	_, err = runCLI(t, "post", "--all", "--account", "A1")
	assert.ErrorContains(t, err, "exactly one of")
}

func TestPostFailsWithoutAccountsFile(t *testing.T) {
	t.Setenv("THREADPOST_DATA_DIR", t.TempDir())

	_, err := runCLI(t, "post", "--all", "--test")
	assert.ErrorContains(t, err, "load accounts")
}

func TestSchedulerStatusWhenStopped(t *testing.T) {
	t.Setenv("THREADPOST_DATA_DIR", t.TempDir())
	t.Setenv("THREADPOST_HOUR_SLOTS", "9,21")

	out, err := runCLI(t, "scheduler", "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"running": false`)
	assert.Contains(t, out, `"today": []`)
}
