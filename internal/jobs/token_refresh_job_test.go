package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/robfig/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubThreads struct {
	service.ThreadsService

	mu   sync.Mutex
	seen []string
}

func (s *stubThreads) RefreshToken(_ context.Context, sess service.Session) (service.RefreshedToken, error) {
	s.mu.Lock()
	s.seen = append(s.seen, sess.Account.Credential)
	s.mu.Unlock()
	if sess.Account.ID == "A2" {
		return service.RefreshedToken{}, apperr.New(apperr.KindAuth, "threads.refresh", errors.New("expired"))
	}
	return service.RefreshedToken{AccessToken: sess.Account.Credential + "-new", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func TestRefreshTokens(t *testing.T) {
	dir := t.TempDir()
	creds, err := repository.NewEncryptedCredentials(filepath.Join(dir, "credentials.json"), "secret")
	require.NoError(t, err)
	require.NoError(t, creds.StoreCredential("A1", "old-1"))
	require.NoError(t, creds.StoreCredential("A2", "old-2"))

	accountsPath := filepath.Join(dir, "accounts.json")
	require.NoError(t, os.WriteFile(accountsPath, []byte(`[{"id":"A1"},{"id":"A2"}]`), 0o600))
	accounts := repository.NewAccountRepository(accountsPath, creds)
	require.NoError(t, accounts.Load())

	threads := &stubThreads{}
	refreshed, failed := NewTokenRefreshJob(accounts, threads, testLog()).Refresh(context.Background())
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 1, failed)
	assert.ElementsMatch(t, []string{"old-1", "old-2"}, threads.seen)

	tok, err := creds.Credential("A1")
	require.NoError(t, err)
	assert.Equal(t, "old-1-new", tok)

	tok, err = creds.Credential("A2")
	require.NoError(t, err)
	assert.Equal(t, "old-2", tok)
}

func TestScheduleTokenRefresh(t *testing.T) {
	job := NewTokenRefreshJob(nil, nil, testLog())
	c := cron.New()

	assert.Error(t, job.Schedule(c, 0))
	require.NoError(t, job.Schedule(c, 24*time.Hour))
	assert.Len(t, c.Entries(), 1)
}
