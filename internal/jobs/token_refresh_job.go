package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

// TokenRefreshJob renews the long-lived access tokens of active accounts
// and stores them back through the credential source.
type TokenRefreshJob struct {
	accounts repository.AccountRepository
	threads  service.ThreadsService
	log      *logrus.Entry
	timeout  time.Duration
}

func NewTokenRefreshJob(accounts repository.AccountRepository, threads service.ThreadsService, log *logrus.Entry) *TokenRefreshJob {
	return &TokenRefreshJob{
		accounts: accounts,
		threads:  threads,
		log:      log,
		timeout:  5 * time.Minute,
	}
}

// Schedule registers the job on c to run every interval.
func (j *TokenRefreshJob) Schedule(c *cron.Cron, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("token refresh interval must be positive, got %s", every)
	}
	return c.AddFunc("@every "+every.String(), j.RefreshTokens)
}

func (j *TokenRefreshJob) RefreshTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	refreshed, failed := j.Refresh(ctx)
	j.log.WithFields(logrus.Fields{
		"refreshed": refreshed,
		"failed":    failed,
	}).Info("token refresh finished")
}

// Refresh renews every active account's token with limited concurrency.
// One account's failure is logged and does not stop the others.
func (j *TokenRefreshJob) Refresh(ctx context.Context) (refreshed, failed int) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	semaphore := make(chan struct{}, 4)

	for _, acc := range j.accounts.Active() {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc models.Account) {
			defer wg.Done()
			defer func() { <-semaphore }()

			err := j.refreshOne(ctx, acc)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				j.log.WithError(err).WithField("account_id", acc.ID).Warn("unable to refresh token")
				return
			}
			refreshed++
		}(acc)
	}

	wg.Wait()
	return refreshed, failed
}

func (j *TokenRefreshJob) refreshOne(ctx context.Context, acc models.Account) error {
	tok, err := j.threads.RefreshToken(ctx, service.Session{Account: acc})
	if err != nil {
		return err
	}
	if err := j.accounts.UpdateCredential(acc.ID, tok.AccessToken); err != nil {
		return err
	}
	j.log.WithFields(logrus.Fields{
		"account_id": acc.ID,
		"expires_at": tok.ExpiresAt,
	}).Info("token refreshed")
	return nil
}
