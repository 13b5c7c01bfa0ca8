package service

import (
	"math/rand"
	"testing"
	"time"

	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/maheshrc27/threadpost/pkg/retry"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func testLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func fastPolicy(log *logrus.Entry) retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		CallTimeout:     time.Second,
		Log:             log,
	}
}

func seededRand() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

// contentRepo builds a content repository from rows of
// account_id, content_id, body_text, image_usage and affiliate rows of
// account_id, content_id, reply_text, promo_url.
func contentRepo(t *testing.T, contents [][]string, affiliates [][]string) repository.ContentRepository {
	t.Helper()
	repo := repository.NewContentRepository(t.TempDir(), 3)
	_, err := repo.Refresh(repository.ContentSource{
		Contents: repository.Table{
			Header: []string{"account_id", "content_id", "body_text", "image_usage"},
			Rows:   contents,
		},
		Affiliates: &repository.Table{
			Header: []string{"account_id", "content_id", "reply_text", "promo_url"},
			Rows:   affiliates,
		},
	}, true)
	require.NoError(t, err)
	return repo
}
