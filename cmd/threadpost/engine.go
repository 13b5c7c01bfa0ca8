package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	config "github.com/maheshrc27/threadpost/configs"
	job "github.com/maheshrc27/threadpost/internal/jobs"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/maheshrc27/threadpost/internal/service"
	"github.com/maheshrc27/threadpost/pkg/clock"
	"github.com/maheshrc27/threadpost/pkg/retry"
	"github.com/sirupsen/logrus"
)

const (
	scheduleRunsFile = "schedule_runs.json"
	proxyStateFile   = "proxy_state.json"
	envTokenPrefix   = "THREADPOST_TOKEN_"
)

// engine is the fully wired posting stack shared by post, scheduler, serve
// and worker.
type engine struct {
	cfg      *config.Config
	loc      *time.Location
	accounts repository.AccountRepository
	contents repository.ContentRepository
	ledger   repository.ScheduleRunRepository
	threads  service.ThreadsService
	orch     service.OrchestratorService
	sync     service.SyncService
	runner   *job.ScheduleRunner
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func credentialSource(cfg *config.Config) (repository.CredentialSource, error) {
	if cfg.CredentialsFile == "" {
		return repository.EnvCredentials{Prefix: envTokenPrefix}, nil
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("THREADPOST_SECRET_KEY is required to read the credentials file")
	}
	return repository.NewEncryptedCredentials(cfg.Path(cfg.CredentialsFile), cfg.SecretKey)
}

// newContentStack builds just the content store and its sync service.
func newContentStack(cfg *config.Config, log *logrus.Entry) (repository.ContentRepository, service.SyncService, error) {
	contents := repository.NewContentRepository(cfg.DataDir, cfg.Posting.RecentDepth)
	if err := contents.Load(); err != nil {
		return nil, nil, fmt.Errorf("load content store: %w", err)
	}
	sync := service.NewSyncService(contents, service.SyncSources{
		ContentsPath:   cfg.Path(cfg.ContentsFile),
		AffiliatesPath: cfg.Path(cfg.AffiliatesFile),
		Encodings:      cfg.SourceEncodings,
	}, log)
	return contents, sync, nil
}

func newEngine(ctx context.Context, cfg *config.Config, base *logrus.Logger) (*engine, error) {
	log := func(name string) *logrus.Entry { return base.WithField("component", name) }

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	creds, err := credentialSource(cfg)
	if err != nil {
		return nil, err
	}
	accounts := repository.NewAccountRepository(cfg.Path(cfg.AccountsFile), creds)
	if err := accounts.Load(); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	contents, sync, err := newContentStack(cfg, log("sync"))
	if err != nil {
		return nil, err
	}
	if err := primeContents(ctx, cfg, contents, sync); err != nil {
		return nil, err
	}

	ledger := repository.NewScheduleRunRepository(cfg.Path(scheduleRunsFile))
	if err := ledger.Load(); err != nil {
		return nil, fmt.Errorf("load schedule ledger: %w", err)
	}

	proxies, err := service.NewProxyRotator(
		repository.NewProxyRepository(cfg.Path(cfg.ProxiesFile), cfg.Path(proxyStateFile)),
		log("proxy"), newRand())
	if err != nil {
		return nil, fmt.Errorf("load proxy pool: %w", err)
	}

	uploader, err := service.NewUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      2,
		CallTimeout:     cfg.Retry.CallTimeout,
		Log:             log("retry"),
	}
	clk := clock.Real{}

	media := service.NewMediaService(service.FSLocator{Dir: cfg.Media.Dir}, uploader, policy, service.MediaOptions{
		Dir:             cfg.Media.Dir,
		MaxContinuation: cfg.Media.MaxContinuation,
		CacheTTL:        cfg.Media.UploadCacheTTL,
		CacheMax:        cfg.Media.UploadCacheMax,
	}, log("media"))

	threads := service.NewThreadsService(cfg.Threads.BaseURL, log("threads"))
	publisher := service.NewPublisherService(threads, media, policy, clk, service.PublisherOptions{
		ReplyDelay:   cfg.Posting.ReplyDelay,
		MaxTextRunes: cfg.Threads.MaxTextRunes,
	}, log("publisher"))

	orch := service.NewOrchestratorService(
		accounts,
		contents,
		repository.NewPostHistoryRepository(cfg.DataDir),
		proxies,
		service.NewSelectionService(contents, cfg.Posting.AllowShared, newRand()),
		media,
		publisher,
		clk,
		service.OrchestratorOptions{
			InterAccountDelayMin: cfg.Posting.InterAccountDelayMin,
			InterAccountDelayMax: cfg.Posting.InterAccountDelayMax,
		},
		newRand(),
		log("orchestrator"))

	runner := job.NewScheduleRunner(ledger, orch, clk, job.ScheduleOptions{
		HourSlots:    cfg.Schedule.HourSlots,
		Location:     loc,
		TickInterval: cfg.Schedule.TickInterval,
	}, log("scheduler"))

	return &engine{
		cfg:      cfg,
		loc:      loc,
		accounts: accounts,
		contents: contents,
		ledger:   ledger,
		threads:  threads,
		orch:     orch,
		sync:     sync,
		runner:   runner,
	}, nil
}

// primeContents imports the source file when it changed since the last
// import. A store that was never imported needs the source file.
func primeContents(ctx context.Context, cfg *config.Config, contents repository.ContentRepository, sync service.SyncService) error {
	path := cfg.Path(cfg.ContentsFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && contents.Fingerprint() != "" {
			return nil
		}
		return fmt.Errorf("contents source: %w", err)
	}
	if _, err := sync.Sync(ctx, service.SyncOptions{}); err != nil {
		return fmt.Errorf("import contents: %w", err)
	}
	return nil
}
