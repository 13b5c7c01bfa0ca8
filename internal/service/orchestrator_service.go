package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/maheshrc27/threadpost/pkg/clock"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"
)

type RunOptions struct {
	// Test selects and classifies without leasing a proxy, posting or
	// recording usage.
	Test bool `json:"test"`
}

type Summary struct {
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Partial   int                 `json:"partial"`
	Failed    int                 `json:"failed"`
	Skipped   int                 `json:"skipped"`
	Results   []models.PostRecord `json:"results"`
}

func (s *Summary) Add(rec models.PostRecord) {
	s.Total++
	switch rec.Outcome {
	case models.OutcomeSuccess:
		s.Succeeded++
	case models.OutcomePartial:
		s.Partial++
	case models.OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
	s.Results = append(s.Results, rec)
}

// SuccessRate counts partial posts as delivered: the main post exists.
func (s Summary) SuccessRate() float64 {
	attempted := s.Total - s.Skipped
	if attempted == 0 {
		return 0
	}
	return float64(s.Succeeded+s.Partial) / float64(attempted)
}

func (s Summary) AccountResults() []models.AccountResult {
	out := make([]models.AccountResult, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, models.AccountResult{
			AccountID:   r.AccountID,
			RecordID:    r.ID,
			ContentID:   r.ContentID,
			MainPostID:  r.MainPostID,
			ReplyPostID: r.ReplyPostID,
			Outcome:     r.Outcome,
			Error:       r.Error,
		})
	}
	return out
}

type OrchestratorService interface {
	RunAccount(ctx context.Context, accountID string, opts RunOptions) (models.PostRecord, error)
	RunAll(ctx context.Context, opts RunOptions) (Summary, error)
}

type OrchestratorOptions struct {
	InterAccountDelayMin time.Duration
	InterAccountDelayMax time.Duration
}

type orchestratorService struct {
	accounts  repository.AccountRepository
	contents  repository.ContentRepository
	history   repository.PostHistoryRepository
	proxies   ProxyRotator
	selection SelectionService
	media     MediaService
	publisher PublisherService
	clock     clock.Clock
	opts      OrchestratorOptions
	log       *logrus.Entry

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewOrchestratorService(
	accounts repository.AccountRepository,
	contents repository.ContentRepository,
	history repository.PostHistoryRepository,
	proxies ProxyRotator,
	selection SelectionService,
	media MediaService,
	publisher PublisherService,
	c clock.Clock,
	opts OrchestratorOptions,
	rnd *rand.Rand,
	log *logrus.Entry) OrchestratorService {
	return &orchestratorService{
		accounts:  accounts,
		contents:  contents,
		history:   history,
		proxies:   proxies,
		selection: selection,
		media:     media,
		publisher: publisher,
		clock:     c,
		opts:      opts,
		rnd:       rnd,
		log:       log,
	}
}

// RunAccount performs one orchestration attempt for one account and always
// returns the resulting record. The error is non-nil only when the main
// post was not published.
func (o *orchestratorService) RunAccount(ctx context.Context, accountID string, opts RunOptions) (models.PostRecord, error) {
	id, err := gonanoid.New()
	if err != nil {
		return models.PostRecord{}, err
	}
	rec := models.PostRecord{
		ID:        id,
		AccountID: accountID,
		State:     models.PostStateIdle,
		Test:      opts.Test,
		CreatedAt: o.clock.Now(),
	}
	log := o.log.WithFields(logrus.Fields{"account_id": accountID, "record_id": id})

	err = o.run(ctx, &rec, opts)
	if err != nil {
		rec.Outcome = models.OutcomeFailed
		rec.Error = err.Error()
		log.WithError(err).WithField("state", rec.State).Error("account run failed")
	}

	if herr := o.history.Append(rec); herr != nil {
		log.WithError(herr).Error("failed to append post history")
	}

	if rec.MainPostID != "" && !rec.Test {
		if uerr := o.contents.RecordUsage(accountID, rec.ContentID); uerr != nil {
			log.WithError(uerr).Error("failed to record content usage")
		}
	}
	return rec, err
}

func (o *orchestratorService) run(ctx context.Context, rec *models.PostRecord, opts RunOptions) error {
	account, err := o.accounts.Get(rec.AccountID)
	if err != nil {
		return err
	}
	if !account.IsActive() {
		return fmt.Errorf("account %s is %s", account.ID, account.Status)
	}

	content, err := o.selection.PickContent(account.ID)
	if err != nil {
		return err
	}
	rec.ContentID = content.ID

	var affiliate *models.AffiliateItem
	aff, err := o.selection.MatchAffiliate(content.ID, account.ID)
	switch {
	case err == nil:
		affiliate = &aff
		rec.AffiliateID = aff.ID
	case !errors.Is(err, apperr.ErrNoAffiliate):
		return err
	}

	if opts.Test {
		plan, err := o.media.Classify(ctx, content)
		if err != nil {
			return err
		}
		rec.MediaKind = plan.Kind
		rec.MediaURLs = plan.URLs
		rec.Outcome = models.OutcomeSkipped
		o.log.WithFields(logrus.Fields{
			"account_id":   account.ID,
			"content_id":   content.ID,
			"affiliate_id": rec.AffiliateID,
			"kind":         plan.Kind,
		}).Info("test run, nothing posted")
		return nil
	}

	session := Session{Account: account}
	if lease, ok := o.proxies.Lease(account.ID); ok {
		session.Lease = &lease
		rec.ProxyEndpoint = lease.Address()
	}

	res, err := o.publisher.Publish(ctx, session, content, affiliate)
	rec.State = res.State
	rec.MediaKind = res.Plan.Kind
	rec.MediaURLs = res.Plan.URLs
	rec.MainPostID = res.MainPostID
	rec.ReplyPostID = res.ReplyPostID
	if err != nil {
		return err
	}
	rec.Outcome = res.Outcome()
	if res.ReplyError != nil {
		rec.Error = res.ReplyError.Error()
	}
	return nil
}

// RunAll processes active accounts one at a time with a random pause
// between them. One account's failure never stops the batch.
func (o *orchestratorService) RunAll(ctx context.Context, opts RunOptions) (Summary, error) {
	var summary Summary
	accounts := o.accounts.Active()

	for i, a := range accounts {
		if i > 0 && !opts.Test {
			if err := clock.Sleep(ctx, o.clock, o.interAccountDelay()); err != nil {
				return summary, err
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		rec, _ := o.RunAccount(ctx, a.ID, opts)
		summary.Add(rec)
	}

	o.log.WithFields(logrus.Fields{
		"total":     summary.Total,
		"succeeded": summary.Succeeded,
		"partial":   summary.Partial,
		"failed":    summary.Failed,
		"test":      opts.Test,
	}).Info("orchestration pass finished")
	return summary, nil
}

func (o *orchestratorService) interAccountDelay() time.Duration {
	lo, hi := o.opts.InterAccountDelayMin, o.opts.InterAccountDelayMax
	if hi <= lo {
		return lo
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return lo + time.Duration(o.rnd.Int63n(int64(hi-lo)+1))
}
