package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/pkg/clock"
	"github.com/maheshrc27/threadpost/pkg/retry"
	"github.com/sirupsen/logrus"
)

// PublishResult is how far one tree post got. State is the last state
// reached; ReplyError is set when the main post stands but the reply failed.
type PublishResult struct {
	State       models.PostState
	Plan        models.MediaPlan
	MainPostID  string
	ReplyPostID string
	ReplyError  error
}

func (r PublishResult) Outcome() string {
	switch r.State {
	case models.PostStatePublished, models.PostStateReplyPublished:
		return models.OutcomeSuccess
	case models.PostStateReplyFailed:
		return models.OutcomePartial
	default:
		return models.OutcomeFailed
	}
}

type PublisherService interface {
	Publish(ctx context.Context, s Session, content models.ContentItem, affiliate *models.AffiliateItem) (PublishResult, error)
}

type PublisherOptions struct {
	ReplyDelay   time.Duration
	MaxTextRunes int
}

type publisherService struct {
	threads ThreadsService
	media   MediaService
	policy  retry.Policy
	clock   clock.Clock
	opts    PublisherOptions
	log     *logrus.Entry
}

func NewPublisherService(threads ThreadsService, media MediaService, policy retry.Policy, c clock.Clock, opts PublisherOptions, log *logrus.Entry) PublisherService {
	if opts.MaxTextRunes <= 0 {
		opts.MaxTextRunes = 500
	}
	return &publisherService{
		threads: threads,
		media:   media,
		policy:  policy,
		clock:   c,
		opts:    opts,
		log:     log,
	}
}

// Publish runs compose, create, publish and, when an affiliate is given,
// the delayed reply. A reply failure never undoes the main post.
func (p *publisherService) Publish(ctx context.Context, s Session, content models.ContentItem, affiliate *models.AffiliateItem) (PublishResult, error) {
	res := PublishResult{State: models.PostStateIdle}
	log := p.log.WithFields(logrus.Fields{
		"account_id": s.Account.ID,
		"content_id": content.ID,
	})

	res.State = models.PostStateComposing
	plan, err := p.media.Classify(ctx, content)
	if err != nil {
		return res, apperr.New(apperr.KindCreate, "publisher.compose", err)
	}
	res.Plan = plan
	body, err := RenderBody(content.BodyText, p.opts.MaxTextRunes)
	if err != nil {
		return res, apperr.New(apperr.KindCreate, "publisher.compose", err)
	}

	containerID, err := p.createMain(ctx, s, plan, body)
	if err != nil {
		return res, err
	}
	res.State = models.PostStateCreated

	mainID, err := p.publish(ctx, s, containerID)
	if err != nil {
		return res, apperr.New(apperr.KindPublish, "publisher.publish", err)
	}
	res.MainPostID = mainID
	res.State = models.PostStatePublished
	log.WithFields(logrus.Fields{"post_id": mainID, "kind": plan.Kind}).Info("main post published")

	if affiliate == nil {
		return res, nil
	}

	res.State = models.PostStateReplyPending
	replyID, err := p.reply(ctx, s, mainID, *affiliate)
	if err != nil {
		res.State = models.PostStateReplyFailed
		res.ReplyError = apperr.New(apperr.KindReplyFailed, "publisher.reply", err)
		log.WithError(err).WithField("post_id", mainID).Warn("reply failed, main post kept")
		return res, nil
	}
	res.ReplyPostID = replyID
	res.State = models.PostStateReplyPublished
	log.WithFields(logrus.Fields{"post_id": mainID, "reply_id": replyID}).Info("reply published")
	return res, nil
}

// createMain creates every carousel child before the parent container.
// Any child failure aborts the post.
func (p *publisherService) createMain(ctx context.Context, s Session, plan models.MediaPlan, body string) (string, error) {
	req := ContainerRequest{MediaKind: plan.Kind, Text: body}

	switch plan.Kind {
	case models.MediaKindImage:
		req.MediaURL = plan.URLs[0]
	case models.MediaKindCarousel:
		for i, u := range plan.URLs {
			child, err := p.create(ctx, s, ContainerRequest{
				MediaKind:       models.MediaKindImage,
				MediaURL:        u,
				IsCarouselChild: true,
			})
			if err != nil {
				return "", apperr.New(apperr.KindCreate, "publisher.create_child", fmt.Errorf("child %d: %w", i, err))
			}
			req.Children = append(req.Children, child)
		}
	}

	id, err := p.create(ctx, s, req)
	if err != nil {
		return "", apperr.New(apperr.KindCreate, "publisher.create", err)
	}
	return id, nil
}

func (p *publisherService) reply(ctx context.Context, s Session, mainID string, affiliate models.AffiliateItem) (string, error) {
	text, err := RenderBody(RenderReply(affiliate), p.opts.MaxTextRunes)
	if err != nil {
		return "", err
	}

	// the platform needs time to propagate the main post before replies
	if err := clock.Sleep(ctx, p.clock, p.opts.ReplyDelay); err != nil {
		return "", err
	}

	containerID, err := p.create(ctx, s, ContainerRequest{
		MediaKind: models.MediaKindText,
		Text:      text,
		ReplyToID: mainID,
	})
	if err != nil {
		return "", err
	}
	return p.publish(ctx, s, containerID)
}

func (p *publisherService) create(ctx context.Context, s Session, req ContainerRequest) (string, error) {
	return retry.Do(ctx, p.policy, "threads.create", func(ctx context.Context) (string, error) {
		return p.threads.CreateContainer(ctx, s, req)
	}, nil)
}

func (p *publisherService) publish(ctx context.Context, s Session, containerID string) (string, error) {
	return retry.Do(ctx, p.policy, "threads.publish", func(ctx context.Context) (string, error) {
		return p.threads.Publish(ctx, s, containerID)
	}, nil)
}

// RenderBody trims the text and enforces the platform length limit.
func RenderBody(text string, maxRunes int) (string, error) {
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); maxRunes > 0 && n > maxRunes {
		return "", apperr.Errorf(apperr.KindValidation, "publisher.render",
			"text has %d characters, limit is %d", n, maxRunes)
	}
	return text, nil
}

// RenderReply puts the promo URL on its own line unless the reply text
// already carries it.
func RenderReply(a models.AffiliateItem) string {
	text := strings.TrimSpace(a.ReplyText)
	url := strings.TrimSpace(a.PromoURL)
	if url == "" || strings.Contains(text, url) {
		return text
	}
	if text == "" {
		return url
	}
	return text + "\n" + url
}
