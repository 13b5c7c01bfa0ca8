package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/transfer"
	"github.com/sirupsen/logrus"
)

// Session is one account acting through one (optional) proxy lease.
type Session struct {
	Account models.Account
	Lease   *models.ProxyLease
}

type ContainerRequest struct {
	MediaKind       models.MediaKind
	Text            string
	MediaURL        string
	ReplyToID       string
	IsCarouselChild bool
	Children        []string
}

type RefreshedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// ThreadsService is the posting platform client.
type ThreadsService interface {
	CreateContainer(ctx context.Context, s Session, req ContainerRequest) (string, error)
	Publish(ctx context.Context, s Session, containerID string) (string, error)
	RefreshToken(ctx context.Context, s Session) (RefreshedToken, error)
}

type threadsService struct {
	baseURL string
	log     *logrus.Entry
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewThreadsService(baseURL string, log *logrus.Entry) ThreadsService {
	return &threadsService{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
		now:     time.Now,
		clients: map[string]*http.Client{},
	}
}

// clientFor returns a client whose transport egresses through the lease.
// Direct sessions share http.DefaultClient.
func (t *threadsService) clientFor(lease *models.ProxyLease) *http.Client {
	if lease == nil {
		return http.DefaultClient
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := lease.URL().String()
	if c, ok := t.clients[key]; ok {
		return c
	}
	c := &http.Client{Transport: &http.Transport{
		Proxy:               http.ProxyURL(lease.URL()),
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}}
	t.clients[key] = c
	return c
}

func (t *threadsService) CreateContainer(ctx context.Context, s Session, req ContainerRequest) (string, error) {
	data := url.Values{}
	switch {
	case req.IsCarouselChild:
		data.Set("media_type", "IMAGE")
		data.Set("image_url", req.MediaURL)
		data.Set("is_carousel_item", "true")
	case req.MediaKind == models.MediaKindImage:
		data.Set("media_type", "IMAGE")
		data.Set("image_url", req.MediaURL)
		data.Set("text", req.Text)
	case req.MediaKind == models.MediaKindCarousel:
		if len(req.Children) == 0 {
			return "", apperr.Errorf(apperr.KindValidation, "threads.create", "carousel without children")
		}
		data.Set("media_type", "CAROUSEL")
		data.Set("children", strings.Join(req.Children, ","))
		data.Set("text", req.Text)
	default:
		data.Set("media_type", "TEXT")
		data.Set("text", req.Text)
	}
	if req.ReplyToID != "" {
		data.Set("reply_to_id", req.ReplyToID)
	}
	data.Set("access_token", s.Account.Credential)

	var result transfer.ThreadsIDResponse
	endpoint := fmt.Sprintf("%s/%s/threads", t.baseURL, s.Account.RemoteUserID)
	if err := t.post(ctx, s, "threads.create", endpoint, data, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", apperr.Errorf(apperr.KindTransient, "threads.create", "no container id returned")
	}
	return result.ID, nil
}

func (t *threadsService) Publish(ctx context.Context, s Session, containerID string) (string, error) {
	data := url.Values{}
	data.Set("creation_id", containerID)
	data.Set("access_token", s.Account.Credential)

	var result transfer.ThreadsIDResponse
	endpoint := fmt.Sprintf("%s/%s/threads_publish", t.baseURL, s.Account.RemoteUserID)
	if err := t.post(ctx, s, "threads.publish", endpoint, data, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", apperr.Errorf(apperr.KindTransient, "threads.publish", "no post id returned")
	}

	t.log.WithFields(logrus.Fields{
		"account_id":   s.Account.ID,
		"container_id": containerID,
		"post_id":      result.ID,
	}).Debug("published to threads")
	return result.ID, nil
}

// RefreshToken exchanges a long-lived token for a fresh one. The refresh
// endpoint lives at the API root, outside the versioned path.
func (t *threadsService) RefreshToken(ctx context.Context, s Session) (RefreshedToken, error) {
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return RefreshedToken{}, err
	}
	endpoint := base.ResolveReference(&url.URL{Path: "/refresh_access_token"})
	q := url.Values{}
	q.Set("grant_type", "th_refresh_token")
	q.Set("access_token", s.Account.Credential)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return RefreshedToken{}, fmt.Errorf("error creating request: %w", err)
	}

	var result transfer.ThreadsToken
	if err := t.do(s, "threads.refresh", req, &result); err != nil {
		return RefreshedToken{}, err
	}
	if result.AccessToken == "" {
		return RefreshedToken{}, apperr.Errorf(apperr.KindAuth, "threads.refresh", "empty access token")
	}
	return RefreshedToken{
		AccessToken: result.AccessToken,
		ExpiresAt:   expiresAt(t.now(), result.ExpiresIn),
	}, nil
}

func (t *threadsService) post(ctx context.Context, s Session, op, endpoint string, data url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(s, op, req, out)
}

func (t *threadsService) do(s Session, op string, req *http.Request, out interface{}) error {
	resp, err := t.clientFor(s.Lease).Do(req)
	if err != nil {
		// timeouts, refused connections and proxy failures are worth retrying
		return apperr.New(apperr.KindTransient, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.New(apperr.KindTransient, op, fmt.Errorf("error reading response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return classifyThreadsError(op, resp, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.New(apperr.KindTransient, op, fmt.Errorf("error parsing response: %w", err))
	}
	return nil
}

var rateLimitCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

func classifyThreadsError(op string, resp *http.Response, body []byte) error {
	var graph transfer.ThreadsErrorResponse
	_ = json.Unmarshal(body, &graph)

	msg := graph.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	if graph.Error.Code != 0 {
		cause = fmt.Errorf("status %d code %d: %s", resp.StatusCode, graph.Error.Code, msg)
	}

	e := &apperr.Error{Op: op, Err: cause}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || graph.Error.Code == 190:
		e.Kind = apperr.KindAuth
	case resp.StatusCode == http.StatusTooManyRequests || rateLimitCodes[graph.Error.Code]:
		e.Kind = apperr.KindRateLimit
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	case resp.StatusCode >= 500 || graph.Error.IsTransient:
		e.Kind = apperr.KindTransient
	case resp.StatusCode == http.StatusForbidden:
		e.Kind = apperr.KindAuth
	default:
		e.Kind = apperr.KindValidation
	}
	return e
}
