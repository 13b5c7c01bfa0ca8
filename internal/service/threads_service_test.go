package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testThreadsBase = "https://graph.threads.test/v1.0"

func testSession() Session {
	return Session{Account: models.Account{
		ID:           "A1",
		RemoteUserID: "1001",
		Credential:   "tok-a1",
		Status:       models.AccountStatusActive,
	}}
}

func TestCreateTextReplyContainer(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	log, _ := testLogger()
	svc := NewThreadsService(testThreadsBase, log)

	httpmock.RegisterResponder("POST", testThreadsBase+"/1001/threads",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			assert.Equal(t, "TEXT", req.PostForm.Get("media_type"))
			assert.Equal(t, "see link", req.PostForm.Get("text"))
			assert.Equal(t, "main-1", req.PostForm.Get("reply_to_id"))
			assert.Equal(t, "tok-a1", req.PostForm.Get("access_token"))
			return httpmock.NewStringResponse(200, `{"id": "c-1"}`), nil
		})

	id, err := svc.CreateContainer(context.Background(), testSession(), ContainerRequest{
		MediaKind: models.MediaKindText,
		Text:      "see link",
		ReplyToID: "main-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "c-1", id)
}

func TestCreateCarouselContainers(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	log, _ := testLogger()
	svc := NewThreadsService(testThreadsBase, log)

	var forms []map[string]string
	httpmock.RegisterResponder("POST", testThreadsBase+"/1001/threads",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			f := map[string]string{}
			for k := range req.PostForm {
				f[k] = req.PostForm.Get(k)
			}
			forms = append(forms, f)
			return httpmock.NewStringResponse(200, `{"id": "x"}`), nil
		})

	ctx := context.Background()
	_, err := svc.CreateContainer(ctx, testSession(), ContainerRequest{MediaURL: "https://img/1.jpg", IsCarouselChild: true})
	require.NoError(t, err)
	_, err = svc.CreateContainer(ctx, testSession(), ContainerRequest{
		MediaKind: models.MediaKindCarousel,
		Text:      "album",
		Children:  []string{"k1", "k2"},
	})
	require.NoError(t, err)

	require.Len(t, forms, 2)
	assert.Equal(t, "true", forms[0]["is_carousel_item"])
	assert.Equal(t, "https://img/1.jpg", forms[0]["image_url"])
	assert.Equal(t, "CAROUSEL", forms[1]["media_type"])
	assert.Equal(t, "k1,k2", forms[1]["children"])

	_, err = svc.CreateContainer(ctx, testSession(), ContainerRequest{MediaKind: models.MediaKindCarousel})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestPublish(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	log, _ := testLogger()
	svc := NewThreadsService(testThreadsBase, log)

	httpmock.RegisterResponder("POST", testThreadsBase+"/1001/threads_publish",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			assert.Equal(t, "c-9", req.PostForm.Get("creation_id"))
			return httpmock.NewStringResponse(200, `{"id": "post-9"}`), nil
		})

	id, err := svc.Publish(context.Background(), testSession(), "c-9")
	require.NoError(t, err)
	assert.Equal(t, "post-9", id)
}

func TestThreadsErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		header string
		kind   apperr.Kind
	}{
		{"expired token", 400, `{"error":{"message":"Session expired","code":190}}`, "", apperr.KindAuth},
		{"unauthorized", 401, `{}`, "", apperr.KindAuth},
		{"too many requests", 429, `{}`, "7", apperr.KindRateLimit},
		{"app rate limit", 400, `{"error":{"message":"limit","code":4}}`, "", apperr.KindRateLimit},
		{"server error", 502, `bad gateway`, "", apperr.KindTransient},
		{"transient flag", 400, `{"error":{"message":"try again","code":2,"is_transient":true}}`, "", apperr.KindTransient},
		{"bad request", 400, `{"error":{"message":"Invalid parameter","code":100}}`, "", apperr.KindValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			httpmock.Activate()
			defer httpmock.DeactivateAndReset()

			resp := httpmock.NewStringResponder(tc.status, tc.body)
			if tc.header != "" {
				resp = resp.HeaderSet(http.Header{"Retry-After": {tc.header}})
			}
			httpmock.RegisterResponder("POST", testThreadsBase+"/1001/threads_publish", resp)

			log, _ := testLogger()
			_, err := NewThreadsService(testThreadsBase, log).Publish(context.Background(), testSession(), "c")
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
			if tc.header != "" {
				assert.Equal(t, 7*time.Second, apperr.RetryAfter(err))
			}
		})
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	log, _ := testLogger()
	_, err := NewThreadsService(testThreadsBase, log).Publish(context.Background(), testSession(), "c")
	assert.True(t, apperr.Is(err, apperr.KindTransient))
}

func TestRefreshToken(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://graph.threads.test/refresh_access_token",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "th_refresh_token", req.URL.Query().Get("grant_type"))
			assert.Equal(t, "tok-a1", req.URL.Query().Get("access_token"))
			return httpmock.NewStringResponse(200, `{"access_token":"tok-new","token_type":"bearer","expires_in":5184000}`), nil
		})

	log, _ := testLogger()
	svc := NewThreadsService(testThreadsBase, log).(*threadsService)
	now := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	tok, err := svc.RefreshToken(context.Background(), testSession())
	require.NoError(t, err)
	assert.Equal(t, "tok-new", tok.AccessToken)
	assert.Equal(t, now.Add(60*24*time.Hour), tok.ExpiresAt)
}

func TestClientForLease(t *testing.T) {
	log, _ := testLogger()
	svc := NewThreadsService(testThreadsBase, log).(*threadsService)

	assert.Same(t, http.DefaultClient, svc.clientFor(nil))

	lease := &models.ProxyLease{Endpoint: "10.0.0.1", Port: 8080, Username: "u", Password: "p"}
	c := svc.clientFor(lease)
	assert.Same(t, c, svc.clientFor(lease))

	transport, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	req, _ := http.NewRequest("GET", testThreadsBase, nil)
	proxyURL, err := transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "http://u:p@10.0.0.1:8080", proxyURL.String())
}
