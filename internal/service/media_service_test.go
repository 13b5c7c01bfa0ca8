package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu      sync.Mutex
	calls   []string
	failFor int
}

func (u *recordingUploader) Upload(_ context.Context, source string) (transfer.UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, source)
	if u.failFor > 0 {
		u.failFor--
		return transfer.UploadResult{}, apperr.New(apperr.KindTransient, "test.upload", fmt.Errorf("timeout"))
	}
	return transfer.UploadResult{PublicURL: "https://cdn.test/" + filepath.Base(source)}, nil
}

func (u *recordingUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

func newTestMedia(t *testing.T, dir string, up Uploader) MediaService {
	log, _ := testLogger()
	return NewMediaService(FSLocator{Dir: dir}, up, fastPolicy(log), MediaOptions{
		Dir:             dir,
		MaxContinuation: 9,
		CacheTTL:        time.Hour,
		CacheMax:        100,
	}, log)
}

func TestClassifyStopsAtFirstGap(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "C1.png")
	writePNG(t, dir, "C1_1.jpg")
	writePNG(t, dir, "C1_3.png")

	up := &recordingUploader{}
	plan, err := newTestMedia(t, dir, up).Classify(context.Background(),
		models.ContentItem{ID: "C1", UseMedia: true})
	require.NoError(t, err)

	assert.Equal(t, models.MediaKindCarousel, plan.Kind)
	assert.Equal(t, []string{"https://cdn.test/C1.png", "https://cdn.test/C1_1.jpg"}, plan.URLs)
}

func TestClassifySingleImageAndText(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "C1.webp")
	media := newTestMedia(t, dir, &recordingUploader{})

	plan, err := media.Classify(context.Background(), models.ContentItem{ID: "C1", UseMedia: true})
	require.NoError(t, err)
	assert.Equal(t, models.MediaKindImage, plan.Kind)
	assert.Len(t, plan.URLs, 1)

	plan, err = media.Classify(context.Background(), models.ContentItem{ID: "C2", UseMedia: true})
	require.NoError(t, err)
	assert.Equal(t, models.MediaPlan{Kind: models.MediaKindText}, plan)

	plan, err = media.Classify(context.Background(), models.ContentItem{ID: "C1", UseMedia: false})
	require.NoError(t, err)
	assert.Equal(t, models.MediaKindText, plan.Kind)
}

func TestClassifyIgnoresNonImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "C1.jpg"), []byte("not an image"), 0o600))

	plan, err := newTestMedia(t, dir, &recordingUploader{}).Classify(context.Background(),
		models.ContentItem{ID: "C1", UseMedia: true})
	require.NoError(t, err)
	assert.Equal(t, models.MediaKindText, plan.Kind)
}

func TestClassifyExplicitRefs(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "C1.png")
	writePNG(t, dir, "extra.png")

	up := &recordingUploader{}
	plan, err := newTestMedia(t, dir, up).Classify(context.Background(), models.ContentItem{
		ID:        "C1",
		UseMedia:  true,
		MediaRefs: []string{"https://hosted.test/a.jpg", "extra.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.MediaKindCarousel, plan.Kind)
	assert.Equal(t, []string{"https://hosted.test/a.jpg", "https://cdn.test/extra.png"}, plan.URLs)
	assert.Equal(t, []string{filepath.Join(dir, "extra.png")}, up.calls)
}

func TestClassifyUploadsChangedRef(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "old.png")
	writePNG(t, dir, "new.png")
	up := &recordingUploader{}
	media := newTestMedia(t, dir, up)

	item := models.ContentItem{ID: "C1", UseMedia: true, MediaRefs: []string{"old.png"}}
	_, err := media.Classify(context.Background(), item)
	require.NoError(t, err)

	item.MediaRefs = []string{"new.png"}
	plan, err := media.Classify(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/new.png"}, plan.URLs)
	assert.Equal(t, []string{filepath.Join(dir, "old.png"), filepath.Join(dir, "new.png")}, up.calls)

	_, err = media.Classify(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, 2, up.count())
}

func TestClassifyCachesUploads(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "C1.png")
	up := &recordingUploader{}
	media := newTestMedia(t, dir, up)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := media.Classify(context.Background(), models.ContentItem{ID: "C1", UseMedia: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := media.Classify(context.Background(), models.ContentItem{ID: "C1", UseMedia: true})
	require.NoError(t, err)
	assert.Equal(t, 1, up.count())
}

func TestClassifyRetriesUpload(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "C1.png")

	up := &recordingUploader{failFor: 2}
	plan, err := newTestMedia(t, dir, up).Classify(context.Background(), models.ContentItem{ID: "C1", UseMedia: true})
	require.NoError(t, err)
	assert.Equal(t, models.MediaKindImage, plan.Kind)
	assert.Equal(t, 3, up.count())

	up = &recordingUploader{failFor: 5}
	writePNG(t, dir, "C2.png")
	_, err = newTestMedia(t, dir, up).Classify(context.Background(), models.ContentItem{ID: "C2", UseMedia: true})
	assert.True(t, apperr.Is(err, apperr.KindTransient))
	assert.Equal(t, 3, up.count())
}
