package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/h2non/filetype"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/transfer"
	"github.com/maheshrc27/threadpost/pkg/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// AssetLocator finds the local media asset for a content id. Index 0 is the
// main asset, 1..n are continuations.
type AssetLocator interface {
	Locate(contentID string, index int) (path string, ok bool, err error)
}

var assetExtensions = []string{"jpg", "jpeg", "png", "webp"}

// FSLocator looks for <dir>/<id>.<ext> and <dir>/<id>_<n>.<ext>.
type FSLocator struct {
	Dir string
}

func (l FSLocator) Locate(contentID string, index int) (string, bool, error) {
	name := contentID
	if index > 0 {
		name = fmt.Sprintf("%s_%d", contentID, index)
	}
	for _, ext := range assetExtensions {
		path := filepath.Join(l.Dir, name+"."+ext)
		ok, err := isImageFile(path)
		if err != nil {
			return "", false, err
		}
		if ok {
			return path, true, nil
		}
	}
	return "", false, nil
}

// isImageFile sniffs the file header; a missing file or non-image is false.
func isImageFile(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, 261)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	return filetype.IsImage(head[:n]), nil
}

type MediaService interface {
	Classify(ctx context.Context, content models.ContentItem) (models.MediaPlan, error)
}

type MediaOptions struct {
	Dir             string
	MaxContinuation int
	CacheTTL        time.Duration
	CacheMax        int
}

type mediaService struct {
	locator  AssetLocator
	uploader Uploader
	policy   retry.Policy
	opts     MediaOptions
	log      *logrus.Entry

	uploads cache.Cache[string, transfer.UploadResult]
	group   singleflight.Group
}

func NewMediaService(locator AssetLocator, uploader Uploader, policy retry.Policy, opts MediaOptions, log *logrus.Entry) MediaService {
	c := cache.NewCache[string, transfer.UploadResult]().WithTTL(opts.CacheTTL)
	if opts.CacheMax > 0 {
		c = c.WithMaxKeys(opts.CacheMax)
	}
	return &mediaService{
		locator:  locator,
		uploader: uploader,
		policy:   policy,
		opts:     opts,
		log:      log,
		uploads:  c,
	}
}

// Classify decides the post shape and resolves public URLs. Explicit media
// references win over folder probing. Probing stops at the first missing
// continuation index.
func (m *mediaService) Classify(ctx context.Context, content models.ContentItem) (models.MediaPlan, error) {
	if !content.UseMedia {
		return models.MediaPlan{Kind: models.MediaKindText}, nil
	}

	sources, err := m.sources(content)
	if err != nil {
		return models.MediaPlan{}, err
	}
	if len(sources) == 0 {
		return models.MediaPlan{Kind: models.MediaKindText}, nil
	}

	urls := make([]string, 0, len(sources))
	for i, src := range sources {
		u, err := m.resolve(ctx, content.ID, i, src)
		if err != nil {
			return models.MediaPlan{}, fmt.Errorf("media %s#%d: %w", content.ID, i, err)
		}
		urls = append(urls, u)
	}

	kind := models.MediaKindImage
	if len(urls) > 1 {
		kind = models.MediaKindCarousel
	}
	m.log.WithFields(logrus.Fields{
		"content_id": content.ID,
		"kind":       kind,
		"assets":     len(urls),
	}).Debug("media classified")
	return models.MediaPlan{Kind: kind, URLs: urls}, nil
}

func (m *mediaService) sources(content models.ContentItem) ([]string, error) {
	limit := m.opts.MaxContinuation + 1

	if len(content.MediaRefs) > 0 {
		var out []string
		for _, ref := range content.MediaRefs {
			if len(out) == limit {
				break
			}
			if !isRemote(ref) && !filepath.IsAbs(ref) {
				ref = filepath.Join(m.opts.Dir, ref)
			}
			out = append(out, ref)
		}
		return out, nil
	}

	var out []string
	for i := 0; i < limit; i++ {
		path, ok, err := m.locator.Locate(content.ID, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, path)
	}
	return out, nil
}

func (m *mediaService) resolve(ctx context.Context, contentID string, index int, source string) (string, error) {
	if isRemote(source) {
		return source, nil
	}

	// The source is part of the key so an edited ref or renamed file is uploaded afresh.
	key := fmt.Sprintf("%s#%d#%s", contentID, index, source)
	if res, ok := m.uploads.Get(key); ok {
		return res.PublicURL, nil
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		if res, ok := m.uploads.Get(key); ok {
			return res, nil
		}
		res, err := retry.Do(ctx, m.policy, "media.upload", func(ctx context.Context) (transfer.UploadResult, error) {
			return m.uploader.Upload(ctx, source)
		}, nil)
		if err != nil {
			return nil, err
		}
		m.uploads.Set(key, res, 0)
		m.log.WithFields(logrus.Fields{
			"key":        key,
			"public_url": res.PublicURL,
		}).Info("media uploaded")
		return res, nil
	})
	if err != nil {
		return "", err
	}
	return v.(transfer.UploadResult).PublicURL, nil
}
