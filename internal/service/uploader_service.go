package service

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	cfg "github.com/maheshrc27/threadpost/configs"
	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Uploader stores one local file (or remote URL) on a media host and
// returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, source string) (transfer.UploadResult, error)
}

func NewUploader(ctx context.Context, c *cfg.Config) (Uploader, error) {
	switch c.Media.Host {
	case "cloudinary":
		return NewSignedUploader(c.Cloudinary), nil
	case "r2":
		return NewR2Uploader(ctx, c.R2)
	default:
		return nil, fmt.Errorf("unknown media host %q", c.Media.Host)
	}
}

// SignedUploader talks to a Cloudinary-compatible upload endpoint using
// signed requests.
type SignedUploader struct {
	conf   cfg.Cloudinary
	client *http.Client
	now    func() time.Time
}

func NewSignedUploader(conf cfg.Cloudinary) *SignedUploader {
	return &SignedUploader{conf: conf, client: http.DefaultClient, now: time.Now}
}

// unsignedParams are sent with the upload but excluded from the signature.
var unsignedParams = map[string]bool{
	"file":          true,
	"api_key":       true,
	"resource_type": true,
	"cloud_name":    true,
	"signature":     true,
}

// Sign computes the hex SHA-1 of the sorted "k=v" pairs joined by "&" with
// the API secret appended. Empty values are left out.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if unsignedParams[k] || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

func (u *SignedUploader) Upload(ctx context.Context, source string) (transfer.UploadResult, error) {
	const op = "cloudinary.upload"

	params := map[string]string{
		"timestamp": strconv.FormatInt(u.now().Unix(), 10),
		"folder":    u.conf.Folder,
	}
	signature := Sign(params, u.conf.APISecret)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range params {
		if v != "" {
			w.WriteField(k, v)
		}
	}
	w.WriteField("api_key", u.conf.APIKey)
	w.WriteField("signature", signature)

	if isRemote(source) {
		w.WriteField("file", source)
	} else {
		f, err := os.Open(source)
		if err != nil {
			return transfer.UploadResult{}, apperr.New(apperr.KindValidation, op, err)
		}
		part, err := w.CreateFormFile("file", filepath.Base(source))
		if err != nil {
			f.Close()
			return transfer.UploadResult{}, err
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return transfer.UploadResult{}, fmt.Errorf("read %s: %w", source, err)
		}
	}
	if err := w.Close(); err != nil {
		return transfer.UploadResult{}, err
	}

	endpoint := fmt.Sprintf("%s/%s/image/upload", strings.TrimRight(u.conf.BaseURL, "/"), u.conf.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return transfer.UploadResult{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return transfer.UploadResult{}, apperr.New(apperr.KindTransient, op, err)
	}
	defer resp.Body.Close()

	var result transfer.CloudinaryUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && resp.StatusCode == http.StatusOK {
		return transfer.UploadResult{}, apperr.New(apperr.KindTransient, op, fmt.Errorf("error parsing response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return transfer.UploadResult{}, apperr.New(httpKind(resp.StatusCode), op,
			fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	publicURL := result.SecureURL
	if publicURL == "" {
		publicURL = result.URL
	}
	return transfer.UploadResult{PublicURL: publicURL, PublicID: result.PublicID}, nil
}

func httpKind(status int) apperr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.KindAuth
	case status == http.StatusTooManyRequests:
		return apperr.KindRateLimit
	case status >= 500:
		return apperr.KindTransient
	default:
		return apperr.KindValidation
	}
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Uploader stores assets in a Cloudflare R2 bucket through the S3 API and
// serves them from the bucket's public URL.
type R2Uploader struct {
	conf   cfg.R2
	client objectPutter
}

func NewR2Uploader(ctx context.Context, conf cfg.R2) (*R2Uploader, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(conf.AccessKey, conf.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load r2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", conf.AccountID))
	})
	return &R2Uploader{conf: conf, client: client}, nil
}

func (r *R2Uploader) Upload(ctx context.Context, source string) (transfer.UploadResult, error) {
	const op = "r2.upload"

	if isRemote(source) {
		return transfer.UploadResult{PublicURL: source, PublicID: source}, nil
	}

	file, err := os.ReadFile(source)
	if err != nil {
		return transfer.UploadResult{}, apperr.New(apperr.KindValidation, op, err)
	}
	kind, err := filetype.Match(file)
	if err != nil || kind == filetype.Unknown {
		return transfer.UploadResult{}, apperr.Errorf(apperr.KindValidation, op, "unknown file type: %s", source)
	}

	id, err := gonanoid.New()
	if err != nil {
		return transfer.UploadResult{}, err
	}
	key := fmt.Sprintf("threads/%s.%s", id, kind.Extension)

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.conf.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(file),
		ContentType: aws.String(kind.MIME.Value),
	})
	if err != nil {
		return transfer.UploadResult{}, apperr.New(apperr.KindTransient, op, err)
	}

	return transfer.UploadResult{
		PublicURL: strings.TrimRight(r.conf.PublicURL, "/") + "/" + key,
		PublicID:  key,
	}, nil
}
