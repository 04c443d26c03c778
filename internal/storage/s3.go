package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/familydiary/diary/internal/config"
)

// ErrUnsupportedImage indicates photo bytes that are not a supported image format.
var ErrUnsupportedImage = errors.New("unsupported image type")

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Uploader is the subset of manager.Uploader used to store photos.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Presigner is the subset of s3.PresignClient used to share photos.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// StoredPhoto describes an uploaded photo.
type StoredPhoto struct {
	Key         string
	ContentType string
	URL         string
}

// PhotoStorage stores diary photos in an S3-compatible bucket and hands out
// time-limited download links.
type PhotoStorage struct {
	uploader  Uploader
	presigner Presigner
	bucket    string
	urlTTL    time.Duration
}

// NewPhotoStorage configures an uploader and presigner targeting the provided object store.
func NewPhotoStorage(ctx context.Context, cfg config.ObjectStoreConfig) (*PhotoStorage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("photo storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return NewPhotoStorageWithClients(uploader, s3.NewPresignClient(client), cfg.Bucket, cfg.PhotoURLTTL), nil
}

// NewPhotoStorageWithClients builds a PhotoStorage over explicit clients.
func NewPhotoStorageWithClients(uploader Uploader, presigner Presigner, bucket string, urlTTL time.Duration) *PhotoStorage {
	if urlTTL <= 0 {
		urlTTL = 24 * time.Hour
	}
	return &PhotoStorage{uploader: uploader, presigner: presigner, bucket: bucket, urlTTL: urlTTL}
}

// DetectImage sniffs the content type of data and returns it with a file extension.
func DetectImage(data []byte) (contentType, ext string, err error) {
	contentType = http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}
	return contentType, ext, nil
}

// PhotoKey returns the object key for a new photo of an entry.
func PhotoKey(username, recordKey, ext string) string {
	return path.Join("photos", username, recordKey, uuid.NewString()+"."+ext)
}

// Upload stores the photo under photos/<username>/<recordKey>/ and returns a
// presigned download URL.
func (s *PhotoStorage) Upload(ctx context.Context, username, recordKey string, data []byte) (StoredPhoto, error) {
	contentType, ext, err := DetectImage(data)
	if err != nil {
		return StoredPhoto{}, err
	}

	key := PhotoKey(username, recordKey, ext)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return StoredPhoto{}, fmt.Errorf("photo storage upload %s: %w", key, err)
	}

	url, err := s.PresignURL(ctx, key)
	if err != nil {
		return StoredPhoto{}, err
	}
	return StoredPhoto{Key: key, ContentType: contentType, URL: url}, nil
}

// PresignURL returns a GET URL for key valid for the configured TTL.
func (s *PhotoStorage) PresignURL(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}
