// Package media stores chore photos in S3-compatible object storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// MaxImageSize is the largest accepted upload.
const MaxImageSize = 10 << 20

var (
	// ErrDisabled is returned when object storage is not configured.
	ErrDisabled = errors.New("media storage not configured")
	// ErrUnsupportedType is returned for content types other than images.
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrTooLarge is returned for uploads over MaxImageSize.
	ErrTooLarge = fmt.Errorf("image exceeds %s", humanize.IBytes(MaxImageSize))
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// S3API is the subset of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration. PublicURL is the base
// URL objects are served from; it defaults to Endpoint/Bucket.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	PublicURL string
}

// Enabled reports whether enough is configured to upload.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Object describes a stored upload.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

// Store uploads chore photos. A Store with no client rejects every upload
// with ErrDisabled.
type Store struct {
	client    S3API
	bucket    string
	publicURL string
}

// New builds a Store from cfg, or a disabled Store if cfg is incomplete.
func New(cfg S3Config) *Store {
	if !cfg.Enabled() {
		return &Store{}
	}
	return NewWithClient(NewS3Client(cfg), cfg.Bucket, publicBase(cfg))
}

// NewWithClient builds a Store around an existing client.
func NewWithClient(client S3API, bucket, publicURL string) *Store {
	return &Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// NewS3Client builds a path-style client for S3-compatible storage.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func publicBase(cfg S3Config) string {
	if cfg.PublicURL != "" {
		return cfg.PublicURL
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

// Enabled reports whether uploads are accepted.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

// ObjectKey returns a fresh key for a household upload of the given type.
func ObjectKey(householdID int64, contentType string) (string, error) {
	ext, ok := extensions[normalizeType(contentType)]
	if !ok {
		return "", ErrUnsupportedType
	}
	return fmt.Sprintf("chores/%d/%s%s", householdID, uuid.NewString(), ext), nil
}

// PutImage validates and uploads an image for the household.
func (s *Store) PutImage(ctx context.Context, householdID int64, contentType string, size int64, body io.Reader) (*Object, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	if size > MaxImageSize {
		return nil, ErrTooLarge
	}
	contentType = normalizeType(contentType)
	key, err := ObjectKey(householdID, contentType)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	return &Object{
		Key:         key,
		URL:         s.publicURL + "/" + key,
		ContentType: contentType,
		Size:        size,
	}, nil
}

// Delete removes a stored object.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func normalizeType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "image/jpg" {
		return "image/jpeg"
	}
	return contentType
}
