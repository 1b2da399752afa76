// Package storage keeps the bytes of uploaded answer files in an S3
// compatible bucket. Answers only reference objects by path.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"examhub/internal/apperr"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrStorageDisabled = fmt.Errorf("%w: object storage is not configured", apperr.ErrUnavailable)

type ObjectStore interface {
	PresignPut(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, objectPath string) error
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

// New returns nil without error when no endpoint is configured. A nil store
// refuses presigning and skips removals.
func New(cfg Config) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("minio bucket is required")
	}
	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: strings.TrimSpace(cfg.Bucket)}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStore) PresignPut(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	if s == nil {
		return "", ErrStorageDisabled
	}
	u, err := s.client.PresignedPutObject(ctx, s.bucket, objectPath, ttl)
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", objectPath, err)
	}
	return u.String(), nil
}

func (s *MinioStore) Remove(ctx context.Context, objectPath string) error {
	if s == nil {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", objectPath, err)
	}
	return nil
}

// UploadPath is the object key for a new upload of filename to the given
// session and question. Only the base name survives, reduced to a safe
// character set.
func UploadPath(sessionID, questionID, filename string) string {
	return fmt.Sprintf("sessions/%s/%s/%s-%s", sessionID, questionID, uuid.NewString(), safeName(filename))
}

// IsUploadPath reports whether objectPath is a single object directly below
// the upload prefix of the given session and question.
func IsUploadPath(sessionID, questionID, objectPath string) bool {
	if sessionID == "" || questionID == "" {
		return false
	}
	prefix := "sessions/" + sessionID + "/" + questionID + "/"
	rest, ok := strings.CutPrefix(objectPath, prefix)
	if !ok || rest == "" || strings.ContainsAny(rest, "/\\") {
		return false
	}
	return rest != "." && rest != ".." && path.Clean(objectPath) == objectPath
}

func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
