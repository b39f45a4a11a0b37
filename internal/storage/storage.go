package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	apperrors "github.com/swotplanner/backend/internal/errors"
)

const avatarPrefix = "avatars"

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Config holds the configuration for the object storage client.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base used in returned photo URLs. Defaults to the
	// endpoint.
	PublicURL string
}

// AvatarStore keeps profile photos in an S3-compatible bucket under
// avatars/{userID}/.
type AvatarStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	retry     *apperrors.RetryConfig
}

// New creates a new avatar store.
func New(cfg *Config) (*AvatarStore, error) {
	// Strip protocol prefix if present (minio-go expects host:port)
	endpoint := cfg.Endpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &AvatarStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: publicBase(cfg, endpoint),
		retry:     apperrors.StorageRetryConfig(),
	}, nil
}

func publicBase(cfg *Config, endpoint string) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *AvatarStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Ping reports whether the bucket is reachable.
func (s *AvatarStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// Put uploads a photo and returns its public URL. Each upload gets a new
// key so cached URLs never serve a stale image. Bodies that can seek are
// rewound and retried on transient failures.
func (s *AvatarStore) Put(ctx context.Context, userID uuid.UUID, contentType string, body io.Reader, size int64) (string, error) {
	key := objectKey(userID, uuid.New(), contentType)

	put := func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		return err
	}

	var err error
	if seeker, ok := body.(io.Seeker); ok {
		err = apperrors.Retry(ctx, s.retry, func(ctx context.Context) error {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return err
			}
			return put(ctx)
		})
	} else {
		err = put(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return s.objectURL(key), nil
}

// DeleteAll removes every object stored for userID. It is idempotent, so a
// partial failure is retried from a fresh listing.
func (s *AvatarStore) DeleteAll(ctx context.Context, userID uuid.UUID) error {
	return apperrors.Retry(ctx, s.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		listed := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    userPrefix(userID),
			Recursive: true,
		})
		objects, listErr := forwardListing(ctx, listed)

		for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
			if rerr.Err != nil {
				return fmt.Errorf("failed to delete object %s: %w", rerr.ObjectName, rerr.Err)
			}
		}
		if err := <-listErr; err != nil {
			return fmt.Errorf("failed to list objects for %s: %w", userID, err)
		}
		return nil
	})
}

// forwardListing passes listed objects through until the listing ends or
// reports an error. The error, if any, is delivered on the second channel
// before the first is closed.
func forwardListing(ctx context.Context, in <-chan minio.ObjectInfo) (<-chan minio.ObjectInfo, <-chan error) {
	out := make(chan minio.ObjectInfo)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)
		for obj := range in {
			if obj.Err != nil {
				errc <- obj.Err
				return
			}
			select {
			case out <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errc
}

func (s *AvatarStore) objectURL(key string) string {
	return s.publicURL + "/" + url.PathEscape(s.bucket) + "/" + key
}

func userPrefix(userID uuid.UUID) string {
	return avatarPrefix + "/" + userID.String() + "/"
}

func objectKey(userID, objectID uuid.UUID, contentType string) string {
	return userPrefix(userID) + objectID.String() + extensions[contentType]
}
