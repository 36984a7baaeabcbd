package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
)

// IconService caches track artwork in object storage so presence consumers
// hit a stable URL instead of the upstream CDN.
type IconService struct {
	store  *minio.Client
	bucket string
	client *http.Client
}

func NewIconService(store *minio.Client, bucket string) *IconService {
	return &IconService{
		store:  store,
		bucket: bucket,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// EnsureBucket creates the icon bucket if it does not exist yet.
func (s *IconService) EnsureBucket(ctx context.Context) error {
	exists, err := s.store.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.store.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	slog.Info("Created icon bucket", "bucket", s.bucket)
	return nil
}

// Get returns the cached icon for a track, fetching and storing it on a
// cache miss. The caller must close the returned reader.
func (s *IconService) Get(ctx context.Context, trackID, sourceURL string) (io.ReadCloser, string, error) {
	key := trackID + ".jpg"

	obj, err := s.store.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err == nil {
		if stat, statErr := obj.Stat(); statErr == nil {
			return obj, stat.ContentType, nil
		}
		obj.Close()
	}

	if sourceURL == "" {
		return nil, "", fmt.Errorf("icon for track %s is not cached and no source url was given", trackID)
	}
	return s.fetchAndStore(ctx, key, sourceURL)
}

func (s *IconService) fetchAndStore(ctx context.Context, key, sourceURL string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch icon: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("icon fetch returned status %d", resp.StatusCode)
	}

	mediaType := resp.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "image/jpeg"
	}

	_, err = s.store.PutObject(ctx, s.bucket, key, resp.Body, resp.ContentLength,
		minio.PutObjectOptions{ContentType: mediaType})
	resp.Body.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to store icon: %w", err)
	}

	obj, err := s.store.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", err
	}
	return obj, mediaType, nil
}
