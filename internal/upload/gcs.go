// Package upload pushes processed videos to Google Cloud Storage and
// hands back time-limited download links.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// Uploader stores a local file remotely and returns a download URL.
type Uploader interface {
	// Enabled reports whether uploads are configured.
	Enabled() bool
	// Upload stores the file and returns a signed download URL.
	Upload(ctx context.Context, localPath string) (string, error)
}

// GCSConfig configures the Google Cloud Storage uploader.
type GCSConfig struct {
	Bucket string
	URLTTL time.Duration
}

const uploadChunkSize = 10 << 20 // 10 MiB per chunk for large videos

// GCSUploader writes files into a bucket under videos/ and signs V4 GET
// URLs for them. Credentials come from the application default chain
// (GOOGLE_APPLICATION_CREDENTIALS).
type GCSUploader struct {
	cfg GCSConfig

	mu     sync.Mutex
	client *storage.Client
}

// NewGCS creates an uploader for the given bucket. The client is opened
// lazily on first upload so a missing credential file does not block
// service startup.
func NewGCS(cfg GCSConfig) *GCSUploader {
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 24 * time.Hour
	}
	return &GCSUploader{cfg: cfg}
}

// Enabled always reports true; construction implies a configured bucket.
func (u *GCSUploader) Enabled() bool { return true }

func (u *GCSUploader) getClient(ctx context.Context) (*storage.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client != nil {
		return u.client, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	u.client = client
	return client, nil
}

// Upload stores localPath as videos/<uuid><ext> and returns a signed
// URL valid for the configured TTL.
func (u *GCSUploader) Upload(ctx context.Context, localPath string) (string, error) {
	client, err := u.getClient(ctx)
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	object := "videos/" + uuid.New().String() + filepath.Ext(localPath)

	w := client.Bucket(u.cfg.Bucket).Object(object).NewWriter(ctx)
	w.ChunkSize = uploadChunkSize
	w.ContentType = "video/mp4"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("upload to gs://%s/%s: %w", u.cfg.Bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", u.cfg.Bucket, object, err)
	}

	url, err := client.Bucket(u.cfg.Bucket).SignedURL(object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(u.cfg.URLTTL),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for gs://%s/%s: %w", u.cfg.Bucket, object, err)
	}

	slog.Info("video uploaded",
		"object", fmt.Sprintf("gs://%s/%s", u.cfg.Bucket, object),
		"url_ttl", u.cfg.URLTTL,
	)
	return url, nil
}

var _ Uploader = (*GCSUploader)(nil)
