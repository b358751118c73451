package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Error wraps any object storage failure with the operation and remote path
// so task errors name the step that broke.
type Error struct {
	Op     string
	Remote string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Remote, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ProgressFunc receives download progress. Bytes are monotonically
// non-decreasing and the final call always reports 100 percent.
type ProgressFunc func(percent float64, bytes, total int64)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Gateway wraps bucket operations. No business logic lives here.
type Gateway struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

func Connect(cfg Config, logger *zap.Logger) (*Gateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	return &Gateway{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Download fetches an object to a local path, creating missing directories.
func (g *Gateway) Download(ctx context.Context, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &Error{Op: "download", Remote: remotePath, Err: err}
	}

	if err := g.client.FGetObject(ctx, g.bucket, remotePath, localPath, minio.GetObjectOptions{}); err != nil {
		return &Error{Op: "download", Remote: remotePath, Err: err}
	}

	g.logger.Info("Downloaded object",
		zap.String("remote", remotePath),
		zap.String("local", localPath),
	)
	return nil
}

// DownloadWithProgress streams an object to disk, reporting progress as
// chunks land. Callers get no cadence guarantee beyond a final 100% call.
func (g *Gateway) DownloadWithProgress(ctx context.Context, remotePath, localPath string, onProgress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &Error{Op: "download", Remote: remotePath, Err: err}
	}

	stat, err := g.client.StatObject(ctx, g.bucket, remotePath, minio.StatObjectOptions{})
	if err != nil {
		return &Error{Op: "download", Remote: remotePath, Err: err}
	}
	total := stat.Size

	obj, err := g.client.GetObject(ctx, g.bucket, remotePath, minio.GetObjectOptions{})
	if err != nil {
		return &Error{Op: "download", Remote: remotePath, Err: err}
	}
	defer obj.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return &Error{Op: "download", Remote: remotePath, Err: err}
	}
	defer dst.Close()

	tracker := newProgressTracker(total, onProgress)
	if _, err := io.Copy(io.MultiWriter(dst, tracker), obj); err != nil {
		return &Error{Op: "download", Remote: remotePath, Err: err}
	}
	tracker.finish()

	g.logger.Info("Downloaded object",
		zap.String("remote", remotePath),
		zap.String("local", localPath),
		zap.Int64("bytes", total),
	)
	return nil
}

// Upload stores a local file at the given object path.
func (g *Gateway) Upload(ctx context.Context, localPath, remotePath string) error {
	opts := minio.PutObjectOptions{
		ContentType:  contentTypeFor(localPath),
		CacheControl: "public, max-age=31536000",
	}
	if _, err := g.client.FPutObject(ctx, g.bucket, remotePath, localPath, opts); err != nil {
		return &Error{Op: "upload", Remote: remotePath, Err: err}
	}

	g.logger.Info("Uploaded object",
		zap.String("local", localPath),
		zap.String("remote", remotePath),
	)
	return nil
}

// PublicURL returns the unauthenticated read URL for an object.
func (g *Gateway) PublicURL(remotePath string) string {
	endpoint := g.client.EndpointURL()
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(endpoint.String(), "/"), g.bucket, escapePath(remotePath))
}

// SignedURL returns a time-limited read URL for an object.
func (g *Gateway) SignedURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error) {
	u, err := g.client.PresignedGetObject(ctx, g.bucket, remotePath, ttl, url.Values{})
	if err != nil {
		return "", &Error{Op: "sign", Remote: remotePath, Err: err}
	}
	return u.String(), nil
}

// Delete removes an object. A missing object counts as success so deletes
// can be retried freely.
func (g *Gateway) Delete(ctx context.Context, remotePath string) error {
	err := g.client.RemoveObject(ctx, g.bucket, remotePath, minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			g.logger.Info("Object already gone", zap.String("remote", remotePath))
			return nil
		}
		return &Error{Op: "delete", Remote: remotePath, Err: err}
	}

	g.logger.Info("Deleted object", zap.String("remote", remotePath))
	return nil
}

// progressTracker is an io.Writer that turns byte counts into progress
// callbacks. finish always delivers the terminal 100% call, covering empty
// objects and stores that understate Content-Length.
type progressTracker struct {
	total      int64
	seen       int64
	onProgress ProgressFunc
	done       bool
}

func newProgressTracker(total int64, onProgress ProgressFunc) *progressTracker {
	return &progressTracker{total: total, onProgress: onProgress}
}

func (t *progressTracker) Write(p []byte) (int, error) {
	t.seen += int64(len(p))
	if t.onProgress != nil && t.total > 0 {
		percent := float64(t.seen) / float64(t.total) * 100
		if percent >= 100 {
			percent = 100
			t.done = true
		}
		t.onProgress(percent, t.seen, t.total)
	}
	return len(p), nil
}

func (t *progressTracker) finish() {
	if t.onProgress != nil && !t.done {
		total := t.total
		if total < t.seen {
			total = t.seen
		}
		t.onProgress(100, t.seen, total)
		t.done = true
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// IsNotFound reports whether err is an object-not-found storage error.
func IsNotFound(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		err = se.Err
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
