// Package service implements the per-task-type pipelines: marking,
// detection, and the miscellaneous bookkeeping tasks. Handlers report
// progress and persist results but never write terminal task status; that is
// the dispatcher's job.
package service

import (
	"context"
	"encoding/json"
	"time"

	"watermarker/worker/runner"
	"watermarker/worker/storage"
)

// ObjectStore is the slice of the storage gateway the handlers use.
type ObjectStore interface {
	Download(ctx context.Context, remotePath, localPath string) error
	DownloadWithProgress(ctx context.Context, remotePath, localPath string, onProgress storage.ProgressFunc) error
	Upload(ctx context.Context, localPath, remotePath string) error
	PublicURL(remotePath string) string
	SignedURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, remotePath string) error
}

// Runner executes an external binary and relays its progress lines.
type Runner interface {
	Run(ctx context.Context, path string, args []string, onProgress runner.ProgressFunc) (*runner.Result, error)
}

// Reporter surfaces incremental status to the user's progress record.
type Reporter interface {
	Report(ctx context.Context, key, text string)
	ReportThrottled(ctx context.Context, key, text string, percent float64)
	Fail(ctx context.Context, key, text, errMsg string)
	Finish(ctx context.Context, key, text string, results json.RawMessage)
	Clear(ctx context.Context, key string)
}

// URLPolicy selects between public and signed serving URLs per deployment.
type URLPolicy struct {
	Signed bool
	TTL    time.Duration
}

// ServableURL mints a read URL for an object under the policy.
func (p URLPolicy) ServableURL(ctx context.Context, store ObjectStore, remotePath string) (string, error) {
	if p.Signed {
		return store.SignedURL(ctx, remotePath, p.TTL)
	}
	return store.PublicURL(remotePath), nil
}
