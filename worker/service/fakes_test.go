package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"watermarker/worker/models"
	"watermarker/worker/notify"
	"watermarker/worker/repository"
	"watermarker/worker/storage"
)

// fakeStore is an in-memory object store keyed by remote path.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string

	downloadErr error
	uploadErr   error
	deleteErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Download(_ context.Context, remotePath, localPath string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	s.mu.Lock()
	data, ok := s.objects[remotePath]
	s.mu.Unlock()
	if !ok {
		return &storage.Error{Op: "download", Remote: remotePath, Err: os.ErrNotExist}
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (s *fakeStore) DownloadWithProgress(ctx context.Context, remotePath, localPath string, onProgress storage.ProgressFunc) error {
	if err := s.Download(ctx, remotePath, localPath); err != nil {
		return err
	}
	if onProgress != nil {
		s.mu.Lock()
		n := int64(len(s.objects[remotePath]))
		s.mu.Unlock()
		onProgress(50, n/2, n)
		onProgress(100, n, n)
	}
	return nil
}

func (s *fakeStore) Upload(_ context.Context, localPath, remotePath string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[remotePath] = data
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) PublicURL(remotePath string) string {
	return "https://storage.test/watermarker/" + remotePath
}

func (s *fakeStore) SignedURL(_ context.Context, remotePath string, _ time.Duration) (string, error) {
	return "https://storage.test/watermarker/" + remotePath + "?sig=test", nil
}

func (s *fakeStore) Delete(_ context.Context, remotePath string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	delete(s.objects, remotePath)
	s.deleted = append(s.deleted, remotePath)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) uploadedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for remote := range s.objects {
		out = append(out, remote)
	}
	return out
}

// recordingReporter captures every progress call for assertions.
type recordingReporter struct {
	mu       sync.Mutex
	reports  []string
	fails    []string
	finishes []string
	results  []json.RawMessage
	cleared  []string
}

func (r *recordingReporter) Report(_ context.Context, _, text string) {
	r.mu.Lock()
	r.reports = append(r.reports, text)
	r.mu.Unlock()
}

func (r *recordingReporter) ReportThrottled(_ context.Context, _, text string, _ float64) {
	r.mu.Lock()
	r.reports = append(r.reports, text)
	r.mu.Unlock()
}

func (r *recordingReporter) Fail(_ context.Context, _, _, errMsg string) {
	r.mu.Lock()
	r.fails = append(r.fails, errMsg)
	r.mu.Unlock()
}

func (r *recordingReporter) Finish(_ context.Context, _, text string, results json.RawMessage) {
	r.mu.Lock()
	r.finishes = append(r.finishes, text)
	r.results = append(r.results, results)
	r.mu.Unlock()
}

func (r *recordingReporter) Clear(_ context.Context, key string) {
	r.mu.Lock()
	r.cleared = append(r.cleared, key)
	r.mu.Unlock()
}

// fakeRepo is an in-memory Repository covering the entity methods the
// handlers use. The task queue methods are unused here.
type fakeRepo struct {
	mu sync.Mutex

	markedImages   map[string]*models.MarkedImage
	detectionItems map[string]*models.DetectionItem
	users          map[string]*models.User
	userRequests   map[string]*models.UserRequest
	servingURLs    map[string]string

	deletedMarked    []string
	deletedItems     []string
	deletedRequests  []string
	notifiedRequests []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		markedImages:   make(map[string]*models.MarkedImage),
		detectionItems: make(map[string]*models.DetectionItem),
		users:          make(map[string]*models.User),
		userRequests:   make(map[string]*models.UserRequest),
		servingURLs:    make(map[string]string),
	}
}

func (r *fakeRepo) PendingTasks(context.Context) ([]models.Task, error) { return nil, nil }
func (r *fakeRepo) ClaimTask(context.Context, string) (bool, error)     { return true, nil }
func (r *fakeRepo) CompleteTask(context.Context, string) error          { return nil }
func (r *fakeRepo) FailTask(context.Context, string, string) error      { return nil }

func (r *fakeRepo) GetMarkedImage(_ context.Context, id string) (*models.MarkedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.markedImages[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	copied := *img
	return &copied, nil
}

func (r *fakeRepo) UpdateMarkedImage(_ context.Context, id, path, servingURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.markedImages[id]
	if !ok {
		return repository.ErrRecordNotFound
	}
	img.Path = path
	img.ServingURL = servingURL
	return nil
}

func (r *fakeRepo) DeleteMarkedImage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markedImages, id)
	r.deletedMarked = append(r.deletedMarked, id)
	return nil
}

func (r *fakeRepo) InsertDetectionItem(_ context.Context, item *models.DetectionItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *item
	r.detectionItems[item.ID] = &copied
	return nil
}

func (r *fakeRepo) GetDetectionItem(_ context.Context, id string) (*models.DetectionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.detectionItems[id]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	copied := *item
	return &copied, nil
}

func (r *fakeRepo) DeleteDetectionItem(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.detectionItems, id)
	r.deletedItems = append(r.deletedItems, id)
	return nil
}

func (r *fakeRepo) SetOriginalImageURL(_ context.Context, imageID, servingURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servingURLs[imageID] = servingURL
	return nil
}

func (r *fakeRepo) UpsertUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *fakeRepo) GetUserRequest(_ context.Context, userID string) (*models.UserRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.userRequests[userID]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	copied := *req
	return &copied, nil
}

func (r *fakeRepo) SetUserRequestNotified(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.userRequests[userID]
	if !ok {
		return repository.ErrRecordNotFound
	}
	req.Notified = true
	r.notifiedRequests = append(r.notifiedRequests, userID)
	return nil
}

func (r *fakeRepo) DeleteUserRequest(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.userRequests, userID)
	r.deletedRequests = append(r.deletedRequests, userID)
	return nil
}

// fakeNotifier records admin notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []*notify.AdminNotification
	err  error
}

func (n *fakeNotifier) NotifyAdmin(_ context.Context, notification *notify.AdminNotification) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	n.sent = append(n.sent, notification)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) Close() error { return nil }
