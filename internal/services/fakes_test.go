package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"postmesh/internal/domain/media"
	"postmesh/internal/domain/post"
	"postmesh/internal/domain/search"
	"postmesh/internal/events"
	"postmesh/internal/metrics"
	"postmesh/internal/redis"
	"postmesh/internal/storage"
	"postmesh/pkg/logger"
	postmesh_errors "postmesh/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*redis.CacheStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewCacheStore(client, redis.DefaultCacheConfig(), logger.NewNop(), nil), mr
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// --- posts ---

type fakePostRepo struct {
	mu        sync.Mutex
	posts     map[uuid.UUID]post.Post
	clock     time.Time
	createErr error
	reads     int
	// afterGet runs once a read has loaded its row, outside the lock.
	afterGet func()
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{
		posts: map[uuid.UUID]post.Post{},
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *fakePostRepo) Create(ctx context.Context, p *post.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.clock = r.clock.Add(time.Second)
	p.CreatedAt = r.clock
	p.UpdatedAt = r.clock
	if p.MediaIDs == nil {
		p.MediaIDs = []string{}
	}
	r.posts[p.ID] = *p
	return nil
}

func (r *fakePostRepo) GetByID(ctx context.Context, id uuid.UUID) (post.Post, error) {
	r.mu.Lock()
	r.reads++
	p, ok := r.posts[id]
	hook := r.afterGet
	r.mu.Unlock()

	if !ok {
		return post.Post{}, postmesh_errors.ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return p, nil
}

func (r *fakePostRepo) List(ctx context.Context, offset, limit int) ([]post.Post, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	all := make([]post.Post, 0, len(r.posts))
	for _, p := range r.posts {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return []post.Post{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *fakePostRepo) DeleteOwned(ctx context.Context, id uuid.UUID, userID string) (post.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || p.UserID != userID {
		return post.Post{}, postmesh_errors.ErrNotFound
	}
	delete(r.posts, id)
	return p, nil
}

func (r *fakePostRepo) readCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// --- search ---

// fakeSearchRepo holds its mutex for each whole write, standing in for the
// per-post lock the Postgres repository takes.
type fakeSearchRepo struct {
	mu         sync.Mutex
	rows       map[string]search.Projection
	tombstones map[[2]string]bool
	failNext   int
	upserts    int
}

func newFakeSearchRepo() *fakeSearchRepo {
	return &fakeSearchRepo{rows: map[string]search.Projection{}, tombstones: map[[2]string]bool{}}
}

func (r *fakeSearchRepo) fail() error {
	if r.failNext > 0 {
		r.failNext--
		return errors.New("store unreachable")
	}
	return nil
}

func (r *fakeSearchRepo) Upsert(ctx context.Context, p search.Projection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return false, err
	}
	if r.tombstones[[2]string{p.PostID, p.UserID}] {
		return false, nil
	}
	r.upserts++
	r.rows[p.PostID] = p
	return true, nil
}

func (r *fakeSearchRepo) Delete(ctx context.Context, postID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return false, err
	}
	r.tombstones[[2]string{postID, userID}] = true
	row, ok := r.rows[postID]
	if !ok || row.UserID != userID {
		return false, nil
	}
	delete(r.rows, postID)
	return true, nil
}

func (r *fakeSearchRepo) Search(ctx context.Context, query string, limit int) ([]search.Projection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return nil, err
	}
	results := []search.Projection{}
	for _, row := range r.rows {
		if strings.Contains(strings.ToLower(row.Content), strings.ToLower(strings.TrimSpace(query))) {
			results = append(results, row)
		}
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (r *fakeSearchRepo) rowCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// --- media ---

type fakeMediaRepo struct {
	mu         sync.Mutex
	records    map[uuid.UUID]media.Record
	createErr  error
	deleteErrs map[uuid.UUID]error
}

func newFakeMediaRepo(records ...media.Record) *fakeMediaRepo {
	r := &fakeMediaRepo{records: map[uuid.UUID]media.Record{}, deleteErrs: map[uuid.UUID]error{}}
	for _, rec := range records {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *fakeMediaRepo) Create(ctx context.Context, m *media.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.records[m.ID] = *m
	return nil
}

func (r *fakeMediaRepo) GetByID(ctx context.Context, id uuid.UUID) (media.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return media.Record{}, postmesh_errors.ErrNotFound
	}
	return rec, nil
}

func (r *fakeMediaRepo) ListByUser(ctx context.Context, userID string) ([]media.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []media.Record{}
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeMediaRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.deleteErrs[id]; err != nil {
		return err
	}
	if _, ok := r.records[id]; !ok {
		return postmesh_errors.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeMediaRepo) has(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok
}

type fakeBlobStore struct {
	mu        sync.Mutex
	objects   map[string]string
	failKeys  map[string]bool
	uploadErr error
	deletes   []string
}

func newFakeBlobStore(keys ...string) *fakeBlobStore {
	b := &fakeBlobStore{objects: map[string]string{}, failKeys: map[string]bool{}}
	for _, k := range keys {
		b.objects[k] = "data"
	}
	return b
}

func (b *fakeBlobStore) Upload(ctx context.Context, key, contentType string, body io.Reader, sizeBytes int64) (storage.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return storage.Object{}, b.uploadErr
	}
	data, _ := io.ReadAll(body)
	b.objects[key] = string(data)
	return storage.Object{Key: key, URL: "https://cdn.test/" + key}, nil
}

func (b *fakeBlobStore) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, key)
	if b.failKeys[key] {
		return errors.New("blob store unavailable")
	}
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobStore) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func (b *fakeBlobStore) setFailing(key string, failing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failKeys[key] = failing
}

// --- events ---

type publishedEvent struct {
	RoutingKey string
	Body       []byte
}

// syncPublisher encodes payloads like the broker publisher and hands them to
// subscribed handlers in the calling goroutine.
type syncPublisher struct {
	mu          sync.Mutex
	handlers    map[string][]events.Handler
	published   []publishedEvent
	handlerErrs []error
	err         error
}

func newSyncPublisher() *syncPublisher {
	return &syncPublisher{handlers: map[string][]events.Handler{}}
}

func (p *syncPublisher) Subscribe(routingKey string, h events.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[routingKey] = append(p.handlers[routingKey], h)
}

func (p *syncPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return p.err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.published = append(p.published, publishedEvent{RoutingKey: routingKey, Body: body})
	handlers := append([]events.Handler(nil), p.handlers[routingKey]...)
	p.mu.Unlock()

	event := events.DomainEvent{RoutingKey: routingKey, Payload: body, EmittedAt: time.Now().UTC()}
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			p.mu.Lock()
			p.handlerErrs = append(p.handlerErrs, err)
			p.mu.Unlock()
		}
	}
	return nil
}

func (p *syncPublisher) sent() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.published...)
}

func eventOf(t *testing.T, routingKey string, payload any) events.DomainEvent {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	return events.DomainEvent{RoutingKey: routingKey, Payload: body, EmittedAt: time.Now().UTC()}
}
