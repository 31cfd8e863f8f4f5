package publish

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/schedpost/internal/model"
	"github.com/hitoshi/schedpost/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore はテスト用のメモリ上の予約投稿ストア兼公開先。
// ClaimPending は行ロック（FOR UPDATE SKIP LOCKED）を模倣し、
// 投稿の作成は Complete まで確定しない。
type memStore struct {
	mu      sync.Mutex
	entries map[string]*model.ScheduledPost
	locked  map[string]bool
	posts   map[string]model.NewPost
	seq     int

	listErr  error
	claimErr error
	// writeErr が設定されている場合、投稿の作成時に呼び出して失敗させる
	writeErr func(model.NewPost) error
	// beforeComplete は Complete の直前に呼ばれる（競合の再現用）
	beforeComplete func(id string)
	claims         int
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[string]*model.ScheduledPost),
		locked:  make(map[string]bool),
		posts:   make(map[string]model.NewPost),
	}
}

func (s *memStore) add(e *model.ScheduledPost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[e.ID] = &cp
}

func (s *memStore) entry(id string) model.ScheduledPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.entries[id]
}

func (s *memStore) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func (s *memStore) claimCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims
}

func (s *memStore) ListDue(ctx context.Context, now time.Time) ([]*model.ScheduledPost, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*model.ScheduledPost
	for _, e := range s.entries {
		if e.IsDue(now) {
			cp := *e
			due = append(due, &cp)
		}
	}
	return due, nil
}

func (s *memStore) ClaimPending(ctx context.Context, id string) (repository.PublishClaim, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.Status != model.ScheduledPostStatusPending || s.locked[id] {
		return nil, nil
	}
	s.locked[id] = true
	s.claims++
	cp := *e
	return &memClaim{store: s, post: &cp}, nil
}

func (s *memStore) FailPending(ctx context.Context, id, errorMessage string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.Status != model.ScheduledPostStatusPending || s.locked[id] {
		return false, nil
	}
	e.Status = model.ScheduledPostStatusFailed
	e.ErrorMessage = errorMessage
	e.PublishedPostID = ""
	e.UpdatedAt = at
	return true, nil
}

// cancel はライフサイクル管理側の取り消しを模倣する（ロック中は待たずに失敗とする）。
func (s *memStore) cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[id]
	if e.Status != model.ScheduledPostStatusPending || s.locked[id] {
		return false
	}
	e.Status = model.ScheduledPostStatusCancelled
	return true
}

func (s *memStore) targetFactory(tx repository.DBTX) PublishTarget {
	return &memTarget{store: s, tx: tx.(*memTx)}
}

// memClaim は memStore の PublishClaim 実装。
type memClaim struct {
	store  *memStore
	post   *model.ScheduledPost
	tx     memTx
	done   bool
	staged []model.NewPost
}

func (c *memClaim) Post() *model.ScheduledPost { return c.post }

func (c *memClaim) Tx() repository.DBTX {
	c.tx.claim = c
	return &c.tx
}

func (c *memClaim) Complete(ctx context.Context, publishedPostID string, at time.Time) error {
	if c.done {
		return errors.New("publish claim already finished")
	}
	c.done = true
	if c.store.beforeComplete != nil {
		c.store.beforeComplete(c.post.ID)
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, c.post.ID)

	e := s.entries[c.post.ID]
	if e.Status != model.ScheduledPostStatusPending {
		return fmt.Errorf("not pending: %s", c.post.ID)
	}
	for _, p := range c.staged {
		s.posts[publishedPostID] = p
	}
	e.Status = model.ScheduledPostStatusPublished
	e.PublishedPostID = publishedPostID
	e.ErrorMessage = ""
	e.UpdatedAt = at
	return nil
}

func (c *memClaim) Release() error {
	if c.done {
		return nil
	}
	c.done = true
	c.staged = nil
	c.store.mu.Lock()
	delete(c.store.locked, c.post.ID)
	c.store.mu.Unlock()
	return nil
}

// memTx は memClaim に紐づくトランザクションの目印。SQLは実行できない。
type memTx struct {
	claim *memClaim
}

func (t *memTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errors.New("memTx: not supported")
}

func (t *memTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("memTx: not supported")
}

func (t *memTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

// memTarget はトランザクションに投稿を仮登録する公開先。
type memTarget struct {
	store *memStore
	tx    *memTx
}

func (t *memTarget) Create(ctx context.Context, post model.NewPost) (string, error) {
	if t.store.writeErr != nil {
		if err := t.store.writeErr(post); err != nil {
			return "", model.NewPublishWriteError(err)
		}
	}
	t.store.mu.Lock()
	t.store.seq++
	id := fmt.Sprintf("post-%d", t.store.seq)
	t.store.mu.Unlock()

	t.tx.claim.staged = append(t.tx.claim.staged, post)
	return id, nil
}

// memAccounts はテスト用のアカウント参照。
type memAccounts struct {
	missing map[string]bool
	err     error
}

func (a *memAccounts) FindAccount(ctx context.Context, id string) (*model.Account, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.missing[id] {
		return nil, nil
	}
	return &model.Account{ID: id, DisplayName: id}, nil
}

type mockProber struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (m *mockProber) Probe(ctx context.Context, rawURL string) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.err
}

// mockMetrics は記録内容を数えるMetricsCollector。
type mockMetrics struct {
	mu        sync.Mutex
	success   int
	failures  map[string]int
	skipped   int
	due       int
	ticks     int
	latencies int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{failures: make(map[string]int)}
}

func (m *mockMetrics) RecordPublishSuccess(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.success++
}

func (m *mockMetrics) RecordPublishFailure(_ string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reason]++
}

func (m *mockMetrics) RecordPublishSkipped(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

func (m *mockMetrics) RecordPublishLatency(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *mockMetrics) SetDueEntries(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.due = n
}

func (m *mockMetrics) RecordTickDuration(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
}

func (m *mockMetrics) RecordHTTPStatus(int) {}

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func dueEntry(id, authorID string) *model.ScheduledPost {
	return &model.ScheduledPost{
		ID:           id,
		AuthorID:     authorID,
		Description:  "本文 " + id,
		MediaType:    model.MediaTypeImage,
		ScheduledFor: baseTime.Add(-time.Second),
		Status:       model.ScheduledPostStatusPending,
		CreatedAt:    baseTime.Add(-time.Hour),
		UpdatedAt:    baseTime.Add(-time.Hour),
	}
}

func newTestPublisher(store *memStore, accounts *memAccounts, prober MediaProber, m *mockMetrics) *Publisher {
	if accounts == nil {
		accounts = &memAccounts{}
	}
	var collector *mockMetrics = m
	if collector == nil {
		collector = newMockMetrics()
	}
	p := NewPublisher(store, accounts, store.targetFactory, prober, collector, discardLogger(), PublisherConfig{MaxConcurrency: 4, Timeout: 5 * time.Second})
	p.now = func() time.Time { return baseTime }
	return p
}
