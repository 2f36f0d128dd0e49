package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/provider"
	"github.com/kursadbilgin/estate-dispatch/internal/queue"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
)

// memoryItemStore keeps items in insertion order and enforces the
// pending-only update rule of the real store.
type memoryItemStore struct {
	mu    sync.Mutex
	queue domain.Queue
	items []domain.DispatchItem

	fetchErr  error
	updateFn  func(item *domain.DispatchItem) error
	enqueueFn func(items []*domain.DispatchItem) error
	stats     *repository.QueueStats
	statsErr  error

	fetchLimits []int
	updates     int
}

func newMemoryItemStore(q domain.Queue, items ...domain.DispatchItem) *memoryItemStore {
	s := &memoryItemStore{queue: q}
	for i, item := range items {
		if item.ID == "" {
			item.ID = fmt.Sprintf("%s-%d", q, i+1)
		}
		if item.Status == "" {
			item.Status = domain.ItemStatusPending
		}
		item.Queue = q
		s.items = append(s.items, item)
	}
	return s
}

func (s *memoryItemStore) Queue() domain.Queue { return s.queue }

func (s *memoryItemStore) Enqueue(ctx context.Context, items []*domain.DispatchItem) error {
	if s.enqueueFn != nil {
		if err := s.enqueueFn(items); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if item == nil {
			continue
		}
		item.Queue = s.queue
		item.Status = domain.ItemStatusPending
		item.Attempts = 0
		if item.ID == "" {
			item.ID = fmt.Sprintf("%s-%d", s.queue, len(s.items)+1)
		}
		if err := item.Validate(); err != nil {
			return err
		}
		s.items = append(s.items, cloneItem(*item))
	}
	return nil
}

func (s *memoryItemStore) FetchPending(ctx context.Context, limit int) ([]domain.DispatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchLimits = append(s.fetchLimits, limit)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	out := []domain.DispatchItem{}
	for _, item := range s.items {
		if item.Status == domain.ItemStatusPending && len(out) < limit {
			out = append(out, cloneItem(item))
		}
	}
	return out, nil
}

func (s *memoryItemStore) ListPendingByCampaign(ctx context.Context, campaignID string) ([]domain.DispatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	out := []domain.DispatchItem{}
	for _, item := range s.items {
		if item.Status == domain.ItemStatusPending && item.CampaignID != nil && *item.CampaignID == campaignID {
			out = append(out, cloneItem(item))
		}
	}
	return out, nil
}

func (s *memoryItemStore) GetByID(ctx context.Context, id string) (*domain.DispatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == id {
			c := cloneItem(item)
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memoryItemStore) Update(ctx context.Context, item *domain.DispatchItem) error {
	if s.updateFn != nil {
		if err := s.updateFn(item); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != item.ID {
			continue
		}
		if s.items[i].Status != domain.ItemStatusPending {
			return fmt.Errorf("%w: item %s is no longer pending", domain.ErrConflict, item.ID)
		}
		s.items[i] = cloneItem(*item)
		s.updates++
		return nil
	}
	return domain.ErrNotFound
}

func (s *memoryItemStore) CountByCampaign(ctx context.Context, campaignID string) ([]repository.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[domain.ItemStatus]int{}
	for _, item := range s.items {
		if item.CampaignID != nil && *item.CampaignID == campaignID {
			counts[item.Status]++
		}
	}
	out := []repository.StatusCount{}
	for status, n := range counts {
		out = append(out, repository.StatusCount{Status: status, Count: n})
	}
	return out, nil
}

func (s *memoryItemStore) Stats(ctx context.Context, since time.Time) (*repository.QueueStats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	if s.stats != nil {
		return s.stats, nil
	}
	return &repository.QueueStats{}, nil
}

func (s *memoryItemStore) item(id string) domain.DispatchItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == id {
			return cloneItem(item)
		}
	}
	return domain.DispatchItem{}
}

func (s *memoryItemStore) snapshot() []domain.DispatchItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DispatchItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, cloneItem(item))
	}
	return out
}

func cloneItem(item domain.DispatchItem) domain.DispatchItem {
	if item.Metadata != nil {
		m := make(map[string]string, len(item.Metadata))
		for k, v := range item.Metadata {
			m[k] = v
		}
		item.Metadata = m
	}
	return item
}

type fakeGateway struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg provider.SMSMessage) (*provider.SendResult, error)
	sent   []provider.SMSMessage
}

func (f *fakeGateway) Send(ctx context.Context, msg provider.SMSMessage) (*provider.SendResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	n := len(f.sent)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.SendResult{StatusCode: 200, MessageID: fmt.Sprintf("msg-%d", n)}, nil
}

type fakeReceiptGenerator struct {
	generateFn func(ctx context.Context, paymentID string) (*provider.ReceiptResult, error)
}

func (f *fakeReceiptGenerator) Generate(ctx context.Context, paymentID string) (*provider.ReceiptResult, error) {
	if f.generateFn != nil {
		return f.generateFn(ctx, paymentID)
	}
	return &provider.ReceiptResult{StatusCode: 200, ReceiptURL: "https://files.example.com/" + paymentID + ".pdf"}, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
	waits  int
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	f.waits++
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeLocker struct {
	acquireFn func(ctx context.Context, key string) error
	acquired  []string
	released  []string
}

func (f *fakeLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if f.acquireFn != nil {
		if err := f.acquireFn(ctx, key); err != nil {
			return nil, err
		}
	}
	f.acquired = append(f.acquired, key)
	return func(context.Context) error {
		f.released = append(f.released, key)
		return nil
	}, nil
}

type fakeEventPublisher struct {
	publishFn func(ctx context.Context, event queue.DispatchEvent) error
	events    []queue.DispatchEvent
}

func (f *fakeEventPublisher) PublishEvent(ctx context.Context, event queue.DispatchEvent) error {
	f.events = append(f.events, event)
	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

type fakeCampaignRepo struct {
	campaigns       map[string]*domain.Campaign
	recipients      *memoryItemStore
	getErr          error
	updateStatusErr error
	saveResultFn    func(c *domain.Campaign) error
	statusHistory   []domain.CampaignStatus
}

func newFakeCampaignRepo(recipients *memoryItemStore) *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: map[string]*domain.Campaign{}, recipients: recipients}
}

func (f *fakeCampaignRepo) CreateWithRecipients(ctx context.Context, c *domain.Campaign, recipients []*domain.DispatchItem) error {
	for _, r := range recipients {
		id := c.ID
		r.CampaignID = &id
	}
	if err := f.recipients.Enqueue(ctx, recipients); err != nil {
		return err
	}
	stored := *c
	f.campaigns[c.ID] = &stored
	return nil
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	if f.updateStatusErr != nil {
		return f.updateStatusErr
	}
	c, ok := f.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	f.statusHistory = append(f.statusHistory, status)
	return nil
}

func (f *fakeCampaignRepo) SaveResult(ctx context.Context, c *domain.Campaign) error {
	if f.saveResultFn != nil {
		if err := f.saveResultFn(c); err != nil {
			return err
		}
	}
	stored := *c
	f.campaigns[c.ID] = &stored
	f.statusHistory = append(f.statusHistory, c.Status)
	return nil
}

// recordingSleep replaces the pacing sleep and records requested delays.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}
