package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"gorm.io/gorm"
)

const enqueueChunkSize = 100

type StatusCount struct {
	Status domain.ItemStatus `gorm:"column:status"`
	Count  int               `gorm:"column:count"`
}

// QueueStats aggregates a queue table over a time window.
type QueueStats struct {
	Counts               []StatusCount
	AvgProcessingSeconds *float64
	LastQueuedAt         *time.Time
}

// ItemStore is the persistent dispatch queue for one table.
type ItemStore interface {
	Queue() domain.Queue
	Enqueue(ctx context.Context, items []*domain.DispatchItem) error
	FetchPending(ctx context.Context, limit int) ([]domain.DispatchItem, error)
	ListPendingByCampaign(ctx context.Context, campaignID string) ([]domain.DispatchItem, error)
	GetByID(ctx context.Context, id string) (*domain.DispatchItem, error)
	Update(ctx context.Context, item *domain.DispatchItem) error
	CountByCampaign(ctx context.Context, campaignID string) ([]StatusCount, error)
	Stats(ctx context.Context, since time.Time) (*QueueStats, error)
}

type GormItemStore struct {
	db    *gorm.DB
	queue domain.Queue
	table string
}

func NewGormItemStore(db *gorm.DB, queue domain.Queue) (*GormItemStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	table, err := TableForQueue(queue)
	if err != nil {
		return nil, err
	}
	return &GormItemStore{db: db, queue: queue, table: table}, nil
}

func (r *GormItemStore) Queue() domain.Queue {
	return r.queue
}

func (r *GormItemStore) Enqueue(ctx context.Context, items []*domain.DispatchItem) error {
	models := make([]DispatchItemModel, 0, len(items))
	modelIndexes := make([]int, 0, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		if err := prepareItemForEnqueue(item, r.queue); err != nil {
			return err
		}
		model, err := itemModelFromDomain(item)
		if err != nil {
			return err
		}
		models = append(models, *model)
		modelIndexes = append(modelIndexes, i)
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Table(r.table).CreateInBatches(&models, enqueueChunkSize).Error; err != nil {
		return err
	}

	for i := range models {
		created, err := itemModelToDomain(&models[i], r.queue)
		if err != nil {
			return err
		}
		*items[modelIndexes[i]] = *created
	}

	return nil
}

// FetchPending returns up to limit pending items in creation order.
// Ids are UUIDv7, so the id tie-break keeps insertion order within one timestamp.
func (r *GormItemStore) FetchPending(ctx context.Context, limit int) ([]domain.DispatchItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", domain.ErrValidation)
	}

	var models []DispatchItemModel
	err := r.db.WithContext(ctx).
		Table(r.table).
		Where("status = ?", domain.ItemStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return r.toDomainItems(models)
}

func (r *GormItemStore) ListPendingByCampaign(ctx context.Context, campaignID string) ([]domain.DispatchItem, error) {
	var models []DispatchItemModel
	err := r.db.WithContext(ctx).
		Table(r.table).
		Where("campaign_id = ? AND status = ?", campaignID, domain.ItemStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return r.toDomainItems(models)
}

func (r *GormItemStore) GetByID(ctx context.Context, id string) (*domain.DispatchItem, error) {
	var model DispatchItemModel
	err := r.db.WithContext(ctx).Table(r.table).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return itemModelToDomain(&model, r.queue)
}

// Update persists the dispatch state of one item. Only rows still pending are
// touched, which keeps sent and failed terminal.
func (r *GormItemStore) Update(ctx context.Context, item *domain.DispatchItem) error {
	if item == nil {
		return fmt.Errorf("%w: item is required", domain.ErrValidation)
	}

	metadata, err := encodeMetadata(item.Metadata)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Table(r.table).
		Where("id = ? AND status = ?", item.ID, domain.ItemStatusPending).
		Updates(map[string]any{
			"status":     item.Status,
			"attempts":   item.Attempts,
			"last_error": item.LastError,
			"sent_at":    item.SentAt,
			"metadata":   metadata,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: item %s is no longer pending", domain.ErrConflict, item.ID)
	}
	return nil
}

func (r *GormItemStore) CountByCampaign(ctx context.Context, campaignID string) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Table(r.table).
		Select("status, COUNT(*) as count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormItemStore) Stats(ctx context.Context, since time.Time) (*QueueStats, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Table(r.table).
		Select("status, COUNT(*) as count").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	var timing struct {
		AvgSeconds   *float64   `gorm:"column:avg_seconds"`
		LastQueuedAt *time.Time `gorm:"column:last_queued_at"`
	}
	err = r.db.WithContext(ctx).
		Table(r.table).
		Select(
			"AVG(EXTRACT(EPOCH FROM (sent_at - created_at))) AS avg_seconds, MAX(created_at) AS last_queued_at",
		).
		Where("created_at >= ?", since).
		Scan(&timing).Error
	if err != nil {
		return nil, err
	}

	return &QueueStats{
		Counts:               counts,
		AvgProcessingSeconds: timing.AvgSeconds,
		LastQueuedAt:         timing.LastQueuedAt,
	}, nil
}

func (r *GormItemStore) toDomainItems(models []DispatchItemModel) ([]domain.DispatchItem, error) {
	items := make([]domain.DispatchItem, 0, len(models))
	for i := range models {
		item, err := itemModelToDomain(&models[i], r.queue)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

func prepareItemForEnqueue(item *domain.DispatchItem, queue domain.Queue) error {
	item.Queue = queue
	item.Target = strings.TrimSpace(item.Target)
	item.Payload = strings.TrimSpace(item.Payload)
	item.Status = domain.ItemStatusPending
	item.Attempts = 0
	item.LastError = nil
	item.SentAt = nil

	if strings.TrimSpace(item.ID) == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate item id: %w", err)
		}
		item.ID = id.String()
	}

	return item.Validate()
}
