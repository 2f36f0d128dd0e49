package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"gorm.io/gorm"
)

type CampaignRepository interface {
	CreateWithRecipients(ctx context.Context, c *domain.Campaign, recipients []*domain.DispatchItem) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error
	SaveResult(ctx context.Context, c *domain.Campaign) error
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

// CreateWithRecipients inserts the campaign and its recipient items in one transaction.
func (r *GormCampaignRepo) CreateWithRecipients(
	ctx context.Context,
	c *domain.Campaign,
	recipients []*domain.DispatchItem,
) error {
	if c == nil {
		return fmt.Errorf("%w: campaign is required", domain.ErrValidation)
	}

	model := campaignModelFromDomain(c)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		store, err := NewGormItemStore(tx, domain.QueueCampaign)
		if err != nil {
			return err
		}
		for _, recipient := range recipients {
			if recipient != nil {
				recipient.CampaignID = &model.ID
			}
		}
		if err := store.Enqueue(ctx, recipients); err != nil {
			return err
		}

		*c = *campaignModelToDomain(model)
		return nil
	})
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

func (r *GormCampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveResult persists status, counters and sent timestamp of a campaign run.
func (r *GormCampaignRepo) SaveResult(ctx context.Context, c *domain.Campaign) error {
	if c == nil {
		return fmt.Errorf("%w: campaign is required", domain.ErrValidation)
	}

	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"status":           c.Status,
			"successful_sends": c.SuccessfulSends,
			"failed_sends":     c.FailedSends,
			"sent_at":          c.SentAt,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
