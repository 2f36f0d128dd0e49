package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
)

// Queue table names.
const (
	TableSMSQueue           = "sms_queue"
	TableReceiptQueue       = "receipt_queue"
	TableCampaignRecipients = "campaign_recipients"
)

// TableForQueue maps a queue to the table holding its items.
func TableForQueue(queue domain.Queue) (string, error) {
	switch queue {
	case domain.QueueSMS:
		return TableSMSQueue, nil
	case domain.QueueReceipt:
		return TableReceiptQueue, nil
	case domain.QueueCampaign:
		return TableCampaignRecipients, nil
	default:
		return "", fmt.Errorf("%w: unknown queue %q", domain.ErrValidation, queue)
	}
}

// DispatchItemModel is the persistence model shared by all queue tables.
// The table is picked per store with db.Table.
type DispatchItemModel struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	CampaignID *string           `gorm:"type:uuid"`
	Target     string            `gorm:"type:varchar(255);not null"`
	Payload    string            `gorm:"type:text;not null;default:''"`
	Status     domain.ItemStatus `gorm:"type:varchar(20);not null"`
	Attempts   int               `gorm:"not null;default:0"`
	LastError  *string           `gorm:"type:text"`
	SentAt     *time.Time        `gorm:"type:timestamptz"`
	Metadata   string            `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CampaignModel is the persistence model for sms_campaigns.
type CampaignModel struct {
	ID              string                `gorm:"type:uuid;primaryKey"`
	Name            string                `gorm:"type:varchar(255);not null"`
	Message         string                `gorm:"type:text;not null"`
	SenderID        string                `gorm:"type:varchar(32);not null;default:''"`
	TotalRecipients int                   `gorm:"not null;default:0"`
	SuccessfulSends int                   `gorm:"not null;default:0"`
	FailedSends     int                   `gorm:"not null;default:0"`
	Status          domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	SentAt          *time.Time            `gorm:"type:timestamptz"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (CampaignModel) TableName() string {
	return "sms_campaigns"
}

func itemModelFromDomain(i *domain.DispatchItem) (*DispatchItemModel, error) {
	if i == nil {
		return nil, nil
	}

	metadata, err := encodeMetadata(i.Metadata)
	if err != nil {
		return nil, err
	}

	return &DispatchItemModel{
		ID:         i.ID,
		CampaignID: i.CampaignID,
		Target:     i.Target,
		Payload:    i.Payload,
		Status:     i.Status,
		Attempts:   i.Attempts,
		LastError:  i.LastError,
		SentAt:     i.SentAt,
		Metadata:   metadata,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}, nil
}

func itemModelToDomain(m *DispatchItemModel, queue domain.Queue) (*domain.DispatchItem, error) {
	if m == nil {
		return nil, nil
	}

	metadata, err := decodeMetadata(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", m.ID, err)
	}

	return &domain.DispatchItem{
		ID:         m.ID,
		CampaignID: m.CampaignID,
		Queue:      queue,
		Target:     m.Target,
		Payload:    m.Payload,
		Status:     m.Status,
		Attempts:   m.Attempts,
		LastError:  m.LastError,
		SentAt:     m.SentAt,
		Metadata:   metadata,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	return &CampaignModel{
		ID:              c.ID,
		Name:            c.Name,
		Message:         c.Message,
		SenderID:        c.SenderID,
		TotalRecipients: c.TotalRecipients,
		SuccessfulSends: c.SuccessfulSends,
		FailedSends:     c.FailedSends,
		Status:          c.Status,
		SentAt:          c.SentAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:              m.ID,
		Name:            m.Name,
		Message:         m.Message,
		SenderID:        m.SenderID,
		TotalRecipients: m.TotalRecipients,
		SuccessfulSends: m.SuccessfulSends,
		FailedSends:     m.FailedSends,
		Status:          m.Status,
		SentAt:          m.SentAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(raw), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	metadata := make(map[string]string)
	if raw == "" || raw == "null" {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}
