package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
)

// TriggerMessage asks for one processor run. CampaignID is required when
// Queue is campaign.
type TriggerMessage struct {
	Queue      domain.Queue `json:"queue"`
	CampaignID string       `json:"campaignId,omitempty"`
	RunID      string       `json:"runId,omitempty"`
}

func (m TriggerMessage) Validate() error {
	if !m.Queue.IsValid() {
		return fmt.Errorf("invalid queue %q", m.Queue)
	}
	if m.Queue == domain.QueueCampaign && strings.TrimSpace(m.CampaignID) == "" {
		return fmt.Errorf("campaignId is required for campaign triggers")
	}
	return nil
}

// DispatchEvent reports the outcome of one dispatch attempt.
type DispatchEvent struct {
	ItemID     string            `json:"itemId"`
	Queue      domain.Queue      `json:"queue"`
	CampaignID string            `json:"campaignId,omitempty"`
	Status     domain.ItemStatus `json:"status"`
	Attempts   int               `json:"attempts"`
	Error      string            `json:"error,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

func (e DispatchEvent) Validate() error {
	if strings.TrimSpace(e.ItemID) == "" {
		return fmt.Errorf("itemId is required")
	}
	if !e.Queue.IsValid() {
		return fmt.Errorf("invalid queue %q", e.Queue)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	return nil
}
