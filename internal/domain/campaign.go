package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a bulk SMS campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusSending, CampaignStatusCompleted, CampaignStatusFailed:
		return true
	}
	return false
}

// Campaign groups many SMS dispatch items sent with the same message.
type Campaign struct {
	ID              string
	Name            string
	Message         string
	SenderID        string
	TotalRecipients int
	SuccessfulSends int
	FailedSends     int
	Status          CampaignStatus
	SentAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: campaign name is required", ErrValidation)
	}
	if strings.TrimSpace(c.Message) == "" {
		return fmt.Errorf("%w: campaign message is required", ErrValidation)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid campaign status %q", ErrValidation, c.Status)
	}
	return nil
}

// CanExecute reports whether a send run may start. Sending campaigns are resumed
// and failed ones may be re-run; completed campaigns are final.
func (c *Campaign) CanExecute() error {
	if c.Status == CampaignStatusCompleted {
		return fmt.Errorf("%w: campaign %s is already completed", ErrConflict, c.ID)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: campaign %s has invalid status %q", ErrConflict, c.ID, c.Status)
	}
	return nil
}

// RecordProgress sets the counters from the stored recipient statuses.
func (c *Campaign) RecordProgress(sent, failed int) {
	c.SuccessfulSends = sent
	c.FailedSends = failed
}

// Complete finishes the campaign once no recipient is pending. sent and failed
// are the recipient counts, which then add up to the total.
func (c *Campaign) Complete(sent, failed int, now time.Time) error {
	if sent+failed != c.TotalRecipients {
		return fmt.Errorf("%w: campaign %s has %d of %d recipients settled",
			ErrConflict, c.ID, sent+failed, c.TotalRecipients)
	}

	c.RecordProgress(sent, failed)
	sentAt := now.UTC()
	c.Status = CampaignStatusCompleted
	c.SentAt = &sentAt
	return nil
}
