package domain

import (
	"fmt"
	"strings"
	"time"
)

// ItemStatus represents the lifecycle state of a dispatch item.
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusSent    ItemStatus = "sent"
	ItemStatusFailed  ItemStatus = "failed"
)

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusSent, ItemStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition can happen.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSent || s == ItemStatusFailed
}

func ParseItemStatusFromString(s string) (ItemStatus, error) {
	st := ItemStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid item status %q", ErrValidation, s)
	}
	return st, nil
}

// Queue identifies which work queue an item belongs to.
type Queue string

const (
	QueueSMS      Queue = "sms"
	QueueReceipt  Queue = "receipt"
	QueueCampaign Queue = "campaign"
)

func (q Queue) String() string { return string(q) }

func (q Queue) IsValid() bool {
	switch q {
	case QueueSMS, QueueReceipt, QueueCampaign:
		return true
	}
	return false
}

func ParseQueueFromString(s string) (Queue, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	// Route segments use the plural form, e.g. /queues/receipts.
	switch normalized {
	case "receipts":
		normalized = string(QueueReceipt)
	case "campaigns":
		normalized = string(QueueCampaign)
	}

	q := Queue(normalized)
	if !q.IsValid() {
		return "", fmt.Errorf("%w: invalid queue %q", ErrValidation, s)
	}
	return q, nil
}

// DefaultMaxAttempts is the attempt budget after which an item is failed permanently.
const DefaultMaxAttempts = 3

// Well-known metadata keys.
const (
	MetaSenderID         = "sender_id"
	MetaReceiptURL       = "receipt_url"
	MetaGatewayMessageID = "gateway_message_id"
	MetaNotifyPhone      = "notify_phone"
	MetaLastAttemptError = "last_attempt_error"
)

const unknownDispatchError = "unknown error"

// DispatchItem is one unit of queued outbound work: an SMS or a receipt-generation request.
type DispatchItem struct {
	ID         string
	CampaignID *string
	Queue      Queue
	Target     string
	Payload    string
	Status     ItemStatus
	Attempts   int
	LastError  *string
	SentAt     *time.Time
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (i *DispatchItem) Validate() error {
	if strings.TrimSpace(i.Target) == "" {
		return fmt.Errorf("%w: target is required", ErrValidation)
	}
	if !i.Queue.IsValid() {
		return fmt.Errorf("%w: invalid queue %q", ErrValidation, i.Queue)
	}
	if i.Queue != QueueReceipt && strings.TrimSpace(i.Payload) == "" {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if i.Attempts < 0 {
		return fmt.Errorf("%w: attempts must be >= 0", ErrValidation)
	}
	return nil
}

// Meta returns the metadata value for key, or "" when absent.
func (i *DispatchItem) Meta(key string) string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	return i.Metadata[key]
}

func (i *DispatchItem) setMeta(key, value string) {
	if i.Metadata == nil {
		i.Metadata = make(map[string]string)
	}
	i.Metadata[key] = value
}

// MarkSent records a successful attempt. extra is merged into the item metadata.
func (i *DispatchItem) MarkSent(now time.Time, extra map[string]string) error {
	if i.Status != ItemStatusPending {
		return fmt.Errorf("%w: item %s is %s, cannot mark sent", ErrConflict, i.ID, i.Status)
	}

	sentAt := now.UTC()
	i.Attempts++
	i.Status = ItemStatusSent
	i.SentAt = &sentAt
	i.LastError = nil
	for k, v := range extra {
		if strings.TrimSpace(v) == "" {
			continue
		}
		i.setMeta(k, v)
	}
	delete(i.Metadata, MetaLastAttemptError)

	return nil
}

// RecordFailure records a failed attempt. The item becomes failed once attempts
// reaches maxAttempts; otherwise it stays pending for the next batch pull.
// It reports whether the item reached the failed state.
func (i *DispatchItem) RecordFailure(reason string, maxAttempts int) (bool, error) {
	if i.Status != ItemStatusPending {
		return false, fmt.Errorf("%w: item %s is %s, cannot record failure", ErrConflict, i.ID, i.Status)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = unknownDispatchError
	}

	i.Attempts++
	if i.Attempts >= maxAttempts {
		i.Status = ItemStatusFailed
		i.LastError = &reason
		delete(i.Metadata, MetaLastAttemptError)
		return true, nil
	}

	i.setMeta(MetaLastAttemptError, reason)
	return false, nil
}
