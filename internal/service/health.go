package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"go.uber.org/zap"
)

const healthWindow = 24 * time.Hour

type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusCritical HealthStatus = "critical"
)

// HealthThresholds are the alert limits of one queue over the health window.
type HealthThresholds struct {
	MaxPending    int
	MaxFailed     int
	MaxAvgSeconds float64
}

var (
	smsHealthThresholds     = HealthThresholds{MaxPending: 100, MaxFailed: 10, MaxAvgSeconds: 60}
	receiptHealthThresholds = HealthThresholds{MaxPending: 50, MaxFailed: 10, MaxAvgSeconds: 30}
)

type QueueHealth struct {
	Pending              int        `json:"pendingCount"`
	Sent                 int        `json:"sentCount"`
	Failed               int        `json:"failedCount"`
	AvgProcessingSeconds *float64   `json:"avgProcessingTime"`
	LastQueuedAt         *time.Time `json:"lastQueuedAt"`
	Alerts               []string   `json:"alerts"`
}

type HealthReport struct {
	Timestamp       time.Time    `json:"timestamp"`
	Status          HealthStatus `json:"status"`
	SMSQueue        QueueHealth  `json:"smsQueue"`
	ReceiptQueue    QueueHealth  `json:"receiptQueue"`
	Recommendations []string     `json:"recommendations"`
}

// HealthMonitor reports backlog, failures and latency of the SMS and receipt
// queues over the last 24 hours.
type HealthMonitor struct {
	sms      repository.ItemStore
	receipts repository.ItemStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewHealthMonitor(sms, receipts repository.ItemStore, logger *zap.Logger) (*HealthMonitor, error) {
	if sms == nil || receipts == nil {
		return nil, fmt.Errorf("sms and receipt stores are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthMonitor{
		sms:      sms,
		receipts: receipts,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (m *HealthMonitor) Report(ctx context.Context) (*HealthReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := m.now().UTC()
	since := now.Add(-healthWindow)

	smsHealth, err := m.queueHealth(ctx, m.sms, since)
	if err != nil {
		return nil, err
	}
	receiptHealth, err := m.queueHealth(ctx, m.receipts, since)
	if err != nil {
		return nil, err
	}

	smsHealth.Alerts = smsAlerts(smsHealth)
	receiptHealth.Alerts = receiptAlerts(receiptHealth)

	report := &HealthReport{
		Timestamp:       now,
		Status:          overallStatus(len(smsHealth.Alerts) + len(receiptHealth.Alerts)),
		SMSQueue:        smsHealth,
		ReceiptQueue:    receiptHealth,
		Recommendations: recommendations(smsHealth, receiptHealth),
	}

	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Strings("smsAlerts", smsHealth.Alerts),
		zap.Strings("receiptAlerts", receiptHealth.Alerts),
	}
	switch report.Status {
	case HealthStatusCritical:
		m.logger.Error("queue health critical", fields...)
	case HealthStatusWarning:
		m.logger.Warn("queue health degraded", fields...)
	}

	return report, nil
}

func (m *HealthMonitor) queueHealth(ctx context.Context, store repository.ItemStore, since time.Time) (QueueHealth, error) {
	stats, err := store.Stats(ctx, since)
	if err != nil {
		return QueueHealth{}, fmt.Errorf("failed to read %s queue stats: %w", store.Queue(), err)
	}

	health := QueueHealth{
		AvgProcessingSeconds: stats.AvgProcessingSeconds,
		LastQueuedAt:         stats.LastQueuedAt,
		Alerts:               []string{},
	}
	for _, c := range stats.Counts {
		switch c.Status {
		case domain.ItemStatusPending:
			health.Pending = c.Count
		case domain.ItemStatusSent:
			health.Sent = c.Count
		case domain.ItemStatusFailed:
			health.Failed = c.Count
		}
	}

	return health, nil
}

func smsAlerts(h QueueHealth) []string {
	return queueAlerts(h, smsHealthThresholds, "SMS")
}

func receiptAlerts(h QueueHealth) []string {
	return queueAlerts(h, receiptHealthThresholds, "receipt")
}

func queueAlerts(h QueueHealth, t HealthThresholds, label string) []string {
	alerts := []string{}
	if h.Pending > t.MaxPending {
		alerts = append(alerts, fmt.Sprintf("High pending %s count: %d", label, h.Pending))
	}
	if h.Failed > t.MaxFailed {
		alerts = append(alerts, fmt.Sprintf("Excessive failed %s items: %d", label, h.Failed))
	}
	if h.AvgProcessingSeconds != nil && *h.AvgProcessingSeconds > t.MaxAvgSeconds {
		alerts = append(alerts, fmt.Sprintf("Slow %s processing: %.2fs average", label, *h.AvgProcessingSeconds))
	}
	return alerts
}

func overallStatus(alerts int) HealthStatus {
	switch {
	case alerts == 0:
		return HealthStatusHealthy
	case alerts <= 2:
		return HealthStatusWarning
	default:
		return HealthStatusCritical
	}
}

func recommendations(sms, receipts QueueHealth) []string {
	out := []string{}

	if sms.Pending > smsHealthThresholds.MaxPending {
		out = append(out, "Increase SMS queue processing frequency or batch size")
	}
	if sms.Failed > smsHealthThresholds.MaxFailed {
		out = append(out, "Review failed SMS items and check the SMS gateway status")
	}
	if sms.AvgProcessingSeconds != nil && *sms.AvgProcessingSeconds > smsHealthThresholds.MaxAvgSeconds {
		out = append(out, "Check gateway latency and network connectivity")
	}
	if receipts.Pending > receiptHealthThresholds.MaxPending {
		out = append(out, "Increase receipt generation frequency or batch size")
	}
	if receipts.Failed > receiptHealthThresholds.MaxFailed {
		out = append(out, "Check the receipt generation service")
	}

	if len(sms.Alerts) == 0 && len(receipts.Alerts) == 0 {
		out = append(out, "All queues are healthy")
	}

	return out
}
