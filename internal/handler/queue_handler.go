package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/queue"
	"github.com/kursadbilgin/estate-dispatch/internal/service"
	"go.uber.org/zap"
)

type Processor interface {
	Run(ctx context.Context) (*service.BatchReport, error)
}

type Enqueuer interface {
	EnqueueSMS(ctx context.Context, requests []service.SMSRequest) ([]domain.DispatchItem, error)
	EnqueueReceipts(ctx context.Context, requests []service.ReceiptRequest) ([]domain.DispatchItem, error)
}

type HealthReporter interface {
	Report(ctx context.Context) (*service.HealthReport, error)
}

// QueueDeps are the collaborators behind the /v1/queues routes.
type QueueDeps struct {
	SMS      Processor
	Receipts Processor
	Enqueuer Enqueuer
	Health   HealthReporter
	// Triggers is optional; without it the async trigger route is not served.
	Triggers queue.TriggerPublisher
}

type QueueHandler struct {
	deps   QueueDeps
	logger *zap.Logger
}

func NewQueueHandler(deps QueueDeps, logger *zap.Logger) (*QueueHandler, error) {
	if deps.SMS == nil || deps.Receipts == nil {
		return nil, fmt.Errorf("sms and receipt processors are required")
	}
	if deps.Enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("health reporter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueHandler{deps: deps, logger: logger}, nil
}

func RegisterQueueRoutes(router fiber.Router, deps QueueDeps, logger *zap.Logger) error {
	h, err := NewQueueHandler(deps, logger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/queues/sms", h.EnqueueSMS)
	v1.Post("/queues/receipts", h.EnqueueReceipts)
	v1.Post("/queues/sms/process", h.process(domain.QueueSMS, deps.SMS))
	v1.Post("/queues/receipts/process", h.process(domain.QueueReceipt, deps.Receipts))
	v1.Get("/queues/health", h.Health)
	if deps.Triggers != nil {
		v1.Post("/queues/:queue/trigger", h.Trigger)
	}

	return nil
}

type enqueueSMSRequest struct {
	Messages []struct {
		To         string `json:"to"`
		Message    string `json:"message"`
		SenderID   string `json:"senderId"`
		ReceiptURL string `json:"receiptUrl"`
	} `json:"messages"`
}

type enqueueReceiptsRequest struct {
	Receipts []struct {
		PaymentID   string `json:"paymentId"`
		NotifyPhone string `json:"notifyPhone"`
		SenderID    string `json:"senderId"`
	} `json:"receipts"`
}

type itemResponse struct {
	ID         string            `json:"id"`
	CampaignID *string           `json:"campaignId,omitempty"`
	Queue      string            `json:"queue"`
	Target     string            `json:"target"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	LastError  *string           `json:"lastError,omitempty"`
	SentAt     *time.Time        `json:"sentAt,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type enqueueResponse struct {
	Queue string         `json:"queue"`
	Count int            `json:"count"`
	Items []itemResponse `json:"items"`
}

type processResponse struct {
	Success   bool                 `json:"success"`
	Message   string               `json:"message,omitempty"`
	Error     string               `json:"error,omitempty"`
	RunID     string               `json:"runId,omitempty"`
	Processed int                  `json:"processed"`
	Summary   service.Summary      `json:"summary"`
	Results   []service.ItemResult `json:"results"`
}

func (h *QueueHandler) EnqueueSMS(c *fiber.Ctx) error {
	var req enqueueSMSRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	requests := make([]service.SMSRequest, 0, len(req.Messages))
	for _, m := range req.Messages {
		requests = append(requests, service.SMSRequest{
			To:         m.To,
			Message:    m.Message,
			SenderID:   m.SenderID,
			ReceiptURL: m.ReceiptURL,
		})
	}

	items, err := h.deps.Enqueuer.EnqueueSMS(c.Context(), requests)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toEnqueueResponse(domain.QueueSMS, items))
}

func (h *QueueHandler) EnqueueReceipts(c *fiber.Ctx) error {
	var req enqueueReceiptsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	requests := make([]service.ReceiptRequest, 0, len(req.Receipts))
	for _, r := range req.Receipts {
		requests = append(requests, service.ReceiptRequest{
			PaymentID:   r.PaymentID,
			NotifyPhone: r.NotifyPhone,
			SenderID:    r.SenderID,
		})
	}

	items, err := h.deps.Enqueuer.EnqueueReceipts(c.Context(), requests)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toEnqueueResponse(domain.QueueReceipt, items))
}

// process drains one batch. Per-item failures are part of a successful
// response; only a broken run answers 500, still carrying the partial counts.
func (h *QueueHandler) process(q domain.Queue, p Processor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report, err := p.Run(c.Context())
		if errors.Is(err, domain.ErrQueueBusy) {
			return toHTTPError(err)
		}

		resp := processResponse{Results: []service.ItemResult{}}
		if report != nil {
			resp.RunID = report.RunID
			resp.Processed = report.Summary.Total
			resp.Summary = report.Summary
			if report.Results != nil {
				resp.Results = report.Results
			}
		}

		if err != nil {
			h.logger.Error("queue processing failed",
				zap.String("queue", q.String()),
				zap.Error(err),
			)
			resp.Error = err.Error()
			return c.Status(fiber.StatusInternalServerError).JSON(resp)
		}

		resp.Success = true
		resp.Message = fmt.Sprintf("Processed %d %s items", resp.Processed, q)
		return c.Status(fiber.StatusOK).JSON(resp)
	}
}

type triggerRequest struct {
	CampaignID string `json:"campaignId"`
}

type triggerResponse struct {
	Queue      string `json:"queue"`
	CampaignID string `json:"campaignId,omitempty"`
	RunID      string `json:"runId"`
}

// Trigger schedules a run on the broker instead of running it inline.
func (h *QueueHandler) Trigger(c *fiber.Ctx) error {
	var req triggerRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	q, err := domain.ParseQueueFromString(c.Params("queue"))
	if err != nil {
		return toHTTPError(err)
	}

	msg := queue.TriggerMessage{
		Queue:      q,
		CampaignID: strings.TrimSpace(req.CampaignID),
		RunID:      uuid.NewString(),
	}
	if err := msg.Validate(); err != nil {
		return toHTTPError(fmt.Errorf("%w: %s", domain.ErrValidation, err.Error()))
	}

	if err := h.deps.Triggers.PublishTrigger(c.Context(), msg); err != nil {
		h.logger.Error("failed to publish trigger",
			zap.String("queue", msg.Queue.String()),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusServiceUnavailable, "trigger could not be queued")
	}

	return c.Status(fiber.StatusAccepted).JSON(triggerResponse{
		Queue:      msg.Queue.String(),
		CampaignID: msg.CampaignID,
		RunID:      msg.RunID,
	})
}

func (h *QueueHandler) Health(c *fiber.Ctx) error {
	report, err := h.deps.Health.Report(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(report)
}

func toEnqueueResponse(q domain.Queue, items []domain.DispatchItem) enqueueResponse {
	resp := enqueueResponse{Queue: q.String(), Count: len(items), Items: make([]itemResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toItemResponse(item))
	}
	return resp
}

func toItemResponse(item domain.DispatchItem) itemResponse {
	return itemResponse{
		ID:         item.ID,
		CampaignID: item.CampaignID,
		Queue:      item.Queue.String(),
		Target:     item.Target,
		Status:     item.Status.String(),
		Attempts:   item.Attempts,
		LastError:  item.LastError,
		SentAt:     item.SentAt,
		Metadata:   item.Metadata,
	}
}
