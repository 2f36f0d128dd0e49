package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/service"
	"go.uber.org/zap"
)

type CampaignService interface {
	Create(ctx context.Context, in service.CreateCampaignInput) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*service.CampaignDetails, error)
	Execute(ctx context.Context, id string) (*service.CampaignReport, error)
}

type CampaignHandler struct {
	service CampaignService
	logger  *zap.Logger
}

func NewCampaignHandler(service CampaignService, logger *zap.Logger) (*CampaignHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignHandler{service: service, logger: logger}, nil
}

func RegisterCampaignRoutes(router fiber.Router, service CampaignService, logger *zap.Logger) error {
	h, err := NewCampaignHandler(service, logger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns/:id", h.GetCampaign)
	v1.Post("/campaigns/:id/send", h.SendCampaign)

	return nil
}

type createCampaignRequest struct {
	Name       string   `json:"name"`
	Message    string   `json:"message"`
	SenderID   string   `json:"senderId"`
	Recipients []string `json:"recipients"`
}

type campaignResponse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Message         string         `json:"message"`
	SenderID        string         `json:"senderId,omitempty"`
	Status          string         `json:"status"`
	TotalRecipients int            `json:"totalRecipients"`
	SuccessfulSends int            `json:"successfulSends"`
	FailedSends     int            `json:"failedSends"`
	SentAt          *time.Time     `json:"sentAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt,omitempty"`
	RecipientCounts map[string]int `json:"recipientCounts,omitempty"`
}

type sendCampaignResponse struct {
	Success    bool                 `json:"success"`
	Error      string               `json:"error,omitempty"`
	CampaignID string               `json:"campaignId"`
	Status     string               `json:"status,omitempty"`
	Summary    service.Summary      `json:"summary"`
	Results    []service.ItemResult `json:"results"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	campaign, err := h.service.Create(c.Context(), service.CreateCampaignInput{
		Name:       req.Name,
		Message:    req.Message,
		SenderID:   req.SenderID,
		Recipients: req.Recipients,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(campaign, nil))
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	details, err := h.service.Get(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(details.Campaign, details.RecipientCounts))
}

func (h *CampaignHandler) SendCampaign(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	report, err := h.service.Execute(c.Context(), id)
	if err != nil && report == nil {
		return toHTTPError(err)
	}

	resp := sendCampaignResponse{
		CampaignID: report.CampaignID,
		Status:     report.Status.String(),
		Summary:    report.Summary,
		Results:    report.Results,
	}
	if resp.Results == nil {
		resp.Results = []service.ItemResult{}
	}

	if err != nil {
		h.logger.Error("campaign send failed", zap.String("campaignId", id), zap.Error(err))
		resp.Error = err.Error()
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}

	resp.Success = true
	return c.Status(fiber.StatusOK).JSON(resp)
}

func toCampaignResponse(c *domain.Campaign, counts map[domain.ItemStatus]int) campaignResponse {
	if c == nil {
		return campaignResponse{}
	}

	resp := campaignResponse{
		ID:              c.ID,
		Name:            c.Name,
		Message:         c.Message,
		SenderID:        c.SenderID,
		Status:          c.Status.String(),
		TotalRecipients: c.TotalRecipients,
		SuccessfulSends: c.SuccessfulSends,
		FailedSends:     c.FailedSends,
		SentAt:          c.SentAt,
		CreatedAt:       c.CreatedAt,
	}
	if counts != nil {
		resp.RecipientCounts = make(map[string]int, len(counts))
		for status, n := range counts {
			resp.RecipientCounts[status.String()] = n
		}
	}
	return resp
}
