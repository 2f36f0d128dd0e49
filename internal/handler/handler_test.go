package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/queue"
	"github.com/kursadbilgin/estate-dispatch/internal/service"
	"github.com/kursadbilgin/estate-dispatch/internal/transport"
	"go.uber.org/zap"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	return fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubProcessor struct {
	runFn func(ctx context.Context) (*service.BatchReport, error)
}

func (s *stubProcessor) Run(ctx context.Context) (*service.BatchReport, error) {
	if s.runFn != nil {
		return s.runFn(ctx)
	}
	return &service.BatchReport{Results: []service.ItemResult{}}, nil
}

type stubEnqueuer struct {
	enqueueSMSFn      func(ctx context.Context, requests []service.SMSRequest) ([]domain.DispatchItem, error)
	enqueueReceiptsFn func(ctx context.Context, requests []service.ReceiptRequest) ([]domain.DispatchItem, error)
}

func (s *stubEnqueuer) EnqueueSMS(ctx context.Context, requests []service.SMSRequest) ([]domain.DispatchItem, error) {
	if s.enqueueSMSFn != nil {
		return s.enqueueSMSFn(ctx, requests)
	}
	return nil, errors.New("not implemented")
}

func (s *stubEnqueuer) EnqueueReceipts(ctx context.Context, requests []service.ReceiptRequest) ([]domain.DispatchItem, error) {
	if s.enqueueReceiptsFn != nil {
		return s.enqueueReceiptsFn(ctx, requests)
	}
	return nil, errors.New("not implemented")
}

type stubHealthReporter struct {
	reportFn func(ctx context.Context) (*service.HealthReport, error)
}

func (s *stubHealthReporter) Report(ctx context.Context) (*service.HealthReport, error) {
	if s.reportFn != nil {
		return s.reportFn(ctx)
	}
	return &service.HealthReport{Status: service.HealthStatusHealthy}, nil
}

type stubTriggerPublisher struct {
	published []queue.TriggerMessage
	err       error
}

func (s *stubTriggerPublisher) PublishTrigger(ctx context.Context, msg queue.TriggerMessage) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, msg)
	return nil
}

type stubCampaignService struct {
	createFn  func(ctx context.Context, in service.CreateCampaignInput) (*domain.Campaign, error)
	getFn     func(ctx context.Context, id string) (*service.CampaignDetails, error)
	executeFn func(ctx context.Context, id string) (*service.CampaignReport, error)
}

func (s *stubCampaignService) Create(ctx context.Context, in service.CreateCampaignInput) (*domain.Campaign, error) {
	if s.createFn != nil {
		return s.createFn(ctx, in)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCampaignService) Get(ctx context.Context, id string) (*service.CampaignDetails, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) Execute(ctx context.Context, id string) (*service.CampaignReport, error) {
	if s.executeFn != nil {
		return s.executeFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }
