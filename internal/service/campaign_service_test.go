package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kursadbilgin/estate-dispatch/internal/domain"
	"github.com/kursadbilgin/estate-dispatch/internal/provider"
	"go.uber.org/zap"
)

func newTestCampaignService(t *testing.T, gateway *fakeGateway) (*CampaignService, *fakeCampaignRepo, *memoryItemStore) {
	t.Helper()

	recipients := newMemoryItemStore(domain.QueueCampaign)
	repo := newFakeCampaignRepo(recipients)

	s, err := NewCampaignService(repo, recipients, gateway, "", ProcessorConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCampaignService() error = %v", err)
	}
	s.sleep = (&recordingSleep{}).sleep
	s.now = func() time.Time { return fixedNow }
	return s, repo, recipients
}

func createTestCampaign(t *testing.T, s *CampaignService, n int) *domain.Campaign {
	t.Helper()

	phones := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		phones = append(phones, fmt.Sprintf("+23480000000%02d", i))
	}

	c, err := s.Create(context.Background(), CreateCampaignInput{
		Name:       "Service charge reminder",
		Message:    "Service charge is due on Friday",
		SenderID:   "Estate",
		Recipients: phones,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}

func TestCampaignServiceCreate(t *testing.T) {
	t.Parallel()

	s, repo, recipients := newTestCampaignService(t, &fakeGateway{})

	c, err := s.Create(context.Background(), CreateCampaignInput{
		Name:       " Levy ",
		Message:    "Levy due",
		Recipients: []string{"+2348000000001", " +2348000000001 ", "", "+2348000000002"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.ID == "" || c.Status != domain.CampaignStatusDraft || c.Name != "Levy" {
		t.Fatalf("campaign = %+v", c)
	}
	if c.TotalRecipients != 2 {
		t.Fatalf("total recipients = %d, want 2 after dedupe", c.TotalRecipients)
	}
	if _, ok := repo.campaigns[c.ID]; !ok {
		t.Fatal("campaign was not stored")
	}

	items := recipients.snapshot()
	if len(items) != 2 {
		t.Fatalf("recipient items = %d, want 2", len(items))
	}
	for _, item := range items {
		if item.CampaignID == nil || *item.CampaignID != c.ID || item.Status != domain.ItemStatusPending {
			t.Fatalf("recipient = %+v", item)
		}
	}
}

func TestCampaignServiceCreateValidation(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestCampaignService(t, &fakeGateway{})

	tests := []struct {
		name  string
		input CreateCampaignInput
	}{
		{name: "no recipients", input: CreateCampaignInput{Name: "x", Message: "y", Recipients: []string{" "}}},
		{name: "missing name", input: CreateCampaignInput{Message: "y", Recipients: []string{"+2348000000001"}}},
		{name: "missing message", input: CreateCampaignInput{Name: "x", Recipients: []string{"+2348000000001"}}},
		{name: "too many recipients", input: CreateCampaignInput{Name: "x", Message: "y", Recipients: manyPhones(maxCampaignRecipients + 1)}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := s.Create(context.Background(), tt.input); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Create() error = %v, want ErrValidation", err)
			}
		})
	}
}

func manyPhones(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("+234%010d", i)
	}
	return out
}

func TestCampaignServiceExecuteCompletes(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{}
	s, repo, recipients := newTestCampaignService(t, gateway)
	c := createTestCampaign(t, s, 5)

	report, err := s.Execute(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Status != domain.CampaignStatusCompleted {
		t.Fatalf("status = %s, want completed", report.Status)
	}
	if report.Summary != (Summary{Total: 5, Successful: 5}) {
		t.Fatalf("summary = %+v", report.Summary)
	}

	stored := repo.campaigns[c.ID]
	if stored.SuccessfulSends != 5 || stored.FailedSends != 0 {
		t.Fatalf("counters = %d/%d, want 5/0", stored.SuccessfulSends, stored.FailedSends)
	}
	if stored.SentAt == nil || !stored.SentAt.Equal(fixedNow) {
		t.Fatalf("sentAt = %v, want %v", stored.SentAt, fixedNow)
	}
	if repo.statusHistory[0] != domain.CampaignStatusSending {
		t.Fatalf("status history = %v, want sending first", repo.statusHistory)
	}

	for _, item := range recipients.snapshot() {
		if item.Status != domain.ItemStatusSent {
			t.Fatalf("recipient %s = %s, want sent", item.ID, item.Status)
		}
	}
	for _, msg := range gateway.sent {
		if msg.Body != "Service charge is due on Friday" || msg.SenderID != "Estate" {
			t.Fatalf("sent message = %+v", msg)
		}
	}

	details, err := s.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if details.RecipientCounts[domain.ItemStatusSent] != 5 || details.RecipientCounts[domain.ItemStatusPending] != 0 {
		t.Fatalf("recipient counts = %v", details.RecipientCounts)
	}

	if _, err := s.Execute(context.Background(), c.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Execute() error = %v, want ErrConflict", err)
	}
}

func TestCampaignServiceExecuteDrainsRecipients(t *testing.T) {
	t.Parallel()

	const flaky = "+2348000000002"

	tests := []struct {
		name         string
		failuresFor2 int
		wantSummary  Summary
		wantCounters [2]int
		wantStatus2  domain.ItemStatus
		wantCalls2   int
	}{
		{
			name:         "transient failure is retried within the run",
			failuresFor2: 1,
			wantSummary:  Summary{Total: 4, Successful: 3, Failed: 1},
			wantCounters: [2]int{3, 0},
			wantStatus2:  domain.ItemStatusSent,
			wantCalls2:   2,
		},
		{
			name:         "recipient that never succeeds ends failed",
			failuresFor2: 100,
			wantSummary:  Summary{Total: 5, Successful: 2, Failed: 3},
			wantCounters: [2]int{2, 1},
			wantStatus2:  domain.ItemStatusFailed,
			wantCalls2:   domain.DefaultMaxAttempts,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls2 := 0
			gateway := &fakeGateway{
				sendFn: func(ctx context.Context, msg provider.SMSMessage) (*provider.SendResult, error) {
					if msg.To == flaky {
						calls2++
						if calls2 <= tt.failuresFor2 {
							return nil, &provider.GatewayError{Gateway: "termii", StatusCode: 503, Message: "unavailable", Transient: true}
						}
					}
					return &provider.SendResult{StatusCode: 200, MessageID: "ok"}, nil
				},
			}
			s, repo, recipients := newTestCampaignService(t, gateway)
			c := createTestCampaign(t, s, 3)

			report, err := s.Execute(context.Background(), c.ID)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if report.Status != domain.CampaignStatusCompleted {
				t.Fatalf("status = %s, want completed", report.Status)
			}
			if report.Summary != tt.wantSummary {
				t.Fatalf("summary = %+v, want %+v", report.Summary, tt.wantSummary)
			}
			if calls2 != tt.wantCalls2 {
				t.Fatalf("gateway calls for %s = %d, want %d", flaky, calls2, tt.wantCalls2)
			}

			for _, item := range recipients.snapshot() {
				if item.Status == domain.ItemStatusPending {
					t.Fatalf("recipient %s left pending with %d attempts", item.Target, item.Attempts)
				}
				if item.Target == flaky && item.Status != tt.wantStatus2 {
					t.Fatalf("recipient %s = %s, want %s", flaky, item.Status, tt.wantStatus2)
				}
			}

			stored := repo.campaigns[c.ID]
			if got := [2]int{stored.SuccessfulSends, stored.FailedSends}; got != tt.wantCounters {
				t.Fatalf("counters = %v, want %v", got, tt.wantCounters)
			}

			details, err := s.Get(context.Background(), c.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if details.RecipientCounts[domain.ItemStatusPending] != 0 ||
				details.RecipientCounts[domain.ItemStatusSent] != stored.SuccessfulSends ||
				details.RecipientCounts[domain.ItemStatusFailed] != stored.FailedSends {
				t.Fatalf("recipient counts %v disagree with counters %d/%d",
					details.RecipientCounts, stored.SuccessfulSends, stored.FailedSends)
			}
		})
	}
}

func TestCampaignServiceExecuteResumesPartlyAttemptedRecipients(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{
		sendFn: func(ctx context.Context, msg provider.SMSMessage) (*provider.SendResult, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	s, repo, recipients := newTestCampaignService(t, gateway)
	c := createTestCampaign(t, s, 1)

	// An earlier broken run already spent two attempts on the recipient.
	recipients.mu.Lock()
	recipients.items[0].Attempts = 2
	recipients.mu.Unlock()
	repo.campaigns[c.ID].Status = domain.CampaignStatusFailed

	report, err := s.Execute(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if report.Summary.Total != 1 || len(gateway.sent) != 1 {
		t.Fatalf("summary = %+v, gateway calls = %d, want a single final attempt", report.Summary, len(gateway.sent))
	}
	stored := repo.campaigns[c.ID]
	if stored.Status != domain.CampaignStatusCompleted || stored.SuccessfulSends != 0 || stored.FailedSends != 1 {
		t.Fatalf("campaign = %s %d/%d, want completed 0/1", stored.Status, stored.SuccessfulSends, stored.FailedSends)
	}
}

func TestCampaignServiceExecuteMarksFailed(t *testing.T) {
	t.Parallel()

	s, repo, recipients := newTestCampaignService(t, &fakeGateway{})
	c := createTestCampaign(t, s, 3)

	recipients.updateFn = func(item *domain.DispatchItem) error {
		if item.Target == "+2348000000002" {
			return errors.New("deadlock detected")
		}
		return nil
	}

	report, err := s.Execute(context.Background(), c.ID)
	if err == nil {
		t.Fatal("Execute() expected error")
	}
	if report == nil || report.Status != domain.CampaignStatusFailed {
		t.Fatalf("report = %+v, want failed status", report)
	}

	stored := repo.campaigns[c.ID]
	if stored.Status != domain.CampaignStatusFailed {
		t.Fatalf("stored status = %s, want failed", stored.Status)
	}
	if stored.SuccessfulSends != 1 {
		t.Fatalf("successful sends = %d, want 1 kept from the broken run", stored.SuccessfulSends)
	}

	// A re-run picks up the remaining recipients and completes.
	recipients.updateFn = nil
	report, err = s.Execute(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("re-run Execute() error = %v", err)
	}
	if report.Status != domain.CampaignStatusCompleted || report.Summary.Total != 2 {
		t.Fatalf("re-run report = %+v", report)
	}
	stored = repo.campaigns[c.ID]
	if stored.SuccessfulSends != 3 || stored.FailedSends != 0 {
		t.Fatalf("counters after re-run = %d/%d, want 3/0", stored.SuccessfulSends, stored.FailedSends)
	}
}

func TestCampaignServiceExecuteErrors(t *testing.T) {
	t.Parallel()

	s, repo, _ := newTestCampaignService(t, &fakeGateway{})

	if _, err := s.Execute(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Execute() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Execute(context.Background(), " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Execute() error = %v, want ErrValidation", err)
	}
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}

	c := createTestCampaign(t, s, 1)
	repo.updateStatusErr = errors.New("db down")
	if _, err := s.Execute(context.Background(), c.ID); err == nil {
		t.Fatal("Execute() expected error when status update fails")
	}
}

func TestCampaignServiceExecuteBusy(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{}
	s, _, _ := newTestCampaignService(t, gateway)
	c := createTestCampaign(t, s, 2)

	s.SetLocker(&fakeLocker{
		acquireFn: func(ctx context.Context, key string) error {
			if key != "campaign:"+c.ID {
				t.Errorf("lease key = %q", key)
			}
			return fmt.Errorf("%w: %s", domain.ErrQueueBusy, key)
		},
	})

	if _, err := s.Execute(context.Background(), c.ID); !errors.Is(err, domain.ErrQueueBusy) {
		t.Fatalf("Execute() error = %v, want ErrQueueBusy", err)
	}
	if len(gateway.sent) != 0 {
		t.Fatal("busy campaign must not send")
	}
}
