package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
)

const (
	DefaultTermiiBaseURL  = "https://v3.api.termii.com"
	termiiSendPath        = "/api/sms/send"
	termiiGatewayName     = "termii"
	defaultGatewayTimeout = 10 * time.Second
)

type TermiiConfig struct {
	APIKey   string
	BaseURL  string
	SenderID string
}

type termiiRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	SMS     string `json:"sms"`
	Type    string `json:"type"`
	Channel string `json:"channel"`
	APIKey  string `json:"api_key"`
}

type termiiResponse struct {
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

// TermiiGateway sends plain SMS through the Termii REST API. It never retries;
// the retry budget lives on the queued item.
type TermiiGateway struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	senderID string
}

func NewTermiiGateway(cfg TermiiConfig) (*TermiiGateway, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewTermiiGatewayWithClient(cfg, client)
}

func NewTermiiGatewayWithClient(cfg TermiiConfig, client *resty.Client) (*TermiiGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("termii api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultTermiiBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid termii base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &TermiiGateway{
		client:   client,
		endpoint: baseURL + termiiSendPath,
		apiKey:   apiKey,
		senderID: strings.TrimSpace(cfg.SenderID),
	}, nil
}

func (g *TermiiGateway) Send(ctx context.Context, msg SMSMessage) (*SendResult, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}

	to := strings.TrimSpace(msg.To)
	if to == "" {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return nil, fmt.Errorf("%w: message body is required", domain.ErrValidation)
	}

	from := strings.TrimSpace(msg.SenderID)
	if from == "" {
		from = g.senderID
	}

	var result termiiResponse
	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(termiiRequest{
			To:      to,
			From:    from,
			SMS:     msg.Body,
			Type:    "plain",
			Channel: "generic",
			APIKey:  g.apiKey,
		}).
		SetResult(&result).
		Post(g.endpoint)
	if err != nil {
		return nil, requestFailure(termiiGatewayName, err)
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			StatusCode: statusCode,
			MessageID:  strings.TrimSpace(result.MessageID),
		}, nil
	}

	message := remoteMessage(response.String())
	if message == "" {
		message = fmt.Sprintf("status %d", statusCode)
	}
	return nil, &GatewayError{
		Gateway:    termiiGatewayName,
		StatusCode: statusCode,
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

// ComposeSMSBody appends the receipt download link, when present, and the
// sender signature to a message.
func ComposeSMSBody(message, receiptURL, signature string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(message))

	if u := strings.TrimSpace(receiptURL); u != "" {
		b.WriteString("\n\nDownload receipt: ")
		b.WriteString(u)
	}
	if sig := strings.TrimSpace(signature); sig != "" {
		b.WriteString("\n\n")
		b.WriteString(sig)
	}

	return b.String()
}
