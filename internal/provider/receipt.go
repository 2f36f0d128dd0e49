package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/estate-dispatch/internal/domain"
)

const receiptGatewayName = "receipt-generator"

type receiptRequest struct {
	PaymentID string `json:"payment_id"`
}

type receiptResponse struct {
	ReceiptURL string `json:"receipt_url"`
}

// HTTPReceiptGenerator calls the receipt rendering service over HTTP.
type HTTPReceiptGenerator struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPReceiptGenerator(endpoint string) (*HTTPReceiptGenerator, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewHTTPReceiptGeneratorWithClient(endpoint, client)
}

func NewHTTPReceiptGeneratorWithClient(endpoint string, client *resty.Client) (*HTTPReceiptGenerator, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("receipt generator endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid receipt generator endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPReceiptGenerator{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (g *HTTPReceiptGenerator) Generate(ctx context.Context, paymentID string) (*ReceiptResult, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("receipt generator is not initialized")
	}

	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", domain.ErrValidation)
	}

	var result receiptResponse
	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(receiptRequest{PaymentID: paymentID}).
		SetResult(&result).
		Post(g.endpoint)
	if err != nil {
		return nil, requestFailure(receiptGatewayName, err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		message := remoteMessage(response.String())
		if message == "" {
			message = fmt.Sprintf("status %d", statusCode)
		}
		return nil, &GatewayError{
			Gateway:    receiptGatewayName,
			StatusCode: statusCode,
			Message:    message,
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	receiptURL := strings.TrimSpace(result.ReceiptURL)
	if receiptURL == "" {
		return nil, &GatewayError{
			Gateway:    receiptGatewayName,
			StatusCode: statusCode,
			Message:    "response carried no receipt_url",
		}
	}

	return &ReceiptResult{
		StatusCode: statusCode,
		ReceiptURL: receiptURL,
	}, nil
}
