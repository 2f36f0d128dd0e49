package provider

import (
	"context"
	"encoding/json"
	"strings"
)

// SMSMessage is one outbound text for the SMS gateway.
type SMSMessage struct {
	To       string
	Body     string
	SenderID string
}

// SendResult stores gateway call metadata for persistence.
type SendResult struct {
	StatusCode int
	MessageID  string
}

// SMSGateway is the outbound SMS delivery port.
type SMSGateway interface {
	Send(ctx context.Context, msg SMSMessage) (*SendResult, error)
}

// ReceiptGenerator asks the document service to render the receipt of a payment.
type ReceiptGenerator interface {
	Generate(ctx context.Context, paymentID string) (*ReceiptResult, error)
}

type ReceiptResult struct {
	StatusCode int
	ReceiptURL string
}

// remoteMessage extracts {"message": ...} or {"error": ...} from an error
// body, falling back to the raw text.
func remoteMessage(body string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(body)
}
