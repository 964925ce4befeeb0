package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/gearlog/ticket-service/internal/events"
)

// EventHeader names the event type on outbound webhook calls.
const EventHeader = "X-GearLog-Event"

// WebhookClient posts ticket events to an external HTTP endpoint.
type WebhookClient struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookClient creates the client. Transport errors and 5xx responses
// are retried up to retries times.
func NewWebhookClient(url string, timeout time.Duration, retries int, logger *zap.Logger) *WebhookClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &WebhookClient{httpClient: client, url: url, logger: logger}
}

// Send delivers one event. Non-2xx responses are errors.
func (c *WebhookClient) Send(ctx context.Context, event events.Event) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader(EventHeader, string(event.Type)).
		SetBody(event).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook responded %d", resp.StatusCode())
	}

	c.logger.Debug("webhook delivered",
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
