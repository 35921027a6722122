package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/franzego/push-notification-service/internal/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const defaultEndpoint = "https://fcm.googleapis.com"

// tokenSource yields a valid gateway access token per call.
type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is a single-shot adapter for the FCM HTTP v1 API. It obtains a
// fresh credential per call, issues exactly one outbound request with a
// bounded timeout, and raises on non-success. All retry policy lives in the
// consumer; the shared circuit breaker is the only resilience layer here.
type Client struct {
	projectID  string
	endpoint   string
	tokens     tokenSource
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// Response is the provider acknowledgment for an accepted message.
type Response struct {
	Name string `json:"name"`
}

type ClientOption func(*Client)

// WithEndpoint overrides the FCM base URL, used by tests.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

func NewClient(projectID string, timeout time.Duration, tokens tokenSource, cb *gobreaker.CircuitBreaker, logger *zap.Logger, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		projectID: projectID,
		endpoint:  defaultEndpoint,
		tokens:    tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cb:     cb,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers one notification through the circuit breaker. While the
// breaker is open it returns gobreaker.ErrOpenState without touching the
// gateway.
func (c *Client) Send(ctx context.Context, payload models.DeliveryRequest, correlationID string) (*Response, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.send(ctx, payload, correlationID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

// BreakerState exposes the gateway breaker state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.cb.State()
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

type fcmWebpush struct {
	FcmOptions struct {
		Link string `json:"link"`
	} `json:"fcm_options"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Webpush      *fcmWebpush       `json:"webpush,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

func (c *Client) send(ctx context.Context, payload models.DeliveryRequest, correlationID string) (*Response, error) {
	accessToken, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	message := fcmMessage{
		Token: payload.Token,
		Notification: fcmNotification{
			Title: payload.Title,
			Body:  payload.Body,
			Image: payload.Image,
		},
		Data: payload.Data,
	}
	if payload.Link != "" {
		webpush := &fcmWebpush{}
		webpush.FcmOptions.Link = payload.Link
		message.Webpush = webpush
	}

	body, err := json.Marshal(struct {
		Message fcmMessage `json:"message"`
	}{Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fcm message: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", c.endpoint, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; UTF-8")

	c.logger.Info("sending notification to fcm", zap.String("correlation_id", correlationID))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &DeliveryError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		diagnostic, _ := io.ReadAll(resp.Body)
		return nil, &DeliveryError{StatusCode: resp.StatusCode, Message: string(diagnostic)}
	}

	var providerResp Response
	if err := json.NewDecoder(resp.Body).Decode(&providerResp); err != nil {
		return nil, fmt.Errorf("failed to decode fcm response: %w", err)
	}
	return &providerResp, nil
}
