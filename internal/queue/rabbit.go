package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/franzego/push-notification-service/internal/config"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMqClient struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Config  config.RabbitMQConfig
	logger  *zap.Logger
}

func NewRabbitMqService(cfg config.RabbitMQConfig, logger *zap.Logger) (*RabbitMqClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not create a channel: %w", err)
	}
	// Bounded prefetch caps in-flight messages per process.
	if err := channel.Qos(cfg.Prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	return &RabbitMqClient{
		Conn:    conn,
		Channel: channel,
		Config:  cfg,
		logger:  logger,
	}, nil
}

func (r *RabbitMqClient) CloseConnection() {
	r.Channel.Close()
	r.Conn.Close()
}

func (r *RabbitMqClient) IsConnected() bool {
	return r.Conn != nil && !r.Conn.IsClosed()
}

// SetUpExchangeAndQueue declares the direct exchange and the three durable
// queues, each bound by a routing key equal to its name.
//
// The push queue dead-letters rejected messages to the failed queue. The
// retry queue has no consumer: retry publishes carry a per-message TTL, and
// when it expires the broker dead-letters the message back onto the push
// queue, which is how the backoff delay is served without blocking a worker.
func (r *RabbitMqClient) SetUpExchangeAndQueue() error {
	if err := r.Channel.ExchangeDeclare(
		r.Config.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("error in declaring exchange: %w", err)
	}
	queues := []struct {
		name string
		args amqp.Table
	}{
		{r.Config.PushQueue, amqp.Table{
			"x-dead-letter-exchange":    r.Config.Exchange,
			"x-dead-letter-routing-key": r.Config.FailedQueue,
		}},
		{r.Config.RetryQueue, amqp.Table{
			"x-dead-letter-exchange":    r.Config.Exchange,
			"x-dead-letter-routing-key": r.Config.PushQueue,
		}},
		{r.Config.FailedQueue, nil},
	}
	for _, q := range queues {
		if _, err := r.Channel.QueueDeclare(
			q.name,
			true,
			false,
			false,
			false,
			q.args,
		); err != nil {
			return fmt.Errorf("error declaring queue %s: %w", q.name, err)
		}
		if err := r.Channel.QueueBind(
			q.name,
			q.name,
			r.Config.Exchange,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.name, err)
		}
	}
	return nil
}

// CorrelationID picks the message correlation id: the idempotency key when
// the payload carries one, otherwise a fresh uuid.
func CorrelationID(idempotencyKey string) string {
	if idempotencyKey != "" {
		return idempotencyKey
	}
	return uuid.New().String()
}

func (r *RabbitMqClient) Publish(ctx context.Context, routingKey string, message interface{}, correlationID string) error {
	return r.publish(ctx, routingKey, message, correlationID, "")
}

// PublishWithDelay publishes with a per-message TTL so the retry queue's
// dead-letter routing redelivers it after the delay.
func (r *RabbitMqClient) PublishWithDelay(ctx context.Context, routingKey string, message interface{}, correlationID string, delay time.Duration) error {
	return r.publish(ctx, routingKey, message, correlationID, expirationMillis(delay))
}

func (r *RabbitMqClient) publish(ctx context.Context, routingKey string, message interface{}, correlationID, expiration string) error {
	by, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	err = r.Channel.PublishWithContext(
		ctx,
		r.Config.Exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          by,
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now(),
			CorrelationId: correlationID,
			Expiration:    expiration,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func expirationMillis(delay time.Duration) string {
	ms := delay.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms, 10)
}

// DeliveryHandler processes one delivery and is responsible for ack/nack.
type DeliveryHandler func(ctx context.Context, d amqp.Delivery)

// Consume drains the named queue with manual acknowledgment until the context
// is cancelled or the channel closes.
func (r *RabbitMqClient) Consume(ctx context.Context, queueName string, handler DeliveryHandler) error {
	deliveries, err := r.Channel.Consume(
		queueName,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", queueName, err)
	}
	r.logger.Info("consuming queue", zap.String("queue", queueName))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queueName)
			}
			handler(ctx, d)
		}
	}
}
