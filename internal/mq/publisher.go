package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher publishes aggregation events to RabbitMQ
type Publisher struct {
	mu         sync.Mutex
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher opens a channel and declares the events exchange
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopicExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

// FamilyResult is the outcome of one quantity family within a run
type FamilyResult struct {
	Family  string `json:"family"`
	Rows    int    `json:"rows"`
	Groups  int64  `json:"groups"`
	Flagged int64  `json:"flagged"`
	Error   string `json:"error,omitempty"`
}

// RunCompletedEvent is published after every aggregation run
type RunCompletedEvent struct {
	RunID      string         `json:"run_id"`
	RequestID  string         `json:"request_id,omitempty"`
	Trigger    string         `json:"trigger"`
	Period     string         `json:"period"`
	Strategy   string         `json:"strategy"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Rows       int            `json:"rows"`
	Families   []FamilyResult `json:"families"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// PublishRunCompleted publishes a run event with the configured routing key
func (p *Publisher) PublishRunCompleted(ctx context.Context, event RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Persistent,
			MessageId:     uuid.New().String(),
			CorrelationId: event.RequestID,
			Timestamp:     event.FinishedAt,
			Type:          p.routingKey,
		},
	)
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published run event",
		zap.String("routing_key", p.routingKey),
		zap.String("run_id", event.RunID),
		zap.Bool("success", event.Success),
	)

	return nil
}

// NotifyRunCompleted implements the aggregation service notifier
func (p *Publisher) NotifyRunCompleted(ctx context.Context, event RunCompletedEvent) error {
	return p.PublishRunCompleted(ctx, event)
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel.Close()
	}
	return nil
}
