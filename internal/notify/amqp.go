package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher is a Sender that publishes messages to a durable RabbitMQ
// queue for cmd/mailer to deliver. The connection is opened lazily and
// re-opened after a failure.
type AMQPPublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url string, queue string) *AMQPPublisher {
	return &AMQPPublisher{url: url, queue: queue}
}

func (p *AMQPPublisher) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal mail message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Kind),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish mail message: %w", err)
	}

	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}

func (p *AMQPPublisher) ensureChannel() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declareQueue(ch, p.queue); err != nil {
		_ = conn.Close()
		return err
	}

	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func declareQueue(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// Consumer reads mail messages from the queue and delivers them through a
// Sender. Deliveries are acked on success and rejected without requeue on
// failure.
type Consumer struct {
	url      string
	queue    string
	sender   Sender
	prefetch int
	timeout  time.Duration
}

func NewConsumer(url string, queue string, sender Sender) *Consumer {
	return &Consumer{url: url, queue: queue, sender: sender, prefetch: 20, timeout: defaultSendTimeout}
}

// Run consumes until ctx is cancelled, reconnecting with exponential backoff
// whenever the broker connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := amqp.Dial(c.url)
		if err != nil {
			slog.Warn("mail consumer: dial failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}

		slog.Warn("mail consumer: consume loop ended; reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		slog.Warn("mail consumer: set qos failed", "error", err)
	}
	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	slog.Info("mail consumer: waiting for messages", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.process(ctx, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		slog.Error("mail consumer: malformed message", "error", err)
		_ = d.Nack(false, false)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.sender.Send(sendCtx, msg); err != nil {
		slog.Error("mail consumer: delivery failed", "kind", msg.Kind, "id", msg.ID, "error", err)
		_ = d.Nack(false, false)
		return
	}

	slog.Info("mail consumer: delivered", "kind", msg.Kind, "id", msg.ID)
	_ = d.Ack(false)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
