package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-auth-service/internal/metrics"
)

const defaultSendTimeout = 30 * time.Second

type DispatcherOptions struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher is a Notifier backed by a bounded queue and a fixed pool of
// workers. A full queue drops the message.
type Dispatcher struct {
	sender  Sender
	metrics *metrics.Metrics
	timeout time.Duration
	workers int

	mu     sync.RWMutex
	closed bool
	jobs   chan Message
	wg     sync.WaitGroup
	once   sync.Once
}

func NewDispatcher(sender Sender, opts DispatcherOptions, m *metrics.Metrics) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}

	return &Dispatcher{
		sender:  sender,
		metrics: m,
		timeout: opts.SendTimeout,
		workers: opts.Workers,
		jobs:    make(chan Message, opts.QueueSize),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		for i := range d.workers {
			d.wg.Add(1)
			go d.work(i)
		}
		slog.Info("mail dispatcher started", "workers", d.workers, "queue_size", cap(d.jobs))
	})
}

func (d *Dispatcher) SendRegistrationConfirmation(_ context.Context, email string, fullName string) {
	d.Enqueue(Message{Kind: KindRegistration, To: email, Name: fullName})
}

func (d *Dispatcher) SendPasswordReset(_ context.Context, email string, link string) {
	d.Enqueue(Message{Kind: KindPasswordReset, To: email, Link: link})
}

// Enqueue hands msg to the workers and reports whether it was accepted.
func (d *Dispatcher) Enqueue(msg Message) bool {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		slog.Warn("mail dispatcher closed; message dropped", "kind", msg.Kind, "id", msg.ID)
		d.metrics.ObserveMail(string(msg.Kind), metrics.OutcomeDropped)
		return false
	}

	select {
	case d.jobs <- msg:
		return true
	default:
		slog.Warn("mail queue full; message dropped", "kind", msg.Kind, "id", msg.ID)
		d.metrics.ObserveMail(string(msg.Kind), metrics.OutcomeDropped)
		return false
	}
}

// Close stops accepting messages and waits for queued ones to drain, or for
// ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()

	for msg := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sender.Send(ctx, msg)
		cancel()

		if err != nil {
			slog.Error("mail delivery failed", "worker", id, "kind", msg.Kind, "id", msg.ID, "error", err)
			d.metrics.ObserveMail(string(msg.Kind), metrics.OutcomeFailure)
			continue
		}

		slog.Debug("mail delivered", "worker", id, "kind", msg.Kind, "id", msg.ID)
		d.metrics.ObserveMail(string(msg.Kind), metrics.OutcomeSuccess)
	}
}
