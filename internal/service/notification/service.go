package notification

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/sse"
)

// Config holds publisher configuration
type Config struct {
	WorkerCount int // default: 2
	QueueSize   int // default: 1000
}

// Publisher fans payroll events out to SSE subscribers from background workers.
type Publisher struct {
	hub    *sse.Hub
	config Config
	logger *slog.Logger

	queue    chan payroll.Event
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPublisher creates a publisher and starts its workers
func NewPublisher(hub *sse.Hub, cfg Config) *Publisher {
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}

	p := &Publisher{
		hub:    hub,
		config: cfg,
		logger: slog.Default().With(slog.String("component", "notification")),
		queue:  make(chan payroll.Event, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Notification publisher started",
		slog.Int("workers", cfg.WorkerCount),
		slog.Int("queue_size", cfg.QueueSize),
	)
	return p
}

func (p *Publisher) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case event := <-p.queue:
			p.deliver(event)
		case <-p.stopCh:
			// drain what is already queued
			for {
				select {
				case event := <-p.queue:
					p.deliver(event)
				default:
					p.logger.Debug("Notification worker stopped", slog.Int("worker", id))
					return
				}
			}
		}
	}
}

// Publish queues an event. It never blocks: when the queue is full the event
// is delivered inline.
func (p *Publisher) Publish(ctx context.Context, event payroll.Event) {
	select {
	case <-p.stopCh:
		p.logger.Warn("Payroll event dropped after stop", slog.String("payroll_id", event.PayrollID))
		return
	default:
	}

	select {
	case p.queue <- event:
	default:
		p.deliver(event)
	}
}

// Topics returns every topic an event is published on.
func Topics(event payroll.Event) []string {
	topics := []string{sse.TopicAllPayroll, sse.EmployeeTopic(event.EmployeeID)}
	if event.DepartmentID != "" {
		topics = append(topics, sse.DepartmentTopic(event.DepartmentID))
	}
	return topics
}

func (p *Publisher) deliver(event payroll.Event) {
	p.hub.PublishToMany(Topics(event), sse.Event{
		Event: event.Type,
		Data:  event,
	})
}

// Stop flushes queued events and waits for the workers to exit
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	p.logger.Info("Notification publisher stopped")
}
