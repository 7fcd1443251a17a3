package autoreply

import (
	"context"
	"sync"

	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Handler processes one inbound text.
type Handler interface {
	Handle(ctx context.Context, conversationID uint, text string)
}

type task struct {
	conversationID uint
	text           string
}

// Dispatcher runs auto-reply tasks on a fixed pool of workers. Tasks run under the
// dispatcher's own context, so a finished webhook request does not cancel them.
type Dispatcher struct {
	handler Handler
	tasks   chan task
	workers int
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher with a queue of size tasks.
func NewDispatcher(h Handler, workers, size int, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	return &Dispatcher{handler: h, tasks: make(chan task, size), workers: workers, metrics: m}
}

// Enqueue hands a text to the workers without blocking. It returns false when the
// queue is full and the task was dropped.
func (d *Dispatcher) Enqueue(conversationID uint, text string) bool {
	select {
	case d.tasks <- task{conversationID: conversationID, text: text}:
		d.metrics.QueueDepth(len(d.tasks))
		return true
	default:
		d.metrics.QueueDropped()
		return false
	}
}

// Run starts the workers and blocks until ctx is done and in-flight tasks return.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.worker(ctx, id)
		}(i)
	}
	log.Info().Int("workers", d.workers).Int("queue", cap(d.tasks)).Msg("auto-reply dispatcher started")
	wg.Wait()
	log.Info().Msg("auto-reply dispatcher stopped")
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.metrics.QueueDepth(len(d.tasks))
			d.run(ctx, id, t)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, id int, t task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("worker", id).Uint("conversation_id", t.conversationID).
				Msg("auto-reply task panicked")
		}
	}()
	taskCtx, cancel := context.WithTimeout(ctx, config.AutoReplyTaskTimeout)
	defer cancel()
	d.handler.Handle(taskCtx, t.conversationID, t.text)
}
