package plugin

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ayusman/handsign/internal/logger"
)

// queueSize is how many letters may wait for a slow plugin before new ones
// are dropped.
const queueSize = 64

// Dispatcher feeds requests to a set of plugins in order on its own
// goroutine, so a slow plugin never stalls the camera loop.
type Dispatcher struct {
	exec    *Executor
	plugins []*Plugin
	log     *slog.Logger

	queue chan Request
	done  chan struct{}
	once  sync.Once
}

// NewDispatcher starts a Dispatcher. Call Close to drain it.
func NewDispatcher(exec *Executor, plugins []*Plugin, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	d := &Dispatcher{
		exec:    exec,
		plugins: plugins,
		log:     log,
		queue:   make(chan Request, queueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Send queues req. It reports false when the queue is full.
func (d *Dispatcher) Send(req Request) bool {
	select {
	case d.queue <- req:
		return true
	default:
		d.log.Warn("plugin queue full, dropping event", "event", req.Event, "letter", req.Letter)
		return false
	}
}

// Close stops accepting requests and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for req := range d.queue {
		for _, p := range d.plugins {
			if !p.Manifest.Handles(req.Event) {
				continue
			}
			r := req
			if _, err := d.exec.Execute(context.Background(), p, &r); err != nil {
				d.log.Warn("plugin failed", "plugin", p.Manifest.Name, "error", err)
			}
		}
	}
}
