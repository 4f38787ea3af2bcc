package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/connector"
)

const (
	defaultBuffer = 256
	writeTimeout  = 5 * time.Second
)

// Logger is the logging surface the Recorder writes failures to.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder is a connector.Observer that journals session events.
//
// SessionEvent never blocks: events are queued and written by a background
// goroutine. When the queue is full the event is dropped and counted.
type Recorder struct {
	repo   Repository
	logger Logger
	queue  chan Entry

	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewRecorder starts a recorder writing to repo. buffer <= 0 selects a
// default queue size. Call Close to flush and stop it.
func NewRecorder(repo Repository, logger Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	r := &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan Entry, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// SessionEvent implements connector.Observer.
func (r *Recorder) SessionEvent(e connector.Event) {
	entry := Entry{
		GatewayID:  e.SessionID,
		Kind:       string(e.Kind),
		Topic:      e.Topic,
		Bytes:      e.Bytes,
		OccurredAt: e.At,
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}

	select {
	case r.queue <- entry:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting events, writes everything still queued and waits
// for the writer to finish. SessionEvent must not be called afterwards.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.repo.Record(ctx, &entry)
		cancel()
		if err != nil && r.logger != nil {
			r.logger.Warn("journal write failed", "gateway_id", entry.GatewayID, "kind", entry.Kind, "error", err)
		}
	}
}
