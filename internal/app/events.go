package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Jam/internal/domain"
	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventChat         EventKind = "chat"
	EventMemberJoined EventKind = "member-joined"
	EventMemberLeft   EventKind = "member-left"
)

// Event is what an external store may persist. Chat is set for EventChat only.
type Event struct {
	Kind        EventKind            `json:"kind"`
	RoomID      domain.RoomID        `json:"roomId"`
	UserID      domain.UserID        `json:"userId"`
	DisplayName string               `json:"displayName,omitempty"`
	Chat        *domain.ChatEnvelope `json:"chat,omitempty"`
	At          time.Time            `json:"at"`
}

// EventPublisher hands events off without ever blocking the caller.
type EventPublisher interface {
	Publish(Event)
}

// EventSink is the slow side: a broker, a database, a log.
type EventSink interface {
	Write(ctx context.Context, ev Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// AsyncPublisher buffers events in a bounded queue drained by one goroutine.
// A full queue drops the event.
type AsyncPublisher struct {
	sink    EventSink
	queue   chan Event
	dropped atomic.Int64
	onDrop  func()

	once sync.Once
	done chan struct{}
}

func NewAsyncPublisher(sink EventSink, size int) *AsyncPublisher {
	if size <= 0 {
		size = 1
	}
	return &AsyncPublisher{sink: sink, queue: make(chan Event, size), done: make(chan struct{})}
}

// OnDrop registers a hook called for every dropped event.
func (p *AsyncPublisher) OnDrop(fn func()) { p.onDrop = fn }

func (p *AsyncPublisher) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
		if p.onDrop != nil {
			p.onDrop()
		}
		log.Warn().Str("module", "app.events").Str("kind", string(ev.Kind)).Str("room", string(ev.RoomID)).Msg("event queue full, dropped")
	}
}

func (p *AsyncPublisher) Dropped() int64 { return p.dropped.Load() }

// Run drains the queue until ctx is done. Sink errors are logged and skipped.
func (p *AsyncPublisher) Run(ctx context.Context) {
	defer p.once.Do(func() { close(p.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			if err := p.sink.Write(ctx, ev); err != nil {
				log.Error().Err(err).Str("module", "app.events").Str("kind", string(ev.Kind)).Str("room", string(ev.RoomID)).Msg("event write failed")
			}
		}
	}
}

// Done is closed once Run has returned.
func (p *AsyncPublisher) Done() <-chan struct{} { return p.done }
