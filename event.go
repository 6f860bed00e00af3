package duraq

import (
	"sync"
	"time"

	"github.com/dura-io/duraq/internal/storage"
)

// EventKind identifies the shape of an Event, matching the lifecycle
// catalogue: waiting, delayed, active, progress, completed, failed,
// stalled, drained, error.
type EventKind string

const (
	EventWaiting   EventKind = "waiting"
	EventDelayed   EventKind = "delayed"
	EventActive    EventKind = "active"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventStalled   EventKind = "stalled"
	EventDrained   EventKind = "drained"
	EventError     EventKind = "error"
)

// Event is one lifecycle notification. Job is nil only for EventDrained and
// EventError (which instead sets Err).
type Event struct {
	Kind     EventKind
	Job      *Job
	Progress int    // set for EventProgress
	Err      error  // set for EventError, and carries the processor's message for EventFailed
}

// terminalKind reports whether an event kind represents a job's final
// outcome. publish waits up to terminalSendTimeout for room to deliver
// these, where a progress tick is dropped at once; a terminal event is
// still dropped for a subscriber whose buffer stays full past that wait.
func terminalKind(kind EventKind) bool {
	switch kind {
	case EventCompleted, EventFailed, EventStalled, EventDrained:
		return true
	default:
		return false
	}
}

const (
	subscribeChanSizeDefault = 100
	terminalSendTimeout      = 2 * time.Second
)

// eventSubscription is one active Subscribe call's channel and the kinds it
// wants delivered.
type eventSubscription struct {
	ch    chan *Event
	kinds map[EventKind]struct{} // empty means "all kinds"
}

func (s *eventSubscription) listensFor(kind EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// eventBus fans events out to every active Subscribe call. Progress events
// are dropped under backpressure; terminal events (completed, failed,
// stalled, drained) get a bounded blocking send first, since losing a
// terminal notification would mean the caller's view of the queue is
// permanently wrong.
type eventBus struct {
	mu               sync.Mutex
	subscriptions    map[int]*eventSubscription
	subscriptionsSeq int
}

func newEventBus() *eventBus {
	return &eventBus{subscriptions: make(map[int]*eventSubscription)}
}

// Subscribe returns a channel of events matching kinds (all kinds if empty)
// and a cancel func that closes the channel and stops delivery. chanSize <=
// 0 selects subscribeChanSizeDefault.
func (b *eventBus) Subscribe(chanSize int, kinds ...EventKind) (<-chan *Event, func()) {
	if chanSize <= 0 {
		chanSize = subscribeChanSizeDefault
	}

	kindSet := make(map[EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		kindSet[k] = struct{}{}
	}

	ch := make(chan *Event, chanSize)

	b.mu.Lock()
	id := b.subscriptionsSeq
	b.subscriptionsSeq++
	b.subscriptions[id] = &eventSubscription{ch: ch, kinds: kindSet}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		sub, ok := b.subscriptions[id]
		if !ok {
			return
		}
		delete(b.subscriptions, id)
		close(sub.ch)
	}

	return ch, cancel
}

// publish delivers event to every subscription that wants its kind.
func (b *eventBus) publish(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscriptions) == 0 {
		return
	}

	blocking := terminalKind(event.Kind)

	for _, sub := range b.subscriptions {
		if !sub.listensFor(event.Kind) {
			continue
		}

		if !blocking {
			select {
			case sub.ch <- event:
			default:
			}
			continue
		}

		select {
		case sub.ch <- event:
		case <-time.After(terminalSendTimeout):
			// Subscriber is stuck; drop rather than block the runtime
			// indefinitely. The drop is not logged or reported: publish
			// has no logger and returns nothing.
		}
	}
}

// closeAll tears down every subscription, used at Shutdown.
func (b *eventBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscriptions {
		close(sub.ch)
		delete(b.subscriptions, id)
	}
}

func jobFromStorage(j *storage.Job) *Job {
	if j == nil {
		return nil
	}

	return &Job{
		ID:           j.ID,
		Handler:      j.Handler,
		Payload:      j.Payload,
		Status:       Status(j.Status),
		Priority:     j.Priority,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		Progress:     j.Progress,
		NextRunAt:    j.NextRunAt,
		Delay:        j.Delay,
		Timeout:      j.Timeout,
		DependsOn:    j.DependsOn,
		RepeatConfig: repeatConfigFromStorage(j.RepeatConfig),
		RepeatCount:  j.RepeatCount,
		Result:       j.Result,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func repeatConfigFromStorage(rc *storage.RepeatConfig) *RepeatConfig {
	if rc == nil {
		return nil
	}
	return &RepeatConfig{
		Every:     rc.Every,
		Pattern:   rc.Pattern,
		Limit:     rc.Limit,
		StartDate: rc.StartDate,
		EndDate:   rc.EndDate,
	}
}

func jobToStorage(j *Job) *storage.Job {
	if j == nil {
		return nil
	}

	return &storage.Job{
		ID:           j.ID,
		Handler:      j.Handler,
		Payload:      j.Payload,
		Status:       string(j.Status),
		Priority:     j.Priority,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		Progress:     j.Progress,
		NextRunAt:    j.NextRunAt,
		Delay:        j.Delay,
		Timeout:      j.Timeout,
		DependsOn:    j.DependsOn,
		RepeatConfig: repeatConfigToStorage(j.RepeatConfig),
		RepeatCount:  j.RepeatCount,
		Result:       j.Result,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func repeatConfigToStorage(rc *RepeatConfig) *storage.RepeatConfig {
	if rc == nil {
		return nil
	}
	return &storage.RepeatConfig{
		Every:     rc.Every,
		Pattern:   rc.Pattern,
		Limit:     rc.Limit,
		StartDate: rc.StartDate,
		EndDate:   rc.EndDate,
	}
}
