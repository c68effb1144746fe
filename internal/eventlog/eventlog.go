// Package eventlog implements the append-only, ordered record of everything that
// happens during a run. Many producers append concurrently, any number of readers
// tail the log or read it from a cursor.
package eventlog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eval-hub/model-arena/internal/metrics"
	"github.com/eval-hub/model-arena/pkg/api"
)

var (
	// ErrLogClosed is returned by Append once the log has been closed.
	ErrLogClosed = errors.New("event log is closed")
	// ErrEndOfLog is returned by Subscription.Next after the log closed and every
	// event delivered to the subscription has been read.
	ErrEndOfLog = errors.New("end of event log")
)

// Log is the event log of one run. Sequence numbers start at 1 and are gap free,
// a cursor of 0 means "before the first event".
//
// A single mutex serialises appends and guards the subscriber queues, producers
// never wait on readers.
type Log struct {
	runID string
	now   func() time.Time

	mu          sync.Mutex
	events      []api.Event
	closed      bool
	subscribers map[*Subscription]struct{}
}

func New(runID string) *Log {
	return &Log{
		runID:       runID,
		now:         time.Now,
		subscribers: make(map[*Subscription]struct{}),
	}
}

func (l *Log) RunID() string {
	return l.runID
}

// Append assigns the next sequence number to the payload and wakes all live subscribers.
func (l *Log) Append(payload api.EventPayload) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrLogClosed
	}
	event := api.Event{
		RunID:     l.runID,
		Sequence:  uint64(len(l.events)) + 1,
		Timestamp: l.now().UTC(),
		Payload:   payload,
	}
	l.events = append(l.events, event)
	for sub := range l.subscribers {
		sub.queue = append(sub.queue, event)
		sub.signal()
	}
	metrics.EventsAppended.WithLabelValues(string(payload.Kind())).Inc()
	return event.Sequence, nil
}

// Subscribe starts a live subscription. Only events appended after this call are
// delivered, the caller reads older events with ReadRange up to StartCursor.
func (l *Log) Subscribe() *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub := &Subscription{
		log:   l,
		start: uint64(len(l.events)),
		wake:  make(chan struct{}, 1),
	}
	if l.closed {
		sub.ended = true
		return sub
	}
	l.subscribers[sub] = struct{}{}
	return sub
}

// Resume returns the events after cursor together with a subscription that delivers
// every later event, so the caller neither misses nor repeats an event.
func (l *Log) Resume(cursor uint64) ([]api.Event, *Subscription) {
	sub := l.Subscribe()
	return l.ReadRange(cursor, sub.StartCursor()), sub
}

// ReadFrom returns the events with a sequence number greater than cursor, up to the current end.
func (l *Log) ReadFrom(cursor uint64) []api.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slice(cursor, uint64(len(l.events)))
}

// ReadRange returns the events with after < sequence number <= upTo.
func (l *Log) ReadRange(after uint64, upTo uint64) []api.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slice(after, upTo)
}

func (l *Log) slice(after uint64, upTo uint64) []api.Event {
	end := uint64(len(l.events))
	if upTo < end {
		end = upTo
	}
	if after >= end {
		return []api.Event{}
	}
	out := make([]api.Event, end-after)
	copy(out, l.events[after:end])
	return out
}

// LastSequence returns the sequence number of the newest event, 0 when the log is empty.
func (l *Log) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.events))
}

func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close marks the log terminal. Subscribers drain what they already received and then end.
// Closing twice is a no-op.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	for sub := range l.subscribers {
		sub.ended = true
		sub.signal()
	}
	clear(l.subscribers)
}

// Subscription is a live tail of a Log. The queue is unbounded so that a slow
// reader never blocks producers.
type Subscription struct {
	log   *Log
	start uint64
	wake  chan struct{}

	// guarded by log.mu
	queue []api.Event
	ended bool
}

// StartCursor is the sequence number of the last event appended before the subscription started.
func (s *Subscription) StartCursor() uint64 {
	return s.start
}

// Next blocks until an event is available, the log ends or ctx is done.
func (s *Subscription) Next(ctx context.Context) (api.Event, error) {
	for {
		s.log.mu.Lock()
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue[0] = api.Event{}
			s.queue = s.queue[1:]
			s.log.mu.Unlock()
			return event, nil
		}
		ended := s.ended
		s.log.mu.Unlock()
		if ended {
			return api.Event{}, ErrEndOfLog
		}

		select {
		case <-ctx.Done():
			return api.Event{}, ctx.Err()
		case <-s.wake:
		}
	}
}

// Pending returns the number of delivered events that have not been read yet.
func (s *Subscription) Pending() int {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return len(s.queue)
}

// Close detaches the subscription from the log and drops any unread events.
func (s *Subscription) Close() {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()

	delete(s.log.subscribers, s)
	s.queue = nil
	s.ended = true
	s.signal()
}

// signal must be called with log.mu held.
func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
