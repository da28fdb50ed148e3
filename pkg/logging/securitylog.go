package logging

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nsqio/go-diskqueue"
	"github.com/rs/zerolog/log"

	"github.com/personahub/personahub/pkg/severity"
)

// EventType classifies security audit-trail records.
type EventType string

const (
	EventValidation      EventType = "validation"
	EventUnicode         EventType = "unicode"
	EventParseRejected   EventType = "parse-rejected"
	EventPathViolation   EventType = "path-violation"
	EventCommandRejected EventType = "command-rejected"
	EventRateLimited     EventType = "rate-limited"
	EventCredential      EventType = "credential"
	EventAuditFinding    EventType = "audit-finding"
)

// Event is one append-only audit-trail record.
type Event struct {
	Type      EventType         `json:"type"`
	Severity  severity.Severity `json:"severity"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Details   string            `json:"details"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SecurityLog is a bounded, append-only ring buffer of security events.
// Instances are constructed explicitly and passed by reference so tests
// can assert on isolated logs. Appends never block on I/O; the optional
// disk spill is asynchronous and best-effort.
type SecurityLog struct {
	mu       sync.Mutex
	events   []Event
	capacity int

	spill   diskqueue.Interface
	spillCh chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
}

const DefaultCapacity = 1000

// NewSecurityLog creates a ring buffer holding at most capacity events,
// oldest evicted first.
func NewSecurityLog(capacity int) *SecurityLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SecurityLog{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// EnableSpill persists appended events to a disk queue under dataPath.
// Persistence is best-effort: when the spill channel is full the event
// stays in the ring buffer only.
func (s *SecurityLog) EnableSpill(name, dataPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spill != nil {
		return
	}

	logf := func(lvl diskqueue.LogLevel, f string, args ...interface{}) {
		log.Debug().Str("queue", name).Msgf(f, args...)
	}
	s.spill = diskqueue.New(name, dataPath, 32*1024*1024, 32, 16*1024, 2500, 2*time.Second, logf)
	s.spillCh = make(chan []byte, 256)
	s.done = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case payload := <-s.spillCh:
				if err := s.spill.Put(payload); err != nil {
					log.Debug().Err(err).Msg("Security log spill write failed")
				}
			case <-s.done:
				return
			}
		}
	}()
}

// Close stops the spill worker, if any. The in-memory buffer stays
// readable.
func (s *SecurityLog) Close() {
	s.mu.Lock()
	spill := s.spill
	done := s.done
	s.spill = nil
	s.mu.Unlock()

	if spill == nil {
		return
	}
	close(done)
	s.wg.Wait()
	if err := spill.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed closing security log spill queue")
	}
}

// Record appends an event, evicting the oldest when full. Safe for
// concurrent writers.
func (s *SecurityLog) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	if len(s.events) >= s.capacity {
		copy(s.events, s.events[1:])
		s.events[len(s.events)-1] = event
	} else {
		s.events = append(s.events, event)
	}
	spillCh := s.spillCh
	s.mu.Unlock()

	if spillCh != nil {
		if payload, err := json.Marshal(event); err == nil {
			select {
			case spillCh <- payload:
			default:
			}
		}
	}
}

// RecentEvents returns up to n most recent events, newest last.
func (s *SecurityLog) RecentEvents(n int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	out := make([]Event, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}

// EventsBySeverity returns all buffered events at exactly the given
// severity, oldest first.
func (s *SecurityLog) EventsBySeverity(level severity.Severity) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Event{}
	for _, event := range s.events {
		if event.Severity == level {
			out = append(out, event)
		}
	}
	return out
}

// Len returns the number of buffered events.
func (s *SecurityLog) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
