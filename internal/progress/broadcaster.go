// Package progress implements the two-channel fan-out of job progress
// samples and status transitions to registered subscribers.
package progress

import (
	"log/slog"
	"sync"

	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
	"github.com/oklog/ulid/v2"
)

// Event kinds on the wire.
const (
	KindProgress = "progress"
	KindStatus   = "status_change"
)

// Event is one broadcast message. Only the job id and public payload are
// exposed, never internal job records.
type Event struct {
	Kind  string `json:"type"`
	JobID string `json:"job_id"`
	Data  any    `json:"data"`
}

// ProgressPayload is the high-rate sample payload.
type ProgressPayload struct {
	Percent float64 `json:"progress"`
	Frame   int64   `json:"frame"`
	FPS     float64 `json:"fps"`
	Time    float64 `json:"time"`
	Speed   float64 `json:"speed"`
}

// StatusPayload is the low-rate transition payload.
type StatusPayload struct {
	Status string `json:"status"`
}

// subscriberBuffer bounds each subscriber's event queue.
const subscriberBuffer = 100

// Subscriber receives both event streams. JobID filters to one job when
// non-empty.
type Subscriber struct {
	ID     string
	JobID  string
	Events chan Event
}

// Broadcaster fans events out to subscribers. Progress samples are
// droppable: a subscriber whose buffer is full loses the incoming sample.
// Status transitions displace the oldest queued event rather than being
// lost. A misbehaving subscriber only loses its own events.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]*Subscriber),
		logger: logger.With(slog.String("component", "progress_broadcaster")),
	}
}

// Subscribe registers a subscriber, optionally filtered to one job.
func (b *Broadcaster) Subscribe(jobID string) *Subscriber {
	sub := &Subscriber{
		ID:     ulid.Make().String(),
		JobID:  jobID,
		Events: make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", slog.String("subscriber_id", sub.ID))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.Events)
		b.logger.Debug("subscriber removed", slog.String("subscriber_id", id))
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// PublishProgress fans out a progress sample. A subscriber whose buffer
// is full does not receive it.
func (b *Broadcaster) PublishProgress(jobID string, p ffmpeg.Progress) {
	event := Event{
		Kind:  KindProgress,
		JobID: jobID,
		Data: ProgressPayload{
			Percent: p.Percent,
			Frame:   p.Frame,
			FPS:     p.FPS,
			Time:    p.Time,
			Speed:   p.Speed,
		},
	}
	b.publish(event, false)
}

// PublishStatus fans out a status transition. Transitions are never
// dropped: queued samples are displaced to make room.
func (b *Broadcaster) PublishStatus(jobID, status string) {
	event := Event{
		Kind:  KindStatus,
		JobID: jobID,
		Data:  StatusPayload{Status: status},
	}
	b.publish(event, true)
}

// publish delivers to every matching subscriber without blocking the
// caller. mustDeliver displaces the oldest queued event when the buffer
// is full.
func (b *Broadcaster) publish(event Event, mustDeliver bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.JobID != "" && sub.JobID != event.JobID {
			continue
		}
		select {
		case sub.Events <- event:
			continue
		default:
		}

		if !mustDeliver {
			continue // slow subscriber loses this sample
		}

		// Drop the oldest queued event to guarantee the transition lands.
		select {
		case <-sub.Events:
		default:
		}
		select {
		case sub.Events <- event:
		default:
			b.logger.Warn("status transition dropped for saturated subscriber",
				slog.String("subscriber_id", sub.ID),
				slog.String("job_id", event.JobID),
			)
		}
	}
}
