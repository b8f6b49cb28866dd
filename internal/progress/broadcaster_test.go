package progress

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleedingxiko/ghoststream/internal/ffmpeg"
)

func newTestBroadcaster() *Broadcaster {
	return NewBroadcaster(slog.Default())
}

func TestSubscribeAndPublish(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub.ID)

	b.PublishProgress("job-1", ffmpeg.Progress{Percent: 42, Frame: 10})
	b.PublishStatus("job-1", "processing")

	event := <-sub.Events
	assert.Equal(t, KindProgress, event.Kind)
	assert.Equal(t, "job-1", event.JobID)
	payload := event.Data.(ProgressPayload)
	assert.Equal(t, 42.0, payload.Percent)

	event = <-sub.Events
	assert.Equal(t, KindStatus, event.Kind)
	assert.Equal(t, StatusPayload{Status: "processing"}, event.Data)
}

func TestJobFilter(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe("job-2")
	defer b.Unsubscribe(sub.ID)

	b.PublishProgress("job-1", ffmpeg.Progress{Percent: 10})
	b.PublishProgress("job-2", ffmpeg.Progress{Percent: 20})

	event := <-sub.Events
	assert.Equal(t, "job-2", event.JobID)
	assert.Empty(t, sub.Events)
}

func TestSlowSubscriber_DropsProgressNotStatus(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub.ID)

	// Saturate the buffer without consuming.
	for i := 0; i < subscriberBuffer+50; i++ {
		b.PublishProgress("job-1", ffmpeg.Progress{Frame: int64(i)})
	}
	assert.Len(t, sub.Events, subscriberBuffer)

	// A status transition still lands, displacing a queued sample.
	b.PublishStatus("job-1", "ready")

	found := false
	for len(sub.Events) > 0 {
		event := <-sub.Events
		if event.Kind == KindStatus {
			found = true
		}
	}
	assert.True(t, found, "status transitions are never lost")
}

func TestSaturatedSubscriber_DoesNotAffectOthers(t *testing.T) {
	b := newTestBroadcaster()
	slow := b.Subscribe("")
	healthy := b.Subscribe("")
	defer b.Unsubscribe(slow.ID)
	defer b.Unsubscribe(healthy.ID)

	for i := 0; i < subscriberBuffer+10; i++ {
		b.PublishProgress("job-1", ffmpeg.Progress{Frame: int64(i)})
		// The healthy subscriber keeps consuming.
		select {
		case <-healthy.Events:
		default:
		}
	}

	b.PublishStatus("job-1", "ready")

	drained := 0
	for len(healthy.Events) > 0 {
		<-healthy.Events
		drained++
	}
	assert.Greater(t, drained, 0, "one saturated subscriber never starves another")
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBroadcaster()
	sub := b.Subscribe("")
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub.ID)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub.Events
	assert.False(t, open, "channel closed on unsubscribe")

	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub.ID)
}
