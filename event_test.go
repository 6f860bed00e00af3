package duraq

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dura-io/duraq/internal/storage"
)

func Test_TerminalKind(t *testing.T) {
	t.Parallel()

	for _, kind := range []EventKind{EventCompleted, EventFailed, EventStalled, EventDrained} {
		require.True(t, terminalKind(kind))
	}
	for _, kind := range []EventKind{EventWaiting, EventDelayed, EventActive, EventProgress, EventError} {
		require.False(t, terminalKind(kind))
	}
}

func Test_EventBus_SubscribeFiltersKind(t *testing.T) {
	t.Parallel()

	bus := newEventBus()

	completedOnly, cancel := bus.Subscribe(0, EventCompleted)
	defer cancel()

	bus.publish(&Event{Kind: EventActive})
	bus.publish(&Event{Kind: EventCompleted})

	select {
	case event := <-completedOnly:
		require.Equal(t, EventCompleted, event.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a completed event")
	}

	select {
	case event := <-completedOnly:
		t.Fatalf("unexpected second event: %+v", event)
	default:
	}
}

func Test_EventBus_SubscribeAllKinds(t *testing.T) {
	t.Parallel()

	bus := newEventBus()

	all, cancel := bus.Subscribe(0)
	defer cancel()

	bus.publish(&Event{Kind: EventWaiting})
	bus.publish(&Event{Kind: EventFailed, Err: errors.New("boom")})

	first := <-all
	require.Equal(t, EventWaiting, first.Kind)

	second := <-all
	require.Equal(t, EventFailed, second.Kind)
	require.EqualError(t, second.Err, "boom")
}

func Test_EventBus_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	bus := newEventBus()
	ch, cancel := bus.Subscribe(0)
	cancel()

	_, ok := <-ch
	require.False(t, ok)
}

func Test_EventBus_PublishDropsUnderBackpressure(t *testing.T) {
	t.Parallel()

	bus := newEventBus()
	_, cancel := bus.Subscribe(1, EventProgress)
	defer cancel()

	// Fill the single-slot buffer, then publish again without ever
	// draining: a non-terminal kind must drop rather than block.
	bus.publish(&Event{Kind: EventProgress, Progress: 1})

	done := make(chan struct{})
	go func() {
		bus.publish(&Event{Kind: EventProgress, Progress: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a non-terminal event")
	}
}

func Test_JobFromStorage_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	storageJob := &storage.Job{
		ID:      "job1",
		Handler: "handler",
		Payload: []byte("payload"),
		Status:  storage.StatusCompleted,
		RepeatConfig: &storage.RepeatConfig{
			Every: time.Minute,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	job := jobFromStorage(storageJob)
	require.Equal(t, "job1", job.ID)
	require.Equal(t, StatusCompleted, job.Status)
	require.Equal(t, time.Minute, job.RepeatConfig.Every)

	back := jobToStorage(job)
	require.Equal(t, storageJob.ID, back.ID)
	require.Equal(t, string(StatusCompleted), back.Status)
	require.Equal(t, storageJob.RepeatConfig.Every, back.RepeatConfig.Every)

	require.Nil(t, jobFromStorage(nil))
	require.Nil(t, jobToStorage(nil))
}
