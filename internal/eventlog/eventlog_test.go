package eventlog_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eval-hub/model-arena/internal/eventlog"
	"github.com/eval-hub/model-arena/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delta(participant string, rep int, chunk int) api.EventPayload {
	return api.NarrationDelta{
		ParticipantID:   participant,
		RepetitionIndex: rep,
		ChunkIndex:      chunk,
		ContentDelta:    fmt.Sprintf("%s-%d-%d ", participant, rep, chunk),
	}
}

func requireGapFree(t *testing.T, events []api.Event, from uint64) {
	t.Helper()
	for i, event := range events {
		require.Equal(t, from+uint64(i)+1, event.Sequence, "sequence gap at position %d", i)
	}
}

func TestAppendAssignsGapFreeSequenceNumbers(t *testing.T) {
	log := eventlog.New("run-1")

	const producers = 8
	const perProducer = 250
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				_, err := log.Append(delta(fmt.Sprintf("p%d", p), 0, i))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events := log.ReadFrom(0)
	require.Len(t, events, producers*perProducer)
	requireGapFree(t, events, 0)
	require.Equal(t, uint64(producers*perProducer), log.LastSequence())

	// per producer the order of appends is kept
	last := map[string]int{}
	for _, event := range events {
		d := event.Payload.(api.NarrationDelta)
		prev, seen := last[d.ParticipantID]
		if seen {
			require.Equal(t, prev+1, d.ChunkIndex)
		}
		last[d.ParticipantID] = d.ChunkIndex
		require.Equal(t, "run-1", event.RunID)
	}
}

func TestReadFromAndReadRange(t *testing.T) {
	log := eventlog.New("run-1")
	for i := range 5 {
		_, err := log.Append(delta("a", 0, i))
		require.NoError(t, err)
	}

	t.Run("read from a cursor", func(t *testing.T) {
		events := log.ReadFrom(2)
		require.Len(t, events, 3)
		requireGapFree(t, events, 2)
	})

	t.Run("read from the end", func(t *testing.T) {
		require.Empty(t, log.ReadFrom(5))
		require.Empty(t, log.ReadFrom(50))
	})

	t.Run("read a bounded range", func(t *testing.T) {
		events := log.ReadRange(1, 3)
		require.Len(t, events, 2)
		requireGapFree(t, events, 1)
		require.Len(t, log.ReadRange(0, 100), 5)
		require.Empty(t, log.ReadRange(3, 3))
	})
}

func TestSubscribeReceivesOnlyNewEvents(t *testing.T) {
	log := eventlog.New("run-1")
	_, err := log.Append(delta("a", 0, 0))
	require.NoError(t, err)

	sub := log.Subscribe()
	defer sub.Close()
	require.Equal(t, uint64(1), sub.StartCursor())

	_, err = log.Append(delta("a", 0, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	event, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), event.Sequence)
}

func TestCatchUpNeverDuplicatesOrDropsEvents(t *testing.T) {
	log := eventlog.New("run-1")
	const total = 2000
	for i := range 100 {
		_, err := log.Append(delta("a", 0, i))
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 100; i < total; i++ {
			_, err := log.Append(delta("a", 0, i))
			assert.NoError(t, err)
		}
		log.Close()
	}()

	const cursor = uint64(37)
	sub := log.Subscribe()
	defer sub.Close()
	received := log.ReadRange(cursor, sub.StartCursor())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		event, err := sub.Next(ctx)
		if err == eventlog.ErrEndOfLog {
			break
		}
		require.NoError(t, err)
		received = append(received, event)
	}
	<-done

	require.Len(t, received, total-int(cursor))
	requireGapFree(t, received, cursor)
	require.Equal(t, log.ReadFrom(cursor), received)
}

func TestCloseEndsSubscriptionsAndRejectsAppends(t *testing.T) {
	log := eventlog.New("run-1")
	sub := log.Subscribe()

	_, err := log.Append(api.RunCompleted{})
	require.NoError(t, err)
	log.Close()
	log.Close()
	require.True(t, log.Closed())

	_, err = log.Append(delta("a", 0, 0))
	require.ErrorIs(t, err, eventlog.ErrLogClosed)

	ctx := context.Background()
	event, err := sub.Next(ctx)
	require.NoError(t, err, "events appended before close are still delivered")
	require.Equal(t, api.EventKindRunCompleted, event.Kind())
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, eventlog.ErrEndOfLog)

	late := log.Subscribe()
	_, err = late.Next(ctx)
	require.ErrorIs(t, err, eventlog.ErrEndOfLog)
	require.Equal(t, uint64(1), late.StartCursor())
}

func TestNextHonoursContext(t *testing.T) {
	log := eventlog.New("run-1")
	sub := log.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlowSubscriberDoesNotBlockProducers(t *testing.T) {
	log := eventlog.New("run-1")
	sub := log.Subscribe()
	defer sub.Close()

	finished := make(chan struct{})
	go func() {
		for i := range 10000 {
			_, _ = log.Append(delta("a", 0, i))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked on a subscriber that never reads")
	}
	require.Equal(t, 10000, sub.Pending())
}

func TestClosedSubscriptionIsDetached(t *testing.T) {
	log := eventlog.New("run-1")
	sub := log.Subscribe()
	sub.Close()

	_, err := log.Append(delta("a", 0, 0))
	require.NoError(t, err)
	require.Zero(t, sub.Pending())
	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, eventlog.ErrEndOfLog)
}

func TestResumeAfterCloseReturnsBacklogAndEndedSubscription(t *testing.T) {
	log := eventlog.New("run-1")
	for i := range 5 {
		_, err := log.Append(delta("a", 0, i))
		require.NoError(t, err)
	}
	log.Close()

	backlog, sub := log.Resume(2)
	defer sub.Close()
	require.Len(t, backlog, 3)
	require.Equal(t, uint64(3), backlog[0].Sequence)
	_, err := sub.Next(context.Background())
	require.ErrorIs(t, err, eventlog.ErrEndOfLog)
}
