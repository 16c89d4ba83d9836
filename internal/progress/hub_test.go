package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StageJobStart))
	hub.Emit(sampleEvent(StageBatchDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)

	hub.Emit(sampleEvent(StageJobDone))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent(StageJobStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	hub.Emit(Event{Stage: StageJobStart, TS: time.Now()})
	hub.Emit(Event{JobID: "j", Stage: StageFetchDone, TS: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageJobStart))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent(StageJobDone))
}

func TestHubSubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{MaxBatchEvents: 1})
	events, cancel := hub.Subscribe(4)

	hub.Emit(sampleEvent(StageBatchDone))
	select {
	case evt := <-events:
		require.Equal(t, StageBatchDone, evt.Stage)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
	cancel()
	cancel()
	_, open := <-events
	require.False(t, open)

	other, _ := hub.Subscribe(1)
	require.NoError(t, hub.Close(context.Background()))
	_, open = <-other
	require.False(t, open, "Close ends subscriptions")
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{JobID: "0190f1a2-7b9c-7def-8abc-0123456789ab", TS: time.Now(), Stage: stage}
	if stage == StageFetchDone {
		evt.Site = "docs.example.com"
		evt.StatusClass = Status2xx
	}
	return evt
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]StatusClass{200: Status2xx, 301: Status3xx, 404: Status4xx, 503: Status5xx, 0: StatusOther}
	for code, want := range cases {
		require.Equal(t, want, ClassifyStatus(code), "code %d", code)
	}
	require.True(t, StageJobCancelled.Final())
	require.False(t, StageJobPaused.Final())
}
