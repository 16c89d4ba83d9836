package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - MaxBatchEvents: flush once this many events queue (default 256).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub aggregates events and fans them out to sinks and live subscribers. It is
// safe for concurrent use and never blocks callers.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog rateLimiter
	dropped atomic.Int64
	lost    atomic.Int64
	closed  atomic.Bool

	subMu  sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  cfg.Logger.With(zap.String("component", "progress_hub")),
		dropLog: rateLimiter{interval: dropLogInterval},
		subs:    make(map[uint64]chan Event),
	}
	go h.run()
	return h
}

// Emit enqueues an event. If the buffer is full the event is dropped and a
// rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.lost.Add(1)
		h.dropped.Add(1)
		if h.dropLog.Allow(time.Now()) {
			h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
		}
	}
}

// Dropped reports how many events were lost to backpressure since start.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.lost.Load()
}

// Subscribe registers a live listener. Events are delivered after each flush;
// a subscriber that falls behind by more than buffer events misses the excess.
// The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))
	h.subMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.subMu.Lock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
			h.subMu.Unlock()
		})
	}
}

// Close drains remaining events, flushes and closes sinks, closes subscriber
// channels, and waits for the background goroutine. Repeated calls are safe.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := batcher{max: h.cfg.MaxBatchEvents, wait: h.cfg.MaxBatchWait, flush: h.flush}
	defer b.timer().Stop()
	for {
		select {
		case evt := <-h.events:
			b.add(evt)
		case <-b.timer().C:
			b.expire()
		case <-h.stopCh:
			for {
				select {
				case evt := <-h.events:
					b.add(evt)
					continue
				default:
				}
				break
			}
			b.drain()
			h.shutdown()
			return
		}
	}
}

// batcher accumulates events and flushes on size or age.
type batcher struct {
	max   int
	wait  time.Duration
	flush func([]Event)
	buf   []Event
	t     *time.Timer
	armed bool
}

func (b *batcher) timer() *time.Timer {
	if b.t == nil {
		b.t = time.NewTimer(time.Hour)
		b.t.Stop()
	}
	return b.t
}

func (b *batcher) add(evt Event) {
	b.buf = append(b.buf, evt)
	if len(b.buf) >= b.max {
		b.drain()
		return
	}
	if !b.armed {
		b.timer().Reset(b.wait)
		b.armed = true
	}
}

func (b *batcher) expire() {
	b.armed = false
	if len(b.buf) > 0 {
		b.flush(b.buf)
		b.buf = b.buf[:0]
	}
}

func (b *batcher) drain() {
	if b.armed {
		b.timer().Stop()
		b.armed = false
	}
	if len(b.buf) > 0 {
		b.flush(b.buf)
		b.buf = b.buf[:0]
	}
}

func (h *Hub) flush(batch []Event) {
	events := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, events); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	h.subMu.RLock()
	for _, ch := range h.subs {
		for _, evt := range events {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	h.subMu.RUnlock()
}

func (h *Hub) shutdown() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
	h.subMu.Lock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.subMu.Unlock()
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
