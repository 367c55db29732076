package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aloksahay/warhead/internal/logging"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const DefaultBufferSize = 64

var (
	// ErrSlowConsumer is reported by a subscription the bus dropped because
	// its buffer was full.
	ErrSlowConsumer = errors.New("subscriber too slow, dropped")

	// ErrBusClosed is returned by Subscribe after Close, and reported by
	// subscriptions that were open when the bus closed.
	ErrBusClosed = errors.New("event bus closed")
)

// Option configures a Bus.
type Option func(*Bus)

// BufferSize sets the per-subscription channel capacity.
func BufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithMeter replaces the global OTel meter.
func WithMeter(m metric.Meter) Option {
	return func(b *Bus) {
		b.meter = m
	}
}

// WithClock overrides the publish timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// Bus fans out committed changes to filtered subscriptions. Publish never
// blocks on a consumer: a subscription whose buffer is full is dropped and
// its channel closed.
type Bus struct {
	logger     logging.Logger
	bufferSize int
	now        func() time.Time

	// OTEL metrics
	meter        metric.Meter
	published    metric.Int64Counter
	delivered    metric.Int64Counter
	dropped      metric.Int64Counter
	subscribers  metric.Int64ObservableGauge
	registration metric.Registration

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	seq    uint64
	closed bool
}

// New creates a Bus. Uses the global OTel meter for metrics (no-op if not
// configured).
func New(logger logging.Logger, opts ...Option) (*Bus, error) {
	b := &Bus{
		logger:     logger,
		bufferSize: DefaultBufferSize,
		now:        time.Now,
		subs:       make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.meter == nil {
		b.meter = meter()
	}
	m := b.meter

	var err error

	b.subscribers, err = m.Int64ObservableGauge(
		"events.subscribers",
		metric.WithDescription("Current number of open subscriptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating subscribers gauge: %w", err)
	}

	b.registration, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(b.subscribers, int64(b.Subscribers()))
			return nil
		},
		b.subscribers,
	)
	if err != nil {
		return nil, fmt.Errorf("registering subscribers callback: %w", err)
	}

	b.published, err = m.Int64Counter(
		"events.published",
		metric.WithDescription("Total events published"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}

	b.delivered, err = m.Int64Counter(
		"events.delivered",
		metric.WithDescription("Total events handed to subscribers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delivered counter: %w", err)
	}

	b.dropped, err = m.Int64Counter(
		"events.subscribers.dropped",
		metric.WithDescription("Total subscriptions dropped for falling behind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return b, nil
}

// Subscribe opens a subscription receiving every later event that matches f.
func (b *Bus) Subscribe(f Filter) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		filter: f,
		ch:     make(chan Event, b.bufferSize),
		bus:    b,
	}
	b.subs[s.id] = s
	return s, nil
}

// Publish assigns the event its ID and sequence number and delivers it to
// every matching subscription. Publishes are serialized, so all subscribers
// observe events in the same order.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.seq++
	e.Seq = b.seq
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.PublishedAt.IsZero() {
		e.PublishedAt = b.now().UTC()
	}

	kindAttr := metric.WithAttributes(attribute.String("kind", e.Kind.String()))
	b.published.Add(context.Background(), 1, kindAttr)

	for id, s := range b.subs {
		if !s.filter.Match(e) {
			continue
		}
		select {
		case s.ch <- e:
			b.delivered.Add(context.Background(), 1, kindAttr)
		default:
			delete(b.subs, id)
			s.terminate(ErrSlowConsumer)
			b.dropped.Add(context.Background(), 1, kindAttr)
			b.logger.Warn("dropping slow subscriber",
				"subscription", id,
				"recipient", s.filter.RecipientID,
				"seq", e.Seq)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close terminates every subscription and stops reporting the subscriber
// gauge. Later publishes are ignored and later subscribes fail with
// ErrBusClosed.
func (b *Bus) Close() {
	if !b.shutdown() {
		return
	}
	// the gauge callback takes mu, so unregister outside it
	if err := b.registration.Unregister(); err != nil {
		b.logger.Warn("unregistering subscribers callback failed", "error", err)
	}
}

func (b *Bus) shutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.terminate(ErrBusClosed)
	}
	b.logger.Info("event bus closed", "last_seq", b.seq)
	return true
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	s.terminate(nil)
}

// Subscription is a live filtered view of the bus. Its channel is closed
// when the consumer calls Close, when it is dropped for falling behind, or
// when the bus closes.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan Event
	bus    *Bus

	// guarded by bus.mu
	done bool
	err  error
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Filter returns the filter the subscription was opened with.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Err reports why the subscription ended: ErrSlowConsumer, ErrBusClosed, or
// nil while open or after the consumer closed it.
func (s *Subscription) Err() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.err
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// terminate must be called with bus.mu held.
func (s *Subscription) terminate(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.ch)
}
