// Package notify delivers typed alerts to operator channels without ever
// blocking the trading path.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"moonshot-engine/internal/observability"
)

// Kind classifies a notification.
type Kind string

const (
	KindEntry        Kind = "entry"
	KindTPHit        Kind = "tp_hit"
	KindStopHit      Kind = "stop_hit"
	KindExit         Kind = "exit"
	KindRejection    Kind = "rejection"
	KindDailySummary Kind = "daily_summary"
	KindError        Kind = "error"
	KindSystem       Kind = "system"
)

// Severity selects formatting and routing.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of Severity.
func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "low"
}

// Field is one labelled value in a notification body.
type Field struct {
	Name  string
	Value string
}

// Notification is one alert.
type Notification struct {
	Kind     Kind
	Severity Severity
	Title    string
	Body     string
	Fields   []Field
	At       int64 // ms
}

// Notifier delivers notifications to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Publisher accepts notifications for asynchronous delivery.
type Publisher interface {
	Publish(n Notification) bool
}

// Dispatcher fans notifications out to sinks from a bounded queue.
type Dispatcher struct {
	queue       chan Notification
	sinks       []Notifier
	sendTimeout time.Duration
	log         zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher creates a dispatcher with a queue of size entries.
func NewDispatcher(size int, log zerolog.Logger, sinks ...Notifier) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		queue:       make(chan Notification, size),
		sinks:       sinks,
		sendTimeout: 10 * time.Second,
		log:         log,
		done:        make(chan struct{}),
	}
}

var _ Publisher = (*Dispatcher)(nil)

// Publish enqueues n. It never blocks; a full queue drops the notification.
func (d *Dispatcher) Publish(n Notification) bool {
	if n.At == 0 {
		n.At = time.Now().UnixMilli()
	}
	select {
	case d.queue <- n:
		return true
	default:
		observability.RecordNotificationDropped(string(n.Kind))
		d.log.Warn().Str("kind", string(n.Kind)).Str("title", n.Title).Msg("notification queue full, dropped")
		return false
	}
}

// Run delivers queued notifications until ctx ends, then drains what is
// left with a short grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.closeOnce.Do(func() { close(d.done) })

	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		default:
			return
		}
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := s.Notify(sctx, n)
		cancel()
		if err != nil {
			d.log.Warn().Err(err).Str("sink", s.Name()).Str("kind", string(n.Kind)).Msg("notification failed")
			continue
		}
		observability.RecordNotificationSent(s.Name())
	}
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log sink.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Name implements Notifier.
func (l *LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	ev := l.log.Info()
	switch n.Severity {
	case SeverityHigh:
		ev = l.log.Warn()
	case SeverityCritical:
		ev = l.log.Error()
	}
	ev = ev.Str("kind", string(n.Kind))
	for _, f := range n.Fields {
		ev = ev.Str(f.Name, f.Value)
	}
	ev.Msg(n.Title + " " + n.Body)
	return nil
}
