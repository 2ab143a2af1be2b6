package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/includelabs/sign-core/internal/config"
	"github.com/includelabs/sign-core/internal/session"
)

// ErrSinkUnavailable reports a delivery failure local to one sink. Other
// sinks still receive the phrase; nothing is rolled back or retried.
var ErrSinkUnavailable = errors.New("sink unavailable")

// Sink receives committed phrases. Implementations must be safe for calls
// from the dispatch worker goroutine.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, commit session.Commit) error
}

// Dispatcher fans committed phrases out to the configured sinks. It is
// decoupled from the ingest path by a bounded queue so a slow or failed sink
// never backpressures gesture recognition.
type Dispatcher struct {
	cfg    config.SinksConfig
	sinks  []Sink
	queue  chan session.Commit
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	committed metric.Int64Counter
	failures  metric.Int64Counter
	dropped   metric.Int64Counter
}

func NewDispatcher(parent context.Context, cfg config.SinksConfig, sinks []Sink, log *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(parent)
	d := &Dispatcher{
		cfg:    cfg,
		sinks:  sinks,
		queue:  make(chan session.Commit, cfg.QueueCapacity),
		logger: log.With(slog.String("component", "dispatcher")),
		ctx:    ctx,
		cancel: cancel,
	}
	d.initMetrics()
	return d
}

func (d *Dispatcher) initMetrics() {
	meter := otel.Meter("github.com/includelabs/sign-core/dispatch")
	var err error
	if d.committed, err = meter.Int64Counter("sign.phrases.dispatched",
		metric.WithDescription("Committed phrases handed to sinks")); err != nil {
		d.logger.Warn("failed to initialize dispatch metrics", slogError(err))
	}
	if d.failures, err = meter.Int64Counter("sign.sink.failures",
		metric.WithDescription("Per-sink delivery failures")); err != nil {
		d.logger.Warn("failed to initialize dispatch metrics", slogError(err))
	}
	if d.dropped, err = meter.Int64Counter("sign.phrases.dropped",
		metric.WithDescription("Phrases dropped from a full dispatch queue")); err != nil {
		d.logger.Warn("failed to initialize dispatch metrics", slogError(err))
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// Dispatch hands a commit to the fan-out worker. With drop_oldest enabled a
// full queue sheds its oldest phrase; otherwise the producer blocks, which
// is only acceptable for callers off the frame intake path.
func (d *Dispatcher) Dispatch(commit session.Commit) {
	if len(commit.Labels) == 0 {
		return
	}
	if !d.cfg.DropOldest {
		select {
		case d.queue <- commit:
		case <-d.ctx.Done():
		}
		return
	}
	for {
		select {
		case d.queue <- commit:
			return
		case <-d.ctx.Done():
			return
		default:
		}
		select {
		case stale := <-d.queue:
			d.logger.Warn("dispatch queue full, dropping oldest phrase",
				slog.String("session_id", stale.SessionID))
			if d.dropped != nil {
				d.dropped.Add(context.Background(), 1)
			}
		default:
		}
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case commit := <-d.queue:
			d.fanOut(commit)
		}
	}
}

// fanOut delivers one commit to every sink. Sink calls are isolated: a
// failure is logged and counted, and the remaining sinks still get the
// phrase.
func (d *Dispatcher) fanOut(commit session.Commit) {
	if d.committed != nil {
		d.committed.Add(context.Background(), 1)
	}
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(d.ctx, time.Duration(d.cfg.DeliverMS)*time.Millisecond)
		err := sink.Deliver(ctx, commit)
		cancel()
		if err != nil {
			d.logger.Warn("sink delivery failed",
				slog.String("sink", sink.Name()),
				slog.String("session_id", commit.SessionID),
				slogError(err))
			if d.failures != nil {
				d.failures.Add(context.Background(), 1,
					metric.WithAttributes(attribute.String("sink", sink.Name())))
			}
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
