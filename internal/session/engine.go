package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"engagement/internal/metrics"
	"engagement/internal/roster"
)

var ErrSessionStopped = errors.New("session already stopped")

// Options configure the timing and sampling of an engine.
type Options struct {
	ClockInterval    time.Duration
	SampleInterval   time.Duration
	AlertWindow      time.Duration
	InitialAttention int
	Sampler          AttentionSampler
	Logger           *zap.Logger
	Now              func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ClockInterval <= 0 {
		o.ClockInterval = time.Second
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = 3 * time.Second
	}
	if o.AlertWindow <= 0 {
		o.AlertWindow = 3 * time.Second
	}
	if o.InitialAttention == 0 {
		o.InitialAttention = 85
	}
	if o.Sampler == nil {
		o.Sampler = NewRandomWalkSampler(0)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type stopResult struct {
	record Record
	err    error
}

type roundResult struct {
	round   Round
	reading Reading
	err     error
}

// Engine runs one tracking session. A single goroutine owns the tracker, both
// tickers and every alert expiry timer; everything else talks to it through channels.
type Engine struct {
	id   string
	opts Options
	log  *zap.Logger

	tracker *Tracker
	calls   chan func()
	stops   chan chan stopResult
	done    chan struct{}

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

// Start begins a session over the given roster. The engine runs until Stop or
// until ctx is cancelled; cancellation tears down every timer without finalizing.
func Start(ctx context.Context, students []roster.Student, teacherName, teacherID string, opts Options) *Engine {
	opts = opts.withDefaults()
	id := uuid.Must(uuid.NewV7()).String()
	e := &Engine{
		id:      id,
		opts:    opts,
		log:     opts.Logger.With(zap.String("session_id", id)),
		tracker: NewTracker(id, teacherName, teacherID, students, opts.InitialAttention, opts.Now()),
		calls:   make(chan func()),
		stops:   make(chan chan stopResult),
		done:    make(chan struct{}),
		subs:    make(map[int]chan Event),
	}
	metrics.SessionsStarted.Inc()
	metrics.ClassAttention.Set(float64(opts.InitialAttention))
	e.log.Info("session started",
		zap.String("teacher_id", teacherID),
		zap.Int("students", len(students)))

	go e.run(ctx)
	return e
}

func (e *Engine) ID() string { return e.id }

// Done is closed once the engine loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Snapshot returns the current state of an active session.
func (e *Engine) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case e.calls <- func() { reply <- e.tracker.Snapshot() }:
		return <-reply, nil
	case <-e.done:
		return Snapshot{}, ErrSessionStopped
	}
}

// Stop halts every timer and returns the finalized record. Later calls return ErrSessionStopped.
func (e *Engine) Stop() (Record, error) {
	reply := make(chan stopResult, 1)
	select {
	case e.stops <- reply:
		res := <-reply
		return res.record, res.err
	case <-e.done:
		return Record{}, ErrSessionStopped
	}
}

// Subscribe returns a channel of engine events. Slow readers miss events instead
// of blocking the session. The channel is closed when the session ends.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	key := e.nextSub
	e.nextSub++
	e.subs[key] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subsMu.Lock()
			defer e.subsMu.Unlock()
			if sub, ok := e.subs[key]; ok {
				delete(e.subs, key)
				close(sub)
			}
		})
	}
}

func (e *Engine) run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	clock := time.NewTicker(e.opts.ClockInterval)
	sampling := time.NewTicker(e.opts.SampleInterval)
	expiry := make(map[string]*time.Timer)
	expired := make(chan string)
	rounds := make(chan roundResult, 1)
	inFlight := false

	defer func() {
		clock.Stop()
		sampling.Stop()
		for _, t := range expiry {
			t.Stop()
		}
		cancel()
		close(e.done)
	}()

	for {
		select {
		case <-clock.C:
			e.tracker.Tick()
			e.publish(EventTick, nil)

		case <-sampling.C:
			if inFlight {
				e.log.Debug("previous sampling round still running, skipping")
				continue
			}
			inFlight = true
			round := e.tracker.Round()
			go func() {
				reading, err := e.opts.Sampler.NextReading(loopCtx, round)
				select {
				case rounds <- roundResult{round: round, reading: reading, err: err}:
				case <-loopCtx.Done():
				}
			}()

		case res := <-rounds:
			inFlight = false
			if res.err != nil {
				metrics.SamplingSkipped.Inc()
				e.log.Warn("sampling round skipped", zap.Error(res.err))
				continue
			}
			now := e.opts.Now()
			alerts := e.tracker.Apply(res.round.Elapsed, res.reading, now)
			metrics.SamplingRounds.Inc()
			metrics.ClassAttention.Set(float64(e.tracker.Overall()))
			e.publish(EventSample, nil)
			for i := range alerts {
				a := alerts[i]
				metrics.Alerts.WithLabelValues(string(a.Type)).Inc()
				expiry[a.ID] = time.AfterFunc(e.opts.AlertWindow, func() {
					select {
					case expired <- a.ID:
					case <-loopCtx.Done():
					}
				})
				e.publish(EventAlert, &a)
			}

		case id := <-expired:
			delete(expiry, id)
			if e.tracker.ExpireAlert(id) {
				e.publish(EventAlertExpired, nil)
			}

		case fn := <-e.calls:
			fn()

		case reply := <-e.stops:
			rec, err := e.tracker.Finalize(e.opts.Now())
			reply <- stopResult{record: rec, err: err}
			if err == nil {
				metrics.SessionsFinished.Inc()
				e.log.Info("session stopped",
					zap.Int("duration", *rec.Duration),
					zap.Int("rounds", len(rec.AttentionData)),
					zap.Int("alerts", len(rec.Alerts)))
			}
			e.publish(EventStopped, nil)
			e.closeSubscribers()
			return

		case <-ctx.Done():
			e.log.Warn("session torn down before stop", zap.Error(ctx.Err()))
			e.publish(EventAborted, nil)
			e.closeSubscribers()
			return
		}
	}
}

func (e *Engine) publish(kind EventKind, alert *Alert) {
	evt := Event{Kind: kind, Alert: alert, Snapshot: e.tracker.Snapshot()}

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.closed = true
	for key, ch := range e.subs {
		delete(e.subs, key)
		close(ch)
	}
}
