// Package lane runs alert tasks one at a time, in arrival order.
//
// The single worker guarantees strict FIFO execution. A per-task watchdog
// bounds how long one task can hold the lane: when it fires the lane logs,
// abandons the task (its context is cancelled) and advances. Tasks can also
// declare a minimum visible duration; the lane waits out the remainder
// before starting the next task so rapid alerts stay readable.
package lane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"overlayd/internal/eventbus"
	rtsup "overlayd/internal/runtime/supervisor"
	logx "overlayd/pkg/logx"
)

var (
	ErrQueueFull  = errors.New("lane queue full")
	ErrNotRunning = errors.New("lane not running")
)

// Task is one unit of serialized work.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error

	// Timeout overrides the lane watchdog for this task (0 = lane default).
	Timeout time.Duration
	// MinDuration keeps the lane occupied at least this long (0 = lane default).
	MinDuration time.Duration
}

type Config struct {
	QueueSize   int           // default 256
	Watchdog    time.Duration // default 90s
	MinDuration time.Duration // default 0
	HistorySize int           // default 100
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Watchdog <= 0 {
		c.Watchdog = 90 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// Status of a completed lane slot.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Result is one history entry.
type Result struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Err       string        `json:"err,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

type Lane struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	queue   chan Task
	sup     *rtsup.Supervisor
	running bool

	histMu  sync.Mutex
	history []Result
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Lane {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lane{cfg: cfg.withDefaults(), log: log, bus: bus}
}

func (l *Lane) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	l.queue = make(chan Task, l.cfg.QueueSize)
	l.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(l.log.With(logx.String("comp", "lane"))),
		rtsup.WithCancelOnError(false),
	)
	l.running = true

	queue := l.queue
	l.sup.Go0("lane.worker", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case t := <-queue:
				l.runOne(c, t)
			}
		}
	})
	return nil
}

func (l *Lane) Stop(ctx context.Context) error {
	l.mu.Lock()
	sup := l.sup
	l.sup = nil
	wasRunning := l.running
	l.running = false
	l.mu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
	}
	return nil
}

// Apply updates the watchdog/pacing knobs at runtime. Queue size changes
// take effect on the next Start.
func (l *Lane) Apply(cfg Config) {
	l.mu.Lock()
	l.cfg = cfg.withDefaults()
	l.mu.Unlock()
}

// Enqueue adds a task without blocking. A full queue rejects the task so a
// stuck downstream never backs up into normalization.
func (l *Lane) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("lane: task has no run func")
	}
	l.mu.Lock()
	running := l.running
	queue := l.queue
	l.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	select {
	case queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports the queued task count.
func (l *Lane) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queue == nil {
		return 0
	}
	return len(l.queue)
}

// History returns the most recent results, newest last.
func (l *Lane) History() []Result {
	l.histMu.Lock()
	defer l.histMu.Unlock()
	out := make([]Result, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Lane) runOne(ctx context.Context, t Task) {
	l.mu.Lock()
	cfg := l.cfg
	l.mu.Unlock()

	watchdog := t.Timeout
	if watchdog <= 0 {
		watchdog = cfg.Watchdog
	}
	minDur := t.MinDuration
	if minDur <= 0 {
		minDur = cfg.MinDuration
	}

	start := time.Now()
	l.publish(eventbus.TypeLaneTaskStarted, t, Result{ID: t.ID, Name: t.Name, StartedAt: start})

	tctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- t.Run(tctx)
	}()

	timer := time.NewTimer(watchdog)
	var res Result
	select {
	case err := <-done:
		timer.Stop()
		res = Result{ID: t.ID, Name: t.Name, Status: StatusOK, StartedAt: start, Duration: time.Since(start)}
		if err != nil {
			res.Status = StatusFailed
			res.Err = err.Error()
			l.log.Warn("lane task failed", logx.String("task", t.Name), logx.Err(err))
		}
	case <-timer.C:
		// Abandon the slot; the task goroutine sees tctx cancelled.
		res = Result{ID: t.ID, Name: t.Name, Status: StatusTimeout, StartedAt: start, Duration: time.Since(start)}
		res.Err = "watchdog fired"
		l.log.Warn("lane task stalled; advancing",
			logx.String("task", t.Name), logx.Duration("watchdog", watchdog))
	case <-ctx.Done():
		cancel()
		return
	}
	cancel()

	// Pace the lane: keep the slot occupied until the minimum visible
	// duration has passed.
	if rest := minDur - time.Since(start); rest > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(rest):
		}
	}

	l.record(res, cfg.HistorySize)
	switch res.Status {
	case StatusOK:
		l.publish(eventbus.TypeLaneTaskFinished, t, res)
	case StatusTimeout:
		l.publish(eventbus.TypeLaneTaskTimeout, t, res)
	default:
		l.publish(eventbus.TypeLaneTaskFailed, t, res)
	}
}

func (l *Lane) record(res Result, max int) {
	l.histMu.Lock()
	l.history = append(l.history, res)
	if over := len(l.history) - max; over > 0 {
		l.history = append([]Result(nil), l.history[over:]...)
	}
	l.histMu.Unlock()
}

func (l *Lane) publish(typ string, t Task, res Result) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: res})
}
