// Package ws connects to the upstream widget socket and turns every frame
// into a transport.Envelope.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"overlayd/internal/eventbus"
	rtsup "overlayd/internal/runtime/supervisor"
	kit "overlayd/internal/transport"
	logx "overlayd/pkg/logx"
)

type Config struct {
	URL              string
	Origin           string
	HandshakeTimeout time.Duration // default 10s
	ReconnectMin     time.Duration // default 500ms
	ReconnectMax     time.Duration // default 30s
	PingInterval     time.Duration // default 25s
}

// Adapter is a transport.Source backed by a websocket connection.
//
// The read loop runs under a restart supervisor: a broken connection is
// redialed with jittered backoff, and frames that cannot be decoded are
// counted and dropped rather than killing the loop.
type Adapter struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	out     atomic.Value // stores (chan<- kit.Envelope)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (read loop, drop logger).
	sup *rtsup.Supervisor

	connMu sync.Mutex
	conn   *websocket.Conn

	// droppedFrames counts envelopes dropped because the consumer was slower
	// than the socket. Logged periodically to avoid per-frame log spam.
	droppedFrames uint64
	badFrames     uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("source url is empty")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bus: bus}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Envelope
	a.out.Store(nilOut)
	return a, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) send(env kit.Envelope) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Envelope)
	if out == nil {
		return
	}
	select {
	case out <- env:
	default:
		atomic.AddUint64(&a.droppedFrames, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Envelope) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "source.ws"))),
		// Source errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped/bad frames (avoid noisy per-frame logs).
	sup.Go0("frames.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedFrames, 0); n > 0 {
				a.log.Warn("incoming frames dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
			if n := atomic.SwapUint64(&a.badFrames, 0); n > 0 {
				a.log.Warn("undecodable frames skipped", logx.Uint64("count", n))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	// The read loop exits whenever the connection breaks; run it under a
	// restart loop so the adapter redials and self-heals.
	sup.GoRestart("socket.read", a.readLoop,
		rtsup.WithRestartBackoff(a.cfg.ReconnectMin, a.cfg.ReconnectMax),
		// Reconnect if the loop returns while the context is still active.
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) readLoop(ctx context.Context) error {
	hdr := http.Header{}
	if a.cfg.Origin != "" {
		hdr.Set("Origin", a.cfg.Origin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: a.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, a.cfg.URL, hdr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.cfg.URL, err)
	}
	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()
	defer func() {
		a.connMu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.connMu.Unlock()
		_ = conn.Close()
	}()

	a.log.Info("source connected", logx.String("url", a.cfg.URL))
	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeSourceConnected, Data: a.cfg.URL})
	}
	defer func() {
		if a.bus != nil {
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeSourceDisconnected, Data: a.cfg.URL})
		}
	}()

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	// Keepalive pings; the upstream closes quiet connections.
	go func() {
		ticker := time.NewTicker(a.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		var env kit.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Listener == "" {
			atomic.AddUint64(&a.badFrames, 1)
			continue
		}
		a.send(env)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Envelope
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("source stop called but not running")
		return nil
	}
	a.log.Info("stopping source", logx.Uint64("dropped_frames_pending", atomic.LoadUint64(&a.droppedFrames)))

	if sup != nil {
		sup.Cancel()
	}
	a.connMu.Lock()
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.connMu.Unlock()

	if sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
	}
	return nil
}
