// Package feed emits synthetic widget traffic: the test/demo actions behind
// UI buttons, plus an optional scheduled demo batch. Synthetic envelopes are
// pushed into the same source channel as live traffic so they take the full
// normalization path.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	rtsup "overlayd/internal/runtime/supervisor"
	kit "overlayd/internal/transport"
	logx "overlayd/pkg/logx"
)

type Config struct {
	Enabled      bool
	DemoCron     string        // optional cron spec for scheduled demo batches
	DemoCount    int           // default 5
	DemoInterval time.Duration // default 800ms
}

func (c Config) withDefaults() Config {
	if c.DemoCount <= 0 {
		c.DemoCount = 5
	}
	if c.DemoInterval <= 0 {
		c.DemoInterval = 800 * time.Millisecond
	}
	return c
}

// Demo is a transport.Source producing synthetic envelopes on demand.
type Demo struct {
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	running bool
	sup     *rtsup.Supervisor
	cron    *cron.Cron

	out atomic.Value // stores (chan<- kit.Envelope)

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, log logx.Logger) *Demo {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Demo{
		cfg: cfg.withDefaults(),
		log: log,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *Demo) Start(ctx context.Context, out chan<- kit.Envelope) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	if spec := d.cfg.DemoCron; d.cfg.Enabled && spec != "" {
		c := cron.New()
		if _, err := c.AddFunc(spec, func() { d.DemoMessages(0, 0) }); err != nil {
			return fmt.Errorf("feed: bad demo cron %q: %w", spec, err)
		}
		c.Start()
		d.cron = c
	}

	d.running = true
	d.out.Store(out)
	d.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(d.log.With(logx.String("comp", "feed"))),
		rtsup.WithCancelOnError(false),
	)
	return nil
}

func (d *Demo) Stop(ctx context.Context) error {
	d.mu.Lock()
	sup := d.sup
	d.sup = nil
	cr := d.cron
	d.cron = nil
	wasRunning := d.running
	d.running = false
	var nilOut chan<- kit.Envelope
	d.out.Store(nilOut)
	d.mu.Unlock()

	if !wasRunning {
		return nil
	}
	if cr != nil {
		cr.Stop()
	}
	if sup != nil {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
	}
	return nil
}

func (d *Demo) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg.withDefaults()
	d.mu.Unlock()
}

func (d *Demo) push(env kit.Envelope) {
	v := d.out.Load()
	out, _ := v.(chan<- kit.Envelope)
	if out == nil {
		return
	}
	select {
	case out <- env:
	default:
		d.log.Debug("demo envelope dropped (channel full)")
	}
}

// HandleButton maps a UI control press onto a feed action. Unknown fields
// are ignored.
func (d *Demo) HandleButton(field, value string) {
	switch field {
	case "testMessage":
		d.TestMessage("twitch", "")
	case "testYoutubeMessage":
		d.TestMessage("youtube", "")
	case "testBroadcaster":
		d.TestMessage("twitch", "broadcaster")
	case "testModerator":
		d.TestMessage("twitch", "moderator")
	case "testVip":
		d.TestMessage("twitch", "vip")
	case "testSubscriber":
		d.TestMessage("twitch", "subscriber")
	case "demoMessages":
		d.DemoMessages(0, 0)
	default:
		d.log.Debug("unmapped control", logx.String("field", field), logx.String("value", value))
	}
}

var demoUsers = []string{"pixelpeer", "nightvod", "chattermax", "lurkloaf", "emotewitch"}

var demoLines = []string{
	"let's gooo",
	"first time here, loving the stream",
	"that was close!",
	"gg",
	"what overlay is this?",
}

// TestMessage emits one synthetic chat message for the given provider. An
// optional badge forces a Twitch role probe.
func (d *Demo) TestMessage(provider, badge string) {
	user := d.pick(demoUsers)
	text := d.pick(demoLines)

	data := map[string]any{
		"nick":        user,
		"displayName": user,
		"userId":      "demo-" + user,
		"msgId":       uuid.NewString(),
		"text":        text,
	}
	switch provider {
	case "youtube":
		data["authorDetails"] = map[string]any{
			"displayName": user,
			"channelId":   "demo-" + user,
		}
	default:
		provider = "twitch"
		if badge != "" {
			data["badges"] = []map[string]any{{"type": badge, "version": "1"}}
		}
	}

	payload, err := json.Marshal(map[string]any{
		"service": provider,
		"data":    data,
	})
	if err != nil {
		return
	}
	d.push(kit.Envelope{Listener: "message", Event: payload})
}

// DemoMessages emits a paced batch of synthetic chat messages. Zero count or
// interval fall back to the configured defaults.
func (d *Demo) DemoMessages(count int, interval time.Duration) {
	d.mu.Lock()
	cfg := d.cfg
	sup := d.sup
	running := d.running
	d.mu.Unlock()
	if !running || sup == nil {
		return
	}
	if count <= 0 {
		count = cfg.DemoCount
	}
	if interval <= 0 {
		interval = cfg.DemoInterval
	}

	sup.Go0("feed.demo_batch", func(ctx context.Context) {
		for i := 0; i < count; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}
			}
			d.TestMessage("twitch", "")
		}
	})
}

func (d *Demo) pick(list []string) string {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return list[d.rng.Intn(len(list))]
}
