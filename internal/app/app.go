// Package app wires the whole pipeline: config, logging, source adapters,
// the normalization engine, triggers, the alert lane, and hot reload.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"overlayd/internal/alert"
	"overlayd/internal/config"
	"overlayd/internal/engine"
	"overlayd/internal/eventbus"
	"overlayd/internal/feed"
	"overlayd/internal/lane"
	"overlayd/internal/lookup"
	"overlayd/internal/observability/debug"
	rtsup "overlayd/internal/runtime/supervisor"
	"overlayd/internal/sound"
	"overlayd/internal/storage"
	kit "overlayd/internal/transport"
	"overlayd/internal/transport/ws"
	"overlayd/internal/trigger"
	logx "overlayd/pkg/logx"
)

const envelopeBuffer = 256

type App struct {
	cfgMgr *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus

	sup *rtsup.Supervisor

	store  storage.Store
	engine *engine.Engine
	lane   *lane.Lane
	source kit.Source
	demo   *feed.Demo
	debug  *debug.Service

	pronouns *lookup.PronounService
	emotes   *lookup.EmoteService
	alerts   *alert.Builder
	sounds   *sound.Gate

	trigMu   sync.RWMutex
	triggers trigger.Table

	out    Output
	player sound.Player
	filter engine.CheerFilter

	mu      sync.Mutex
	started bool
	lastCfg *config.Config

	envelopes chan kit.Envelope
	cfgCh     chan *config.Config
}

type Option func(*App)

// WithOutput installs the consumer of chat/alert/moderation results.
func WithOutput(out Output) Option { return func(a *App) { a.out = out } }

// WithPlayer installs the sound player backing the cooldown gate.
func WithPlayer(p sound.Player) Option { return func(a *App) { a.player = p } }

// WithCheerFilter installs the optional cheer message filter.
func WithCheerFilter(f engine.CheerFilter) Option { return func(a *App) { a.filter = f } }

func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{
		cfgMgr: config.NewConfigManager(cfgPath),
		out:    nopOutput{},
	}
	for _, o := range opts {
		o(a)
	}

	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a.logSvc, a.log = logx.New(loggingConfig(cfg))
	a.cfgMgr.SetLogger(a.log.With(logx.String("comp", "config")))
	a.bus = eventbus.New()
	return a, nil
}

// Bus exposes the internal event bus (diagnostics, tests).
func (a *App) Bus() eventbus.Bus { return a.bus }

// Engine exposes the normalization engine (tests, embedding hosts).
func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	cfg := a.cfgMgr.Get()
	a.lastCfg = cfg
	log := a.log

	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(log.With(logx.String("comp", "app"))),
		rtsup.WithCancelOnError(false),
	)
	supCtx := a.sup.Context()

	// Storage first: the engine's dedup store may write through it.
	st, err := storage.Open(storageConfig(cfg, log), log.With(logx.String("comp", "storage")))
	if err != nil {
		log.Warn("storage unavailable; dedup windows stay in-memory", logx.Err(err))
	}
	a.store = st

	a.engine = engine.New(engineOptions(cfg, log), log.With(logx.String("comp", "engine")), a.bus)
	a.engine.SetResolver(permissionResolver(cfg))
	if a.filter != nil {
		a.engine.SetCheerFilter(a.filter)
	}
	if st != nil && cfg.Engine.PersistDedup {
		a.engine.Fingerprints().AttachStore(supCtx, st)
	}

	a.lane = lane.New(laneConfig(cfg, log), log.With(logx.String("comp", "lane")), a.bus)
	if err := a.lane.Start(supCtx); err != nil {
		return fmt.Errorf("start lane: %w", err)
	}

	a.alerts = alert.NewBuilder(alertConfig(cfg), log.With(logx.String("comp", "alert")))
	a.sounds = sound.NewGate(soundConfig(cfg, log), a.player, log.With(logx.String("comp", "sound")))
	a.pronouns = lookup.NewPronouns(pronounsConfig(cfg, log), log.With(logx.String("comp", "pronouns")))
	a.emotes = lookup.NewEmotes(emotesConfig(cfg), log.With(logx.String("comp", "emotes")))
	a.setTriggers(triggerTable(cfg))

	a.envelopes = make(chan kit.Envelope, envelopeBuffer)

	if cfg.Source.URL != "" {
		src, err := ws.New(wsConfig(cfg, log), log.With(logx.String("comp", "source")), a.bus)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		a.source = src
		if err := src.Start(supCtx, a.envelopes); err != nil {
			return fmt.Errorf("start source: %w", err)
		}
	} else {
		log.Warn("no source url configured; only demo traffic will flow")
	}

	a.demo = feed.New(feedConfig(cfg, log), log.With(logx.String("comp", "feed")))
	if err := a.demo.Start(supCtx, a.envelopes); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	a.debug = debug.New(debugConfig(cfg), a.statusSnapshot, log.With(logx.String("comp", "debug")))
	a.debug.Start(supCtx)

	a.sup.Go0("pipeline", a.pipelineLoop)

	// Hot reload: watch the file and re-apply on publish.
	a.cfgCh = a.cfgMgr.Subscribe(4)
	a.sup.Go("config.watch", a.cfgMgr.Watch)
	a.sup.Go0("config.apply", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-a.cfgCh:
				if !ok {
					return
				}
				a.applyConfig(next)
			}
		}
	})

	a.started = true
	log.Info("started",
		logx.Bool("source", cfg.Source.URL != ""),
		logx.Bool("storage", st != nil),
		logx.Bool("feed", cfg.Feed.Enabled),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	sup := a.sup
	a.sup = nil
	source := a.source
	demo := a.demo
	ln := a.lane
	dbg := a.debug
	st := a.store
	cfgCh := a.cfgCh
	a.cfgCh = nil
	a.mu.Unlock()

	// Stop producers before consumers.
	if source != nil {
		_ = source.Stop(ctx)
	}
	if demo != nil {
		_ = demo.Stop(ctx)
	}
	if ln != nil {
		_ = ln.Stop(ctx)
	}
	if dbg != nil {
		dbg.Stop(ctx)
	}
	if cfgCh != nil {
		a.cfgMgr.Unsubscribe(cfgCh)
	}
	if sup != nil {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
	}
	if st != nil {
		_ = st.Close()
	}
	a.log.Info("stopped")
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return nil
}

// statusSnapshot feeds the debug endpoint's /statusz payload.
func (a *App) statusSnapshot() map[string]any {
	out := map[string]any{}
	a.mu.Lock()
	started := a.started
	eng := a.engine
	ln := a.lane
	a.mu.Unlock()
	out["started"] = started
	if eng != nil {
		out["messages_total"] = eng.TotalMessages()
		out["dedup_windows"] = eng.Fingerprints().Len()
	}
	if ln != nil {
		out["lane_pending"] = ln.Pending()
		out["lane_history"] = ln.History()
	}
	return out
}

func (a *App) setTriggers(t trigger.Table) {
	a.trigMu.Lock()
	a.triggers = t
	a.trigMu.Unlock()
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.mu.Lock()
	old := a.lastCfg
	a.lastCfg = cfg
	a.mu.Unlock()
	changed, attrs := config.SummarizeConfigChange(old, cfg)
	log := a.log

	a.logSvc.Apply(loggingConfig(cfg))
	a.engine.Apply(engineOptions(cfg, log))
	a.engine.SetResolver(permissionResolver(cfg))
	a.lane.Apply(laneConfig(cfg, log))
	a.alerts.Apply(alertConfig(cfg))
	a.sounds.Apply(soundConfig(cfg, log))
	a.demo.Apply(feedConfig(cfg, log))
	a.debug.Reconfigure(context.Background(), debugConfig(cfg))
	a.setTriggers(triggerTable(cfg))

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: changed})
	log.Info("config applied", append([]logx.Field{logx.Any("changed", changed)}, attrs...)...)
}
