// Package sound maps trigger categories to sound assets and guards replays
// with a per-key cooldown.
package sound

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "overlayd/pkg/logx"
)

// Player performs actual playback; the engine host injects it. Nothing in
// this repo produces audio.
type Player interface {
	Play(ctx context.Context, key, asset string) error
}

type Config struct {
	Cooldown time.Duration     // default 250ms
	Keys     map[string]string // trigger category -> asset key
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = 250 * time.Millisecond
	}
	return c
}

// Gate rate-limits playback per sound key. Rapid repeats of the same key
// inside the cooldown are swallowed; distinct keys do not affect each other.
type Gate struct {
	log    logx.Logger
	player Player

	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter
}

func NewGate(cfg Config, player Player, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{
		log:      log,
		player:   player,
		cfg:      cfg.withDefaults(),
		limiters: map[string]*rate.Limiter{},
	}
}

// Apply swaps the key table and cooldown; existing limiters reset so the new
// cooldown takes effect immediately.
func (g *Gate) Apply(cfg Config) {
	g.mu.Lock()
	g.cfg = cfg.withDefaults()
	g.limiters = map[string]*rate.Limiter{}
	g.mu.Unlock()
}

// Trigger plays the sound mapped to category, if any, unless the key is
// cooling down. Reports whether playback was attempted.
func (g *Gate) Trigger(ctx context.Context, category string) bool {
	g.mu.Lock()
	asset, ok := g.cfg.Keys[category]
	if !ok || asset == "" {
		g.mu.Unlock()
		return false
	}
	lim := g.limiters[asset]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(g.cfg.Cooldown), 1)
		g.limiters[asset] = lim
	}
	g.mu.Unlock()

	if !lim.Allow() {
		g.log.Debug("sound cooldown; skipping", logx.String("key", asset))
		return false
	}
	if g.player == nil {
		return false
	}
	if err := g.player.Play(ctx, category, asset); err != nil {
		g.log.Warn("sound playback failed", logx.String("key", asset), logx.Err(err))
	}
	return true
}
