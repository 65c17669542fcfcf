package sound

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "overlayd/pkg/logx"
)

type recordingPlayer struct {
	mu    sync.Mutex
	plays []string
}

func (p *recordingPlayer) Play(_ context.Context, key, asset string) error {
	p.mu.Lock()
	p.plays = append(p.plays, key+":"+asset)
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

func TestGateCooldown(t *testing.T) {
	p := &recordingPlayer{}
	g := NewGate(Config{
		Cooldown: time.Hour,
		Keys:     map[string]string{"cheer": "bits.ogg"},
	}, p, logx.Nop())
	ctx := context.Background()

	if !g.Trigger(ctx, "cheer") {
		t.Fatal("first trigger blocked")
	}
	if g.Trigger(ctx, "cheer") {
		t.Fatal("repeat inside cooldown played")
	}
	if p.count() != 1 {
		t.Fatalf("plays = %d, want 1", p.count())
	}
}

func TestGateDistinctKeysIndependent(t *testing.T) {
	p := &recordingPlayer{}
	g := NewGate(Config{
		Cooldown: time.Hour,
		Keys:     map[string]string{"cheer": "bits.ogg", "raid": "horn.ogg"},
	}, p, logx.Nop())
	ctx := context.Background()

	if !g.Trigger(ctx, "cheer") {
		t.Fatal("cheer blocked")
	}
	if !g.Trigger(ctx, "raid") {
		t.Fatal("raid blocked by cheer cooldown")
	}
	if p.count() != 2 {
		t.Fatalf("plays = %d, want 2", p.count())
	}
}

func TestGateUnmappedCategory(t *testing.T) {
	p := &recordingPlayer{}
	g := NewGate(Config{Keys: map[string]string{"cheer": "bits.ogg"}}, p, logx.Nop())
	if g.Trigger(context.Background(), "follow") {
		t.Fatal("unmapped category played")
	}
	if p.count() != 0 {
		t.Fatalf("plays = %d, want 0", p.count())
	}
}

func TestGateApplyResetsCooldowns(t *testing.T) {
	p := &recordingPlayer{}
	cfg := Config{Cooldown: time.Hour, Keys: map[string]string{"cheer": "bits.ogg"}}
	g := NewGate(cfg, p, logx.Nop())
	ctx := context.Background()

	g.Trigger(ctx, "cheer")
	if g.Trigger(ctx, "cheer") {
		t.Fatal("repeat inside cooldown played")
	}
	g.Apply(cfg)
	if !g.Trigger(ctx, "cheer") {
		t.Fatal("trigger blocked after Apply reset")
	}
	if p.count() != 2 {
		t.Fatalf("plays = %d, want 2", p.count())
	}
}

func TestGateNilPlayer(t *testing.T) {
	g := NewGate(Config{Keys: map[string]string{"cheer": "bits.ogg"}}, nil, logx.Nop())
	if g.Trigger(context.Background(), "cheer") {
		t.Fatal("nil player reported playback")
	}
}
