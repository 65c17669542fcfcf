package app

import (
	"context"
	"errors"
	"time"

	"overlayd/internal/alert"
	"overlayd/internal/event"
	"overlayd/internal/lane"
	"overlayd/internal/lookup"
	"overlayd/internal/trigger"
	logx "overlayd/pkg/logx"
)

// Output consumes pipeline results. The embedding host (overlay socket,
// recorder, tests) implements it; no rendering happens in this repo.
type Output interface {
	OnChat(msg ChatMessage)
	OnAlert(a alert.Alert)
	OnModeration(ev *event.CanonicalEvent)
}

// ChatMessage is a normalized chat event plus the render context gathered
// from the lookup collaborators.
type ChatMessage struct {
	Event    *event.CanonicalEvent
	Pronouns string
	Emotes   []lookup.EmoteRef
}

type nopOutput struct{}

func (nopOutput) OnChat(ChatMessage)                 {}
func (nopOutput) OnAlert(alert.Alert)                {}
func (nopOutput) OnModeration(*event.CanonicalEvent) {}

// pipelineLoop drains the envelope channel: normalize, then route. Chat is
// delivered inline (after collaborator lookups); alert-bearing kinds go
// through the trigger table and the serialized lane.
func (a *App) pipelineLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-a.envelopes:
			ev := a.engine.Normalize(env)
			if ev == nil {
				continue
			}
			a.route(ctx, ev)
		}
	}
}

func (a *App) route(ctx context.Context, ev *event.CanonicalEvent) {
	switch ev.Kind {
	case event.KindButton:
		a.demo.HandleButton(ev.MetaString("field"), ev.MetaString("value"))

	case event.KindMessage:
		a.out.OnChat(a.buildChat(ctx, ev))

	case event.KindDeleteMessage, event.KindDeleteMessages:
		a.out.OnModeration(ev)

	default:
		a.dispatchAlert(ctx, ev)
	}
}

// buildChat gathers render context. Lookups are bounded and failure-proof;
// a slow pronoun service must not stall chat for long.
func (a *App) buildChat(ctx context.Context, ev *event.CanonicalEvent) ChatMessage {
	lctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return ChatMessage{
		Event:    ev,
		Pronouns: a.pronouns.Lookup(lctx, ev.User.Username),
		Emotes:   a.emotes.Match(lctx, ev.Message),
	}
}

func (a *App) dispatchAlert(ctx context.Context, ev *event.CanonicalEvent) {
	a.trigMu.RLock()
	table := a.triggers
	a.trigMu.RUnlock()

	var match *trigger.Match
	if table != nil {
		match = table.Resolve(ev)
	}

	built := a.alerts.Build(ev, match)
	if built == nil {
		return
	}

	if match != nil {
		a.sounds.Trigger(ctx, match.Category)
	}

	al := *built
	err := a.lane.Enqueue(lane.Task{
		ID:   al.ID,
		Name: al.Category,
		Run: func(context.Context) error {
			a.out.OnAlert(al)
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, lane.ErrQueueFull) {
			a.log.Warn("alert dropped; lane backlogged",
				logx.String("category", al.Category), logx.String("user", ev.User.Username))
			return
		}
		a.log.Debug("alert not enqueued", logx.Err(err))
	}
}
