package app

import (
	"sort"
	"time"

	"overlayd/internal/alert"
	"overlayd/internal/command"
	"overlayd/internal/config"
	"overlayd/internal/engine"
	"overlayd/internal/event"
	"overlayd/internal/feed"
	"overlayd/internal/lane"
	"overlayd/internal/lookup"
	"overlayd/internal/observability/debug"
	"overlayd/internal/sound"
	"overlayd/internal/storage"
	"overlayd/internal/transport/ws"
	"overlayd/internal/trigger"
	logx "overlayd/pkg/logx"
)

// Converters from the on-disk config shape to per-component options.
// Duration strings are parsed leniently here: a bad value falls back to the
// component default and is logged once at apply time.

func durOr(log logx.Logger, path, raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil {
		log.Warn("invalid duration in config; using default",
			logx.String("field", path), logx.String("value", raw), logx.Duration("default", def))
		return def
	}
	return d
}

func engineOptions(cfg *config.Config, log logx.Logger) engine.Options {
	e := cfg.Engine
	return engine.Options{
		Provider:          event.Provider(e.Provider),
		CommandPrefix:     e.CommandPrefix,
		HideCommands:      config.Truthy(e.HideCommands),
		IgnoredUsers:      e.IgnoredUsers,
		BotNames:          e.BotNames,
		DedupeWindow:      durOr(log, "engine.dedupe_window", e.DedupeWindow, 1500*time.Millisecond),
		CommunitySuppress: durOr(log, "engine.community_suppress", e.CommunitySuppress, 15*time.Second),
		EchoWindow:        durOr(log, "engine.echo_window", e.EchoWindow, 1500*time.Millisecond),
		PreferEvent:       e.PreferEvent,
		DedupMaxEntries:   e.DedupMaxEntries,
	}
}

func permissionResolver(cfg *config.Config) *command.Resolver {
	if len(cfg.Permissions) == 0 {
		return command.NewResolver(nil)
	}
	names := make([]string, 0, len(cfg.Permissions))
	for name := range cfg.Permissions {
		names = append(names, name)
	}
	// Deterministic category scan order.
	sort.Strings(names)
	cats := make([]command.Category, 0, len(names))
	for _, name := range names {
		pc := cfg.Permissions[name]
		cats = append(cats, command.Category{Name: name, Commands: pc.Commands, Roles: pc.Roles})
	}
	return command.NewResolver(cats)
}

func triggerTable(cfg *config.Config) trigger.Table {
	t := make(trigger.Table, len(cfg.Triggers))
	for cat, levels := range cfg.Triggers {
		t[cat] = trigger.Levels{Exact: levels.Exact, Minimum: levels.Minimum}
	}
	return t
}

func laneConfig(cfg *config.Config, log logx.Logger) lane.Config {
	l := cfg.Lane
	return lane.Config{
		QueueSize:   l.QueueSize,
		Watchdog:    durOr(log, "lane.watchdog", l.Watchdog, 90*time.Second),
		MinDuration: durOr(log, "lane.min_duration", l.MinDuration, 0),
		HistorySize: l.HistorySize,
	}
}

func alertConfig(cfg *config.Config) alert.Config {
	return alert.Config{Enabled: cfg.Alerts.Enabled, Messages: cfg.Alerts.Messages}
}

func soundConfig(cfg *config.Config, log logx.Logger) sound.Config {
	return sound.Config{
		Cooldown: durOr(log, "sounds.cooldown", cfg.Sounds.Cooldown, 250*time.Millisecond),
		Keys:     cfg.Sounds.Keys,
	}
}

func wsConfig(cfg *config.Config, log logx.Logger) ws.Config {
	s := cfg.Source
	return ws.Config{
		URL:              s.URL,
		Origin:           s.Origin,
		HandshakeTimeout: durOr(log, "source.handshake_timeout", s.HandshakeTimeout, 10*time.Second),
		ReconnectMin:     durOr(log, "source.reconnect_min", s.ReconnectMin, 500*time.Millisecond),
		ReconnectMax:     durOr(log, "source.reconnect_max", s.ReconnectMax, 30*time.Second),
		PingInterval:     durOr(log, "source.ping_interval", s.PingInterval, 25*time.Second),
	}
}

func feedConfig(cfg *config.Config, log logx.Logger) feed.Config {
	f := cfg.Feed
	return feed.Config{
		Enabled:      f.Enabled,
		DemoCron:     f.DemoCron,
		DemoCount:    f.DemoCount,
		DemoInterval: durOr(log, "feed.demo_interval", f.DemoInterval, 800*time.Millisecond),
	}
}

func pronounsConfig(cfg *config.Config, log logx.Logger) lookup.PronounsConfig {
	p := cfg.Lookup.Pronouns
	return lookup.PronounsConfig{
		Enabled:  p.Enabled,
		BaseURL:  p.BaseURL,
		CacheTTL: durOr(log, "lookup.pronouns.cache_ttl", p.CacheTTL, 5*time.Minute),
		CacheMax: p.CacheMax,
	}
}

func emotesConfig(cfg *config.Config) lookup.EmotesConfig {
	return lookup.EmotesConfig{
		IndexURL:  cfg.Lookup.Emotes.IndexURL,
		Shortcuts: cfg.Lookup.Emotes.Shortcuts,
	}
}

func storageConfig(cfg *config.Config, log logx.Logger) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: durOr(log, "storage.busy_timeout", cfg.Storage.BusyTimeout, 0),
	}
}

func debugConfig(cfg *config.Config) debug.Config {
	return debug.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          cfg.Debug.Addr,
		Token:         cfg.Debug.Token,
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig(cfg.Logging.File),
	}
}
