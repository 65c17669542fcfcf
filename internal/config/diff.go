package config

import (
	"reflect"
	"sort"
	"strings"

	logx "overlayd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Source
	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.Bool("source.url_set", strings.TrimSpace(newCfg.Source.URL) != ""),
			logx.String("source.reconnect_max", strings.TrimSpace(newCfg.Source.ReconnectMax)),
		)
	}

	// Engine
	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.provider", strings.TrimSpace(newCfg.Engine.Provider)),
			logx.String("engine.command_prefix", newCfg.Engine.CommandPrefix),
			logx.Bool("engine.hide_commands", Truthy(newCfg.Engine.HideCommands)),
			logx.Bool("engine.prefer_event", newCfg.Engine.PreferEvent),
			logx.String("engine.dedupe_window", strings.TrimSpace(newCfg.Engine.DedupeWindow)),
			logx.Int("engine.ignored_users", len(newCfg.Engine.IgnoredUsers)),
		)
	}

	// Permissions / triggers: log counts only; details at debug elsewhere.
	if !reflect.DeepEqual(oldCfg.Permissions, newCfg.Permissions) {
		changed = append(changed, "permissions")
		attrs = append(attrs, logx.Int("permissions.categories", len(newCfg.Permissions)))
	}
	if !reflect.DeepEqual(oldCfg.Triggers, newCfg.Triggers) {
		changed = append(changed, "triggers")
		attrs = append(attrs, logx.Int("triggers.categories", len(newCfg.Triggers)))
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Int("alerts.enabled_count", countTrue(newCfg.Alerts.Enabled)),
			logx.Int("alerts.templates", len(newCfg.Alerts.Messages)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sounds, newCfg.Sounds) {
		changed = append(changed, "sounds")
		attrs = append(attrs,
			logx.String("sounds.cooldown", strings.TrimSpace(newCfg.Sounds.Cooldown)),
			logx.Int("sounds.keys", len(newCfg.Sounds.Keys)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Lane, newCfg.Lane) {
		changed = append(changed, "lane")
		attrs = append(attrs,
			logx.Int("lane.queue_size", newCfg.Lane.QueueSize),
			logx.String("lane.watchdog", strings.TrimSpace(newCfg.Lane.Watchdog)),
			logx.String("lane.min_duration", strings.TrimSpace(newCfg.Lane.MinDuration)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Lookup, newCfg.Lookup) {
		changed = append(changed, "lookup")
		attrs = append(attrs,
			logx.Bool("lookup.pronouns_enabled", newCfg.Lookup.Pronouns.Enabled),
			logx.Bool("lookup.emotes_index_set", strings.TrimSpace(newCfg.Lookup.Emotes.IndexURL) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Feed, newCfg.Feed) {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.Bool("feed.enabled", newCfg.Feed.Enabled),
			logx.String("feed.demo_cron", strings.TrimSpace(newCfg.Feed.DemoCron)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	// Storage (nil means disabled)
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func countTrue(m map[string]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}
