package config

import "strings"

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Source  SourceConfig  `json:"source"`
	Engine  EngineConfig  `json:"engine"`

	// Permissions maps a category name to the commands it covers and the
	// roles allowed to run them. Commands not covered by any category are
	// allowed for everyone.
	Permissions map[string]PermissionCategory `json:"permissions,omitempty"`

	// Triggers maps a category (cheer, tip, sub, follow, raid) to its
	// configured amount levels.
	Triggers map[string]TriggerLevels `json:"triggers,omitempty"`

	Alerts  AlertsConfig   `json:"alerts"`
	Sounds  SoundsConfig   `json:"sounds"`
	Lane    LaneConfig     `json:"lane"`
	Lookup  LookupConfig   `json:"lookup"`
	Feed    FeedConfig     `json:"feed"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Debug   DebugConfig    `json:"debug"`
}

// DebugConfig controls the local diagnostics endpoint (pprof + /statusz).
// A non-loopback addr requires token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig controls the upstream widget socket connection.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SourceConfig struct {
	URL              string `json:"url"`
	Origin           string `json:"origin,omitempty"`
	HandshakeTimeout string `json:"handshake_timeout,omitempty"` // default "10s"
	ReconnectMin     string `json:"reconnect_min,omitempty"`     // default "500ms"
	ReconnectMax     string `json:"reconnect_max,omitempty"`     // default "30s"
	PingInterval     string `json:"ping_interval,omitempty"`     // default "25s"
}

// EngineConfig controls event normalization.
//
// Defaults (when fields are omitted/zero):
//   - provider: "twitch"
//   - command_prefix: "!"
//   - dedupe_window: "1500ms"
//   - community_suppress: "15s"
//   - echo_window: "1500ms"
//   - dedup_max_entries: 2000
type EngineConfig struct {
	// Provider is the primary provider assumed when a payload carries no
	// service marker and no recognizable structure ("twitch" or "youtube").
	Provider string `json:"provider,omitempty"`

	CommandPrefix string `json:"command_prefix,omitempty"`

	// HideCommands drops chat messages that parse as commands ("yes"/"no").
	HideCommands string `json:"hide_commands,omitempty"`

	IgnoredUsers []string `json:"ignored_users,omitempty"`
	BotNames     []string `json:"bot_names,omitempty"`

	DedupeWindow      string `json:"dedupe_window,omitempty"`
	CommunitySuppress string `json:"community_suppress,omitempty"`
	EchoWindow        string `json:"echo_window,omitempty"`

	// PreferEvent suppresses "latest"-origin duplicates when the richer
	// "event"-origin twin was already emitted inside the dedupe window.
	PreferEvent bool `json:"prefer_event,omitempty"`

	PersistDedup    bool `json:"persist_dedup,omitempty"`
	DedupMaxEntries int  `json:"dedup_max_entries,omitempty"`
}

type PermissionCategory struct {
	Commands []string `json:"commands"`
	Roles    []string `json:"roles"`
}

type TriggerLevels struct {
	Exact   []float64 `json:"exact,omitempty"`
	Minimum []float64 `json:"minimum,omitempty"`
}

// AlertsConfig enables alert categories and overrides their templates.
// Templates may reference $User and $Amount.
type AlertsConfig struct {
	Enabled  map[string]bool   `json:"enabled,omitempty"`
	Messages map[string]string `json:"messages,omitempty"`
}

type SoundsConfig struct {
	// Cooldown is the per-key replay guard (default "250ms").
	Cooldown string `json:"cooldown,omitempty"`
	// Keys maps a trigger category to the sound asset key handed to the player.
	Keys map[string]string `json:"keys,omitempty"`
}

// LaneConfig controls the serialized alert lane.
type LaneConfig struct {
	QueueSize int `json:"queue_size,omitempty"` // default 256
	// Watchdog is the per-task stall limit (default "90s").
	Watchdog string `json:"watchdog,omitempty"`
	// MinDuration is the minimum visible duration per task (default "0s").
	MinDuration string `json:"min_duration,omitempty"`
	HistorySize int    `json:"history_size,omitempty"` // default 100
}

type LookupConfig struct {
	Pronouns PronounsConfig `json:"pronouns"`
	Emotes   EmotesConfig   `json:"emotes"`
}

type PronounsConfig struct {
	Enabled  bool   `json:"enabled"`
	BaseURL  string `json:"base_url,omitempty"`
	CacheTTL string `json:"cache_ttl,omitempty"` // default "5m"
	CacheMax int    `json:"cache_max,omitempty"` // default 512
}

type EmotesConfig struct {
	IndexURL  string            `json:"index_url,omitempty"`
	Shortcuts map[string]string `json:"shortcuts,omitempty"`
}

// FeedConfig controls the synthetic demo feed.
type FeedConfig struct {
	Enabled bool `json:"enabled"`
	// DemoCron optionally emits a demo batch on a cron spec (e.g. "@every 1h").
	DemoCron     string `json:"demo_cron,omitempty"`
	DemoCount    int    `json:"demo_count,omitempty"`    // default 5
	DemoInterval string `json:"demo_interval,omitempty"` // default "800ms"
}

// StorageConfig controls the optional dedup persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./overlayd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Truthy interprets the loose yes/no strings the widget config uses.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}
