package config

import "time"

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "100ms", "10s", "5m").
// Secrets (tokens) may be left empty here and supplied via the environment,
// see ApplyEnv.
type Config struct {
	// Title is how the assistant addresses its owner ("sir", "ma'am", ...).
	Title string `json:"title,omitempty"`

	Logging    LoggingConfig    `json:"logging"`
	Executor   ExecutorConfig   `json:"executor"`
	Background BackgroundConfig `json:"background"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Secrets    SecretsConfig    `json:"secrets"`
	HTTP       HTTPConfig       `json:"http"`
	Telegram   TelegramConfig   `json:"telegram"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Speedtest  SpeedtestConfig  `json:"speedtest"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Notify  LoggingNotify `json:"notify"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// LoggingNotify forwards warn+ lines to the Telegram log chat.
type LoggingNotify struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ExecutorConfig controls isolated handler execution.
//
// Defaults:
//   - grace: "100ms" (also the upper bound)
//   - command_deadline: "60s"
//   - path: the running binary
type ExecutorConfig struct {
	Grace           string `json:"grace,omitempty"`
	CommandDeadline string `json:"command_deadline,omitempty"`
	Path            string `json:"path,omitempty"`
}

// BackgroundConfig controls the recurring task file and its scheduler.
//
// Defaults:
//   - path: "./fileio/background_tasks.yaml"
//   - cadence: "@every 1s"
//   - task_deadline: "5m"
type BackgroundConfig struct {
	Enabled      bool   `json:"enabled"`
	Path         string `json:"path,omitempty"`
	Cadence      string `json:"cadence,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	TaskDeadline string `json:"task_deadline,omitempty"`
}

type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

type DeliveryConfig struct {
	Speech SpeechConfig `json:"speech"`
	Native NativeConfig `json:"native"`
}

// SpeechConfig points at an OpenTTS-compatible speech server.
type SpeechConfig struct {
	URL     string `json:"url,omitempty"`
	Voice   string `json:"voice,omitempty"`
	Vocoder string `json:"vocoder,omitempty"`
}

// NativeConfig describes the local text-to-speech command.
// Command arguments may contain {text} and {file} placeholders.
type NativeConfig struct {
	Command      []string `json:"command,omitempty"`
	Dir          string   `json:"dir,omitempty"`
	CleanupAfter string   `json:"cleanup_after,omitempty"`
}

type SecretsConfig struct {
	TokenTTL string    `json:"token_ttl,omitempty"`
	Local    []string  `json:"local,omitempty"`
	AWS      AWSConfig `json:"aws"`
}

type AWSConfig struct {
	Enabled bool   `json:"enabled"`
	Region  string `json:"region,omitempty"`
}

// HTTPConfig controls the HTTP API.
//
// Security note: prefer binding to localhost unless a token is set.
type HTTPConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr,omitempty"`
	Token      string `json:"token,omitempty"` // do not log
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Pprof      bool   `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"` // do not log
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	LogChatID    int64   `json:"log_chat_id,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

// StorageConfig controls the optional audit/marks store.
//
//	"storage": { "driver": "file", "path": "./fileio/squire" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type SpeedtestConfig struct {
	ServerCount    int `json:"server_count,omitempty"`
	MaxConnections int `json:"max_connections,omitempty"`
}

const (
	DefaultGrace           = 100 * time.Millisecond
	DefaultCommandDeadline = 60 * time.Second
	DefaultTaskDeadline    = 5 * time.Minute
	DefaultTokenTTL        = 5 * time.Minute
	DefaultCleanupAfter    = 2 * time.Second
	DefaultTaskFile        = "./fileio/background_tasks.yaml"
	DefaultCadence         = "@every 1s"
)

// GraceDuration is the SIGTERM-to-SIGKILL window, capped at DefaultGrace.
func (e ExecutorConfig) GraceDuration() time.Duration {
	d := mustDuration(e.Grace, DefaultGrace)
	if d > DefaultGrace {
		return DefaultGrace
	}
	return d
}

func (e ExecutorConfig) CommandDeadlineDuration() time.Duration {
	return mustDuration(e.CommandDeadline, DefaultCommandDeadline)
}

func (b BackgroundConfig) TaskDeadlineDuration() time.Duration {
	return mustDuration(b.TaskDeadline, DefaultTaskDeadline)
}

func (b BackgroundConfig) TaskFile() string {
	if b.Path == "" {
		return DefaultTaskFile
	}
	return b.Path
}

func (b BackgroundConfig) CadenceSpec() string {
	if b.Cadence == "" {
		return DefaultCadence
	}
	return b.Cadence
}

func (n NativeConfig) CleanupDuration() time.Duration {
	return mustDuration(n.CleanupAfter, DefaultCleanupAfter)
}

func (s SecretsConfig) TokenTTLDuration() time.Duration {
	return mustDuration(s.TokenTTL, DefaultTokenTTL)
}

func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	return mustDuration(t.PollTimeout, 10*time.Second)
}

func (t TaskEngineConfig) DefaultTimeoutDuration() time.Duration {
	return mustDuration(t.DefaultTimeout, 0)
}

// mustDuration is used after Validate has accepted the raw value.
func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}
