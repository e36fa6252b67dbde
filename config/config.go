// Package config loads node kernel configuration the way the teacher's
// cfg package backs mempool.Reactor's *cfg.MempoolConfig field: a plain
// struct with toml tags, populated either by defaults or by viper
// reading a TOML file, and rendered to TOML text with text/template
// (checked by decoding it with BurntSushi/toml).
package config

import (
	"bytes"
	"text/template"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// SchedulerConfig holds the run-to-completion scheduler settings a node
// file may carry (spec.md §4.4). The scheduler does not read them: it
// uses its own constants, which have the same values as these defaults.
type SchedulerConfig struct {
	// DefaultBusyTimeout is the initial busy_timeout_ms before any
	// warning extension (spec.md §3, §4.4: default 3 minutes).
	DefaultBusyTimeout time.Duration `mapstructure:"default_busy_timeout" toml:"default_busy_timeout"`
	// BusyTimeoutExtension is added to busy_timeout after each warning
	// (spec.md §4.4: 60s).
	BusyTimeoutExtension time.Duration `mapstructure:"busy_timeout_extension" toml:"busy_timeout_extension"`
	// SlowCallbackWarning is the wall-time threshold (spec.md §4.4: 200ms)
	// above which a task callback duration is logged.
	SlowCallbackWarning time.Duration `mapstructure:"slow_callback_warning" toml:"slow_callback_warning"`
	// PowerFailureThreshold is the number of failed activations before
	// CheckPowerFailure goes sticky (spec.md §4.4: default 3).
	PowerFailureThreshold int `mapstructure:"power_failure_threshold" toml:"power_failure_threshold"`
}

// MmapConfig holds the mmap unsync retry timer setting (spec.md §4.7).
// The kernel does not read it: it arms the timer with its own 300ms
// constant.
type MmapConfig struct {
	// UnsyncArmMillis is the delay armed when topology changes
	// (spec.md §4.8: 300ms).
	UnsyncArmMillis int64 `mapstructure:"unsync_arm_millis" toml:"unsync_arm_millis"`
}

// MailboxGroupConfig declares one (slot_capacity, slot_count) mailbox
// group to pre-allocate at startup (spec.md §3, §4.1).
type MailboxGroupConfig struct {
	SlotCapacity int `mapstructure:"slot_capacity" toml:"slot_capacity"`
	SlotCount    int `mapstructure:"slot_count" toml:"slot_count"`
}

// Config is the top-level node kernel configuration.
type Config struct {
	LogLevel  string                `mapstructure:"log_level" toml:"log_level"`
	CoreName  string                `mapstructure:"core_name" toml:"core_name"`
	Scheduler SchedulerConfig       `mapstructure:"scheduler" toml:"scheduler"`
	Mmap      MmapConfig            `mapstructure:"mmap" toml:"mmap"`
	Mailboxes []MailboxGroupConfig  `mapstructure:"mailboxes" toml:"mailboxes"`
}

// DefaultConfig mirrors the constants spec.md pins down explicitly.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		CoreName: "local",
		Scheduler: SchedulerConfig{
			DefaultBusyTimeout:    3 * time.Minute,
			BusyTimeoutExtension:  60 * time.Second,
			SlowCallbackWarning:   200 * time.Millisecond,
			PowerFailureThreshold: 3,
		},
		Mmap: MmapConfig{
			UnsyncArmMillis: 300,
		},
		Mailboxes: []MailboxGroupConfig{
			{SlotCapacity: 8, SlotCount: 4},
			{SlotCapacity: 64, SlotCount: 2},
		},
	}
}

// Load reads a TOML file at path over the defaults, the same layering
// the teacher's viper-backed RPC/mempool config uses (defaults set on a
// struct literal, overridden by whatever the operator supplies).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

const configTemplate = `# node kernel configuration
log_level = "{{ .LogLevel }}"
core_name = "{{ .CoreName }}"

[scheduler]
default_busy_timeout   = "{{ .Scheduler.DefaultBusyTimeout }}"
busy_timeout_extension  = "{{ .Scheduler.BusyTimeoutExtension }}"
slow_callback_warning   = "{{ .Scheduler.SlowCallbackWarning }}"
power_failure_threshold = {{ .Scheduler.PowerFailureThreshold }}

[mmap]
unsync_arm_millis = {{ .Mmap.UnsyncArmMillis }}
{{ range .Mailboxes }}
[[mailboxes]]
slot_capacity = {{ .SlotCapacity }}
slot_count    = {{ .SlotCount }}
{{ end }}`

// WriteTemplate renders cfg as TOML the way tendermint's config package
// renders config.toml from a text/template over the defaults, verified
// round-trippable via BurntSushi/toml.
func WriteTemplate(cfg *Config) (string, error) {
	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", err
	}

	// Round-trip through the toml decoder so a malformed template is
	// caught at render time rather than on next process start.
	var check map[string]interface{}
	if _, err := toml.Decode(buf.String(), &check); err != nil {
		return "", err
	}
	return buf.String(), nil
}
