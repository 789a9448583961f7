// Package config provides YAML-based configuration loading for Signalbox,
// with environment variables (and an optional .env file) layered on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Signalbox configuration, loaded from signalbox.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Lark       LarkConfig       `yaml:"lark"`
	Incident   IncidentConfig   `yaml:"incident"`
	LLM        LLMConfig        `yaml:"llm"`
	Twilio     TwilioConfig     `yaml:"twilio"`
	Oncall     OncallConfig     `yaml:"oncall"`
	Notify     NotifyConfig     `yaml:"notify"`
	Automation AutomationConfig `yaml:"automation"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig holds webhook listener and event-processing settings.
type ServerConfig struct {
	Port           int     `yaml:"port"`
	Workers        int     `yaml:"workers"`    // concurrent event processors
	QueueSize      int     `yaml:"queue_size"` // buffered events awaiting a worker
	RateRPS        float64 `yaml:"rate_rps"`
	RateBurst      int     `yaml:"rate_burst"`
	HTTPTimeoutSec int     `yaml:"http_timeout_sec"` // outbound HTTP timeout
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// LarkConfig holds chat platform credentials and endpoints.
type LarkConfig struct {
	AppID           string   `yaml:"app_id"`
	AppSecret       string   `yaml:"app_secret"`
	EncryptKey      string   `yaml:"encrypt_key"`
	BaseURL         string   `yaml:"base_url"`          // IM + auth API base
	MeetingBaseURLs []string `yaml:"meeting_base_urls"` // tried in order for meeting creation
	DocToken        string   `yaml:"doc_token"`         // docx used as Q&A context
}

// IncidentConfig scopes the P0 workflow.
type IncidentConfig struct {
	Channels      []string `yaml:"channels"` // chats where trigger/end/negation apply
	Owners        []string `yaml:"owners"`   // identities allowed to submit the overview
	MeetingTopic  string   `yaml:"meeting_topic"`
	FallbackLink  string   `yaml:"fallback_link"`
	Timezone      string   `yaml:"timezone"`
	SessionTTLSec int      `yaml:"session_ttl_sec"` // 0 means 12h; negative disables expiry
	ReapCron      string   `yaml:"reap_cron"`
}

// LLMConfig holds the OpenAI-compatible provider used for translation and Q&A.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// TwilioConfig holds telephony provider credentials.
type TwilioConfig struct {
	AccountSID    string `yaml:"account_sid"`
	AuthToken     string `yaml:"auth_token"`
	FromNumber    string `yaml:"from_number"`
	PublicBaseURL string `yaml:"public_base_url"` // where /twilio/voice is reachable
}

// OncallConfig lists the numbers to ring and the chat that receives call reports.
type OncallConfig struct {
	Numbers      string `yaml:"numbers"` // comma-separated, raw
	NotifyChatID string `yaml:"notify_chat_id"`
}

// NotifyConfig holds the secondary broadcast channels. A channel with missing
// credentials is skipped.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// TelegramConfig configures the Telegram bot channel.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// AutomationConfig controls the external call-automation script.
type AutomationConfig struct {
	ScriptPath  string `yaml:"script_path"`
	CooldownSec int    `yaml:"cooldown_sec"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	Workers     int    `yaml:"workers"`
}

// AuditConfig selects the incident history store. Driver "none" disables it.
type AuditConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, none
	DSN    string `yaml:"dsn"`
}

// Load reads an optional .env file and a YAML config file from path, then
// applies environment overrides. An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return parse(data, os.LookupEnv)
}

// Parse unmarshals YAML bytes into a validated Config, without environment
// overrides.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) (string, bool) { return "", false })
}

func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(lookup)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides fields with any non-empty environment values.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = SplitCSV(v)
		}
	}

	num("PORT", &c.Server.Port)
	str("LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("LOG_PRETTY"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Log.Pretty = b
		}
	}

	str("LARK_APP_ID", &c.Lark.AppID)
	str("LARK_APP_SECRET", &c.Lark.AppSecret)
	str("LARK_ENCRYPT_KEY", &c.Lark.EncryptKey)
	str("LARK_BASE_URL", &c.Lark.BaseURL)
	str("LARK_DOC_TOKEN", &c.Lark.DocToken)

	list("INCIDENT_CHANNELS", &c.Incident.Channels)
	list("INCIDENT_OWNERS", &c.Incident.Owners)

	str("GROQ_API_KEY", &c.LLM.APIKey)

	str("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	str("TWILIO_FROM_NUMBER", &c.Twilio.FromNumber)
	str("PUBLIC_BASE_URL", &c.Twilio.PublicBaseURL)

	str("ONCALL_NUMBERS", &c.Oncall.Numbers)
	str("ONCALL_NOTIFY_CHAT_ID", &c.Oncall.NotifyChatID)

	str("TG_BOT_TOKEN", &c.Notify.Telegram.BotToken)
	str("TG_CHAT_ID", &c.Notify.Telegram.ChatID)
	str("SLACK_BOT_TOKEN", &c.Notify.Slack.BotToken)
	str("SLACK_CHANNEL_ID", &c.Notify.Slack.ChannelID)
	str("DISCORD_BOT_TOKEN", &c.Notify.Discord.BotToken)
	str("DISCORD_CHANNEL_ID", &c.Notify.Discord.ChannelID)

	str("TELEGRAM_PPTR_JS", &c.Automation.ScriptPath)
	num("AUTOMATION_COOLDOWN_SEC", &c.Automation.CooldownSec)

	str("AUDIT_DRIVER", &c.Audit.Driver)
	str("AUDIT_DSN", &c.Audit.DSN)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Workers == 0 {
		c.Server.Workers = 8
	}
	if c.Server.QueueSize == 0 {
		c.Server.QueueSize = 256
	}
	if c.Server.RateRPS == 0 {
		c.Server.RateRPS = 20
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 40
	}
	if c.Server.HTTPTimeoutSec == 0 {
		c.Server.HTTPTimeoutSec = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "warning" {
		c.Log.Level = "warn"
	}

	if c.Lark.BaseURL == "" {
		c.Lark.BaseURL = "https://open-sg.larksuite.com/open-apis"
	}
	c.Lark.BaseURL = strings.TrimRight(c.Lark.BaseURL, "/")
	if len(c.Lark.MeetingBaseURLs) == 0 {
		c.Lark.MeetingBaseURLs = []string{
			"https://open.larksuite.com/open-apis",
			"https://open-sg.larksuite.com/open-apis",
		}
	}

	if c.Incident.MeetingTopic == "" {
		c.Incident.MeetingTopic = "CP-Emergency feedback紧急问题反馈群"
	}
	if c.Incident.FallbackLink == "" {
		c.Incident.FallbackLink = "https://vc.larksuite.com/j/589568093"
	}
	if c.Incident.Timezone == "" {
		c.Incident.Timezone = "Asia/Manila"
	}
	switch {
	case c.Incident.SessionTTLSec == 0:
		c.Incident.SessionTTLSec = 12 * 60 * 60
	case c.Incident.SessionTTLSec < 0:
		c.Incident.SessionTTLSec = -1
	}
	if c.Incident.ReapCron == "" {
		c.Incident.ReapCron = "*/5 * * * *"
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama-3.1-8b-instant"
	}
	c.Twilio.PublicBaseURL = strings.TrimRight(c.Twilio.PublicBaseURL, "/")

	if c.Automation.CooldownSec == 0 {
		c.Automation.CooldownSec = 90
	}
	if c.Automation.TimeoutSec == 0 {
		c.Automation.TimeoutSec = 180
	}
	if c.Automation.Workers == 0 {
		c.Automation.Workers = 1
	}

	if c.Audit.Driver == "" {
		c.Audit.Driver = "sqlite"
	}
	if c.Audit.DSN == "" && c.Audit.Driver == "sqlite" {
		c.Audit.DSN = "signalbox.db"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Lark.AppID == "" {
		errs = append(errs, "lark.app_id is required")
	}
	if c.Lark.AppSecret == "" {
		errs = append(errs, "lark.app_secret is required")
	}
	if len(c.Incident.Channels) == 0 {
		errs = append(errs, "at least one incident channel is required")
	}
	if len(c.Incident.Owners) == 0 {
		errs = append(errs, "at least one incident owner is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	if c.Server.Workers < 1 {
		errs = append(errs, "server.workers must be >= 1")
	}
	if c.Server.RateRPS < 0 {
		errs = append(errs, "server.rate_rps must be >= 0")
	}
	if c.Automation.CooldownSec < 0 {
		errs = append(errs, "automation.cooldown_sec must be >= 0")
	}
	switch c.Audit.Driver {
	case "sqlite", "mysql", "none":
	default:
		errs = append(errs, fmt.Sprintf("audit.driver %q must be one of sqlite, mysql, none", c.Audit.Driver))
	}
	if c.Audit.Driver == "mysql" && c.Audit.DSN == "" {
		errs = append(errs, "audit.dsn is required for mysql")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SplitCSV splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SessionExpiry reports whether sessions expire and after how long.
func (c IncidentConfig) SessionExpiry() (time.Duration, bool) {
	if c.SessionTTLSec <= 0 {
		return 0, false
	}
	return time.Duration(c.SessionTTLSec) * time.Second, true
}
