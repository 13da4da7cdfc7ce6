package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment        string
	HTTPAddr           string
	DataDir            string
	DBPath             string
	TranscriptDir      string
	LogLevel           string
	CommandSyncEnabled bool

	// Used by the CLI subcommands that talk to a running relay.
	AdminAPIURL         string
	AdminHTTPTimeoutSec int

	TelegramAPI            string
	TelegramPoll           int
	TelegramSendsPerSecond float64

	// Bot lists, index-aligned. BotsFile takes precedence when set.
	BotsFile          string
	BotNamesCSV       string
	TelegramTokensCSV string
	AssistantIDsCSV   string

	AssistantMode          string
	AssistantAPIKey        string
	AssistantBaseURL       string
	AssistantModel         string
	AssistantSystemPrompt  string
	AssistantTimeoutSec    int
	AssistantPollMillis    int
	AssistantHistoryLimit  int
	MinTurnDelaySec        int
	TargetTurnPeriodSec    int
	TurnTimeoutSec         int
	TranscriptsEnabled     bool
	DailyQuota             int
	QAWorkers              int
	QuotaTimezone          string
	QuotaBackend           string // sqlite | redis
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	HeartbeatIntervalSec   int
	HeartbeatStaleSec      int
	QuotaReportSchedule    string
	QARetentionDays        int
	QARetentionSchedule    string
	SchedulerEnabled       bool
	ShutdownGracePeriodSec int
}

func FromEnv() Config {
	dataDir := stringOrDefault("RELAY_DATA_DIR", "/data")
	dbPath := stringOrDefault("RELAY_DB_PATH", filepath.Join(dataDir, "assistant-relay", "relay.sqlite"))

	return Config{
		Environment:        stringOrDefault("RELAY_ENV", "development"),
		HTTPAddr:           stringOrDefault("RELAY_HTTP_ADDR", ":8080"),
		DataDir:            dataDir,
		DBPath:             dbPath,
		TranscriptDir:      stringOrDefault("RELAY_TRANSCRIPT_DIR", dataDir),
		LogLevel:           stringOrDefault("RELAY_LOG_LEVEL", "info"),
		CommandSyncEnabled: boolOrDefault("RELAY_COMMAND_SYNC_ENABLED", true),

		AdminAPIURL:         stringOrDefault("RELAY_ADMIN_API_URL", "http://127.0.0.1:8080"),
		AdminHTTPTimeoutSec: intOrDefault("RELAY_ADMIN_HTTP_TIMEOUT_SECONDS", 30),

		TelegramAPI:            stringOrDefault("RELAY_TELEGRAM_API_BASE", "https://api.telegram.org"),
		TelegramPoll:           intOrDefault("RELAY_TELEGRAM_POLL_SECONDS", 25),
		TelegramSendsPerSecond: floatOrDefault("RELAY_TELEGRAM_SENDS_PER_SECOND", 1),

		BotsFile:          strings.TrimSpace(os.Getenv("RELAY_BOTS_FILE")),
		BotNamesCSV:       strings.TrimSpace(os.Getenv("RELAY_BOT_NAMES")),
		TelegramTokensCSV: firstNonEmptyEnv("RELAY_TELEGRAM_TOKENS", "TELEGRAM_TOKEN_BOT"),
		AssistantIDsCSV:   firstNonEmptyEnv("RELAY_ASSISTANT_IDS", "ASSISTANT_ID_BOT"),

		AssistantMode:          stringOrDefault("RELAY_ASSISTANT_MODE", "assistants"),
		AssistantAPIKey:        firstNonEmptyEnv("RELAY_ASSISTANT_API_KEY", "CLIENT_API_KEY", "OPENAI_API_KEY"),
		AssistantBaseURL:       stringOrDefault("RELAY_ASSISTANT_BASE_URL", "https://api.openai.com/v1"),
		AssistantModel:         stringOrDefault("RELAY_ASSISTANT_MODEL", "gpt-4o"),
		AssistantSystemPrompt:  stringOrDefault("RELAY_ASSISTANT_SYSTEM_PROMPT", "You are a helpful assistant. Keep answers short and conversational."),
		AssistantTimeoutSec:    intOrDefault("RELAY_ASSISTANT_TIMEOUT_SECONDS", 120),
		AssistantPollMillis:    intOrDefault("RELAY_ASSISTANT_POLL_MILLIS", 1000),
		AssistantHistoryLimit:  intOrDefault("RELAY_ASSISTANT_HISTORY_LIMIT", 20),
		MinTurnDelaySec:        intOrDefault("RELAY_MIN_TURN_DELAY_SECONDS", 5),
		TargetTurnPeriodSec:    intOrDefault("RELAY_TARGET_TURN_PERIOD_SECONDS", 15),
		TurnTimeoutSec:         intOrDefault("RELAY_TURN_TIMEOUT_SECONDS", 180),
		TranscriptsEnabled:     boolOrDefault("RELAY_TRANSCRIPTS_ENABLED", true),
		DailyQuota:             intOrDefault("RELAY_DAILY_QUOTA", 100),
		QAWorkers:              intOrDefault("RELAY_QA_WORKERS", 4),
		QuotaTimezone:          stringOrDefault("RELAY_QUOTA_TIMEZONE", "UTC"),
		QuotaBackend:           backendOrDefault("RELAY_QUOTA_BACKEND", "sqlite"),
		RedisAddr:              stringOrDefault("RELAY_REDIS_ADDR", "localhost:6379"),
		RedisPassword:          os.Getenv("RELAY_REDIS_PASSWORD"),
		RedisDB:                intOrDefault("RELAY_REDIS_DB", 0),
		HeartbeatIntervalSec:   intOrDefault("RELAY_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:      intOrDefault("RELAY_HEARTBEAT_STALE_SECONDS", 120),
		QuotaReportSchedule:    stringOrDefault("RELAY_QUOTA_REPORT_SCHEDULE", "55 23 * * *"),
		QARetentionDays:        intOrDefault("RELAY_QA_RETENTION_DAYS", 90),
		QARetentionSchedule:    stringOrDefault("RELAY_QA_RETENTION_SCHEDULE", "30 3 * * *"),
		SchedulerEnabled:       boolOrDefault("RELAY_SCHEDULER_ENABLED", true),
		ShutdownGracePeriodSec: intOrDefault("RELAY_SHUTDOWN_GRACE_SECONDS", 10),
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func firstNonEmptyEnv(names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return ""
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func backendOrDefault(name, fallback string) string {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch value {
	case "sqlite", "redis":
		return value
	default:
		return fallback
	}
}

func floatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
