package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"RELAY_DATA_DIR", "RELAY_DB_PATH", "RELAY_HTTP_ADDR", "RELAY_LOG_LEVEL",
		"RELAY_BOTS_FILE", "RELAY_BOT_NAMES", "RELAY_TELEGRAM_TOKENS", "TELEGRAM_TOKEN_BOT",
		"RELAY_ASSISTANT_IDS", "ASSISTANT_ID_BOT", "RELAY_ASSISTANT_API_KEY", "CLIENT_API_KEY",
		"OPENAI_API_KEY", "RELAY_ASSISTANT_MODE", "RELAY_DAILY_QUOTA", "RELAY_QUOTA_BACKEND",
		"RELAY_MIN_TURN_DELAY_SECONDS", "RELAY_TARGET_TURN_PERIOD_SECONDS",
		"RELAY_TELEGRAM_SENDS_PER_SECOND", "RELAY_QUOTA_TIMEZONE", "RELAY_ADMIN_API_URL",
		"RELAY_ADMIN_HTTP_TIMEOUT_SECONDS", "RELAY_QA_WORKERS",
	} {
		t.Setenv(name, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearRelayEnv(t)

	cfg := FromEnv()
	if cfg.DataDir != "/data" {
		t.Fatalf("unexpected data dir: %s", cfg.DataDir)
	}
	if cfg.DBPath != filepath.Join("/data", "assistant-relay", "relay.sqlite") {
		t.Fatalf("unexpected db path: %s", cfg.DBPath)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected http/log defaults: %s %s", cfg.HTTPAddr, cfg.LogLevel)
	}
	if cfg.MinTurnDelaySec != 5 || cfg.TargetTurnPeriodSec != 15 {
		t.Fatalf("unexpected pacing defaults: %d/%d", cfg.MinTurnDelaySec, cfg.TargetTurnPeriodSec)
	}
	if cfg.DailyQuota != 100 || cfg.QuotaBackend != "sqlite" || cfg.QuotaTimezone != "UTC" || cfg.QAWorkers != 4 {
		t.Fatalf("unexpected quota defaults: %+v", cfg)
	}
	if cfg.AssistantMode != "assistants" || cfg.AssistantHistoryLimit != 20 || cfg.AssistantTimeoutSec != 120 {
		t.Fatalf("unexpected assistant defaults: %+v", cfg)
	}
	if cfg.TelegramSendsPerSecond != 1 {
		t.Fatalf("unexpected send pacing: %v", cfg.TelegramSendsPerSecond)
	}
	if cfg.AdminAPIURL != "http://127.0.0.1:8080" || cfg.AdminHTTPTimeoutSec != 30 {
		t.Fatalf("unexpected admin client defaults: %s %d", cfg.AdminAPIURL, cfg.AdminHTTPTimeoutSec)
	}
}

func TestFromEnvOverridesAndFallbacks(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("RELAY_DATA_DIR", "/tmp/relay")
	t.Setenv("RELAY_DAILY_QUOTA", "25")
	t.Setenv("RELAY_QA_WORKERS", "2")
	t.Setenv("RELAY_QUOTA_BACKEND", "REDIS")
	t.Setenv("RELAY_MIN_TURN_DELAY_SECONDS", "not-a-number")
	t.Setenv("TELEGRAM_TOKEN_BOT", "t1,t2")
	t.Setenv("ASSISTANT_ID_BOT", "a1,a2")
	t.Setenv("CLIENT_API_KEY", "sk-legacy")

	cfg := FromEnv()
	if cfg.DBPath != filepath.Join("/tmp/relay", "assistant-relay", "relay.sqlite") {
		t.Fatalf("expected db path under data dir, got %s", cfg.DBPath)
	}
	if cfg.DailyQuota != 25 || cfg.QuotaBackend != "redis" || cfg.QAWorkers != 2 {
		t.Fatalf("unexpected quota overrides: %d %s", cfg.DailyQuota, cfg.QuotaBackend)
	}
	if cfg.MinTurnDelaySec != 5 {
		t.Fatalf("invalid value should fall back, got %d", cfg.MinTurnDelaySec)
	}
	if cfg.TelegramTokensCSV != "t1,t2" || cfg.AssistantIDsCSV != "a1,a2" || cfg.AssistantAPIKey != "sk-legacy" {
		t.Fatalf("expected legacy variable fallbacks, got %+v", cfg)
	}

	t.Setenv("RELAY_ASSISTANT_API_KEY", "sk-new")
	if FromEnv().AssistantAPIKey != "sk-new" {
		t.Fatalf("expected relay variable to win over legacy name")
	}
}

func TestBotsFromLists(t *testing.T) {
	cfg := Config{
		TelegramTokensCSV:     "t1, t2 ,t3",
		AssistantIDsCSV:       "a1,a2,a3",
		AssistantSystemPrompt: "be brief",
	}
	bots, err := cfg.Bots()
	if err != nil {
		t.Fatalf("bots: %v", err)
	}
	if len(bots) != 3 {
		t.Fatalf("expected 3 bots, got %d", len(bots))
	}
	if bots[0].Name != "bot1" || bots[1].Token != "t2" || bots[2].AssistantID != "a3" || bots[2].SystemPrompt != "be brief" {
		t.Fatalf("unexpected bots: %+v", bots)
	}

	cfg.AssistantIDsCSV = "a1"
	if _, err := cfg.Bots(); !errors.Is(err, ErrBotListMismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if _, err := (Config{}).Bots(); !errors.Is(err, ErrNoBots) {
		t.Fatalf("expected no bots error, got %v", err)
	}
	cfg = Config{TelegramTokensCSV: "t1,t2", BotNamesCSV: "Alpha,alpha"}
	if _, err := cfg.Bots(); !errors.Is(err, ErrDuplicateBot) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestBotsFileExpandsEnv(t *testing.T) {
	t.Setenv("ALPHA_TOKEN", "secret-alpha")
	path := filepath.Join(t.TempDir(), "bots.yaml")
	content := `bots:
  - name: alpha
    token: ${ALPHA_TOKEN}
    assistant_id: asst_alpha
    system_prompt: You argue for cats.
  - name: beta
    token: plain-beta
    assistant_id: asst_beta
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write bots file: %v", err)
	}

	cfg := Config{BotsFile: path, TelegramTokensCSV: "ignored", AssistantSystemPrompt: "default"}
	bots, err := cfg.Bots()
	if err != nil {
		t.Fatalf("bots: %v", err)
	}
	if len(bots) != 2 {
		t.Fatalf("expected 2 bots, got %d", len(bots))
	}
	if bots[0].Token != "secret-alpha" || bots[0].SystemPrompt != "You argue for cats." {
		t.Fatalf("unexpected first bot: %+v", bots[0])
	}
	if bots[1].Name != "beta" || bots[1].SystemPrompt != "default" {
		t.Fatalf("unexpected second bot: %+v", bots[1])
	}

	if _, err := (Config{BotsFile: filepath.Join(t.TempDir(), "missing.yaml")}).Bots(); err == nil {
		t.Fatal("expected missing file error")
	}
}
