package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dwizi/assistant-relay/internal/assistant"
	"github.com/dwizi/assistant-relay/internal/bot"
	"github.com/dwizi/assistant-relay/internal/config"
	"github.com/dwizi/assistant-relay/internal/connectors"
	"github.com/dwizi/assistant-relay/internal/connectors/telegram"
	"github.com/dwizi/assistant-relay/internal/conversation"
	"github.com/dwizi/assistant-relay/internal/heartbeat"
	"github.com/dwizi/assistant-relay/internal/httpapi"
	"github.com/dwizi/assistant-relay/internal/metrics"
	"github.com/dwizi/assistant-relay/internal/quota"
	"github.com/dwizi/assistant-relay/internal/scheduler"
	"github.com/dwizi/assistant-relay/internal/store"
	"github.com/dwizi/assistant-relay/internal/transcript"
)

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	bots, err := cfg.Bots()
	if err != nil {
		return nil, fmt.Errorf("resolve bots: %w", err)
	}
	location, err := time.LoadLocation(cfg.QuotaTimezone)
	if err != nil {
		return nil, fmt.Errorf("load quota timezone: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		return nil, err
	}

	collector := metrics.New()
	heartbeatRegistry := heartbeat.NewRegistry()
	heartbeatRegistry.Starting("runtime", "booting")
	heartbeatRegistry.Starting("api", "initializing")

	quotaStore, quotaBackend, readiness, err := openQuotaBackend(cfg, sqlStore)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}
	gate := quota.NewGate(quotaStore, quota.Config{
		DailyLimit: cfg.DailyQuota,
		Location:   location,
	}, collector, logger.With("component", "quota"))

	var transcripts conversationObserver
	if cfg.TranscriptsEnabled {
		transcripts = transcript.NewWriter(cfg.TranscriptDir, logger.With("component", "transcript"))
	}
	recorder := newConversationRecorder(sqlStore, transcripts, collector, logger.With("component", "conversation-recorder"))

	agents := make([]*bot.Agent, 0, len(bots))
	clients := make([]*telegram.Client, 0, len(bots))
	conversationAgents := make([]conversation.Agent, 0, len(bots))
	names := make([]string, 0, len(bots))
	for _, entry := range bots {
		client := telegram.NewClient(telegram.ClientConfig{
			Token:          entry.Token,
			APIBase:        cfg.TelegramAPI,
			PollSeconds:    cfg.TelegramPoll,
			SendsPerSecond: cfg.TelegramSendsPerSecond,
		})
		asker := assistant.New(AssistantConfig(cfg, entry), logger.With("component", "assistant", "bot", entry.Name))
		agent := bot.NewAgent(bot.Identity{
			Name:         entry.Name,
			Token:        entry.Token,
			AssistantID:  entry.AssistantID,
			SystemPrompt: entry.SystemPrompt,
		}, asker, client, collector, logger.With("component", "agent"))
		agents = append(agents, agent)
		clients = append(clients, client)
		conversationAgents = append(conversationAgents, agent)
		names = append(names, entry.Name)
	}

	orchestrator, err := conversation.New(conversationAgents, conversation.Options{
		Pacing: conversation.Pacing{
			MinTurnDelay:     time.Duration(cfg.MinTurnDelaySec) * time.Second,
			TargetTurnPeriod: time.Duration(cfg.TargetTurnPeriodSec) * time.Second,
		},
		TurnTimeout: time.Duration(cfg.TurnTimeoutSec) * time.Second,
		Observers:   []conversation.Observer{recorder.Observe},
	}, logger.With("component", "conversation"))
	if err != nil {
		closeQuietly(quotaBackend)
		sqlStore.Close()
		return nil, err
	}
	if len(agents) < 2 {
		logger.Warn("bot-to-bot conversations disabled, fewer than two bots configured", "bots", len(agents))
	}

	connectorList := make([]connectors.Connector, 0, len(agents))
	for i, agent := range agents {
		connector := telegram.New(
			clients[i],
			agent,
			gate,
			logger,
			telegram.WithCommandSync(cfg.CommandSyncEnabled),
			telegram.WithPrimary(i == 0),
			telegram.WithConversations(orchestrator),
			telegram.WithQALog(sqlStore),
			telegram.WithQAWorkers(cfg.QAWorkers),
			telegram.WithMetrics(collector),
		)
		connectorList = append(connectorList, connector)
	}
	for _, connector := range connectorList {
		if reportingConnector, ok := connector.(heartbeatAware); ok {
			reportingConnector.SetHeartbeatReporter(heartbeatRegistry)
		}
	}

	var schedulerService *scheduler.Service
	if cfg.SchedulerEnabled {
		schedulerService = scheduler.New(scheduler.Config{
			Bots:                names,
			QuotaReportSchedule: cfg.QuotaReportSchedule,
			RetentionSchedule:   cfg.QARetentionSchedule,
			RetentionDays:       cfg.QARetentionDays,
			Location:            location,
		}, gate, sqlStore, collector, logger.With("component", "scheduler"))
		if err := schedulerService.Validate(); err != nil {
			closeQuietly(quotaBackend)
			sqlStore.Close()
			return nil, err
		}
		schedulerService.SetHeartbeatReporter(heartbeatRegistry)
	} else {
		heartbeatRegistry.Disabled("scheduler", "disabled by configuration")
	}

	staleAfter := time.Duration(cfg.HeartbeatStaleSec) * time.Second
	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Store:               sqlStore,
		Conversations:       orchestrator,
		Quota:               gate,
		ReadinessChecks:     readiness,
		Metrics:             collector,
		Logger:              logger.With("component", "api"),
		Heartbeat:           heartbeatRegistry,
		HeartbeatStaleAfter: staleAfter,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	heartbeatMonitor := heartbeat.NewMonitor(heartbeatRegistry, heartbeat.MonitorConfig{
		Interval:   time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
		StaleAfter: staleAfter,
		Logger:     logger.With("component", "heartbeat-monitor"),
		OnSnapshot: func(snapshot heartbeat.Snapshot) {
			for _, component := range snapshot.Components {
				collector.ComponentHealthy(component.Name, !heartbeat.IsDegradedState(component.State))
			}
		},
	})

	return &Runtime{
		cfg:              cfg,
		logger:           logger,
		store:            sqlStore,
		quotaBackend:     quotaBackend,
		orchestrator:     orchestrator,
		metrics:          collector,
		httpServer:       httpServer,
		scheduler:        schedulerService,
		connectors:       connectorList,
		heartbeat:        heartbeatRegistry,
		heartbeatMonitor: heartbeatMonitor,
	}, nil
}

// AssistantConfig builds the assistant client settings for one configured bot.
func AssistantConfig(cfg config.Config, entry config.Bot) assistant.Config {
	return assistant.Config{
		Mode:         cfg.AssistantMode,
		APIKey:       cfg.AssistantAPIKey,
		BaseURL:      cfg.AssistantBaseURL,
		AssistantID:  entry.AssistantID,
		Model:        cfg.AssistantModel,
		SystemPrompt: entry.SystemPrompt,
		Timeout:      time.Duration(cfg.AssistantTimeoutSec) * time.Second,
		PollInterval: time.Duration(cfg.AssistantPollMillis) * time.Millisecond,
		HistoryLimit: cfg.AssistantHistoryLimit,
	}
}

// openQuotaBackend returns the quota store, an optional closer for it and the
// readiness checks it adds.
func openQuotaBackend(cfg config.Config, sqlStore *store.Store) (quota.Store, io.Closer, map[string]httpapi.Pinger, error) {
	if cfg.QuotaBackend != "redis" {
		return sqlStore, nil, nil, nil
	}
	redisStore := quota.NewRedisStore(quota.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisStore.Ping(pingCtx); err != nil {
		redisStore.Close()
		return nil, nil, nil, fmt.Errorf("connect quota redis: %w", err)
	}
	return redisStore, redisStore, map[string]httpapi.Pinger{"redis": redisStore}, nil
}

func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
