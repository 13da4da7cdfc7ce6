package app

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/dwizi/assistant-relay/internal/config"
	"github.com/dwizi/assistant-relay/internal/connectors"
	"github.com/dwizi/assistant-relay/internal/conversation"
	"github.com/dwizi/assistant-relay/internal/heartbeat"
	"github.com/dwizi/assistant-relay/internal/metrics"
	"github.com/dwizi/assistant-relay/internal/scheduler"
	"github.com/dwizi/assistant-relay/internal/store"
)

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            *store.Store
	quotaBackend     io.Closer
	orchestrator     *conversation.Orchestrator
	metrics          *metrics.Collector
	httpServer       *http.Server
	scheduler        *scheduler.Service
	connectors       []connectors.Connector
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
}

type heartbeatAware interface {
	SetHeartbeatReporter(reporter heartbeat.Reporter)
}
