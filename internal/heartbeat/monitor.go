package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

type Transition struct {
	Component string `json:"component"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type MonitorConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
	// OnSnapshot sees every evaluated snapshot, e.g. to export gauges.
	OnSnapshot   func(Snapshot)
	OnTransition func(Transition)
}

// Monitor polls a Registry and logs component state changes.
type Monitor struct {
	registry *Registry
	cfg      MonitorConfig
	logger   *slog.Logger
	previous map[string]string
}

func NewMonitor(registry *Registry, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		previous: map[string]string{},
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	if m.registry == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.logger.Info("heartbeat monitor started", "interval", m.cfg.Interval.String(), "stale_after", m.cfg.StaleAfter.String())

	for {
		m.evaluate(m.registry.Snapshot(m.cfg.StaleAfter))
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) evaluate(snapshot Snapshot) {
	if m.cfg.OnSnapshot != nil {
		m.cfg.OnSnapshot(snapshot)
	}
	for _, item := range snapshot.Components {
		before, seen := m.previous[item.Name]
		m.previous[item.Name] = item.State
		if !seen || before == item.State {
			continue
		}
		transition := Transition{
			Component: item.Name,
			FromState: before,
			ToState:   item.State,
			Message:   item.Message,
			Error:     item.Error,
		}
		if IsDegradedState(item.State) {
			m.logger.Warn("component degraded", "component", item.Name, "from", before, "to", item.State, "error", item.Error)
		} else {
			m.logger.Info("component state changed", "component", item.Name, "from", before, "to", item.State)
		}
		if m.cfg.OnTransition != nil {
			m.cfg.OnTransition(transition)
		}
	}
}
