package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"
	StateIdle     = "idle"
	StateUnknown  = "unknown"
)

// Reporter is the write side handed to long-running components.
type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

type component struct {
	state      string
	message    string
	err        string
	lastBeatAt time.Time
	updatedAt  time.Time
}

type Registry struct {
	mu         sync.RWMutex
	components map[string]component
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: map[string]component{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Starting(name, message string) {
	r.set(name, StateStarting, message, nil, false)
}

func (r *Registry) Beat(name, message string) {
	r.set(name, StateHealthy, message, nil, true)
}

func (r *Registry) Degrade(name, message string, err error) {
	r.set(name, StateDegraded, message, err, false)
}

func (r *Registry) Disabled(name, message string) {
	r.set(name, StateDisabled, message, nil, false)
}

func (r *Registry) Stopped(name, message string) {
	r.set(name, StateStopped, message, nil, false)
}

func (r *Registry) set(name, state, message string, err error, beat bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.components[name]
	record.state = state
	record.message = strings.TrimSpace(message)
	record.err = ""
	if err != nil {
		record.err = strings.TrimSpace(err.Error())
	}
	if beat || record.lastBeatAt.IsZero() {
		record.lastBeatAt = now
	}
	record.updatedAt = now
	r.components[name] = record
}

// Snapshot reports every component; healthy or starting components that have
// not beaten within staleAfter are reported stale.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()
	r.mu.RLock()
	items := make([]ComponentStatus, 0, len(r.components))
	for name, record := range r.components {
		status := ComponentStatus{
			Name:           name,
			State:          record.state,
			Message:        record.message,
			Error:          record.err,
			LastBeatAtUnix: record.lastBeatAt.Unix(),
			UpdatedAtUnix:  record.updatedAt.Unix(),
		}
		live := record.state == StateHealthy || record.state == StateStarting
		if staleAfter > 0 && live && now.Sub(record.lastBeatAt) > staleAfter {
			status.State = StateStale
		}
		items = append(items, status)
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         overall(items),
		Components:      items,
	}
}

func IsDegradedState(state string) bool {
	return state == StateDegraded || state == StateStale
}

func overall(items []ComponentStatus) string {
	if len(items) == 0 {
		return StateUnknown
	}
	starting, healthy := false, false
	for _, item := range items {
		switch item.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting:
			starting = true
		case StateHealthy:
			healthy = true
		}
	}
	switch {
	case starting:
		return StateStarting
	case healthy:
		return StateHealthy
	default:
		return StateIdle
	}
}
