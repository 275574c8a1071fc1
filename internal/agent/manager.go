package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/echolabs/echo-agent/internal/domain"
)

// Manager owns at most one Agent per user.
type Manager struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	group  singleflight.Group

	source ServiceSource
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// NewManager creates a manager. source resolves services for users whose
// UserData carries none; it may be nil.
func NewManager(source ServiceSource, deps Deps, opts Options) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		agents: make(map[string]*Agent),
		source: source,
		deps:   deps,
		opts:   opts,
		logger: deps.Logger,
	}
}

// GetUserAgent returns the user's agent, creating it on first use. Concurrent
// first calls for the same user observe the same instance.
func (m *Manager) GetUserAgent(ctx context.Context, userID string, data UserData) (*Agent, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if data.UserID != "" && data.UserID != userID {
		m.logger.Error("user data does not match requested user", "user_id", userID, "data_user_id", data.UserID)
		return nil, fmt.Errorf("%w: user data for %s requested as %s", ErrIsolationViolation, data.UserID, userID)
	}
	if a := m.Get(userID); a != nil {
		return a, nil
	}

	v, err, _ := m.group.Do(userID, func() (any, error) {
		if a := m.Get(userID); a != nil {
			return a, nil
		}
		// The winning caller may go away; the agent is shared by everyone.
		a, err := m.create(context.WithoutCancel(ctx), userID, data)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.agents[userID] = a
		n := len(m.agents)
		m.mu.Unlock()
		m.deps.Metrics.SetActiveAgents(n)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Agent), nil
}

func (m *Manager) create(ctx context.Context, userID string, data UserData) (*Agent, error) {
	data.UserID = userID
	services := data.Services
	if len(services) == 0 && m.source != nil {
		resolved, err := m.source.Services(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolve services for %s: %w", userID, err)
		}
		services = resolved
	}
	return NewAgent(data, services, m.deps, m.opts)
}

// Get returns the user's agent if one exists.
func (m *Manager) Get(userID string) *Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agents[userID]
}

// ProcessCommandForUser gets or creates the user's agent and dispatches cmd.
// An empty cmd.UserID is filled in; a different one is an isolation violation.
func (m *Manager) ProcessCommandForUser(ctx context.Context, userID string, data UserData, cmd domain.Command) (*domain.CommandResult, error) {
	if cmd.UserID == "" {
		cmd.UserID = userID
	}
	if cmd.UserID != userID {
		m.logger.Error("command user does not match target user", "user_id", userID, "command_user_id", cmd.UserID)
		return nil, fmt.Errorf("%w: command for %s sent to %s", ErrIsolationViolation, cmd.UserID, userID)
	}
	a, err := m.GetUserAgent(ctx, userID, data)
	if err != nil {
		return nil, err
	}
	return a.Dispatch(ctx, cmd)
}

// RemoveUserAgent tears down the user's agent. It reports whether one existed.
func (m *Manager) RemoveUserAgent(userID string) bool {
	m.mu.Lock()
	a, ok := m.agents[userID]
	if ok {
		delete(m.agents, userID)
	}
	n := len(m.agents)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.deps.Metrics.SetActiveAgents(n)
	a.Close()
	m.logger.Info("Agent removed", "user_id", userID)
	return true
}

// ListActiveUsers returns the users with a live agent, sorted.
func (m *Manager) ListActiveUsers() []string {
	m.mu.RLock()
	users := make([]string, 0, len(m.agents))
	for id := range m.agents {
		users = append(users, id)
	}
	m.mu.RUnlock()
	sort.Strings(users)
	return users
}

// Count returns the number of live agents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// StartIdleSweeper removes agents idle for longer than ttl, checking every
// interval until ctx is cancelled. Agents with chat listeners attached are kept.
func (m *Manager) StartIdleSweeper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Idle sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.sweepIdle(time.Now(), ttl)
			case <-ctx.Done():
				m.logger.Info("Idle sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) sweepIdle(now time.Time, ttl time.Duration) int {
	m.mu.RLock()
	var expired []string
	for id, a := range m.agents {
		if a.ListenerCount() > 0 {
			continue
		}
		if now.Sub(a.LastActive()) > ttl {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		if m.RemoveUserAgent(id) {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("Idle sweeper removed agents", "count", removed)
	}
	return removed
}

// Shutdown closes every agent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	agents := m.agents
	m.agents = make(map[string]*Agent)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			a.Close()
		}(a)
	}
	wg.Wait()
	m.deps.Metrics.SetActiveAgents(0)
	m.logger.Info("Agent manager shut down", "closed", len(agents))
}
