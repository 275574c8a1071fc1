package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echolabs/echo-agent/internal/connector"
	"github.com/echolabs/echo-agent/internal/domain"
	"github.com/echolabs/echo-agent/internal/metrics"
	"github.com/echolabs/echo-agent/internal/reasoner"
)

// Deps are the collaborators shared by every agent.
type Deps struct {
	Reasoner *reasoner.Reasoner
	Backend  connector.Backend
	Chat     ChatTransport
	Recorder Recorder
	ConvLog  ConversationLogger
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Options tune a single agent.
type Options struct {
	HistoryCap       int
	ConnectorTimeout time.Duration
	ChatSendTimeout  time.Duration
	RecordTimeout    time.Duration
	InboxSize        int
}

func (o Options) withDefaults() Options {
	if o.HistoryCap <= 0 {
		o.HistoryCap = 50
	}
	if o.ConnectorTimeout <= 0 {
		o.ConnectorTimeout = 15 * time.Second
	}
	if o.ChatSendTimeout <= 0 {
		o.ChatSendTimeout = 5 * time.Second
	}
	if o.RecordTimeout <= 0 {
		o.RecordTimeout = 2 * time.Second
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	return o
}

type job struct {
	ctx  context.Context
	cmd  domain.Command
	done chan jobResult
}

type jobResult struct {
	result *domain.CommandResult
	err    error
}

// Agent is one user's command dispatcher. It owns that user's connector
// registry, history and chat listeners. Commands are executed one at a time,
// in the order they were accepted, by a single worker goroutine.
type Agent struct {
	userID    string
	username  string
	registry  *connector.Registry
	history   *History
	deps      Deps
	opts      Options
	logger    *slog.Logger
	createdAt time.Time

	listenersMu sync.RWMutex
	listeners   []ChatListener

	inbox      chan *job
	quit       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once
	lastActive atomic.Int64
}

// NewAgent builds an agent for user from services. Every service must be
// authorized for the user.
func NewAgent(user UserData, services []domain.ServiceConfig, deps Deps, opts Options) (*Agent, error) {
	if user.UserID == "" {
		return nil, ErrEmptyUserID
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Reasoner == nil {
		deps.Reasoner = reasoner.Off()
	}
	if deps.ConvLog == nil {
		deps.ConvLog = noopConversationLogger{}
	}
	opts = opts.withDefaults()

	registry := connector.NewRegistry()
	for _, svc := range services {
		if !svc.AuthorizedFor(user.UserID) {
			deps.Logger.Error("refusing service owned by another user",
				"user_id", user.UserID,
				"service_id", svc.ID,
				"owner_id", svc.UserID,
			)
			return nil, fmt.Errorf("%w: service %s belongs to %s, not %s", ErrIsolationViolation, svc.ID, svc.UserID, user.UserID)
		}
		if svc.UserID == "" {
			svc.UserID = user.UserID
		}
		registry.Register(connector.New(svc, deps.Backend))
	}

	a := &Agent{
		userID:    user.UserID,
		username:  user.Username,
		registry:  registry,
		history:   NewHistory(opts.HistoryCap),
		deps:      deps,
		opts:      opts,
		logger:    deps.Logger.With("user_id", user.UserID),
		createdAt: time.Now(),
		inbox:     make(chan *job, opts.InboxSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	a.touch()

	go a.run()

	a.logger.Info("Agent initialized", "services", registry.Len(), "ai_enabled", deps.Reasoner.Enabled())
	return a, nil
}

// UserID returns the user this agent serves.
func (a *Agent) UserID() string { return a.userID }

func (a *Agent) touch() { a.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns the time of the agent's last activity.
func (a *Agent) LastActive() time.Time { return time.Unix(0, a.lastActive.Load()) }

// Dispatch runs cmd through the pipeline and returns its result. Business
// outcomes, including connector failures, are reported in the result; the
// error is reserved for isolation violations, cancellation and closed agents.
func (a *Agent) Dispatch(ctx context.Context, cmd domain.Command) (*domain.CommandResult, error) {
	if cmd.UserID != a.userID {
		a.logger.Error("command routed to wrong agent", "command_user_id", cmd.UserID)
		return nil, fmt.Errorf("%w: agent for %s received command for %s", ErrIsolationViolation, a.userID, cmd.UserID)
	}
	if cmd.Context.Timestamp.IsZero() {
		cmd.Context.Timestamp = time.Now()
	}
	a.touch()

	j := &job{ctx: ctx, cmd: cmd, done: make(chan jobResult, 1)}
	select {
	case <-a.quit:
		return nil, ErrAgentClosed
	default:
	}
	select {
	case a.inbox <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.quit:
		return nil, ErrAgentClosed
	}

	select {
	case r := <-j.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopped:
		// The worker may have finished this job just before stopping.
		select {
		case r := <-j.done:
			return r.result, r.err
		default:
			return nil, ErrAgentClosed
		}
	}
}

func (a *Agent) run() {
	defer close(a.stopped)
	for {
		select {
		case j := <-a.inbox:
			a.handle(j)
		case <-a.quit:
			for {
				select {
				case j := <-a.inbox:
					j.done <- jobResult{err: ErrAgentClosed}
				default:
					return
				}
			}
		}
	}
}

func (a *Agent) handle(j *job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- jobResult{err: err}
		return
	}
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("dispatch panicked", "panic", p)
			j.done <- jobResult{err: fmt.Errorf("dispatch panicked: %v", p)}
		}
	}()
	j.done <- jobResult{result: a.process(j.ctx, j.cmd)}
}

// AddChatListener registers l. Adding the same listener twice has no effect.
// Listeners that cannot be compared are rejected.
func (a *Agent) AddChatListener(l ChatListener) error {
	if l == nil {
		return nil
	}
	if !sameListener(l, l) {
		return fmt.Errorf("%w: %T", ErrListenerNotComparable, l)
	}
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	for _, existing := range a.listeners {
		if sameListener(existing, l) {
			return nil
		}
	}
	a.listeners = append(a.listeners, l)
	return nil
}

// RemoveChatListener unregisters l. Removing an unknown listener has no effect.
func (a *Agent) RemoveChatListener(l ChatListener) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	for i, existing := range a.listeners {
		if sameListener(existing, l) {
			a.listeners = append(a.listeners[:i:i], a.listeners[i+1:]...)
			return
		}
	}
}

// sameListener compares listeners by identity. Comparing an uncomparable
// dynamic type reports false instead of panicking.
func sameListener(x, y ChatListener) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return x == y
}

// ListenerCount returns the number of registered chat listeners.
func (a *Agent) ListenerCount() int {
	a.listenersMu.RLock()
	defer a.listenersMu.RUnlock()
	return len(a.listeners)
}

// notify delivers ev to every listener in registration order. A panicking
// listener is logged and skipped.
func (a *Agent) notify(ctx context.Context, ev ChatEvent) {
	a.listenersMu.RLock()
	listeners := append([]ChatListener(nil), a.listeners...)
	a.listenersMu.RUnlock()

	ev.UserID = a.userID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, l := range listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					a.deps.Metrics.ListenerFailed()
					a.logger.Error("chat listener panicked", "event", ev.Type, "panic", p)
				}
			}()
			l.OnChatEvent(ctx, ev)
		}()
	}
}

// Status returns a snapshot of the agent.
func (a *Agent) Status() Status {
	return Status{
		UserID:         a.userID,
		Username:       a.username,
		Initialized:    true,
		ConnectorCount: a.registry.Len(),
		HistoryLength:  a.history.Len(),
		AIEnabled:      a.deps.Reasoner.Enabled(),
		AIProvider:     a.deps.Reasoner.ProviderName(),
		Services:       a.registry.Names(),
		CreatedAt:      a.createdAt,
		LastActive:     a.LastActive(),
	}
}

// Services describes the connectors available to the user, in match order.
func (a *Agent) Services() []connector.Descriptor {
	return a.registry.List()
}

// History returns up to limit of the newest history entries, oldest first.
func (a *Agent) History(limit int) []domain.HistoryEntry {
	return a.history.Recent(limit)
}

// Close stops the worker. Pending and future dispatches fail with
// ErrAgentClosed. Close is idempotent.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		close(a.quit)
		<-a.stopped
		a.logger.Info("Agent closed")
	})
}
