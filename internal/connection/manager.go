package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rickgao/marketstream/internal/event"
	"github.com/rickgao/marketstream/internal/model"
)

// Bus is the event bus the manager publishes to and lets observers join.
type Bus interface {
	Publish(event.Event) bool
	Subscribe(event.Observer) (cancel func())
}

// Manager owns the upstream connection and its subscription registry.
type Manager struct {
	cfg     ManagerConfig
	bus     Bus
	logger  *slog.Logger
	dial    Dialer
	limiter *rate.Limiter

	// Swappable for tests.
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	jitter func(max time.Duration) time.Duration

	// cmdMu serializes upstream subscribe/unsubscribe with registry replay
	// so a topic is never announced twice for one session.
	cmdMu sync.Mutex

	mu         sync.Mutex
	state      model.ConnectionState
	attempt    int
	sessionID  string
	lastPingAt time.Time
	latencyMs  int64
	client     Client
	runCtx     context.Context
	cancel     context.CancelFunc
	runDone    chan struct{}
	subs       map[string]int

	ticksReceived  atomic.Uint64
	ticksDropped   atomic.Uint64
	reconnects     atomic.Uint64
	commandsSent   atomic.Uint64
	framesRejected atomic.Uint64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer replaces the transport factory.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) {
		m.dial = d
	}
}

// WithClock replaces the time source used for heartbeats and event stamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a connection manager in the DISCONNECTED state.
func NewManager(cfg ManagerConfig, bus Bus, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("component", "connection"),
		dial:   NewClient,
		now:    time.Now,
		after:  time.After,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return rand.N(max)
		},
		state: model.StateDisconnected,
		subs:  make(map[string]int),
	}

	limit := rate.Inf
	if cfg.CommandRate > 0 {
		limit = rate.Limit(cfg.CommandRate)
	}
	burst := cfg.CommandBurst
	if burst < 1 {
		burst = 1
	}
	m.limiter = rate.NewLimiter(limit, burst)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts the connection loop. It returns immediately; progress is
// reported through state change events. Calling Connect while a loop is
// already running is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.StateDisconnected {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.runCtx = runCtx
	m.cancel = cancel
	m.runDone = done
	m.attempt = 0
	m.setStateLocked(model.StateConnecting, nil)

	go m.run(runCtx, done)
	return nil
}

// Disconnect stops the connection loop, closes the transport and moves to
// DISCONNECTED. The subscription registry is kept for the next Connect.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.runDone
	m.cancel = nil
	m.runDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for connection loop: %w", ctx.Err())
		}
	}

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.attempt = 0
	if m.state != model.StateDisconnected {
		m.setStateLocked(model.StateDisconnected, nil)
	}
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}
	return nil
}

// Subscribe adds a reference to topic. The first reference sends one
// upstream subscribe when connected; otherwise the registry is replayed on
// the next connect. Transport failures are logged, not returned.
func (m *Manager) Subscribe(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	m.subs[topic]++
	first := m.subs[topic] == 1
	client := m.liveClientLocked()
	ctx := m.runCtx
	m.mu.Unlock()

	if first && client != nil {
		if err := m.command(ctx, client, Message{Type: TypeSubscribe, Topic: topic}); err != nil {
			m.logger.Warn("upstream subscribe failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// Unsubscribe drops a reference to topic. Only the last reference sends an
// upstream unsubscribe.
func (m *Manager) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	n, ok := m.subs[topic]
	if !ok {
		m.mu.Unlock()
		return ErrNotSubscribed
	}
	last := n <= 1
	if last {
		delete(m.subs, topic)
	} else {
		m.subs[topic] = n - 1
	}
	client := m.liveClientLocked()
	ctx := m.runCtx
	m.mu.Unlock()

	if last && client != nil {
		if err := m.command(ctx, client, Message{Type: TypeUnsubscribe, Topic: topic}); err != nil {
			m.logger.Warn("upstream unsubscribe failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// Emit sends an arbitrary frame of the given type upstream.
func (m *Manager) Emit(kind string, payload any) error {
	m.mu.Lock()
	client := m.liveClientLocked()
	ctx := m.runCtx
	m.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return m.command(ctx, client, Message{Type: kind, Payload: data})
}

// Observe registers an observer for connection events.
func (m *Manager) Observe(o event.Observer) (cancel func()) {
	return m.bus.Subscribe(o)
}

// State returns the current state machine snapshot.
func (m *Manager) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:      m.state,
		Attempt:    m.attempt,
		LastPingAt: m.lastPingAt,
		LatencyMs:  m.latencyMs,
		SessionID:  m.sessionID,
	}
}

// Subscriptions returns the active topics in sorted order.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topicsLocked()
}

// IsSubscribed reports whether topic has at least one reference.
func (m *Manager) IsSubscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[topic] > 0
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state := m.state
	subs := len(m.subs)
	m.mu.Unlock()

	return Stats{
		State:          state,
		Subscriptions:  subs,
		TicksReceived:  m.ticksReceived.Load(),
		TicksDropped:   m.ticksDropped.Load(),
		Reconnects:     m.reconnects.Load(),
		CommandsSent:   m.commandsSent.Load(),
		FramesRejected: m.framesRejected.Load(),
	}
}

// run is the connection loop. Exactly one run goroutine exists per Connect.
func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		client, err := m.dialOnce(ctx)
		if ctx.Err() != nil {
			// Disconnect raced a successful dial; the client was never installed.
			if client != nil {
				client.Close()
			}
			return
		}
		if err == nil {
			err = m.serve(ctx, client)
			if ctx.Err() != nil {
				return
			}
		}

		m.mu.Lock()
		if m.cfg.MaxReconnectAttempts >= 0 && m.attempt >= m.cfg.MaxReconnectAttempts {
			m.client = nil
			m.setStateLocked(model.StateDisconnected, err)
			m.mu.Unlock()
			m.logger.Error("reconnect attempts exhausted",
				"attempts", m.cfg.MaxReconnectAttempts,
				"error", err,
			)
			return
		}
		n := m.attempt
		m.attempt++
		m.setStateLocked(model.StateReconnecting, err)
		m.mu.Unlock()

		wait := m.backoff(n)
		m.logger.Info("reconnecting",
			"attempt", n+1,
			"wait", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-m.after(wait):
		}
		m.reconnects.Add(1)
	}
}

// backoff returns the wait before reconnect attempt n (0-based):
// min(base*2^n + jitter, max).
func (m *Manager) backoff(n int) time.Duration {
	base := m.cfg.ReconnectBaseDelay
	maxWait := m.cfg.ReconnectMaxDelay

	wait := maxWait
	if n < 32 {
		if d := base << n; d > 0 && d < maxWait {
			wait = d
		}
	}
	wait += m.jitter(m.cfg.ReconnectJitter)
	if wait > maxWait {
		wait = maxWait
	}
	return wait
}

func (m *Manager) dialOnce(ctx context.Context) (Client, error) {
	client := m.dial(ClientConfig{
		URL:              m.cfg.URL,
		APIKey:           m.cfg.APIKey,
		HandshakeTimeout: m.cfg.ConnectionTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}, m.logger)

	dctx := ctx
	if m.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
		defer cancel()
	}

	if err := client.Connect(dctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}
	return client, nil
}

// serve runs a connected session until the transport fails or ctx ends.
func (m *Manager) serve(ctx context.Context, client Client) error {
	m.onConnected(ctx, client)

	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultManagerConfig().HeartbeatInterval
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-client.Errors():
			m.dropClient(client)
			return fmt.Errorf("transport: %w", err)
		case msg := <-client.Messages():
			m.handleMessage(msg)
		case <-heartbeat.C:
			m.heartbeat(client)
		}
	}
}

// onConnected installs client, starts a new session and replays every
// active subscription.
func (m *Manager) onConnected(ctx context.Context, client Client) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	m.client = client
	m.attempt = 0
	m.sessionID = uuid.NewString()
	m.lastPingAt = m.now()
	topics := m.topicsLocked()
	m.setStateLocked(model.StateConnected, nil)
	m.mu.Unlock()

	for _, topic := range topics {
		if err := m.command(ctx, client, Message{Type: TypeSubscribe, Topic: topic}); err != nil {
			m.logger.Warn("subscription replay failed", "topic", topic, "error", err)
			return
		}
	}
	if len(topics) > 0 {
		m.logger.Info("subscriptions replayed", "count", len(topics))
	}
}

func (m *Manager) dropClient(client Client) {
	m.mu.Lock()
	if m.client == client {
		m.client = nil
	}
	m.mu.Unlock()
	client.Close()
}

func (m *Manager) heartbeat(client Client) {
	now := m.now()

	m.mu.Lock()
	if m.state == model.StateConnected && now.Sub(m.lastPingAt) > m.cfg.HeartbeatTimeout {
		m.setStateLocked(model.StateDegraded, ErrStaleConnection)
	}
	m.mu.Unlock()

	data, err := json.Marshal(Message{Type: TypeHeartbeat, TS: now.UnixMilli()})
	if err != nil {
		return
	}
	if err := client.Send(data); err != nil {
		m.logger.Debug("failed to send heartbeat", "error", err)
	}
}

func (m *Manager) handleMessage(raw TimestampedMessage) {
	var msg Message
	if err := json.Unmarshal(raw.Data, &msg); err != nil {
		m.framesRejected.Add(1)
		m.logger.Warn("malformed frame", "error", err, "size", len(raw.Data))
		return
	}

	switch msg.Type {
	case TypeHeartbeat:
		now := m.now()
		m.mu.Lock()
		m.lastPingAt = now
		if msg.TS > 0 {
			if lat := now.UnixMilli() - msg.TS; lat >= 0 {
				m.latencyMs = lat
			}
		}
		if m.state == model.StateDegraded {
			m.setStateLocked(model.StateConnected, nil)
		}
		m.mu.Unlock()

	case TypeTick:
		if !m.IsSubscribed(msg.Topic) {
			m.ticksDropped.Add(1)
			return
		}
		m.ticksReceived.Add(1)

		ts := raw.ReceivedAt
		if msg.TS > 0 {
			ts = time.UnixMilli(msg.TS)
		}
		m.publish(event.TickArrived{
			Topic:      msg.Topic,
			Payload:    msg.Payload,
			Timestamp:  ts,
			ReceivedAt: raw.ReceivedAt,
		})

	case TypeError:
		m.logger.Warn("upstream error", "message", msg.Message, "topic", msg.Topic)

	default:
		m.framesRejected.Add(1)
		m.logger.Debug("unknown frame type", "type", msg.Type)
	}
}

// command sends msg through the outbound rate limiter. The limiter wait is
// bounded by ConnectionTimeout and ends early when the connection loop
// behind ctx is stopped.
func (m *Manager) command(ctx context.Context, client Client, msg Message) error {
	wait := m.cfg.ConnectionTimeout
	if wait <= 0 {
		wait = DefaultManagerConfig().ConnectionTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	if err := client.Send(data); err != nil {
		return err
	}
	m.commandsSent.Add(1)
	return nil
}

func (m *Manager) liveClientLocked() Client {
	if !m.state.Live() {
		return nil
	}
	return m.client
}

func (m *Manager) topicsLocked() []string {
	topics := make([]string, 0, len(m.subs))
	for t := range m.subs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (m *Manager) setStateLocked(to model.ConnectionState, cause error) {
	from := m.state
	m.state = to

	attrs := []any{"from", from, "to", to, "attempt", m.attempt}
	if m.sessionID != "" {
		attrs = append(attrs, "session_id", m.sessionID)
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	m.logger.Info("connection state changed", attrs...)

	m.publish(event.ConnectionStateChanged{
		From:      from,
		To:        to,
		Attempt:   m.attempt,
		SessionID: m.sessionID,
		Err:       cause,
		At:        m.now(),
	})
}

func (m *Manager) publish(e event.Event) {
	if m.bus == nil {
		return
	}
	if !m.bus.Publish(e) {
		m.logger.Debug("event dropped, bus closed", "kind", e.Kind())
	}
}
