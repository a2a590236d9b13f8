// Package realtime owns the push channel of a session: its connection
// lifecycle, reconnection policy and message fan-out.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/errs"
	"go.uber.org/zap"
)

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 5 * time.Second

	reasonClientDisconnect = "io client disconnect"
	reasonTransportClose   = "transport close"
)

var errMissingDialer = errors.New("realtime: dialer is required")

// State is a ConnectionManager lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ManagerConfig configures a ConnectionManager.
type ManagerConfig struct {
	Dialer       Dialer
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Logger       *zap.Logger
}

// ConnectionManager keeps at most one live channel for the current session
// token. Every successful handshake publishes EventConnect, and dependents
// re-hydrate from REST on it because frames sent while disconnected are lost.
type ConnectionManager struct {
	dialer       Dialer
	initialDelay time.Duration
	maxDelay     time.Duration
	logger       *zap.Logger
	dispatcher   *Dispatcher

	mu         sync.Mutex
	token      string
	state      State
	runID      int64
	cancelRun  context.CancelFunc
	foreground bool
	online     bool
	closed     bool
	wg         sync.WaitGroup
}

// NewConnectionManager constructs an idle manager.
func NewConnectionManager(cfg ManagerConfig) (*ConnectionManager, error) {
	if cfg.Dialer == nil {
		return nil, errMissingDialer
	}
	initialDelay := cfg.InitialDelay
	if initialDelay <= 0 {
		initialDelay = defaultInitialDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < initialDelay {
		maxDelay = defaultMaxDelay
		if maxDelay < initialDelay {
			maxDelay = initialDelay
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		dialer:       cfg.Dialer,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		logger:       logger,
		dispatcher:   NewDispatcher(),
		state:        StateIdle,
		foreground:   true,
		online:       true,
	}, nil
}

// Subscribe registers handler for a named message. Registrations survive
// token changes and reconnects.
func (m *ConnectionManager) Subscribe(event string, handler Handler) func() {
	return m.dispatcher.Subscribe(event, handler)
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetToken binds the channel to a session credential. An empty token
// force-disconnects and returns to idle; a new token reconnects with it.
func (m *ConnectionManager) SetToken(token string) {
	m.mu.Lock()
	if m.closed || token == m.token {
		m.mu.Unlock()
		return
	}
	m.token = token
	m.stopLocked()
	if token == "" {
		changed := m.setStateLocked(StateIdle)
		m.mu.Unlock()
		m.emitState(changed, StateIdle)
		return
	}
	if !m.foreground {
		changed := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.emitState(changed, StateDisconnected)
		return
	}
	m.startLocked()
	m.mu.Unlock()
}

// Connect forces a connection attempt unless already connected or
// connecting. A pending backoff is skipped.
func (m *ConnectionManager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.token == "" {
		return
	}
	switch m.state {
	case StateConnected, StateConnecting:
		return
	}
	m.stopLocked()
	m.startLocked()
}

// Disconnect closes the channel and stops retrying until the next Connect.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	if m.closed || m.token == "" {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	changed := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	m.emitState(changed, StateDisconnected)
}

// SetForeground applies app foreground/background transitions: background
// drops the channel to save radio, foreground restores it.
func (m *ConnectionManager) SetForeground(foreground bool) {
	m.mu.Lock()
	m.foreground = foreground
	m.mu.Unlock()
	if foreground {
		m.Connect()
		return
	}
	m.Disconnect()
}

// SetOnline applies device connectivity changes. Regaining connectivity
// forces an immediate attempt when not connected.
func (m *ConnectionManager) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	foreground := m.foreground
	m.mu.Unlock()
	if online && !wasOnline && foreground {
		m.Connect()
	}
}

// Close tears the channel down for good. It must not be called from a Handler.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopLocked()
	changed := m.setStateLocked(StateIdle)
	m.mu.Unlock()
	m.wg.Wait()
	m.emitState(changed, StateIdle)
}

func (m *ConnectionManager) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.runID++
	m.cancelRun = cancel
	runID := m.runID
	token := m.token
	m.wg.Add(1)
	go m.run(ctx, runID, token)
}

func (m *ConnectionManager) stopLocked() {
	if m.cancelRun != nil {
		m.cancelRun()
		m.cancelRun = nil
	}
	m.runID++
}

func (m *ConnectionManager) setStateLocked(state State) bool {
	if m.state == state {
		return false
	}
	m.state = state
	return true
}

// transition applies state only while runID is still the active run.
func (m *ConnectionManager) transition(runID int64, state State) bool {
	m.mu.Lock()
	if runID != m.runID {
		m.mu.Unlock()
		return false
	}
	changed := m.setStateLocked(state)
	m.mu.Unlock()
	m.emitState(changed, state)
	return true
}

func (m *ConnectionManager) active(runID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return runID == m.runID
}

func (m *ConnectionManager) emitState(changed bool, state State) {
	if !changed {
		return
	}
	m.logger.Debug("channel state changed", zap.String("state", state.String()))
	m.dispatcher.Publish(Message{Event: EventStateChanged, State: state})
}

func (m *ConnectionManager) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(m.maxDelay, retry.NewExponential(m.initialDelay))
}

func (m *ConnectionManager) run(ctx context.Context, runID int64, token string) {
	defer m.wg.Done()

	backoff := m.newBackoff()
	attemptState := StateConnecting
	for {
		if !m.transition(runID, attemptState) {
			return
		}
		attemptState = StateReconnecting

		conn, err := m.dialer.Dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("channel dial failed", zap.Error(err))
		} else {
			acknowledged := m.serve(ctx, runID, conn)
			if ctx.Err() != nil {
				return
			}
			if acknowledged {
				backoff = m.newBackoff()
			}
		}

		m.transition(runID, StateReconnecting)
		if !m.sleep(ctx, backoff) {
			return
		}
	}
}

// serve reads frames until the connection fails. It reports whether the
// handshake was acknowledged.
func (m *ConnectionManager) serve(ctx context.Context, runID int64, conn Conn) bool {
	defer conn.Close()

	acknowledged := false
	reason := reasonTransportClose
	defer func() {
		if !acknowledged {
			return
		}
		if ctx.Err() != nil {
			reason = reasonClientDisconnect
		}
		m.dispatcher.Publish(Message{Event: EventDisconnect, Reason: reason})
	}()

	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				m.logger.Warn("channel frame dropped", zap.Error(err))
				continue
			}
			if ctx.Err() == nil {
				m.logger.Info("channel dropped",
					zap.Error(&errs.TransportError{Reason: "read_failed", Err: err}),
					zap.Bool("acknowledged", acknowledged))
			}
			return acknowledged
		}

		switch frame.Event {
		case EventConnect:
			if acknowledged {
				continue
			}
			if !m.transition(runID, StateConnected) {
				return false
			}
			acknowledged = true
			m.dispatcher.Publish(Message{Event: EventConnect, Data: frame.Data})
		case EventDisconnect:
			var data DisconnectData
			if len(frame.Data) > 0 {
				if err := json.Unmarshal(frame.Data, &data); err == nil && data.Reason != "" {
					reason = data.Reason
				}
			}
			return acknowledged
		default:
			if !acknowledged {
				m.logger.Debug("channel frame before handshake dropped", zap.String("event", frame.Event))
				continue
			}
			if !m.active(runID) {
				return acknowledged
			}
			m.dispatcher.Publish(Message{Event: frame.Event, Data: frame.Data})
		}
	}
}

func (m *ConnectionManager) sleep(ctx context.Context, backoff retry.Backoff) bool {
	delay, stop := backoff.Next()
	if stop || delay <= 0 {
		delay = m.maxDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
